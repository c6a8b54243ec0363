package models

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLabel(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"#Climate", "climate"},
		{"@Someone", "someone"},
		{"$TICKER", "ticker"},
		{"  #Energy  ", "energy"},
		{"already-lower", "already-lower"},
		{"#", ""},
		{"", ""},
		{"#" + "abcdefghij" + "abcdefghij" + "abcdefghij" + "abcdefghij", "abcdefghijabcdefghijabcdefghijab"},
		// Truncation counts characters, never splits a rune.
		{"#" + strings.Repeat("é", 40), strings.Repeat("é", 32)},
	}
	for _, tc := range cases {
		got := NormalizeLabel(tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
		assert.LessOrEqual(t, len([]rune(got)), MaxLabelLength)
		assert.True(t, utf8.ValidString(got), "input %q", tc.in)
	}
}

func TestTimeBucketID(t *testing.T) {
	base := time.Unix(3600*1000, 0)
	assert.EqualValues(t, 1000, TimeBucketID(base))
	assert.EqualValues(t, 1000, TimeBucketID(base.Add(59*time.Minute)), "same hour, same bucket")
	assert.EqualValues(t, 1001, TimeBucketID(base.Add(time.Hour)))
}

func TestQuotaWindowRemaining(t *testing.T) {
	w := &QuotaWindow{Target: 10, Achieved: 4}
	assert.Equal(t, 6, w.Remaining())

	w.Achieved = 12
	assert.Equal(t, 0, w.Remaining(), "overshoot never goes negative")
}

func TestQuotaWindowMet(t *testing.T) {
	w := &QuotaWindow{Target: 10, Achieved: 8}
	assert.True(t, w.Met(0.8))
	w.Achieved = 7
	assert.False(t, w.Met(0.8))

	zero := &QuotaWindow{Target: 0}
	assert.True(t, zero.Met(0.8), "a window with no target is trivially met")
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "rate_limited", OutcomeRateLimited.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}

func TestProxyEndpointURL(t *testing.T) {
	withAuth := &ProxyEndpoint{Host: "10.0.0.1", Port: 8080, Username: "u", Password: "p"}
	assert.Equal(t, "http://u:p@10.0.0.1:8080", withAuth.URL())

	bare := &ProxyEndpoint{Host: "10.0.0.1", Port: 8080}
	assert.Equal(t, "http://10.0.0.1:8080", bare.URL())
	assert.Equal(t, "10.0.0.1:8080", bare.Addr())
}
