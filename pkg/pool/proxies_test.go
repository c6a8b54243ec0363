package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/config"
	"harvester/pkg/errors"
	"harvester/pkg/models"
)

// fakeProber fails probes for the hosts it is told to reject.
type fakeProber struct {
	reject map[string]bool
	probed []string
}

func (f *fakeProber) Probe(_ context.Context, px *models.ProxyEndpoint) error {
	f.probed = append(f.probed, px.Host)
	if f.reject[px.Host] {
		return errors.New(errors.ErrorTypeNetwork, "probe failed")
	}
	return nil
}

func newTestProxyPool(t *testing.T, proxies []*models.ProxyEndpoint, prober Prober) *ProxyPool {
	t.Helper()
	return NewProxyPool(proxies, prober, config.DefaultConfig().Pools, nil)
}

func TestProxyAcquireOrdersByReliability(t *testing.T) {
	proxies := []*models.ProxyEndpoint{
		{ID: 0, Host: "p1", Port: 8080, RequestCount: 10, FailureCount: 2},
		{ID: 1, Host: "p2", Port: 8080}, // untested
		{ID: 2, Host: "p3", Port: 8080, RequestCount: 20, FailureCount: 1},
	}
	p := newTestProxyPool(t, proxies, nil)

	first, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p3", first.Host, "fewest failures wins among proven proxies")

	second, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p1", second.Host)

	third, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p2", third.Host, "untested proxies come last")

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNoneEligible)
}

func TestProxyAcquireProbesUntested(t *testing.T) {
	proxies := []*models.ProxyEndpoint{
		{ID: 0, Host: "dead", Port: 8080},
		{ID: 1, Host: "alive", Port: 8080},
	}
	prober := &fakeProber{reject: map[string]bool{"dead": true}}
	p := newTestProxyPool(t, proxies, prober)

	got, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alive", got.Host)
	assert.Equal(t, []string{"dead", "alive"}, prober.probed)

	counts := p.Counts()
	assert.Equal(t, 1, counts.Banned, "failed probe bans the proxy")
}

func TestProxyAcquireSkipsProbeForProven(t *testing.T) {
	proxies := []*models.ProxyEndpoint{
		{ID: 0, Host: "proven", Port: 8080, RequestCount: 5},
	}
	prober := &fakeProber{}
	p := newTestProxyPool(t, proxies, prober)

	got, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "proven", got.Host)
	assert.Empty(t, prober.probed)
}

func TestProxyRateLimitBansImmediately(t *testing.T) {
	cfg := config.DefaultConfig().Pools
	px := &models.ProxyEndpoint{ID: 0, Host: "p", Port: 8080, RequestCount: 1}
	p := NewProxyPool([]*models.ProxyEndpoint{px}, nil, cfg, nil)
	now := time.Now()
	p.now = func() time.Time { return now }

	p.Release(px, models.OutcomeRateLimited)
	assert.True(t, px.Banned)
	assert.Equal(t, now.Add(cfg.ProxyBanCooldown), px.BanUntil)
}

func TestProxyTransientFailuresBanPastThreshold(t *testing.T) {
	cfg := config.DefaultConfig().Pools
	cfg.ProxyFailureThreshold = 2
	px := &models.ProxyEndpoint{ID: 0, Host: "p", Port: 8080, RequestCount: 1}
	p := NewProxyPool([]*models.ProxyEndpoint{px}, nil, cfg, nil)

	p.Release(px, models.OutcomeTransient)
	p.Release(px, models.OutcomeTransient)
	assert.False(t, px.Banned)

	p.Release(px, models.OutcomeTransient)
	assert.True(t, px.Banned)
}

func TestProxySuccessAndCredentialFaultsLeaveProxyClean(t *testing.T) {
	px := &models.ProxyEndpoint{ID: 0, Host: "p", Port: 8080, RequestCount: 1}
	p := newTestProxyPool(t, []*models.ProxyEndpoint{px}, nil)

	p.Release(px, models.OutcomeSuccess)
	p.Release(px, models.OutcomeEmpty)
	p.Release(px, models.OutcomeAuthFailed)

	assert.Zero(t, px.FailureCount)
	assert.False(t, px.Banned)
	assert.Equal(t, 4, px.RequestCount)
}

func TestProxyResetExpiredClearsFailures(t *testing.T) {
	now := time.Now()
	px := &models.ProxyEndpoint{ID: 0, Host: "p", Port: 8080, Banned: true, BanUntil: now.Add(-time.Minute), FailureCount: 5}
	p := newTestProxyPool(t, []*models.ProxyEndpoint{px}, nil)
	p.now = func() time.Time { return now }

	recovered := p.ResetExpired()
	assert.Equal(t, 1, recovered)
	assert.False(t, px.Banned)
	assert.Zero(t, px.FailureCount)
	assert.True(t, px.Working)
}

func TestProxyForceRecoverRespectsLimit(t *testing.T) {
	now := time.Now()
	proxies := []*models.ProxyEndpoint{
		{ID: 0, Host: "a", Port: 8080, Banned: true, BanUntil: now.Add(2 * time.Hour)},
		{ID: 1, Host: "b", Port: 8080, Banned: true, BanUntil: now.Add(time.Hour)},
	}
	p := newTestProxyPool(t, proxies, nil)

	recovered := p.ForceRecover(1)
	assert.Equal(t, 1, recovered)
	assert.False(t, proxies[1].Banned, "oldest ban lifts first")
	assert.True(t, proxies[0].Banned)
}
