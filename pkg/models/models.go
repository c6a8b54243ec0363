package models

import (
	"fmt"
	"strings"
	"time"
)

// MaxLabelLength is the widest label the archival schema accepts.
const MaxLabelLength = 32

// Outcome describes how a request that used a pooled identity ended.
// It drives the health/ban bookkeeping in the pools.
type Outcome int

const (
	// OutcomeSuccess means the request returned usable items.
	OutcomeSuccess Outcome = iota
	// OutcomeEmpty means the request completed but returned nothing.
	// Repeated empty results usually indicate an invalidated session.
	OutcomeEmpty
	// OutcomeTransient means a retryable network-level failure.
	OutcomeTransient
	// OutcomeRateLimited means the remote throttled the request; the
	// proxy involved is considered burned.
	OutcomeRateLimited
	// OutcomeAuthFailed means the credential's session is invalid.
	OutcomeAuthFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeTransient:
		return "transient"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// Credential is an access identity used to authenticate retrieval
// requests. Loaded once at startup and mutated in place for the
// process lifetime; all mutation goes through the owning pool.
type Credential struct {
	Username      string
	Password      string
	Email         string
	EmailPassword string
	SessionToken  string

	// Health is a [0,1] trust score adjusted by outcome of use.
	Health float64
	Banned bool
	// BanUntil is zero for a permanent ban.
	BanUntil     time.Time
	RequestCount int
	LastUsed     time.Time
	// EmptyStreak counts consecutive empty results since the last
	// successful request.
	EmptyStreak int
	// FailStreak counts consecutive failures, used to scale ban
	// cooldowns.
	FailStreak int
}

// ProxyEndpoint is a network egress point requests are routed through.
type ProxyEndpoint struct {
	ID       int
	Host     string
	Port     int
	Username string
	Password string

	Working      bool
	Banned       bool
	BanUntil     time.Time
	FailureCount int
	RequestCount int
	LastUsed     time.Time
}

// URL renders the proxy as an http proxy URL.
func (p *ProxyEndpoint) URL() string {
	if p.Username != "" {
		return fmt.Sprintf("http://%s:%s@%s:%d", p.Username, p.Password, p.Host, p.Port)
	}
	return fmt.Sprintf("http://%s:%d", p.Host, p.Port)
}

// Addr returns host:port.
func (p *ProxyEndpoint) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// HarvestRecord is one unit of retrieved content normalized into the
// common shape used for deduplication and persistence. Records live
// from retrieval until they are persisted or discarded as duplicates.
type HarvestRecord struct {
	// SourceID is the integer source code of the archival schema.
	SourceID int
	// URI is the dedup key; durable storage never holds two rows
	// with the same URI.
	URI       string
	Timestamp time.Time
	// Content is the serialized record payload.
	Content []byte
	// Label is the derived category: at most MaxLabelLength chars,
	// lowercase, no leading symbol. Empty means unlabeled.
	Label string
	// Author and the engagement counts are the scalar attributes the
	// query-oriented representation extracts for filtering.
	Author     string
	Engagement map[string]int64
}

// Size returns the byte length of the record content.
func (r *HarvestRecord) Size() int { return len(r.Content) }

// QuotaWindow tracks progress against a target count of persisted
// items for one source within a fixed time period.
type QuotaWindow struct {
	Source string
	// Period is "hour" or "day".
	Period   string
	Target   int
	Achieved int
	Start    time.Time
}

// Remaining returns how many items are still owed in this window.
func (w *QuotaWindow) Remaining() int {
	if w.Achieved >= w.Target {
		return 0
	}
	return w.Target - w.Achieved
}

// Met reports whether the window reached the given fraction of its
// target.
func (w *QuotaWindow) Met(threshold float64) bool {
	if w.Target <= 0 {
		return true
	}
	return float64(w.Achieved) >= threshold*float64(w.Target)
}

// NormalizeLabel derives the archival label from a raw tag: leading
// symbol prefix stripped, lowercased, truncated to MaxLabelLength.
// Returns "" if nothing usable remains.
func NormalizeLabel(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimLeft(s, "#@$")
	s = strings.ToLower(s)
	if r := []rune(s); len(r) > MaxLabelLength {
		s = string(r[:MaxLabelLength])
	}
	return s
}

// TimeBucketID returns the coarse archival bucket for a timestamp:
// whole hours since the Unix epoch.
func TimeBucketID(t time.Time) int64 {
	return t.Unix() / 3600
}
