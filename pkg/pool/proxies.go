package pool

import (
	"context"
	"sort"
	"sync"
	"time"

	"harvester/pkg/config"
	"harvester/pkg/logger"
	"harvester/pkg/models"
)

// Prober validates a proxy before its first use. A failed probe bans
// the proxy immediately.
type Prober interface {
	Probe(ctx context.Context, proxy *models.ProxyEndpoint) error
}

// ProxyPool owns proxy reliability and ban state. Simpler model than
// the credential pool: no health score, just working/banned flags and
// failure counts.
type ProxyPool struct {
	mu      sync.Mutex
	proxies []*models.ProxyEndpoint
	inUse   map[int]bool // keyed by proxy ID

	prober Prober // optional
	cfg    config.PoolsConfig
	log    logger.Logger
	now    func() time.Time
}

// NewProxyPool builds a pool over the given proxies. A nil prober
// disables pre-use validation.
func NewProxyPool(proxies []*models.ProxyEndpoint, prober Prober, cfg config.PoolsConfig, log logger.Logger) *ProxyPool {
	if log == nil {
		log = logger.GetLogger()
	}
	for _, p := range proxies {
		p.Working = true
	}
	return &ProxyPool{
		proxies: proxies,
		inUse:   make(map[int]bool),
		prober:  prober,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Acquire returns the best eligible proxy and marks it in-flight.
// Proven proxies (request count > 0) are preferred, ordered ascending
// by (failure count, request count); untested proxies are the
// fallback, probed first when a prober is configured. Returns
// ErrNoneEligible when the pool is exhausted.
func (p *ProxyPool) Acquire(ctx context.Context) (*models.ProxyEndpoint, error) {
	for {
		candidate, untested := p.pickLocked()
		if candidate == nil {
			return nil, ErrNoneEligible
		}
		if !untested || p.prober == nil {
			return candidate, nil
		}

		// Probe outside the lock; a network round-trip must not block
		// other pool operations.
		if err := p.prober.Probe(ctx, candidate); err != nil {
			p.banFailedProbe(candidate, err)
			continue
		}
		return candidate, nil
	}
}

// pickLocked selects and marks the next candidate under the lock. The
// second return reports whether the proxy has never served a request.
func (p *ProxyPool) pickLocked() (*models.ProxyEndpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var proven, untested []*models.ProxyEndpoint
	for _, px := range p.proxies {
		if !px.Working || px.Banned || p.inUse[px.ID] {
			continue
		}
		if px.RequestCount > 0 {
			proven = append(proven, px)
		} else {
			untested = append(untested, px)
		}
	}

	if len(proven) > 0 {
		sort.SliceStable(proven, func(i, j int) bool {
			a, b := proven[i], proven[j]
			if a.FailureCount != b.FailureCount {
				return a.FailureCount < b.FailureCount
			}
			return a.RequestCount < b.RequestCount
		})
		best := proven[0]
		p.inUse[best.ID] = true
		return best, false
	}
	if len(untested) > 0 {
		best := untested[0]
		p.inUse[best.ID] = true
		return best, true
	}
	return nil, false
}

func (p *ProxyPool) banFailedProbe(px *models.ProxyEndpoint, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.inUse, px.ID)
	px.FailureCount++
	px.Banned = true
	px.BanUntil = p.now().Add(p.cfg.ProxyBanCooldown)
	p.log.WarnWithFields("proxy failed probe, banned", map[string]interface{}{
		"proxy": px.Addr(),
		"error": err.Error(),
	})
}

// Release returns a proxy to the pool and applies the outcome. Must be
// called exactly once per Acquire.
func (p *ProxyPool) Release(px *models.ProxyEndpoint, outcome models.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.inUse, px.ID)
	px.RequestCount++
	px.LastUsed = p.now()

	switch outcome {
	case models.OutcomeSuccess, models.OutcomeEmpty, models.OutcomeAuthFailed:
		// Ends attributable to the credential or to content leave the
		// proxy's record untouched.

	case models.OutcomeTransient:
		px.FailureCount++
		if px.FailureCount > p.cfg.ProxyFailureThreshold {
			px.Banned = true
			px.BanUntil = p.now().Add(p.cfg.ProxyBanCooldown)
			p.log.WarnWithFields("proxy banned after repeated failures", map[string]interface{}{
				"proxy":    px.Addr(),
				"failures": px.FailureCount,
			})
		}

	case models.OutcomeRateLimited:
		px.FailureCount++
		px.Banned = true
		px.BanUntil = p.now().Add(p.cfg.ProxyBanCooldown)
		p.log.WarnWithFields("proxy banned on rate limit", map[string]interface{}{
			"proxy": px.Addr(),
		})
	}
}

// ResetExpired unbans every proxy whose ban has expired and clears its
// failure count. Returns the number recovered.
func (p *ProxyPool) ResetExpired() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	recovered := 0
	for _, px := range p.proxies {
		if px.Banned && !px.BanUntil.IsZero() && !px.BanUntil.After(now) {
			p.recoverLocked(px)
			recovered++
		}
	}
	return recovered
}

// ForceRecover unbans up to limit proxies regardless of expiry when
// the pool is exhausted. Returns the number recovered.
func (p *ProxyPool) ForceRecover(limit int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var banned []*models.ProxyEndpoint
	for _, px := range p.proxies {
		if px.Banned {
			banned = append(banned, px)
		}
	}
	sort.SliceStable(banned, func(i, j int) bool {
		return banned[i].BanUntil.Before(banned[j].BanUntil)
	})

	recovered := 0
	for _, px := range banned {
		if recovered >= limit {
			break
		}
		p.recoverLocked(px)
		recovered++
	}
	if recovered > 0 {
		p.log.WarnWithFields("proxies force-recovered", map[string]interface{}{
			"recovered": recovered,
		})
	}
	return recovered
}

func (p *ProxyPool) recoverLocked(px *models.ProxyEndpoint) {
	px.Banned = false
	px.BanUntil = time.Time{}
	px.FailureCount = 0
	px.Working = true
}

// ProxyCounts is a point-in-time summary of pool state.
type ProxyCounts struct {
	Total  int
	Banned int
	InUse  int
}

// Counts returns a snapshot of the pool's population.
func (p *ProxyPool) Counts() ProxyCounts {
	p.mu.Lock()
	defer p.mu.Unlock()

	counts := ProxyCounts{Total: len(p.proxies), InUse: len(p.inUse)}
	for _, px := range p.proxies {
		if px.Banned {
			counts.Banned++
		}
	}
	return counts
}
