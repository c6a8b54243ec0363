// Package pool owns the health and rotation state of the bounded set
// of access identities (credentials and egress proxies) the harvester
// coordinates. All mutation of pool state happens behind a pool-wide
// mutex; entries handed out by Acquire are marked in-flight and never
// handed out again until released.
package pool

import (
	"errors"
	"sort"
	"sync"
	"time"

	"harvester/pkg/config"
	"harvester/pkg/logger"
	"harvester/pkg/models"
)

// ErrNoneEligible is the not-found signal returned by Acquire when no
// entry in the pool can currently be used.
var ErrNoneEligible = errors.New("pool: no eligible entry")

// CredentialPool owns credential health and ban state.
type CredentialPool struct {
	mu    sync.Mutex
	creds []*models.Credential
	inUse map[string]bool // keyed by username

	cfg config.PoolsConfig
	log logger.Logger
	now func() time.Time
}

// NewCredentialPool builds a pool over the given credentials. Health
// starts at 1 for every entry.
func NewCredentialPool(creds []*models.Credential, cfg config.PoolsConfig, log logger.Logger) *CredentialPool {
	if log == nil {
		log = logger.GetLogger()
	}
	for _, c := range creds {
		if c.Health == 0 {
			c.Health = 1.0
		}
	}
	return &CredentialPool{
		creds: creds,
		inUse: make(map[string]bool),
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// Acquire returns the best eligible credential and marks it in-flight.
// Eligibility excludes banned entries, entries already in flight, and
// entries used more recently than minIdle ago (0 disables the idle
// check). Among eligible entries it prefers higher health, then lower
// request count, then least recently used. Returns ErrNoneEligible if
// nothing qualifies.
func (p *CredentialPool) Acquire(minIdle time.Duration) (*models.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var eligible []*models.Credential
	for _, c := range p.creds {
		if c.Banned || p.inUse[c.Username] {
			continue
		}
		if minIdle > 0 && !c.LastUsed.IsZero() && now.Sub(c.LastUsed) < minIdle {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil, ErrNoneEligible
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Health != b.Health {
			return a.Health > b.Health
		}
		if a.RequestCount != b.RequestCount {
			return a.RequestCount < b.RequestCount
		}
		return a.LastUsed.Before(b.LastUsed)
	})

	best := eligible[0]
	p.inUse[best.Username] = true
	return best, nil
}

// Release returns a credential to the pool and applies the outcome of
// the request that used it. Must be called exactly once per Acquire.
func (p *CredentialPool) Release(c *models.Credential, outcome models.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.inUse, c.Username)
	now := p.now()
	c.RequestCount++
	c.LastUsed = now

	switch outcome {
	case models.OutcomeSuccess:
		c.Health = min(1.0, c.Health+p.cfg.SuccessIncrement)
		c.EmptyStreak = 0
		c.FailStreak = 0

	case models.OutcomeEmpty:
		c.EmptyStreak++
		if c.EmptyStreak > p.cfg.EmptyStreakThreshold {
			// Empty streaks usually mean an invalidated session, not a
			// hard block: shorter cooldown than an auth failure.
			p.ban(c, p.cfg.EmptyBanCooldown)
			p.log.WarnWithFields("credential banned after empty-result streak", map[string]interface{}{
				"credential": c.Username,
				"streak":     c.EmptyStreak,
			})
		}

	case models.OutcomeTransient:
		c.Health = max(0, c.Health-p.cfg.TransientPenalty)
		c.FailStreak++

	case models.OutcomeRateLimited:
		// Throttling burns the proxy, not the credential.

	case models.OutcomeAuthFailed:
		c.FailStreak++
		p.ban(c, p.cfg.AuthBanCooldown)
		p.log.WarnWithFields("credential banned on auth failure", map[string]interface{}{
			"credential": c.Username,
			"ban_until":  c.BanUntil,
		})
	}

	if !c.Banned && c.Health < p.cfg.MinHealth {
		// Cooldown grows with the recent failure streak.
		cooldown := time.Duration(1+c.FailStreak) * p.cfg.LowHealthBanCooldown
		p.ban(c, cooldown)
		p.log.WarnWithFields("credential banned on low health", map[string]interface{}{
			"credential": c.Username,
			"health":     c.Health,
			"cooldown":   cooldown.String(),
		})
	}
}

// putBack clears the in-flight mark without applying an outcome. Used
// when a paired acquisition fails before any request was made.
func (p *CredentialPool) putBack(c *models.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, c.Username)
}

// ban must be called with the lock held.
func (p *CredentialPool) ban(c *models.Credential, cooldown time.Duration) {
	c.Banned = true
	c.BanUntil = p.now().Add(cooldown)
}

// ResetExpired unbans every credential whose ban has expired. A
// recovered credential starts measurably less trusted than before the
// ban: health becomes max(floor, health*recoveryFactor). Returns the
// number of credentials recovered.
func (p *CredentialPool) ResetExpired() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	recovered := 0
	for _, c := range p.creds {
		if c.Banned && !c.BanUntil.IsZero() && !c.BanUntil.After(now) {
			p.recover(c)
			recovered++
		}
	}
	if recovered > 0 {
		p.log.InfoWithFields("expired credential bans lifted", map[string]interface{}{
			"recovered": recovered,
		})
	}
	return recovered
}

// ForceRecover unbans up to limit of the longest-banned credentials
// regardless of expiry. Last-resort liveness valve, used only when the
// pool is exhausted. Returns the number recovered.
func (p *CredentialPool) ForceRecover(limit int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var banned []*models.Credential
	for _, c := range p.creds {
		if c.Banned {
			banned = append(banned, c)
		}
	}
	sort.SliceStable(banned, func(i, j int) bool {
		return banned[i].BanUntil.Before(banned[j].BanUntil)
	})

	recovered := 0
	for _, c := range banned {
		if recovered >= limit {
			break
		}
		p.recover(c)
		recovered++
	}
	if recovered > 0 {
		p.log.WarnWithFields("credentials force-recovered", map[string]interface{}{
			"recovered": recovered,
		})
	}
	return recovered
}

// recover must be called with the lock held.
func (p *CredentialPool) recover(c *models.Credential) {
	c.Banned = false
	c.BanUntil = time.Time{}
	c.EmptyStreak = 0
	c.Health = max(p.cfg.RecoveryFloor, c.Health*p.cfg.RecoveryFactor)
}

// CredentialCounts is a point-in-time summary of pool state.
type CredentialCounts struct {
	Total  int
	Banned int
	InUse  int
}

// Counts returns a snapshot of the pool's population.
func (p *CredentialPool) Counts() CredentialCounts {
	p.mu.Lock()
	defer p.mu.Unlock()

	counts := CredentialCounts{Total: len(p.creds), InUse: len(p.inUse)}
	for _, c := range p.creds {
		if c.Banned {
			counts.Banned++
		}
	}
	return counts
}
