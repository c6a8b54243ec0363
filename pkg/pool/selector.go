package pool

import (
	"context"
	"sync/atomic"

	"harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/models"
)

// Pairing is a credential and proxy checked out together. Release must
// be called exactly once with the outcome of the attempt; later calls
// are no-ops.
type Pairing struct {
	Credential *models.Credential
	Proxy      *models.ProxyEndpoint

	creds    *CredentialPool
	proxies  *ProxyPool
	released atomic.Bool
}

// Release applies the outcome to both pools. Safe to call more than
// once; only the first call takes effect.
func (pr *Pairing) Release(outcome models.Outcome) {
	if !pr.released.CompareAndSwap(false, true) {
		return
	}
	pr.creds.Release(pr.Credential, outcome)
	pr.proxies.Release(pr.Proxy, outcome)
}

// PairSelector checks out matched credential/proxy pairs. When a pool
// is exhausted it makes one bounded force-recovery attempt before
// reporting exhaustion.
type PairSelector struct {
	creds   *CredentialPool
	proxies *ProxyPool
	log     logger.Logger
}

func NewPairSelector(creds *CredentialPool, proxies *ProxyPool, log logger.Logger) *PairSelector {
	if log == nil {
		log = logger.GetLogger()
	}
	return &PairSelector{creds: creds, proxies: proxies, log: log}
}

// Select acquires a credential and a proxy. If either pool is empty it
// force-recovers a bounded number of entries and retries once. The
// credential is put back untouched when no proxy can be found.
func (s *PairSelector) Select(ctx context.Context) (*Pairing, error) {
	minIdle := s.creds.cfg.MinIdleInterval
	limit := s.creds.cfg.ForceRecoverLimit

	cred, err := s.creds.Acquire(minIdle)
	if err != nil {
		if s.creds.ForceRecover(limit) == 0 {
			return nil, errors.New(errors.ErrorTypePoolExhausted, "no eligible credentials")
		}
		cred, err = s.creds.Acquire(minIdle)
		if err != nil {
			return nil, errors.New(errors.ErrorTypePoolExhausted, "no eligible credentials after recovery")
		}
	}

	proxy, err := s.proxies.Acquire(ctx)
	if err != nil {
		if s.proxies.ForceRecover(limit) > 0 {
			proxy, err = s.proxies.Acquire(ctx)
		}
		if err != nil {
			// Hand the credential back without charging it a request.
			s.creds.putBack(cred)
			return nil, errors.New(errors.ErrorTypePoolExhausted, "no eligible proxies")
		}
	}

	return &Pairing{
		Credential: cred,
		Proxy:      proxy,
		creds:      s.creds,
		proxies:    s.proxies,
	}, nil
}
