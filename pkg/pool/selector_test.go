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

func newTestSelector(t *testing.T, creds []*models.Credential, proxies []*models.ProxyEndpoint, cfg config.PoolsConfig) *PairSelector {
	t.Helper()
	cp := NewCredentialPool(creds, cfg, nil)
	pp := NewProxyPool(proxies, nil, cfg, nil)
	return NewPairSelector(cp, pp, nil)
}

func TestSelectPairsCredentialWithProxy(t *testing.T) {
	cfg := config.DefaultConfig().Pools
	cfg.MinIdleInterval = 0
	sel := newTestSelector(t,
		[]*models.Credential{{Username: "u", Health: 1.0}},
		[]*models.ProxyEndpoint{{ID: 0, Host: "p", Port: 8080, RequestCount: 1}},
		cfg,
	)

	pair, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u", pair.Credential.Username)
	assert.Equal(t, "p", pair.Proxy.Host)
}

func TestPairingReleaseIsIdempotent(t *testing.T) {
	cfg := config.DefaultConfig().Pools
	cfg.MinIdleInterval = 0
	sel := newTestSelector(t,
		[]*models.Credential{{Username: "u", Health: 1.0}},
		[]*models.ProxyEndpoint{{ID: 0, Host: "p", Port: 8080, RequestCount: 1}},
		cfg,
	)

	pair, err := sel.Select(context.Background())
	require.NoError(t, err)

	pair.Release(models.OutcomeSuccess)
	pair.Release(models.OutcomeSuccess)
	pair.Release(models.OutcomeTransient)

	assert.Equal(t, 1, pair.Credential.RequestCount, "only the first release counts")
	assert.Equal(t, 2, pair.Proxy.RequestCount)
	assert.Zero(t, pair.Credential.FailStreak)
}

func TestSelectPutsCredentialBackWhenProxiesExhausted(t *testing.T) {
	cfg := config.DefaultConfig().Pools
	cfg.MinIdleInterval = 0
	cred := &models.Credential{Username: "u", Health: 1.0}
	sel := newTestSelector(t, []*models.Credential{cred}, nil, cfg)

	_, err := sel.Select(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypePoolExhausted, errors.TypeOf(err))

	// The credential must be available again and unchanged.
	got, err := sel.creds.Acquire(0)
	require.NoError(t, err)
	assert.Equal(t, "u", got.Username)
	assert.Zero(t, got.RequestCount)
}

func TestSelectForceRecoversExhaustedPools(t *testing.T) {
	cfg := config.DefaultConfig().Pools
	cfg.MinIdleInterval = 0
	now := time.Now()
	cred := &models.Credential{Username: "u", Health: 1.0, Banned: true, BanUntil: now.Add(time.Hour)}
	proxy := &models.ProxyEndpoint{ID: 0, Host: "p", Port: 8080, RequestCount: 1, Banned: true, BanUntil: now.Add(time.Hour)}
	sel := newTestSelector(t, []*models.Credential{cred}, []*models.ProxyEndpoint{proxy}, cfg)

	pair, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u", pair.Credential.Username)
	assert.Equal(t, "p", pair.Proxy.Host)
	assert.False(t, cred.Banned)
	assert.False(t, proxy.Banned)
}

func TestSelectExhaustedWithNothingToRecover(t *testing.T) {
	cfg := config.DefaultConfig().Pools
	sel := newTestSelector(t, nil, nil, cfg)

	_, err := sel.Select(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypePoolExhausted, errors.TypeOf(err))
}
