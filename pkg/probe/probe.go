// Package probe validates egress proxies with a lightweight HTTP
// round trip before the pool hands them to real work.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"harvester/pkg/config"
	"harvester/pkg/errors"
	"harvester/pkg/models"
)

// DefaultProbeURL is a low-cost endpoint that confirms the proxy can
// reach the outside world.
const DefaultProbeURL = "https://httpbin.org/ip"

// HTTPProber checks a proxy by issuing a GET through it.
type HTTPProber struct {
	url     string
	timeout time.Duration
}

// New builds a prober from config. Returns nil when probing is
// disabled, which the pool treats as "trust untested proxies".
func New(cfg config.ProbeConfig) *HTTPProber {
	if !cfg.Enabled {
		return nil
	}
	url := cfg.URL
	if url == "" {
		url = DefaultProbeURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProber{url: url, timeout: timeout}
}

// Probe issues one GET through the proxy and reports any transport or
// non-2xx failure.
func (h *HTTPProber) Probe(ctx context.Context, proxy *models.ProxyEndpoint) error {
	client := resty.New().
		SetProxy(proxy.URL()).
		SetTimeout(h.timeout)

	resp, err := client.R().SetContext(ctx).Get(h.url)
	if err != nil {
		return errors.Wrap(errors.ErrorTypeNetwork, "proxy probe", err)
	}
	if resp.IsError() {
		return errors.New(errors.ErrorTypeNetwork, fmt.Sprintf("proxy probe status %d", resp.StatusCode()))
	}
	return nil
}
