package source

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"harvester/pkg/errors"
)

// HTTPRetriever fetches items from a JSON feed endpoint that already
// speaks the normalized item shape. Platform-specific extraction
// lives behind such endpoints, not in this process.
type HTTPRetriever struct {
	name     string
	endpoint string
	timeout  time.Duration
}

// NewHTTPRetriever builds a retriever for one feed endpoint.
func NewHTTPRetriever(name, endpoint string, timeout time.Duration) *HTTPRetriever {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRetriever{name: name, endpoint: endpoint, timeout: timeout}
}

func (h *HTTPRetriever) Name() string { return h.name }

// Fetch issues the query through the pairing's proxy, authenticated
// with the credential's session token. Failures are classified for
// the pools: 429 burns the proxy, 401/403 burns the credential.
func (h *HTTPRetriever) Fetch(ctx context.Context, req Request) ([]Item, error) {
	client := resty.New().SetTimeout(h.timeout)
	if req.Proxy != nil {
		client.SetProxy(req.Proxy.URL())
	}

	r := client.R().
		SetContext(ctx).
		SetQueryParam("q", req.Query).
		SetQueryParam("limit", strconv.Itoa(req.Limit))
	if req.Credential != nil && req.Credential.SessionToken != "" {
		r.SetAuthToken(req.Credential.SessionToken)
	}

	var items []Item
	resp, err := r.SetResult(&items).ForceContentType("application/json").Get(h.endpoint)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeNetwork, "fetch "+h.name, err)
	}
	if err := classifyStatus(resp.StatusCode()); err != nil {
		return nil, err
	}
	return items, nil
}

func classifyStatus(code int) error {
	switch {
	case code == 429:
		return errors.New(errors.ErrorTypeRateLimit, "throttled")
	case code == 401 || code == 403:
		return errors.New(errors.ErrorTypeAuth, fmt.Sprintf("rejected with status %d", code))
	case code >= 400:
		return errors.New(errors.ErrorTypeNetwork, fmt.Sprintf("status %d", code))
	default:
		return nil
	}
}

var _ Retriever = (*HTTPRetriever)(nil)
