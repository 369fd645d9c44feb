// Package remote carries the HTTP JSON plumbing shared by the federated
// collaborator clients. Each client package adapts a Caller to the narrow
// interface its consumer declares.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"carousel.org/internal/domain"
	"carousel.org/internal/obs"
)

const defaultTimeout = 5 * time.Second

// Caller issues JSON requests against one collaborating component.
type Caller struct {
	baseURL   string
	component string
	http      *http.Client
}

// NewCaller builds a caller for the component reachable at baseURL. The
// component name labels outbound-call metrics.
func NewCaller(baseURL, component string, opts ...CallerOption) (*Caller, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("remote: base URL is required")
	}
	if strings.TrimSpace(component) == "" {
		return nil, fmt.Errorf("remote: component name is required")
	}
	c := &Caller{
		baseURL:   baseURL,
		component: component,
		http:      &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithHTTPClient swaps the underlying HTTP client (useful for tests).
func WithHTTPClient(hc *http.Client) CallerOption {
	return func(c *Caller) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Get issues a GET with query parameters and decodes the JSON body into out.
func (c *Caller) Get(ctx context.Context, operation, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(operation, req, out)
}

// Post issues a POST with a JSON body and decodes the JSON response into out.
// Either side may be nil.
func (c *Caller) Post(ctx context.Context, operation, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(operation, req, out)
}

func (c *Caller) do(operation string, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	obs.ObserveFederatedCall(c.component, operation, err)
	if err != nil {
		return fmt.Errorf("%w: calling %s: %v", domain.ErrInternal, c.component, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %w", c.component, operation, domain.FromStatus(resp.StatusCode))
	}
	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", domain.ErrInternal, c.component, err)
	}
	return nil
}
