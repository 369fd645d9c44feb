// Package remote adapts the identity component's trusted HTTP surface to the
// interfaces its consumers declare, for deployments that split the
// components across processes.
package remote

import (
	"context"
	"net/url"

	"carousel.org/internal/access"
	"carousel.org/internal/remote"
)

// Client calls a remote identity component.
type Client struct {
	caller *remote.Caller
}

// New builds a client for the identity component at baseURL.
func New(baseURL string, opts ...remote.CallerOption) (*Client, error) {
	caller, err := remote.NewCaller(baseURL, "identity", opts...)
	if err != nil {
		return nil, err
	}
	return &Client{caller: caller}, nil
}

// AccountLevel resolves the access tier of the account with the given email.
func (c *Client) AccountLevel(ctx context.Context, email string) (access.Level, error) {
	var out struct {
		Level access.Level `json:"access_level"`
	}
	q := url.Values{"email": []string{email}}
	if err := c.caller.Get(ctx, "account_level", "/internal/identity/level", q, &out); err != nil {
		return access.ReadOnly, err
	}
	return out.Level, nil
}

// Promote converts the provisional record into a confirmed account.
func (c *Client) Promote(ctx context.Context, provisionalID string) error {
	in := struct {
		ProvisionalID string `json:"provisional_id"`
	}{ProvisionalID: provisionalID}
	return c.caller.Post(ctx, "promote", "/internal/identity/promote", in, nil)
}

// UpdateLevelInternal sets the account's tier through the trusted path.
func (c *Client) UpdateLevelInternal(ctx context.Context, accountID string, level access.Level) error {
	in := struct {
		AccountID string       `json:"account_id"`
		Level     access.Level `json:"access_level"`
	}{AccountID: accountID, Level: level}
	return c.caller.Post(ctx, "update_level", "/internal/identity/level", in, nil)
}
