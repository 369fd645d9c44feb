// Package remote adapts the role component's trusted HTTP surface to the
// identity.RoleDirectory interface for cross-process deployments.
package remote

import (
	"context"
	"net/url"

	"carousel.org/internal/remote"
)

// Client calls a remote role component.
type Client struct {
	caller *remote.Caller
}

// New builds a client for the role component at baseURL.
func New(baseURL string, opts ...remote.CallerOption) (*Client, error) {
	caller, err := remote.NewCaller(baseURL, "roles", opts...)
	if err != nil {
		return nil, err
	}
	return &Client{caller: caller}, nil
}

// AssignDefaultRole grants the baseline role to email.
func (c *Client) AssignDefaultRole(ctx context.Context, email string) error {
	in := struct {
		Email string `json:"email"`
	}{Email: email}
	return c.caller.Post(ctx, "assign_default", "/internal/roles/assign-default", in, nil)
}

// UserHasRole reports whether email effectively holds roleName.
func (c *Client) UserHasRole(ctx context.Context, email, roleName string) (bool, error) {
	var out struct {
		HasRole bool `json:"has_role"`
	}
	q := url.Values{"email": []string{email}, "role": []string{roleName}}
	if err := c.caller.Get(ctx, "user_has_role", "/internal/roles/has-role", q, &out); err != nil {
		return false, err
	}
	return out.HasRole, nil
}
