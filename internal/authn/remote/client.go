// Package remote adapts the authentication component's trusted HTTP surface
// to the identity.CredentialRegistrar interface for cross-process
// deployments.
package remote

import (
	"context"

	"carousel.org/internal/remote"
)

// Client calls a remote authentication component.
type Client struct {
	caller *remote.Caller
}

// New builds a client for the authentication component at baseURL.
func New(baseURL string, opts ...remote.CallerOption) (*Client, error) {
	caller, err := remote.NewCaller(baseURL, "authn", opts...)
	if err != nil {
		return nil, err
	}
	return &Client{caller: caller}, nil
}

// RegisterCredential materializes a credential for email.
func (c *Client) RegisterCredential(ctx context.Context, email, secret string) error {
	in := struct {
		Email  string `json:"email"`
		Secret string `json:"secret"`
	}{Email: email, Secret: secret}
	return c.caller.Post(ctx, "register_credential", "/internal/authn/credentials", in, nil)
}
