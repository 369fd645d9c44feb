package authn

import (
	"context"
	"time"
)

// Credential maps an email to a salted secret hash. Owned exclusively by the
// authentication component.
type Credential struct {
	ID         string
	Email      string
	SecretHash string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CredentialStore describes the persistence operations the authentication
// component needs. CreateCredential returns domain.ErrConflict when a
// credential for the email already exists; CredentialByEmail returns
// domain.ErrNotFound when absent.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *Credential) error
	CredentialByEmail(ctx context.Context, email string) (*Credential, error)
}
