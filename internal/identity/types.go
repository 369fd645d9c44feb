package identity

import (
	"context"
	"time"

	"carousel.org/internal/access"
)

// Account is the confirmed account record, unique on email.
type Account struct {
	ID                string       `json:"id"`
	FirstName         string       `json:"first_name"`
	LastName          string       `json:"last_name"`
	Email             string       `json:"email"`
	Level             access.Level `json:"access_level"`
	EmailVerified     bool         `json:"email_verified"`
	VerificationToken string       `json:"-"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Provisional is an account awaiting email verification and, for elevated
// tiers, human approval. The secret travels with it only while provisional
// and is cleared before the record is deleted on promotion.
type Provisional struct {
	ID                string       `json:"id"`
	FirstName         string       `json:"first_name"`
	LastName          string       `json:"last_name"`
	Email             string       `json:"email"`
	Secret            string       `json:"-"`
	RequestedLevel    access.Level `json:"requested_access_level"`
	VerificationToken string       `json:"-"`
	EmailVerified     bool         `json:"email_verified"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Store describes persistence for accounts and provisional accounts.
//
// CreateProvisional and CreateAccount enforce email uniqueness across both
// collections and return domain.ErrConflict. PromoteProvisional atomically
// clears the stored secret, inserts the confirmed account and deletes the
// provisional record; when the provisional row is already gone it returns
// domain.ErrNotFound without inserting, which callers treat as "already
// promoted".
type Store interface {
	CreateProvisional(ctx context.Context, p *Provisional) error
	ProvisionalByID(ctx context.Context, id string) (*Provisional, error)
	ProvisionalByToken(ctx context.Context, token string) (*Provisional, error)
	ListVerifiedProvisionals(ctx context.Context) ([]Provisional, error)
	SetProvisionalVerified(ctx context.Context, id string, at time.Time) error
	PromoteProvisional(ctx context.Context, acct *Account, provisionalID string) error

	CreateAccount(ctx context.Context, acct *Account) error
	AccountByID(ctx context.Context, id string) (*Account, error)
	AccountByEmail(ctx context.Context, email string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	ListAccountsAtOrAbove(ctx context.Context, level access.Level) ([]Account, error)
	UpdateAccount(ctx context.Context, acct *Account) error
	DeleteAccount(ctx context.Context, id string) error
}

// CredentialRegistrar is the federated slice of the authentication component
// identity uses to materialize a credential on promotion.
type CredentialRegistrar interface {
	RegisterCredential(ctx context.Context, email, secret string) error
}

// RoleDirectory is the federated slice of the role component identity
// consumes: the trusted default-role assignment used on promotion and the
// role check backing the user-management gate.
type RoleDirectory interface {
	AssignDefaultRole(ctx context.Context, email string) error
	UserHasRole(ctx context.Context, email, roleName string) (bool, error)
}
