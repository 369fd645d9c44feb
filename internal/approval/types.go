package approval

import (
	"context"
	"time"

	"carousel.org/internal/access"
)

// RequestType distinguishes the two approval flows.
type RequestType string

const (
	// TypeNewAccount asks sign-off for a provisional registration at an
	// elevated tier.
	TypeNewAccount RequestType = "NewAccount"
	// TypeTierUpgrade asks sign-off for raising an existing account's tier.
	TypeTierUpgrade RequestType = "TierUpgrade"
)

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	return t == TypeNewAccount || t == TypeTierUpgrade
}

// Request is a pending or settled approval request. SubjectID carries the
// provisional record id for NewAccount requests; TargetAccountID carries the
// confirmed account id for TierUpgrade requests.
type Request struct {
	ID              string       `json:"id"`
	Type            RequestType  `json:"request_type"`
	SubjectID       string       `json:"subject_id,omitempty"`
	TargetAccountID string       `json:"target_account_id,omitempty"`
	Email           string       `json:"email"`
	FirstName       string       `json:"first_name,omitempty"`
	LastName        string       `json:"last_name,omitempty"`
	RequestedLevel  access.Level `json:"requested_access_level"`
	Approved        bool         `json:"approved"`
	ApprovedBy      string       `json:"approved_by,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	ApprovedAt      *time.Time   `json:"approved_at,omitempty"`
}

// Store describes approval persistence.
//
// CreateRequest returns domain.ErrConflict when a pending TierUpgrade already
// exists for the same target account. MarkApproved is conditional on the
// request still being pending and returns domain.ErrConflict when it is not.
type Store interface {
	CreateRequest(ctx context.Context, r *Request) error
	RequestByID(ctx context.Context, id string) (*Request, error)
	ListPendingRequests(ctx context.Context) ([]Request, error)
	MarkApproved(ctx context.Context, id, approvedBy string, at time.Time) error
}

// Identity is the federated slice of the identity component the workflow
// consumes: the approver's tier for the gate, and the two trusted dispatch
// paths for settled requests.
type Identity interface {
	AccountLevel(ctx context.Context, email string) (access.Level, error)
	Promote(ctx context.Context, provisionalID string) error
	UpdateLevelInternal(ctx context.Context, accountID string, level access.Level) error
}
