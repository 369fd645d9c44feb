// Package approval implements the human sign-off workflow for elevated
// access: new registrations above the lowest tier and upgrades of existing
// accounts.
package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carousel.org/internal/access"
	"carousel.org/internal/audit"
	"carousel.org/internal/domain"
	"carousel.org/internal/ids"
	"carousel.org/internal/notify"
	"carousel.org/internal/obs"
)

const defaultCollaboratorTimeout = 3 * time.Second

// CreateParams carries a new approval request.
type CreateParams struct {
	Type            RequestType
	SubjectID       string
	TargetAccountID string
	Email           string
	FirstName       string
	LastName        string
	RequestedLevel  access.Level
}

// Service is the approval workflow component.
type Service struct {
	store       Store
	identity    Identity
	notifier    notify.Notifier
	reviewer    string
	callTimeout time.Duration
	now         func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithReviewer sets the address notified when a request is filed.
func WithReviewer(email string) Option {
	return func(s *Service) {
		if v := strings.TrimSpace(email); v != "" {
			s.reviewer = v
		}
	}
}

// WithCollaboratorTimeout bounds outbound federated calls.
func WithCollaboratorTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the approval service.
func NewService(store Store, identity Identity, notifier notify.Notifier, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("approval: store is required")
	}
	if identity == nil {
		return nil, fmt.Errorf("approval: identity collaborator is required")
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	s := &Service{
		store:       store,
		identity:    identity,
		notifier:    notifier,
		callTimeout: defaultCollaboratorTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create files an approval request. A second pending TierUpgrade for the same
// target surfaces as domain.ErrConflict from the store.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Request, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown request type", domain.ErrBadRequest)
	}
	if !p.RequestedLevel.Valid() {
		return nil, fmt.Errorf("%w: unknown access level", domain.ErrBadRequest)
	}
	email := strings.TrimSpace(strings.ToLower(p.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", domain.ErrBadRequest)
	}
	switch p.Type {
	case TypeNewAccount:
		if strings.TrimSpace(p.SubjectID) == "" {
			return nil, fmt.Errorf("%w: subject id is required for new-account requests", domain.ErrBadRequest)
		}
	case TypeTierUpgrade:
		if strings.TrimSpace(p.TargetAccountID) == "" {
			return nil, fmt.Errorf("%w: target account id is required for tier-upgrade requests", domain.ErrBadRequest)
		}
	}

	req := &Request{
		ID:              ids.New(),
		Type:            p.Type,
		SubjectID:       strings.TrimSpace(p.SubjectID),
		TargetAccountID: strings.TrimSpace(p.TargetAccountID),
		Email:           email,
		FirstName:       strings.TrimSpace(p.FirstName),
		LastName:        strings.TrimSpace(p.LastName),
		RequestedLevel:  p.RequestedLevel,
		Approved:        false,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	_ = audit.LogEvent(ctx, "approval.requested", map[string]any{
		"request_id":      req.ID,
		"request_type":    string(req.Type),
		"email":           req.Email,
		"requested_level": req.RequestedLevel.String(),
	})
	s.notifyReviewer(ctx, req)
	return req, nil
}

// ListPending returns the requests still awaiting a decision.
func (s *Service) ListPending(ctx context.Context) ([]Request, error) {
	return s.store.ListPendingRequests(ctx)
}

// ByID returns the request with the given id.
func (s *Service) ByID(ctx context.Context, id string) (*Request, error) {
	return s.store.RequestByID(ctx, id)
}

// Approve settles a pending request. The approver's own tier must be at least
// the requested tier; the tier is resolved through the identity component and
// any resolution failure denies. The request is marked approved before the
// side effect is dispatched, so a dispatch failure leaves a settled request
// whose effect must be retried out of band, never a second approval.
func (s *Service) Approve(ctx context.Context, requestID, approverEmail string) (*Request, error) {
	approverEmail = strings.TrimSpace(strings.ToLower(approverEmail))
	if approverEmail == "" {
		return nil, fmt.Errorf("%w: approver is required", domain.ErrForbidden)
	}
	req, err := s.store.RequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Approved {
		return nil, fmt.Errorf("%w: request already settled", domain.ErrConflict)
	}

	actx, cancel := context.WithTimeout(ctx, s.callTimeout)
	approverLevel, err := s.identity.AccountLevel(actx, approverEmail)
	cancel()
	obs.ObserveFederatedCall("identity", "account_level", err)
	if err != nil {
		return nil, fmt.Errorf("%w: approver tier could not be confirmed", domain.ErrForbidden)
	}
	if !approverLevel.AtLeast(req.RequestedLevel) {
		return nil, fmt.Errorf("%w: approver tier is below the requested tier", domain.ErrForbidden)
	}

	now := s.now().UTC()
	if err := s.store.MarkApproved(ctx, req.ID, approverEmail, now); err != nil {
		return nil, err
	}
	req.Approved = true
	req.ApprovedBy = approverEmail
	req.ApprovedAt = &now

	_ = audit.LogEvent(ctx, "approval.approved", map[string]any{
		"request_id":   req.ID,
		"request_type": string(req.Type),
		"email":        req.Email,
		"approved_by":  approverEmail,
	})

	if err := s.dispatch(ctx, req); err != nil {
		return req, fmt.Errorf("request approved but applying it failed: %w", err)
	}
	return req, nil
}

func (s *Service) dispatch(ctx context.Context, req *Request) error {
	dctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	switch req.Type {
	case TypeNewAccount:
		err := s.identity.Promote(dctx, req.SubjectID)
		obs.ObserveFederatedCall("identity", "promote", err)
		// A missing provisional record means an earlier dispatch already
		// promoted it.
		if err != nil && !domain.IsNotFound(err) {
			return err
		}
		return nil
	case TypeTierUpgrade:
		err := s.identity.UpdateLevelInternal(dctx, req.TargetAccountID, req.RequestedLevel)
		obs.ObserveFederatedCall("identity", "update_level", err)
		return err
	default:
		return fmt.Errorf("%w: unknown request type %q", domain.ErrInternal, req.Type)
	}
}

func (s *Service) notifyReviewer(ctx context.Context, req *Request) {
	if s.reviewer == "" {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	body := fmt.Sprintf("Approval requested for %s (%s) at level %s.", req.Email, req.Type, req.RequestedLevel)
	if err := s.notifier.Notify(nctx, s.reviewer, "Carousel - Approval Requested", body); err != nil {
		obs.Warn("reviewer notification failed", err, map[string]any{"request_id": req.ID})
	}
}
