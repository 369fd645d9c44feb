// Package identity owns the account lifecycle: provisional registration,
// email verification, promotion to a confirmed account and the privileged
// administrative mutations. It is the tier-of-record every other component
// consults.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"carousel.org/internal/access"
	"carousel.org/internal/domain"
	"carousel.org/internal/ids"
	"carousel.org/internal/notify"
	"carousel.org/internal/obs"
)

const (
	defaultCollaboratorTimeout = 3 * time.Second

	// managementRole is the designated role that grants user management in
	// addition to the Support tier itself.
	managementRole = "Support"
)

// RegisterParams carries a self-service registration.
type RegisterParams struct {
	FirstName      string
	LastName       string
	Email          string
	Secret         string
	RequestedLevel *access.Level
}

// RegisterResult tells the caller whether the requested tier needs human
// sign-off; external callers branch their UX on this, not on workflow
// internals.
type RegisterResult struct {
	ProvisionalID    string `json:"provisional_id"`
	Email            string `json:"email"`
	RequiresApproval bool   `json:"requires_approval"`
}

// DirectCreateParams carries an administrative account creation that bypasses
// the provisional stage.
type DirectCreateParams struct {
	FirstName string
	LastName  string
	Email     string
	Level     access.Level
}

// UpdateParams carries an administrative account mutation.
type UpdateParams struct {
	FirstName string
	LastName  string
	Level     access.Level
}

// Service is the identity lifecycle component.
type Service struct {
	store         Store
	credentials   CredentialRegistrar
	roles         RoleDirectory
	notifier      notify.Notifier
	verifyBaseURL string
	callTimeout   time.Duration
	now           func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithVerifyBaseURL sets the base URL embedded in verification mail.
func WithVerifyBaseURL(u string) Option {
	return func(s *Service) {
		if v := strings.TrimSpace(u); v != "" {
			s.verifyBaseURL = v
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

// NewService constructs the identity service.
func NewService(store Store, credentials CredentialRegistrar, roleDir RoleDirectory, notifier notify.Notifier, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("identity: store is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("identity: credential registrar is required")
	}
	if roleDir == nil {
		return nil, fmt.Errorf("identity: role directory is required")
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	s := &Service{
		store:         store,
		credentials:   credentials,
		roles:         roleDir,
		notifier:      notifier,
		verifyBaseURL: "http://localhost:3000/verify",
		callTimeout:   defaultCollaboratorTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates a provisional account with a fresh verification token and
// sends the verification notification best-effort. The requested tier
// defaults to the lowest when none is supplied.
func (s *Service) Register(ctx context.Context, p RegisterParams) (RegisterResult, error) {
	email := normalizeEmail(p.Email)
	if email == "" || !strings.Contains(email, "@") {
		return RegisterResult{}, fmt.Errorf("%w: valid email is required", domain.ErrBadRequest)
	}
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return RegisterResult{}, fmt.Errorf("%w: first and last name are required", domain.ErrBadRequest)
	}
	level := access.ReadOnly
	if p.RequestedLevel != nil {
		level = *p.RequestedLevel
	}
	if !level.Valid() {
		return RegisterResult{}, fmt.Errorf("%w: unknown access level", domain.ErrBadRequest)
	}

	now := s.now().UTC()
	prov := &Provisional{
		ID:                ids.New(),
		FirstName:         strings.TrimSpace(p.FirstName),
		LastName:          strings.TrimSpace(p.LastName),
		Email:             email,
		Secret:            p.Secret,
		RequestedLevel:    level,
		VerificationToken: uuid.NewString(),
		EmailVerified:     false,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateProvisional(ctx, prov); err != nil {
		return RegisterResult{}, err
	}

	s.sendVerificationMail(ctx, email, prov.VerificationToken)

	return RegisterResult{
		ProvisionalID:    prov.ID,
		Email:            email,
		RequiresApproval: level.RequiresApproval(),
	}, nil
}

// VerifyEmail flips the provisional record matching token to verified and
// returns it so the caller can decide whether promotion may proceed without
// approval. The token is not invalidated; re-presentation in the single
// registration flow is harmless.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*Provisional, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: verification token is required", domain.ErrInvalidToken)
	}
	prov, err := s.store.ProvisionalByToken(ctx, token)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, fmt.Errorf("%w: no matching verification token", domain.ErrInvalidToken)
		}
		return nil, err
	}
	if err := s.store.SetProvisionalVerified(ctx, prov.ID, s.now().UTC()); err != nil {
		return nil, err
	}
	prov.EmailVerified = true
	return prov, nil
}

// Promote converts a provisional record into a confirmed account: the
// credential is materialized in the authentication component (only when a
// secret was carried), the account row is created at the requested tier, the
// baseline role is assigned best-effort, and the provisional record is
// deleted. The conditional delete inside the store makes promotion
// exactly-once; a caller seeing domain.ErrNotFound must treat the record as
// already promoted.
func (s *Service) Promote(ctx context.Context, provisionalID string) error {
	prov, err := s.store.ProvisionalByID(ctx, provisionalID)
	if err != nil {
		return err
	}
	if !prov.EmailVerified {
		return fmt.Errorf("%w: email not verified", domain.ErrPreconditionFailed)
	}

	if prov.Secret != "" {
		cctx, cancel := context.WithTimeout(ctx, s.callTimeout)
		err := s.credentials.RegisterCredential(cctx, prov.Email, prov.Secret)
		cancel()
		obs.ObserveFederatedCall("authn", "register_credential", err)
		// A conflict means a previous promotion attempt got as far as the
		// credential; retrying past it keeps the operation idempotent.
		if err != nil && !errors.Is(err, domain.ErrConflict) {
			return err
		}
	}

	now := s.now().UTC()
	acct := &Account{
		ID:            ids.New(),
		FirstName:     prov.FirstName,
		LastName:      prov.LastName,
		Email:         prov.Email,
		Level:         prov.RequestedLevel,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.PromoteProvisional(ctx, acct, prov.ID); err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	if err := s.roles.AssignDefaultRole(rctx, prov.Email); err != nil {
		// Role assignment is not load-bearing for login.
		obs.Warn("default role assignment failed", err, map[string]any{"email": prov.Email})
	}
	return nil
}

// CreateDirect creates a confirmed account without the provisional stage.
// The account still has to verify its email and carries no credential.
func (s *Service) CreateDirect(ctx context.Context, p DirectCreateParams, requesterEmail string) (*Account, error) {
	requester, err := s.requireManager(ctx, requesterEmail)
	if err != nil {
		return nil, err
	}
	if p.Level == access.Admin && requester.Level != access.Admin {
		return nil, fmt.Errorf("%w: only Admin users can create Admin accounts", domain.ErrForbidden)
	}
	email := normalizeEmail(p.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", domain.ErrBadRequest)
	}
	if !p.Level.Valid() {
		return nil, fmt.Errorf("%w: unknown access level", domain.ErrBadRequest)
	}

	now := s.now().UTC()
	acct := &Account{
		ID:                ids.New(),
		FirstName:         strings.TrimSpace(p.FirstName),
		LastName:          strings.TrimSpace(p.LastName),
		Email:             email,
		Level:             p.Level,
		EmailVerified:     false,
		VerificationToken: uuid.NewString(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	s.sendVerificationMail(ctx, email, acct.VerificationToken)
	return acct, nil
}

// Update mutates name and tier of an account under the administrative gates.
func (s *Service) Update(ctx context.Context, accountID string, p UpdateParams, requesterEmail string) (*Account, error) {
	requester, err := s.requireManager(ctx, requesterEmail)
	if err != nil {
		return nil, err
	}
	acct, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Level == access.Admin && requester.Level != access.Admin {
		return nil, fmt.Errorf("%w: only Admin users can modify Admin accounts", domain.ErrForbidden)
	}
	if p.Level == access.Admin && requester.Level != access.Admin {
		return nil, fmt.Errorf("%w: only Admin users can assign the Admin level", domain.ErrForbidden)
	}
	if !p.Level.Valid() {
		return nil, fmt.Errorf("%w: unknown access level", domain.ErrBadRequest)
	}

	acct.FirstName = strings.TrimSpace(p.FirstName)
	acct.LastName = strings.TrimSpace(p.LastName)
	acct.Level = p.Level
	acct.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Delete removes an account. Admin callers only; an Admin account may only be
// deleted by itself.
func (s *Service) Delete(ctx context.Context, accountID, requesterEmail string) error {
	requester, err := s.requireManager(ctx, requesterEmail)
	if err != nil {
		return err
	}
	if requester.Level != access.Admin {
		return fmt.Errorf("%w: only Admin users can delete accounts", domain.ErrForbidden)
	}
	acct, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acct.Level == access.Admin && !strings.EqualFold(acct.Email, requester.Email) {
		return fmt.Errorf("%w: Admin accounts can only be deleted by themselves", domain.ErrForbidden)
	}
	return s.store.DeleteAccount(ctx, accountID)
}

// ListAll returns every confirmed account. Manager gate applies.
func (s *Service) ListAll(ctx context.Context, requesterEmail string) ([]Account, error) {
	if _, err := s.requireManager(ctx, requesterEmail); err != nil {
		return nil, err
	}
	return s.store.ListAccounts(ctx)
}

// ListAtOrAbove returns accounts whose tier is at least level.
func (s *Service) ListAtOrAbove(ctx context.Context, level access.Level) ([]Account, error) {
	return s.store.ListAccountsAtOrAbove(ctx, level)
}

// ListVerifiedProvisionals returns provisional accounts awaiting promotion
// whose email has been verified.
func (s *Service) ListVerifiedProvisionals(ctx context.Context) ([]Provisional, error) {
	return s.store.ListVerifiedProvisionals(ctx)
}

// AccountByEmail returns the confirmed account for email.
func (s *Service) AccountByEmail(ctx context.Context, email string) (*Account, error) {
	return s.store.AccountByEmail(ctx, normalizeEmail(email))
}

// AccountLevel resolves the access tier for email. It is the directory view
// consumed by the role and approval components.
func (s *Service) AccountLevel(ctx context.Context, email string) (access.Level, error) {
	acct, err := s.store.AccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return access.ReadOnly, err
	}
	return acct.Level, nil
}

// AccountByID returns the confirmed account with the given id.
func (s *Service) AccountByID(ctx context.Context, id string) (*Account, error) {
	return s.store.AccountByID(ctx, id)
}

// UpdateLevelInternal is the trusted entry point the approval component uses
// after a tier-upgrade approval. The privilege gate was enforced when the
// approval request was approved, so none applies here.
func (s *Service) UpdateLevelInternal(ctx context.Context, accountID string, level access.Level) error {
	if !level.Valid() {
		return fmt.Errorf("%w: unknown access level", domain.ErrBadRequest)
	}
	acct, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	acct.Level = level
	acct.UpdatedAt = s.now().UTC()
	return s.store.UpdateAccount(ctx, acct)
}

// requireManager admits callers whose own tier is Support or above, or who
// hold the designated management role. The role check is a federated call; a
// timeout or transport failure denies (capability not confirmed), never
// silently grants.
func (s *Service) requireManager(ctx context.Context, requesterEmail string) (*Account, error) {
	requesterEmail = normalizeEmail(requesterEmail)
	if requesterEmail == "" {
		return nil, fmt.Errorf("%w: requester is required", domain.ErrForbidden)
	}
	requester, err := s.store.AccountByEmail(ctx, requesterEmail)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, fmt.Errorf("%w: requester account not found", domain.ErrForbidden)
		}
		return nil, err
	}
	if requester.Level.AtLeast(access.Support) {
		return requester, nil
	}
	rctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	ok, err := s.roles.UserHasRole(rctx, requesterEmail, managementRole)
	obs.ObserveFederatedCall("roles", "user_has_role", err)
	if err != nil {
		return nil, fmt.Errorf("%w: user management capability not confirmed", domain.ErrForbidden)
	}
	if !ok {
		return nil, fmt.Errorf("%w: insufficient privileges to manage users", domain.ErrForbidden)
	}
	return requester, nil
}

func (s *Service) sendVerificationMail(ctx context.Context, email, token string) {
	nctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	body := fmt.Sprintf("Please click the link to verify your email: %s?token=%s", s.verifyBaseURL, token)
	if err := s.notifier.Notify(nctx, email, "Carousel - Email Verification", body); err != nil {
		obs.Warn("verification mail delivery failed", err, map[string]any{"email": email})
	}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
