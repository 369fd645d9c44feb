package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"carousel.org/internal/access"
	"carousel.org/internal/domain"
	"carousel.org/internal/notify"
)

type memStore struct {
	provisionals map[string]*Provisional
	accounts     map[string]*Account
}

func newMemStore() *memStore {
	return &memStore{
		provisionals: make(map[string]*Provisional),
		accounts:     make(map[string]*Account),
	}
}

func (m *memStore) emailTaken(email string) bool {
	for _, p := range m.provisionals {
		if strings.EqualFold(p.Email, email) {
			return true
		}
	}
	for _, a := range m.accounts {
		if strings.EqualFold(a.Email, email) {
			return true
		}
	}
	return false
}

func (m *memStore) CreateProvisional(_ context.Context, p *Provisional) error {
	if m.emailTaken(p.Email) {
		return domain.ErrConflict
	}
	copied := *p
	m.provisionals[p.ID] = &copied
	return nil
}

func (m *memStore) ProvisionalByID(_ context.Context, id string) (*Provisional, error) {
	p, ok := m.provisionals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *memStore) ProvisionalByToken(_ context.Context, token string) (*Provisional, error) {
	for _, p := range m.provisionals {
		if p.VerificationToken == token {
			copied := *p
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) ListVerifiedProvisionals(_ context.Context) ([]Provisional, error) {
	var out []Provisional
	for _, p := range m.provisionals {
		if p.EmailVerified {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) SetProvisionalVerified(_ context.Context, id string, at time.Time) error {
	p, ok := m.provisionals[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.EmailVerified = true
	p.UpdatedAt = at
	return nil
}

func (m *memStore) PromoteProvisional(_ context.Context, acct *Account, provisionalID string) error {
	if _, ok := m.provisionals[provisionalID]; !ok {
		return domain.ErrNotFound
	}
	copied := *acct
	m.accounts[acct.ID] = &copied
	delete(m.provisionals, provisionalID)
	return nil
}

func (m *memStore) CreateAccount(_ context.Context, acct *Account) error {
	if m.emailTaken(acct.Email) {
		return domain.ErrConflict
	}
	copied := *acct
	m.accounts[acct.ID] = &copied
	return nil
}

func (m *memStore) AccountByID(_ context.Context, id string) (*Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *memStore) AccountByEmail(_ context.Context, email string) (*Account, error) {
	for _, a := range m.accounts {
		if strings.EqualFold(a.Email, email) {
			copied := *a
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) ListAccounts(_ context.Context) ([]Account, error) {
	var out []Account
	for _, a := range m.accounts {
		out = append(out, *a)
	}
	return out, nil
}

func (m *memStore) ListAccountsAtOrAbove(_ context.Context, level access.Level) ([]Account, error) {
	var out []Account
	for _, a := range m.accounts {
		if a.Level.AtLeast(level) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) UpdateAccount(_ context.Context, acct *Account) error {
	if _, ok := m.accounts[acct.ID]; !ok {
		return domain.ErrNotFound
	}
	copied := *acct
	m.accounts[acct.ID] = &copied
	return nil
}

func (m *memStore) DeleteAccount(_ context.Context, id string) error {
	if _, ok := m.accounts[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

type fakeRegistrar struct {
	calls []string
	err   error
}

func (f *fakeRegistrar) RegisterCredential(_ context.Context, email, _ string) error {
	f.calls = append(f.calls, email)
	return f.err
}

type fakeRoleDir struct {
	defaults []string
	hasRole  bool
	err      error
}

func (f *fakeRoleDir) AssignDefaultRole(_ context.Context, email string) error {
	if f.err != nil {
		return f.err
	}
	f.defaults = append(f.defaults, email)
	return nil
}

func (f *fakeRoleDir) UserHasRole(_ context.Context, _, _ string) (bool, error) {
	return f.hasRole, f.err
}

func newTestService(t *testing.T, store *memStore, reg *fakeRegistrar, dir *fakeRoleDir) *Service {
	t.Helper()
	svc, err := NewService(store, reg, dir, notify.LogNotifier{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func seedAccount(store *memStore, id, email string, level access.Level) {
	store.accounts[id] = &Account{ID: id, Email: email, Level: level, EmailVerified: true}
}

func TestRegisterDefaultsToLowestTier(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeRegistrar{}, &fakeRoleDir{})
	ctx := context.Background()

	res, err := svc.Register(ctx, RegisterParams{
		FirstName: "Gem", LastName: "Smith", Email: "Gem@Shop.Test", Secret: "pw",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.RequiresApproval {
		t.Fatal("lowest tier must not require approval")
	}
	prov := store.provisionals[res.ProvisionalID]
	if prov == nil {
		t.Fatal("provisional not stored")
	}
	if prov.Email != "gem@shop.test" || prov.RequestedLevel != access.ReadOnly {
		t.Fatalf("unexpected provisional: %+v", prov)
	}
	if prov.VerificationToken == "" || prov.EmailVerified {
		t.Fatalf("verification state wrong: %+v", prov)
	}
}

func TestRegisterElevatedRequiresApproval(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeRegistrar{}, &fakeRoleDir{})
	level := access.Support

	res, err := svc.Register(context.Background(), RegisterParams{
		FirstName: "Sam", LastName: "Support", Email: "sam@shop.test", Secret: "pw",
		RequestedLevel: &level,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !res.RequiresApproval {
		t.Fatal("elevated tier must require approval")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeRegistrar{}, &fakeRoleDir{})
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterParams{FirstName: "A", LastName: "B", Email: "dup@shop.test", Secret: "pw"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterParams{FirstName: "C", LastName: "D", Email: "DUP@shop.test", Secret: "pw"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestVerifyEmail(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeRegistrar{}, &fakeRoleDir{})
	ctx := context.Background()

	res, _ := svc.Register(ctx, RegisterParams{FirstName: "A", LastName: "B", Email: "v@shop.test", Secret: "pw"})
	token := store.provisionals[res.ProvisionalID].VerificationToken

	prov, err := svc.VerifyEmail(ctx, token)
	if err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if !prov.EmailVerified || prov.ID != res.ProvisionalID {
		t.Fatalf("unexpected provisional: %+v", prov)
	}

	// The token stays usable; a second presentation is harmless.
	if _, err := svc.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("repeat VerifyEmail: %v", err)
	}
	if _, err := svc.VerifyEmail(ctx, "bogus"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestPromoteRequiresVerifiedEmail(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeRegistrar{}, &fakeRoleDir{})
	ctx := context.Background()

	res, _ := svc.Register(ctx, RegisterParams{FirstName: "A", LastName: "B", Email: "p@shop.test", Secret: "pw"})
	if err := svc.Promote(ctx, res.ProvisionalID); !errors.Is(err, domain.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
}

func TestPromoteCreatesAccountAndCredential(t *testing.T) {
	store := newMemStore()
	reg := &fakeRegistrar{}
	dir := &fakeRoleDir{}
	svc := newTestService(t, store, reg, dir)
	ctx := context.Background()

	level := access.Support
	res, _ := svc.Register(ctx, RegisterParams{FirstName: "A", LastName: "B", Email: "p2@shop.test", Secret: "pw", RequestedLevel: &level})
	token := store.provisionals[res.ProvisionalID].VerificationToken
	if _, err := svc.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	if err := svc.Promote(ctx, res.ProvisionalID); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if len(reg.calls) != 1 || reg.calls[0] != "p2@shop.test" {
		t.Fatalf("credential registration calls: %v", reg.calls)
	}
	if len(dir.defaults) != 1 {
		t.Fatalf("default role calls: %v", dir.defaults)
	}
	acct, err := store.AccountByEmail(ctx, "p2@shop.test")
	if err != nil {
		t.Fatalf("account missing: %v", err)
	}
	if acct.Level != access.Support || !acct.EmailVerified {
		t.Fatalf("unexpected account: %+v", acct)
	}
	if _, ok := store.provisionals[res.ProvisionalID]; ok {
		t.Fatal("provisional must be removed after promotion")
	}

	// A second promote sees the record gone and reports not found.
	if err := svc.Promote(ctx, res.ProvisionalID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeat, got %v", err)
	}
}

func TestPromoteToleratesCredentialConflict(t *testing.T) {
	store := newMemStore()
	reg := &fakeRegistrar{err: domain.ErrConflict}
	svc := newTestService(t, store, reg, &fakeRoleDir{})
	ctx := context.Background()

	res, _ := svc.Register(ctx, RegisterParams{FirstName: "A", LastName: "B", Email: "p3@shop.test", Secret: "pw"})
	token := store.provisionals[res.ProvisionalID].VerificationToken
	_, _ = svc.VerifyEmail(ctx, token)

	if err := svc.Promote(ctx, res.ProvisionalID); err != nil {
		t.Fatalf("conflict on credential must not block promotion: %v", err)
	}
}

func TestPromoteSurvivesRoleAssignmentFailure(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeRegistrar{}, &fakeRoleDir{err: errors.New("roles down")})
	ctx := context.Background()

	res, _ := svc.Register(ctx, RegisterParams{FirstName: "A", LastName: "B", Email: "p4@shop.test", Secret: "pw"})
	token := store.provisionals[res.ProvisionalID].VerificationToken
	_, _ = svc.VerifyEmail(ctx, token)

	if err := svc.Promote(ctx, res.ProvisionalID); err != nil {
		t.Fatalf("role assignment failure must not block promotion: %v", err)
	}
	if _, err := store.AccountByEmail(ctx, "p4@shop.test"); err != nil {
		t.Fatalf("account missing: %v", err)
	}
}

func TestCreateDirectGates(t *testing.T) {
	store := newMemStore()
	dir := &fakeRoleDir{}
	svc := newTestService(t, store, &fakeRegistrar{}, dir)
	ctx := context.Background()

	seedAccount(store, "adm", "admin@shop.test", access.Admin)
	seedAccount(store, "sup", "support@shop.test", access.Support)
	seedAccount(store, "ro", "viewer@shop.test", access.ReadOnly)

	if _, err := svc.CreateDirect(ctx, DirectCreateParams{FirstName: "N", LastName: "U", Email: "n1@shop.test", Level: access.ReadOnly}, "viewer@shop.test"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for viewer, got %v", err)
	}
	if _, err := svc.CreateDirect(ctx, DirectCreateParams{FirstName: "N", LastName: "U", Email: "n1@shop.test", Level: access.ReadOnly}, "support@shop.test"); err != nil {
		t.Fatalf("support should create ordinary accounts: %v", err)
	}
	if _, err := svc.CreateDirect(ctx, DirectCreateParams{FirstName: "N", LastName: "U", Email: "n2@shop.test", Level: access.Admin}, "support@shop.test"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("only admin may create admin, got %v", err)
	}
	acct, err := svc.CreateDirect(ctx, DirectCreateParams{FirstName: "N", LastName: "U", Email: "n2@shop.test", Level: access.Admin}, "admin@shop.test")
	if err != nil {
		t.Fatalf("admin create admin: %v", err)
	}
	if acct.EmailVerified || acct.VerificationToken == "" {
		t.Fatalf("direct accounts must start unverified with a token: %+v", acct)
	}
}

func TestCreateDirectViaManagementRole(t *testing.T) {
	store := newMemStore()
	dir := &fakeRoleDir{hasRole: true}
	svc := newTestService(t, store, &fakeRegistrar{}, dir)
	ctx := context.Background()

	seedAccount(store, "ro", "helper@shop.test", access.ReadOnly)
	if _, err := svc.CreateDirect(ctx, DirectCreateParams{FirstName: "N", LastName: "U", Email: "n3@shop.test", Level: access.ReadOnly}, "helper@shop.test"); err != nil {
		t.Fatalf("management role should grant the gate: %v", err)
	}

	// An unreachable role directory denies instead of guessing.
	dir.err = errors.New("roles down")
	if _, err := svc.CreateDirect(ctx, DirectCreateParams{FirstName: "N", LastName: "U", Email: "n4@shop.test", Level: access.ReadOnly}, "helper@shop.test"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden on directory failure, got %v", err)
	}
}

func TestUpdateAdminRules(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeRegistrar{}, &fakeRoleDir{})
	ctx := context.Background()

	seedAccount(store, "adm", "admin@shop.test", access.Admin)
	seedAccount(store, "sup", "support@shop.test", access.Support)
	seedAccount(store, "usr", "user@shop.test", access.ReadOnly)

	// Support cannot touch an admin account or grant the admin tier.
	if _, err := svc.Update(ctx, "adm", UpdateParams{FirstName: "A", LastName: "B", Level: access.Admin}, "support@shop.test"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Update(ctx, "usr", UpdateParams{FirstName: "A", LastName: "B", Level: access.Admin}, "support@shop.test"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden granting admin, got %v", err)
	}
	acct, err := svc.Update(ctx, "usr", UpdateParams{FirstName: "New", LastName: "Name", Level: access.Support}, "support@shop.test")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if acct.Level != access.Support || acct.FirstName != "New" {
		t.Fatalf("unexpected account: %+v", acct)
	}
}

func TestDeleteRules(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeRegistrar{}, &fakeRoleDir{})
	ctx := context.Background()

	seedAccount(store, "adm1", "admin1@shop.test", access.Admin)
	seedAccount(store, "adm2", "admin2@shop.test", access.Admin)
	seedAccount(store, "sup", "support@shop.test", access.Support)
	seedAccount(store, "usr", "user@shop.test", access.ReadOnly)

	if err := svc.Delete(ctx, "usr", "support@shop.test"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("delete requires admin, got %v", err)
	}
	if err := svc.Delete(ctx, "adm2", "admin1@shop.test"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("admin may not delete another admin, got %v", err)
	}
	if err := svc.Delete(ctx, "adm1", "admin1@shop.test"); err != nil {
		t.Fatalf("self-delete: %v", err)
	}
	if err := svc.Delete(ctx, "usr", "admin2@shop.test"); err != nil {
		t.Fatalf("admin delete ordinary: %v", err)
	}
}

func TestUpdateLevelInternalSkipsGates(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeRegistrar{}, &fakeRoleDir{})
	ctx := context.Background()

	seedAccount(store, "usr", "user@shop.test", access.ReadOnly)
	if err := svc.UpdateLevelInternal(ctx, "usr", access.Admin); err != nil {
		t.Fatalf("UpdateLevelInternal: %v", err)
	}
	acct, _ := store.AccountByID(ctx, "usr")
	if acct.Level != access.Admin {
		t.Fatalf("level not applied: %+v", acct)
	}
}
