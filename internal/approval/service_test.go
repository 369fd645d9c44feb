package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"carousel.org/internal/access"
	"carousel.org/internal/domain"
	"carousel.org/internal/notify"
)

type memStore struct {
	requests map[string]*Request
}

func newMemStore() *memStore {
	return &memStore{requests: make(map[string]*Request)}
}

func (m *memStore) CreateRequest(_ context.Context, req *Request) error {
	if req.Type == TypeTierUpgrade {
		for _, r := range m.requests {
			if !r.Approved && r.TargetAccountID == req.TargetAccountID {
				return domain.ErrConflict
			}
		}
	}
	copied := *req
	m.requests[req.ID] = &copied
	return nil
}

func (m *memStore) RequestByID(_ context.Context, id string) (*Request, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (m *memStore) ListPendingRequests(_ context.Context) ([]Request, error) {
	var out []Request
	for _, r := range m.requests {
		if !r.Approved {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) MarkApproved(_ context.Context, id, approvedBy string, at time.Time) error {
	r, ok := m.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Approved {
		return domain.ErrConflict
	}
	r.Approved = true
	r.ApprovedBy = approvedBy
	r.ApprovedAt = &at
	return nil
}

type fakeIdentity struct {
	levels     map[string]access.Level
	levelErr   error
	promoted   []string
	promoteErr error
	upgraded   map[string]access.Level
	upgradeErr error
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		levels:   make(map[string]access.Level),
		upgraded: make(map[string]access.Level),
	}
}

func (f *fakeIdentity) AccountLevel(_ context.Context, email string) (access.Level, error) {
	if f.levelErr != nil {
		return 0, f.levelErr
	}
	lvl, ok := f.levels[email]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return lvl, nil
}

func (f *fakeIdentity) Promote(_ context.Context, provisionalID string) error {
	if f.promoteErr != nil {
		return f.promoteErr
	}
	f.promoted = append(f.promoted, provisionalID)
	return nil
}

func (f *fakeIdentity) UpdateLevelInternal(_ context.Context, accountID string, level access.Level) error {
	if f.upgradeErr != nil {
		return f.upgradeErr
	}
	f.upgraded[accountID] = level
	return nil
}

func newTestService(t *testing.T, store *memStore, id *fakeIdentity) *Service {
	t.Helper()
	svc, err := NewService(store, id, notify.LogNotifier{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(t, newMemStore(), newFakeIdentity())
	ctx := context.Background()

	cases := []CreateParams{
		{Type: "Unknown", Email: "a@b.test", RequestedLevel: access.Support},
		{Type: TypeNewAccount, Email: "", SubjectID: "p1", RequestedLevel: access.Support},
		{Type: TypeNewAccount, Email: "a@b.test", RequestedLevel: access.Support},
		{Type: TypeTierUpgrade, Email: "a@b.test", RequestedLevel: access.Support},
		{Type: TypeNewAccount, Email: "a@b.test", SubjectID: "p1", RequestedLevel: access.Level(42)},
	}
	for i, p := range cases {
		if _, err := svc.Create(ctx, p); !errors.Is(err, domain.ErrBadRequest) {
			t.Fatalf("case %d: expected ErrBadRequest, got %v", i, err)
		}
	}
}

func TestCreateTierUpgradeSinglePending(t *testing.T) {
	svc := newTestService(t, newMemStore(), newFakeIdentity())
	ctx := context.Background()

	p := CreateParams{Type: TypeTierUpgrade, TargetAccountID: "acct-1", Email: "u@b.test", RequestedLevel: access.Admin}
	if _, err := svc.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(ctx, p); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for second pending upgrade, got %v", err)
	}
}

func TestApproveRequiresSufficientTier(t *testing.T) {
	store := newMemStore()
	id := newFakeIdentity()
	id.levels["support@shop.test"] = access.Support
	svc := newTestService(t, store, id)
	ctx := context.Background()

	req, err := svc.Create(ctx, CreateParams{
		Type: TypeTierUpgrade, TargetAccountID: "acct-1", Email: "u@b.test", RequestedLevel: access.Admin,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Approve(ctx, req.ID, "support@shop.test"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for under-tier approver, got %v", err)
	}
	if len(id.upgraded) != 0 {
		t.Fatal("denied approval must not dispatch")
	}
	got, _ := store.RequestByID(ctx, req.ID)
	if got.Approved {
		t.Fatal("denied approval must leave the request pending")
	}
}

func TestApproveDeniesWhenTierUnresolvable(t *testing.T) {
	store := newMemStore()
	id := newFakeIdentity()
	id.levelErr = errors.New("identity down")
	svc := newTestService(t, store, id)
	ctx := context.Background()

	req, _ := svc.Create(ctx, CreateParams{
		Type: TypeNewAccount, SubjectID: "prov-1", Email: "u@b.test", RequestedLevel: access.Support,
	})
	if _, err := svc.Approve(ctx, req.ID, "admin@shop.test"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestApproveNewAccount(t *testing.T) {
	store := newMemStore()
	id := newFakeIdentity()
	id.levels["admin@shop.test"] = access.Admin
	svc := newTestService(t, store, id)
	ctx := context.Background()

	req, _ := svc.Create(ctx, CreateParams{
		Type: TypeNewAccount, SubjectID: "prov-1", Email: "u@b.test", RequestedLevel: access.Support,
	})
	settled, err := svc.Approve(ctx, req.ID, "Admin@Shop.Test")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !settled.Approved || settled.ApprovedBy != "admin@shop.test" || settled.ApprovedAt == nil {
		t.Fatalf("unexpected settled request: %+v", settled)
	}
	if len(id.promoted) != 1 || id.promoted[0] != "prov-1" {
		t.Fatalf("promote calls: %v", id.promoted)
	}

	if _, err := svc.Approve(ctx, req.ID, "admin@shop.test"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict on second approval, got %v", err)
	}
}

func TestApproveNewAccountToleratesAlreadyPromoted(t *testing.T) {
	store := newMemStore()
	id := newFakeIdentity()
	id.levels["admin@shop.test"] = access.Admin
	id.promoteErr = domain.ErrNotFound
	svc := newTestService(t, store, id)
	ctx := context.Background()

	req, _ := svc.Create(ctx, CreateParams{
		Type: TypeNewAccount, SubjectID: "prov-1", Email: "u@b.test", RequestedLevel: access.Support,
	})
	if _, err := svc.Approve(ctx, req.ID, "admin@shop.test"); err != nil {
		t.Fatalf("a vanished provisional must not fail the approval: %v", err)
	}
}

func TestApproveTierUpgrade(t *testing.T) {
	store := newMemStore()
	id := newFakeIdentity()
	id.levels["admin@shop.test"] = access.Admin
	svc := newTestService(t, store, id)
	ctx := context.Background()

	req, _ := svc.Create(ctx, CreateParams{
		Type: TypeTierUpgrade, TargetAccountID: "acct-1", Email: "u@b.test", RequestedLevel: access.Admin,
	})
	if _, err := svc.Approve(ctx, req.ID, "admin@shop.test"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if id.upgraded["acct-1"] != access.Admin {
		t.Fatalf("upgrade not dispatched: %v", id.upgraded)
	}
}

func TestApproveSettlesBeforeDispatchFailure(t *testing.T) {
	store := newMemStore()
	id := newFakeIdentity()
	id.levels["admin@shop.test"] = access.Admin
	id.upgradeErr = errors.New("identity down")
	svc := newTestService(t, store, id)
	ctx := context.Background()

	req, _ := svc.Create(ctx, CreateParams{
		Type: TypeTierUpgrade, TargetAccountID: "acct-1", Email: "u@b.test", RequestedLevel: access.Admin,
	})
	settled, err := svc.Approve(ctx, req.ID, "admin@shop.test")
	if err == nil {
		t.Fatal("expected dispatch error to surface")
	}
	if settled == nil || !settled.Approved {
		t.Fatalf("request must be settled even when dispatch fails: %+v", settled)
	}
	stored, _ := store.RequestByID(ctx, req.ID)
	if !stored.Approved {
		t.Fatal("settlement must be persisted before dispatch")
	}
	// A retry cannot approve twice.
	if _, err := svc.Approve(ctx, req.ID, "admin@shop.test"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestListPending(t *testing.T) {
	store := newMemStore()
	id := newFakeIdentity()
	id.levels["admin@shop.test"] = access.Admin
	svc := newTestService(t, store, id)
	ctx := context.Background()

	a, _ := svc.Create(ctx, CreateParams{Type: TypeNewAccount, SubjectID: "p1", Email: "a@b.test", RequestedLevel: access.Support})
	b, _ := svc.Create(ctx, CreateParams{Type: TypeNewAccount, SubjectID: "p2", Email: "c@b.test", RequestedLevel: access.Support})
	if _, err := svc.Approve(ctx, a.ID, "admin@shop.test"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	pending, err := svc.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
}
