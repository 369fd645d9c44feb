package authn

import (
	"context"
	"errors"
	"testing"
	"time"

	"carousel.org/internal/domain"
)

type memStore struct {
	creds map[string]*Credential
}

func newMemStore() *memStore {
	return &memStore{creds: make(map[string]*Credential)}
}

func (m *memStore) CreateCredential(_ context.Context, cred *Credential) error {
	if _, ok := m.creds[cred.Email]; ok {
		return domain.ErrConflict
	}
	copied := *cred
	m.creds[cred.Email] = &copied
	return nil
}

func (m *memStore) CredentialByEmail(_ context.Context, email string) (*Credential, error) {
	cred, ok := m.creds[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *cred
	return &copied, nil
}

func TestAuthenticateRoundTrip(t *testing.T) {
	store := newMemStore()
	svc, err := NewService(store, []byte("test-key"), WithIssuer("test"))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	if err := svc.CreateCredential(ctx, " Alice@Example.COM ", "s3cret"); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}
	if _, ok := store.creds["alice@example.com"]; !ok {
		t.Fatal("email was not normalized on store")
	}
	if store.creds["alice@example.com"].SecretHash == "s3cret" {
		t.Fatal("secret stored in plaintext")
	}

	res, err := svc.Authenticate(ctx, "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.Email != "alice@example.com" || res.Token == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	claims, err := svc.Claims(res.Token)
	if err != nil {
		t.Fatalf("Claims: %v", err)
	}
	if claims.Subject != "alice@example.com" || claims.UserID != res.UserID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !svc.Validate(res.Token, "ALICE@example.com") {
		t.Fatal("Validate must match the issued email case-insensitively")
	}
	if svc.Validate(res.Token, "bob@example.com") {
		t.Fatal("Validate must reject a different email")
	}
}

func TestAuthenticateWrongSecret(t *testing.T) {
	store := newMemStore()
	svc, _ := NewService(store, []byte("test-key"))
	ctx := context.Background()

	if err := svc.CreateCredential(ctx, "bob@example.com", "right"); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}
	_, err := svc.Authenticate(ctx, "bob@example.com", "wrong")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	_, err = svc.Authenticate(ctx, "nobody@example.com", "whatever")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newMemStore()
	svc, _ := NewService(store, []byte("test-key"), WithAccessTTL(time.Hour), WithClock(clock))
	ctx := context.Background()

	_ = svc.CreateCredential(ctx, "carol@example.com", "pw")
	res, err := svc.Authenticate(ctx, "carol@example.com", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got := res.ExpiresAt.Sub(now); got != time.Hour {
		t.Fatalf("unexpected ttl: %v", got)
	}

	now = now.Add(2 * time.Hour)
	if _, err := svc.Claims(res.Token); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
	if svc.Validate(res.Token, "carol@example.com") {
		t.Fatal("expired token validated")
	}
}

func TestClaimsRejectsGarbage(t *testing.T) {
	svc, _ := NewService(newMemStore(), []byte("test-key"))
	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := svc.Claims(tok); !errors.Is(err, domain.ErrInvalidToken) {
			t.Fatalf("Claims(%q) = %v, want ErrInvalidToken", tok, err)
		}
	}
}
