// Package authn owns the credential store and the access-token lifecycle.
// Credentials never leave this package; collaborators only see issued tokens
// and validation verdicts.
package authn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"carousel.org/internal/domain"
	"carousel.org/internal/ids"
)

const defaultAccessTTL = 24 * time.Hour

// Claims are the verified contents of an access token.
type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service verifies secrets and issues signed, time-limited access tokens.
type Service struct {
	store      CredentialStore
	signingKey []byte
	issuer     string
	accessTTL  time.Duration
	now        func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
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

// NewService constructs the authentication service. The signing key is
// process-wide startup configuration and never changes afterwards.
func NewService(store CredentialStore, signingKey []byte, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("authn: credential store is required")
	}
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("authn: signing key is required")
	}
	s := &Service{
		store:      store,
		signingKey: signingKey,
		issuer:     "carousel",
		accessTTL:  defaultAccessTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateCredential stores a one-way hash of secret for email. The plaintext
// secret is never persisted.
func (s *Service) CreateCredential(ctx context.Context, email, secret string) error {
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", domain.ErrBadRequest)
	}
	if secret == "" {
		return fmt.Errorf("%w: secret is required", domain.ErrBadRequest)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash secret: %w", err)
	}
	now := s.now().UTC()
	cred := &Credential{
		ID:         ids.New(),
		Email:      email,
		SecretHash: string(hash),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return s.store.CreateCredential(ctx, cred)
}

// Authenticate verifies the secret against the stored hash and issues a
// signed access token.
func (s *Service) Authenticate(ctx context.Context, email, secret string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || secret == "" {
		return LoginResult{}, fmt.Errorf("%w: email and secret are required", domain.ErrBadRequest)
	}
	cred, err := s.store.CredentialByEmail(ctx, email)
	if err != nil {
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.SecretHash), []byte(secret)); err != nil {
		return LoginResult{}, fmt.Errorf("%w: secret mismatch", domain.ErrUnauthorized)
	}
	token, expiresAt, err := s.issueToken(cred.Email, cred.ID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{
		Token:     token,
		UserID:    cred.ID,
		Email:     cred.Email,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate reports whether token carries a valid signature, is unexpired and
// was issued for expectedEmail. Any parsing or signature failure yields false.
func (s *Service) Validate(token, expectedEmail string) bool {
	claims, err := s.Claims(token)
	if err != nil {
		return false
	}
	return claims.Subject == normalizeEmail(expectedEmail)
}

// Claims parses and verifies an access token.
func (s *Service) Claims(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, domain.ErrInvalidToken
		}
		return s.signingKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, domain.ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ExpiresAt == nil {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) issueToken(email, userID string) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.accessTTL)
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        ids.New(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
