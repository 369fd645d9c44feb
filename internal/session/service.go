// Package session issues short-lived elevated session tokens bound to a
// previously validated access token. It signs with its own key, independent of
// the authentication component's, and uses a much shorter lifetime so that
// administrative actions are scoped to a freshly authenticated window.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"carousel.org/internal/domain"
)

const (
	defaultSessionTTL = 30 * time.Minute
	tokenTypeSession  = "session"
)

// Claims are the verified contents of a session token. AccessTokenHash binds
// the session to the access token that produced it without storing the access
// token itself.
type Claims struct {
	SessionID       string `json:"session_id"`
	UserID          string `json:"user_id"`
	TokenType       string `json:"token_type"`
	AccessTokenHash string `json:"access_token_hash"`
	jwt.RegisteredClaims
}

// Service signs and verifies session tokens.
type Service struct {
	signingKey []byte
	sessionTTL time.Duration
	now        func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithSessionTTL configures session token lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
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

// NewService constructs the session service with its own signing key.
func NewService(signingKey []byte, opts ...Option) (*Service, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("session: signing key is required")
	}
	s := &Service{
		signingKey: signingKey,
		sessionTTL: defaultSessionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a fresh session token for email, embedding a new session
// identifier and a hash of the presented access token.
func (s *Service) Issue(email, userID, accessToken string) (string, time.Time, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || accessToken == "" {
		return "", time.Time{}, fmt.Errorf("%w: email and access token are required", domain.ErrBadRequest)
	}
	sum := sha256.Sum256([]byte(accessToken))
	return s.sign(Claims{
		SessionID:       uuid.NewString(),
		UserID:          userID,
		TokenType:       tokenTypeSession,
		AccessTokenHash: hex.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: email,
		},
	})
}

// Parse verifies a session token and returns its claims.
func (s *Service) Parse(token string) (*Claims, error) {
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
	if !ok || !parsed.Valid || claims.TokenType != tokenTypeSession {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

// IsExpired reports whether the token is past its expiry. Any parse failure
// counts as expired (fail closed).
func (s *Service) IsExpired(token string) bool {
	claims, err := s.Parse(token)
	if err != nil {
		return true
	}
	return claims.ExpiresAt == nil || s.now().After(claims.ExpiresAt.Time)
}

// Extend re-signs a fresh token carrying the same claims with a renewed
// expiry. The input must still be valid.
func (s *Service) Extend(token string) (string, time.Time, error) {
	claims, err := s.Parse(token)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.sign(*claims)
}

func (s *Service) sign(claims Claims) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.sessionTTL)
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}
