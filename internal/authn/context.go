package authn

import (
	"context"
	"strings"
)

type ctxKey string

const (
	emailKey  ctxKey = "authn_email"
	userIDKey ctxKey = "authn_user_id"
)

// ContextWithPrincipal stores the authenticated subject in the context.
func ContextWithPrincipal(ctx context.Context, email, userID string) context.Context {
	ctx = context.WithValue(ctx, emailKey, normalizeEmail(email))
	return context.WithValue(ctx, userIDKey, strings.TrimSpace(userID))
}

// EmailFromContext extracts the authenticated subject email.
func EmailFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(emailKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// UserIDFromContext extracts the authenticated user identifier.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
