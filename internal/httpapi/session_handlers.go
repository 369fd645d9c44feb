package httpapi

import (
	"net/http"
	"time"

	"carousel.org/internal/authn"
)

type sessionRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleSessionIssue exchanges a valid access token (the bearer credential)
// for a short-lived elevated session token.
func (a *API) handleSessionIssue(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Sessions != nil, "session") {
		return
	}
	email, ok := principal(w, r)
	if !ok {
		return
	}
	userID, _ := authn.UserIDFromContext(r.Context())
	accessToken, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	token, expiresAt, err := a.svc.Sessions.Issue(email, userID, accessToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	auditEvent(r, "session.issued", map[string]any{
		"email":      email,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, ExpiresAt: expiresAt})
}

func (a *API) handleSessionValidate(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Sessions != nil, "session") {
		return
	}
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"expired": a.svc.Sessions.IsExpired(req.Token),
	})
}

func (a *API) handleSessionExtend(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Sessions != nil, "session") {
		return
	}
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, expiresAt, err := a.svc.Sessions.Extend(req.Token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, ExpiresAt: expiresAt})
}
