package httpapi

import (
	"net/http"
	"time"
)

type loginRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
}

type validateTokenRequest struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

type registerCredentialRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Authn != nil, "authentication") {
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.svc.Authn.Authenticate(r.Context(), req.Email, req.Secret)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	auditEvent(r, "auth.login", map[string]any{
		"email":      res.Email,
		"expires_at": res.ExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Authn != nil, "authentication") {
		return
	}
	var req validateTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid": a.svc.Authn.Validate(req.Token, req.Email),
	})
}

func (a *API) handleRegisterCredential(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Authn != nil, "authentication") {
		return
	}
	var req registerCredentialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Authn.CreateCredential(r.Context(), req.Email, req.Secret); err != nil {
		writeDomainError(w, err)
		return
	}
	auditEvent(r, "auth.credential.created", map[string]any{"email": req.Email})
	writeJSON(w, http.StatusCreated, map[string]any{"status": "created"})
}
