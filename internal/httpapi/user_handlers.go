package httpapi

import (
	"net/http"
	"strings"

	"carousel.org/internal/access"
	"carousel.org/internal/approval"
	"carousel.org/internal/identity"
	"carousel.org/internal/obs"
)

type registerRequest struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	Secret         string `json:"secret"`
	RequestedLevel string `json:"requested_access_level"`
}

type createUserRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Level     string `json:"access_level"`
}

type updateUserRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Level     string `json:"access_level"`
}

// handleRegister files a provisional registration. Elevated tiers additionally
// enqueue an approval request; the caller learns only whether sign-off is
// pending.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Identity != nil, "identity") {
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params := identity.RegisterParams{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Secret:    req.Secret,
	}
	var level access.Level
	if strings.TrimSpace(req.RequestedLevel) != "" {
		parsed, err := access.Parse(req.RequestedLevel)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		level = parsed
		params.RequestedLevel = &level
	}
	res, err := a.svc.Identity.Register(r.Context(), params)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if res.RequiresApproval && a.svc.Approvals != nil {
		_, err := a.svc.Approvals.Create(r.Context(), approval.CreateParams{
			Type:           approval.TypeNewAccount,
			SubjectID:      res.ProvisionalID,
			Email:          res.Email,
			FirstName:      req.FirstName,
			LastName:       req.LastName,
			RequestedLevel: level,
		})
		if err != nil {
			// The registration stands; the approval request can be refiled.
			obs.Warn("approval request creation failed", err, map[string]any{"email": res.Email})
		}
	}

	auditEvent(r, "identity.registered", map[string]any{
		"email":             res.Email,
		"requires_approval": res.RequiresApproval,
	})
	writeJSON(w, http.StatusCreated, res)
}

// handleVerifyEmail confirms ownership of the address. Registrations at the
// lowest tier promote immediately; elevated ones wait for approval.
func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Identity != nil, "identity") {
		return
	}
	prov, err := a.svc.Identity.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	auditEvent(r, "identity.email_verified", map[string]any{"email": prov.Email})

	if !prov.RequestedLevel.RequiresApproval() {
		if err := a.svc.Identity.Promote(r.Context(), prov.ID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "verified", "account_created": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "verified", "account_created": false})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Identity != nil, "identity") {
		return
	}
	email, ok := principal(w, r)
	if !ok {
		return
	}
	if min := strings.TrimSpace(r.URL.Query().Get("min_level")); min != "" {
		level, err := access.Parse(min)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		accounts, err := a.svc.Identity.ListAtOrAbove(r.Context(), level)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, accounts)
		return
	}
	accounts, err := a.svc.Identity.ListAll(r.Context(), email)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (a *API) handleListPendingUsers(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Identity != nil, "identity") {
		return
	}
	if _, ok := principal(w, r); !ok {
		return
	}
	pending, err := a.svc.Identity.ListVerifiedProvisionals(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Identity != nil, "identity") {
		return
	}
	email, ok := principal(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	level, err := access.Parse(req.Level)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.svc.Identity.CreateDirect(r.Context(), identity.DirectCreateParams{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Level:     level,
	}, email)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	auditEvent(r, "identity.account.created", map[string]any{
		"email": acct.Email,
		"level": acct.Level.String(),
	})
	w.Header().Set("Location", "/v1/users/"+acct.ID)
	writeJSON(w, http.StatusCreated, acct)
}

func (a *API) handleUserByEmail(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Identity != nil, "identity") {
		return
	}
	if _, ok := principal(w, r); !ok {
		return
	}
	acct, err := a.svc.Identity.AccountByEmail(r.Context(), r.PathValue("email"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) handleUserByID(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Identity != nil, "identity") {
		return
	}
	if _, ok := principal(w, r); !ok {
		return
	}
	acct, err := a.svc.Identity.AccountByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Identity != nil, "identity") {
		return
	}
	email, ok := principal(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	level, err := access.Parse(req.Level)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.svc.Identity.Update(r.Context(), r.PathValue("id"), identity.UpdateParams{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Level:     level,
	}, email)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	auditEvent(r, "identity.account.updated", map[string]any{
		"account_id": acct.ID,
		"level":      acct.Level.String(),
	})
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Identity != nil, "identity") {
		return
	}
	email, ok := principal(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := a.svc.Identity.Delete(r.Context(), id, email); err != nil {
		writeDomainError(w, err)
		return
	}
	auditEvent(r, "identity.account.deleted", map[string]any{"account_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// --- trusted component-network endpoints ---

func (a *API) handleAccountLevel(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Identity != nil, "identity") {
		return
	}
	level, err := a.svc.Identity.AccountLevel(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_level": level})
}

func (a *API) handleUpdateLevel(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Identity != nil, "identity") {
		return
	}
	var req struct {
		AccountID string       `json:"account_id"`
		Level     access.Level `json:"access_level"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Identity.UpdateLevelInternal(r.Context(), req.AccountID, req.Level); err != nil {
		writeDomainError(w, err)
		return
	}
	auditEvent(r, "identity.level.updated", map[string]any{
		"account_id": req.AccountID,
		"level":      req.Level.String(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}

func (a *API) handlePromote(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Identity != nil, "identity") {
		return
	}
	var req struct {
		ProvisionalID string `json:"provisional_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Identity.Promote(r.Context(), req.ProvisionalID); err != nil {
		writeDomainError(w, err)
		return
	}
	auditEvent(r, "identity.promoted", map[string]any{"provisional_id": req.ProvisionalID})
	writeJSON(w, http.StatusOK, map[string]any{"status": "promoted"})
}
