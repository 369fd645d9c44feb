package httpapi

import (
	"net/http"
)

type roleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type roleAssignmentRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Roles != nil, "roles") {
		return
	}
	if _, ok := principal(w, r); !ok {
		return
	}
	defs, err := a.svc.Roles.ListRoles(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Roles != nil, "roles") {
		return
	}
	email, ok := principal(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	def, err := a.svc.Roles.CreateRole(r.Context(), req.Name, req.Description, email)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	auditEvent(r, "roles.created", map[string]any{"name": def.Name})
	w.Header().Set("Location", "/v1/roles/"+def.Name)
	writeJSON(w, http.StatusCreated, def)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Roles != nil, "roles") {
		return
	}
	email, ok := principal(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	def, err := a.svc.Roles.UpdateRole(r.Context(), r.PathValue("name"), req.Description, email)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	auditEvent(r, "roles.updated", map[string]any{"name": def.Name})
	writeJSON(w, http.StatusOK, def)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Roles != nil, "roles") {
		return
	}
	email, ok := principal(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")
	if err := a.svc.Roles.DeleteRole(r.Context(), name, email); err != nil {
		writeDomainError(w, err)
		return
	}
	auditEvent(r, "roles.deleted", map[string]any{"name": name})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleEffectiveRoles(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Roles != nil, "roles") {
		return
	}
	if _, ok := principal(w, r); !ok {
		return
	}
	resolved, err := a.svc.Roles.ResolveEffectiveRoles(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": resolved})
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Roles != nil, "roles") {
		return
	}
	email, ok := principal(w, r)
	if !ok {
		return
	}
	var req roleAssignmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Roles.AssignRole(r.Context(), req.Email, req.Role, email); err != nil {
		writeDomainError(w, err)
		return
	}
	auditEvent(r, "roles.assigned", map[string]any{"email": req.Email, "role": req.Role})
	writeJSON(w, http.StatusOK, map[string]any{"status": "assigned"})
}

func (a *API) handleUnassignRole(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Roles != nil, "roles") {
		return
	}
	email, ok := principal(w, r)
	if !ok {
		return
	}
	var req roleAssignmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Roles.UnassignRole(r.Context(), req.Email, req.Role, email); err != nil {
		writeDomainError(w, err)
		return
	}
	auditEvent(r, "roles.unassigned", map[string]any{"email": req.Email, "role": req.Role})
	writeJSON(w, http.StatusOK, map[string]any{"status": "unassigned"})
}

// --- trusted component-network endpoints ---

func (a *API) handleAssignDefaultRole(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Roles != nil, "roles") {
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Roles.AssignDefaultRole(r.Context(), req.Email); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "assigned"})
}

func (a *API) handleHasRole(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Roles != nil, "roles") {
		return
	}
	q := r.URL.Query()
	has, err := a.svc.Roles.UserHasRole(r.Context(), q.Get("email"), q.Get("role"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"has_role": has})
}
