// Package httpapi is the HTTP boundary. Handlers decode, delegate to the
// component services and translate domain errors to statuses exactly once.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"carousel.org/internal/approval"
	"carousel.org/internal/audit"
	"carousel.org/internal/authn"
	"carousel.org/internal/domain"
	"carousel.org/internal/identity"
	"carousel.org/internal/obs"
	"carousel.org/internal/roles"
	"carousel.org/internal/session"
)

// ReadyProbe checks dependencies before the instance accepts traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services carries the component services one process hosts. Nil entries
// disable the corresponding routes, which is how a split deployment runs one
// component per process.
type Services struct {
	Authn     *authn.Service
	Sessions  *session.Service
	Roles     *roles.Service
	Identity  *identity.Service
	Approvals *approval.Service
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	svc        Services
	readyProbe ReadyProbe
	version    string
}

func New(svc Services, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)
	a.mux.HandleFunc("GET /v1/info", a.handleInfo)
	a.mux.Handle("GET /metrics", obs.Handler())

	// Authentication
	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/validate", a.handleValidateToken)
	a.mux.HandleFunc("POST /internal/authn/credentials", a.handleRegisterCredential)

	// Elevated sessions
	a.mux.HandleFunc("POST /v1/sessions", a.handleSessionIssue)
	a.mux.HandleFunc("POST /v1/sessions/validate", a.handleSessionValidate)
	a.mux.HandleFunc("POST /v1/sessions/extend", a.handleSessionExtend)

	// Identity lifecycle
	a.mux.HandleFunc("POST /v1/users/register", a.handleRegister)
	a.mux.HandleFunc("GET /v1/users/verify", a.handleVerifyEmail)
	a.mux.HandleFunc("GET /v1/users", a.handleListUsers)
	a.mux.HandleFunc("POST /v1/users", a.handleCreateUser)
	a.mux.HandleFunc("GET /v1/users/pending", a.handleListPendingUsers)
	a.mux.HandleFunc("GET /v1/users/by-email/{email}", a.handleUserByEmail)
	a.mux.HandleFunc("GET /v1/users/{id}", a.handleUserByID)
	a.mux.HandleFunc("PUT /v1/users/{id}", a.handleUpdateUser)
	a.mux.HandleFunc("DELETE /v1/users/{id}", a.handleDeleteUser)
	a.mux.HandleFunc("GET /internal/identity/level", a.handleAccountLevel)
	a.mux.HandleFunc("POST /internal/identity/level", a.handleUpdateLevel)
	a.mux.HandleFunc("POST /internal/identity/promote", a.handlePromote)

	// Roles
	a.mux.HandleFunc("GET /v1/roles", a.handleListRoles)
	a.mux.HandleFunc("POST /v1/roles", a.handleCreateRole)
	a.mux.HandleFunc("PUT /v1/roles/{name}", a.handleUpdateRole)
	a.mux.HandleFunc("DELETE /v1/roles/{name}", a.handleDeleteRole)
	a.mux.HandleFunc("GET /v1/roles/effective", a.handleEffectiveRoles)
	a.mux.HandleFunc("POST /v1/roles/assign", a.handleAssignRole)
	a.mux.HandleFunc("POST /v1/roles/unassign", a.handleUnassignRole)
	a.mux.HandleFunc("POST /internal/roles/assign-default", a.handleAssignDefaultRole)
	a.mux.HandleFunc("GET /internal/roles/has-role", a.handleHasRole)

	// Approvals
	a.mux.HandleFunc("POST /v1/approvals", a.handleCreateApproval)
	a.mux.HandleFunc("GET /v1/approvals/pending", a.handleListPendingApprovals)
	a.mux.HandleFunc("GET /v1/approvals/{id}", a.handleApprovalByID)
	a.mux.HandleFunc("POST /v1/approvals/{id}/approve", a.handleApprove)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "carousel-api",
		"version": a.version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "carousel-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// writeDomainError performs the single domain-error to status translation.
func writeDomainError(w http.ResponseWriter, err error) {
	code := domain.Status(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, code, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		return errors.New("content type must be application/json")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// requireService rejects routes for components this process does not host.
func requireService(w http.ResponseWriter, ok bool, name string) bool {
	if ok {
		return true
	}
	writeError(w, http.StatusServiceUnavailable, name+" service unavailable")
	return false
}

// principal returns the authenticated caller's email; routes behind withAuth
// always have one.
func principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, ok := authn.EmailFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return email, true
}

func auditEvent(r *http.Request, event string, fields map[string]any) {
	_ = audit.LogEvent(r.Context(), event, fields)
}
