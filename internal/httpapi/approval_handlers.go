package httpapi

import (
	"net/http"

	"carousel.org/internal/access"
	"carousel.org/internal/approval"
)

type createApprovalRequest struct {
	Type            string `json:"request_type"`
	SubjectID       string `json:"subject_id"`
	TargetAccountID string `json:"target_account_id"`
	Email           string `json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	RequestedLevel  string `json:"requested_access_level"`
}

func (a *API) handleCreateApproval(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Approvals != nil, "approval") {
		return
	}
	if _, ok := principal(w, r); !ok {
		return
	}
	var req createApprovalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	level, err := access.Parse(req.RequestedLevel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.svc.Approvals.Create(r.Context(), approval.CreateParams{
		Type:            approval.RequestType(req.Type),
		SubjectID:       req.SubjectID,
		TargetAccountID: req.TargetAccountID,
		Email:           req.Email,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		RequestedLevel:  level,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/approvals/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Approvals != nil, "approval") {
		return
	}
	if _, ok := principal(w, r); !ok {
		return
	}
	pending, err := a.svc.Approvals.ListPending(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (a *API) handleApprovalByID(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Approvals != nil, "approval") {
		return
	}
	if _, ok := principal(w, r); !ok {
		return
	}
	req, err := a.svc.Approvals.ByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleApprove settles a request with the authenticated caller as approver.
func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	if !requireService(w, a.svc.Approvals != nil, "approval") {
		return
	}
	email, ok := principal(w, r)
	if !ok {
		return
	}
	settled, err := a.svc.Approvals.Approve(r.Context(), r.PathValue("id"), email)
	if err != nil {
		// A settled request with a failed dispatch still reports the failure;
		// the record itself is returned so the operator sees the state.
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settled)
}
