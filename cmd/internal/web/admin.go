package web

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"clubhouse/cmd/internal/access"
	"clubhouse/cmd/internal/account"
	"clubhouse/cmd/internal/auth/gate"
)

func (h *Handler) handleAdminSummary(w http.ResponseWriter, r *http.Request, id gate.Identity) {
	ctx := r.Context()
	pending, err := h.access.CountPending(ctx)
	if err != nil {
		writeDomainError(w, h.log, err, nil)
		return
	}
	users, err := h.accounts.CountUsers(ctx)
	if err != nil {
		writeDomainError(w, h.log, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":            toUserResponse(*id.User),
		"pendingRequests": pending,
		"users":           users,
	})
}

// handleListRequests lists pending requests; ?status=approved|rejected|all widens it.
func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request, _ gate.Identity) {
	status := access.StatusPending
	switch q := strings.TrimSpace(r.URL.Query().Get("status")); q {
	case "":
	case "all":
		status = ""
	default:
		status = access.Status(q)
	}

	out, err := h.access.List(r.Context(), status)
	if err != nil {
		writeDomainError(w, h.log, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": toRequestResponses(out)})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request, id gate.Identity) {
	var req approveRequest
	if err := decodeBody(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	u, err := h.access.Approve(r.Context(), access.ApproveInput{
		RequestID: chi.URLParam(r, "id"),
		AdminID:   id.User.ID,
		Username:  strings.TrimSpace(req.Username),
		Password:  req.Password,
		Notes:     req.Notes,
	})
	if err != nil {
		writeDomainError(w, h.log, err, map[string]string{"username": req.Username, "notes": req.Notes})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": toUserResponse(u)})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request, id gate.Identity) {
	var req rejectRequest
	if err := decodeBody(w, r, h.cfg.MaxBodyBytes, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	out, err := h.access.Reject(r.Context(), access.RejectInput{
		RequestID: chi.URLParam(r, "id"),
		AdminID:   id.User.ID,
		Notes:     req.Notes,
	})
	if err != nil {
		writeDomainError(w, h.log, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "request": toRequestResponse(out)})
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request, _ gate.Identity) {
	users, err := h.accounts.ListUsers(r.Context())
	if err != nil {
		writeDomainError(w, h.log, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": toUserResponses(users)})
}

func (h *Handler) handleToggleAdmin(w http.ResponseWriter, r *http.Request, id gate.Identity) {
	u, err := h.accounts.ToggleAdmin(r.Context(), id.User.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.log, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": toUserResponse(u)})
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request, id gate.Identity) {
	if err := h.accounts.DeleteUser(r.Context(), id.User.ID, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, h.log, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleDevCreateAdmin bootstraps an administrator outside production when
// the caller knows the configured secret. It answers 404 when disabled so the
// endpoint is not advertised.
func (h *Handler) handleDevCreateAdmin(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Production || h.cfg.DevAdminSecret == "" {
		http.NotFound(w, r)
		return
	}

	var req devAdminRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if !secureStringEqual(req.SecretKey, h.cfg.DevAdminSecret) {
		h.log.Warn("admin.dev_create.denied", "remote", remoteIP(r))
		writeError(w, http.StatusForbidden, "forbidden", "invalid secret key")
		return
	}

	opts := []account.BootstrapOption{account.FailIfExists()}
	if e := strings.TrimSpace(req.Email); e != "" {
		opts = append(opts, account.WithEmail(e))
	}
	u, _, err := h.accounts.BootstrapAdmin(r.Context(), req.Username, req.Password, opts...)
	if err != nil {
		writeDomainError(w, h.log, err, map[string]string{"username": req.Username, "email": req.Email})
		return
	}
	h.log.Info("admin.dev_create.ok", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": toUserResponse(u)})
}

func secureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
