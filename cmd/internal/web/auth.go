package web

import (
	"net"
	"net/http"
	"strings"

	"clubhouse/cmd/internal/account"
	"clubhouse/cmd/internal/auth/gate"
	"clubhouse/cmd/internal/auth/session"
)

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request, id gate.Identity) {
	if id.Authenticated() {
		http.Redirect(w, r, "/members", http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request, _ gate.Identity) {
	var req loginRequest
	if err := decodeBody(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	u, issued, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeDomainError(w, h.log, err, map[string]string{"username": strings.TrimSpace(req.Username)})
		return
	}

	h.setSession(w, issued)
	dest := "/members"
	if u.IsAdmin {
		dest = "/admin"
	}
	http.Redirect(w, r, dest, http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request, id gate.Identity) {
	if id.Session != nil {
		if err := h.accounts.Logout(r.Context(), id.Session.ID); err != nil {
			h.log.Warn("auth.logout.fail", "err", err)
		}
	}
	h.cookies.ClearCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) handleMembers(w http.ResponseWriter, _ *http.Request, id gate.Identity) {
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(*id.User)})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request, id gate.Identity) {
	var req changePasswordRequest
	if err := decodeBody(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	issued, err := h.accounts.ChangePassword(r.Context(), id.User.ID, req.CurrentPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		writeDomainError(w, h.log, err, nil)
		return
	}
	h.setSession(w, issued)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "password changed successfully"})
}

func (h *Handler) handleUpdateAccount(w http.ResponseWriter, r *http.Request, id gate.Identity) {
	var req updateAccountRequest
	if err := decodeBody(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	u, issued, err := h.accounts.UpdateAccount(r.Context(), id.User.ID, accountInput(req))
	if err != nil {
		writeDomainError(w, h.log, err, map[string]string{"username": req.Username, "email": req.Email})
		return
	}
	if issued != nil {
		h.setSession(w, *issued)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": toUserResponse(u)})
}

func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request, id gate.Identity) {
	var req deleteAccountRequest
	if err := decodeBody(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	if err := h.accounts.DeleteAccount(r.Context(), id.User.ID, req.Password, req.Confirm); err != nil {
		writeDomainError(w, h.log, err, nil)
		return
	}
	h.cookies.ClearCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) setSession(w http.ResponseWriter, issued session.Issued) {
	h.cookies.SetCookie(w, issued.Token, issued.Session.ExpiresAt)
}

// remoteIP returns the peer host; chi's RealIP has already rewritten
// RemoteAddr when proxies are trusted.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func accountInput(req updateAccountRequest) account.UpdateAccountInput {
	return account.UpdateAccountInput{
		Username:        req.Username,
		Email:           req.Email,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	}
}
