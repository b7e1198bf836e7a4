package web

import (
	"net/http"

	"clubhouse/cmd/internal/access"
	"clubhouse/cmd/internal/auth/gate"
)

// handleRequestAccessForm serves the public page form. The values
// checkbox is optional there.
func (h *Handler) handleRequestAccessForm(w http.ResponseWriter, r *http.Request, _ gate.Identity) {
	h.submitAccessRequest(w, r, false)
}

// handleRequestAccessAPI serves JSON clients, which must send agreeToValues.
func (h *Handler) handleRequestAccessAPI(w http.ResponseWriter, r *http.Request, _ gate.Identity) {
	if !isJSON(r) {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected application/json")
		return
	}
	h.submitAccessRequest(w, r, true)
}

func (h *Handler) submitAccessRequest(w http.ResponseWriter, r *http.Request, requireAgreement bool) {
	var req accessRequestBody
	if err := decodeBody(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	out, err := h.access.Submit(r.Context(), access.SubmitInput{
		Name:             req.Name,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Email:            req.Email,
		Phone:            req.Phone,
		Address:          req.Address,
		City:             req.City,
		State:            req.State,
		ZipCode:          req.ZipCode,
		Country:          req.Country,
		Reason:           req.Reason,
		AgreeToValues:    req.AgreeToValues,
		RequireAgreement: requireAgreement,
		BotToken:         req.BotToken,
		RemoteIP:         remoteIP(r),
	})
	if err != nil {
		writeDomainError(w, h.log, err, req.values())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "your request has been submitted, we will be in touch",
		"id":      out.ID,
	})
}
