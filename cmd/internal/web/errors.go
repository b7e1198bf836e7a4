package web

import (
	"errors"
	"log/slog"
	"net/http"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/internal/access"
	"clubhouse/cmd/internal/verify"
)

var conflictMessages = map[string]string{
	"username":                 "this username is already taken",
	"email":                    "an account with this email already exists",
	access.FieldPendingRequest: "a request for this email is already pending",
}

// writeDomainError maps the identity error kinds onto HTTP statuses.
// values echoes non-secret input back for re-display.
func writeDomainError(w http.ResponseWriter, log *slog.Logger, err error, values map[string]string) {
	status, body := classify(err)
	body.Values = values
	switch {
	case status >= 500:
		log.Error("http.request.fail", "err", err, "code", body.Code)
	case status == http.StatusConflict:
		log.Info("http.request.conflict", "err", err)
	}
	writeJSON(w, status, errorResponse{Error: body})
}

func classify(err error) (int, apiError) {
	var ve identity.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, apiError{Code: "validation_failed", Message: "please correct the highlighted fields", Fields: ve.Fields}
	}

	msg := func(def string) string {
		var oe identity.OpError
		if errors.As(err, &oe) && oe.Msg != "" {
			return oe.Msg
		}
		return def
	}

	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, apiError{Code: "invalid_credentials", Message: msg("invalid username or password")}
	case errors.Is(err, identity.ErrUnauthorized):
		return http.StatusUnauthorized, apiError{Code: "unauthorized", Message: msg("authentication required")}
	case errors.Is(err, identity.ErrForbidden):
		return http.StatusForbidden, apiError{Code: "forbidden", Message: msg("you are not allowed to do this")}
	case errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound, apiError{Code: "not_found", Message: "not found"}
	case errors.Is(err, identity.ErrConflict):
		field := identity.ConflictField(err)
		m, ok := conflictMessages[field]
		if !ok {
			m = "already exists"
		}
		var fields map[string]string
		if field != "" {
			fields = map[string]string{field: m}
		}
		return http.StatusConflict, apiError{Code: "conflict", Message: m, Fields: fields}
	case errors.Is(err, identity.ErrInvalidState):
		return http.StatusConflict, apiError{Code: "invalid_state", Message: msg("the resource is not in a state that allows this")}
	case errors.Is(err, verify.ErrVerificationFailed):
		// The applicant can retry the challenge, so this is not an upstream outage.
		return http.StatusBadRequest, apiError{Code: "verification_failed", Message: "Turnstile verification failed. Please try again."}
	case errors.Is(err, identity.ErrExternal):
		return http.StatusBadGateway, apiError{Code: "external_failure", Message: "an upstream service failed, please retry later"}
	case errors.Is(err, identity.ErrInvalidInput):
		return http.StatusBadRequest, apiError{Code: "invalid_request", Message: msg("invalid request")}
	default:
		return http.StatusInternalServerError, apiError{Code: "internal", Message: "internal error"}
	}
}
