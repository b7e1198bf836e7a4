package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput       = errors.New("invalid_input")
	ErrNotFound           = errors.New("not_found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidState       = errors.New("invalid_state")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrExternal           = errors.New("external_service_failure")
)

// ErrLastAdmin is returned when an operation would leave the club without an administrator.
var ErrLastAdmin = OpError{Op: "identity.SetAdmin", Kind: ErrInvalidState, Msg: "cannot remove the last administrator"}
