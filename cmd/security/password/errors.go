package password

import "errors"

// Public, stable errors for callers.
var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
	ErrInvalidHash      = errors.New("invalid password hash")
)

// Describe turns a policy error into a message fit for a form field.
func Describe(err error) string {
	switch {
	case errors.Is(err, ErrPasswordTooShort):
		return "password is too short"
	case errors.Is(err, ErrPasswordTooLong):
		return "password is too long"
	case errors.Is(err, ErrWeakPassword):
		return "password is too weak"
	default:
		return "invalid password"
	}
}
