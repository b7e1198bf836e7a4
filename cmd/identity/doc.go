// Package identity holds the club's user model and its persistence.
//
// It owns the error taxonomy shared by every service (see kinds.go), the
// username/email normalizers, and the user store used by sessions, access
// requests and account management.
package identity
