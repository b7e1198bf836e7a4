package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind is one of the sentinel kinds. Msg never carries secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError reports a uniqueness conflict for a logical field:
// "username", "email", "pending_request".
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing referenced resource (e.g., FK violation) or missing row.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrNotFound, e.Resource)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError carries per-field messages for input that failed validation.
type ValidationError struct {
	Op     string
	Fields map[string]string
}

func (e ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %v", e.Op, ErrInvalidInput)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrInvalidInput, strings.Join(parts, "; "))
}

func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// Invalid builds a single-field ValidationError.
func Invalid(op, field, msg string) error {
	return ValidationError{Op: op, Fields: map[string]string{field: msg}}
}

// External wraps a failure of a dependency (database, captcha provider) as ErrExternal.
// The cause stays reachable through errors.As / errors.Is.
func External(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &externalError{op: op, cause: cause}
}

type externalError struct {
	op    string
	cause error
}

func (e *externalError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.op, ErrExternal, e.cause)
}

func (e *externalError) Unwrap() []error { return []error{ErrExternal, e.cause} }

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}

// ConflictField returns the conflicting field name, if err is a ConflictError.
func ConflictField(err error) string {
	var ce ConflictError
	if errors.As(err, &ce) {
		return ce.Field
	}
	return ""
}

// IsNotFound reports whether err represents ErrNotFound (including NotFoundError).
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsInvalidState reports whether err represents ErrInvalidState.
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }

// IsExternal reports whether err represents ErrExternal.
func IsExternal(err error) bool { return errors.Is(err, ErrExternal) }

// FieldErrors returns the per-field messages of a ValidationError, or nil.
func FieldErrors(err error) map[string]string {
	var ve ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

// IsDomain reports whether err already carries one of the sentinel kinds.
func IsDomain(err error) bool {
	for _, k := range []error{
		ErrInvalidInput, ErrNotFound, ErrConflict, ErrInvalidState,
		ErrUnauthorized, ErrForbidden, ErrInvalidCredentials, ErrExternal,
	} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// StoreFailure passes domain and context errors through and wraps anything
// else (driver errors, broken transactions) as ErrExternal.
func StoreFailure(op string, err error) error {
	if err == nil || IsDomain(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return External(op, err)
}
