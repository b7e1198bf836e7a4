// Package access implements the access-request lifecycle: visitors submit a
// request, and an administrator approves it (provisioning a user and profile)
// or rejects it. Both outcomes are terminal.
package access

import (
	"context"
	"time"

	"clubhouse/cmd/identity"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Request is an access_requests row.
// ProcessedAt and ProcessedBy are set exactly when Status is not pending;
// ProcessedBy becomes nil again if that administrator is deleted.
type Request struct {
	ID          string
	Email       string
	EmailNorm   string
	FirstName   string
	LastName    string
	Phone       string
	Address     string
	City        string
	State       string
	ZipCode     string
	Country     string
	Reason      string
	Status      Status
	CreatedAt   time.Time
	ProcessedAt *time.Time
	ProcessedBy *string
	Notes       *string
}

// Name joins first and last name.
func (r Request) Name() string {
	if r.LastName == "" {
		return r.FirstName
	}
	return r.FirstName + " " + r.LastName
}

// ProcessRecord identifies a decision on a pending request.
type ProcessRecord struct {
	RequestID string
	AdminID   string
	Notes     *string
	Now       time.Time
}

// ApproveRecord carries the account to provision. PasswordHash is already hashed.
type ApproveRecord struct {
	ProcessRecord
	Username     string
	PasswordHash string
}

// Store is the persistence boundary for access requests.
//
// Insert fails with ConflictError{Field: "email"} when a user owns the email
// and ConflictError{Field: "pending_request"} when a pending request exists.
// Approve and Reject return NotFoundError for unknown ids and an
// ErrInvalidState OpError for requests that are no longer pending.
type Store interface {
	Insert(ctx context.Context, r Request) (Request, error)
	Approve(ctx context.Context, in ApproveRecord) (Request, identity.User, error)
	Reject(ctx context.Context, in ProcessRecord) (Request, error)
	Get(ctx context.Context, id string) (Request, error)
	// List returns requests with the given status, or all requests for "".
	List(ctx context.Context, status Status) ([]Request, error)
	CountPending(ctx context.Context) (int, error)
}

// Field names used in ConflictError.
const (
	FieldEmail          = "email"
	FieldPendingRequest = "pending_request"
)

func notPending(op string, st Status) error {
	return identity.OpError{Op: op, Kind: identity.ErrInvalidState, Msg: "request already " + string(st)}
}
