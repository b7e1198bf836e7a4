package identity

import (
	"context"
	"time"
)

// User is the club's security principal.
type User struct {
	ID           string
	Username     string
	UsernameNorm string
	Email        string
	EmailNorm    string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

// Profile is the member's contact card, created when an access request is approved.
type Profile struct {
	ID              string
	UserID          string
	FirstName       string
	LastName        string
	Phone           string
	Address         string
	City            string
	State           string
	ZipCode         string
	Country         string
	Bio             string
	ShowInDirectory bool
	UpdatedAt       time.Time
}

// CreateUserInput describes a new account. PasswordHash is already hashed;
// stores never see plaintext.
type CreateUserInput struct {
	Username     string
	Email        string
	PasswordHash string
	IsAdmin      bool
	Now          time.Time
}

// UpdateAccountInput changes login identifiers. Nil fields stay untouched.
type UpdateAccountInput struct {
	Username *string
	Email    *string
}

// Store is the user persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	// GetUserByLogin matches a normalized username or email.
	GetUserByLogin(ctx context.Context, login string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	CountUsers(ctx context.Context) (int, error)

	// SetAdmin changes the admin flag.
	// Clearing the flag of the last admin returns ErrLastAdmin.
	SetAdmin(ctx context.Context, userID string, admin bool) (User, error)

	UpdateAccount(ctx context.Context, userID string, in UpdateAccountInput) (User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error

	// DeleteUser removes the user's sessions, profile and user row, in that order.
	// Deleting the last administrator fails with ErrLastAdmin.
	DeleteUser(ctx context.Context, userID string) error

	GetProfile(ctx context.Context, userID string) (Profile, error)
}
