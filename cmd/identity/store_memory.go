package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"clubhouse/cmd/identity/ids"
)

// MemoryStore is an in-process Store for tests and DB-less development runs.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]User
	profiles map[string]Profile // by user id
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]User),
		profiles: make(map[string]Profile),
	}
}

// CreateUser inserts a user.
func (m *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(in)
}

// CreateUserWithProfile inserts a user and its profile atomically.
func (m *MemoryStore) CreateUserWithProfile(ctx context.Context, in CreateUserInput, p Profile) (User, Profile, error) {
	if err := ctx.Err(); err != nil {
		return User{}, Profile{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, err := m.insertLocked(in)
	if err != nil {
		return User{}, Profile{}, err
	}
	if p.ID == "" {
		id, err := ids.NewUUID()
		if err != nil {
			delete(m.users, u.ID)
			return User{}, Profile{}, err
		}
		p.ID = id
	}
	p.UserID = u.ID
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = u.CreatedAt
	}
	m.profiles[u.ID] = p
	return u, p, nil
}

// HasEmail reports whether any user owns the normalized email.
func (m *MemoryStore) HasEmail(email string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := NormalizeEmail(email)
	for _, u := range m.users {
		if u.EmailNorm == n {
			return true
		}
	}
	return false
}

func (m *MemoryStore) insertLocked(in CreateUserInput) (User, error) {
	const op = "identity.InsertUser"

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	if username == "" {
		return User{}, Invalid(op, "username", "username is required")
	}
	if email == "" {
		return User{}, Invalid(op, "email", "email is required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password hash is required"}
	}

	un, en := NormalizeUsername(username), NormalizeEmail(email)
	for _, u := range m.users {
		if u.UsernameNorm == un {
			return User{}, ConflictError{Op: op, Field: "username"}
		}
		if u.EmailNorm == en {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}
	u := User{
		ID:           id,
		Username:     username,
		UsernameNorm: un,
		Email:        email,
		EmailNorm:    en,
		PasswordHash: in.PasswordHash,
		IsAdmin:      in.IsAdmin,
		CreatedAt:    now,
	}
	m.users[id] = u
	return u, nil
}

// GetUserByID loads a user by id.
func (m *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUserByID", Resource: "user"}
	}
	return u, nil
}

// GetUserByLogin matches a normalized username first, then email.
func (m *MemoryStore) GetUserByLogin(_ context.Context, login string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := NormalizeUsername(login)
	if n != "" {
		for _, u := range m.users {
			if u.UsernameNorm == n {
				return u, nil
			}
		}
		for _, u := range m.users {
			if u.EmailNorm == n {
				return u, nil
			}
		}
	}
	return User{}, NotFoundError{Op: "identity.GetUserByLogin", Resource: "user"}
}

// GetUserByUsername loads a user by normalized username.
func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := NormalizeUsername(username)
	for _, u := range m.users {
		if u.UsernameNorm == n {
			return u, nil
		}
	}
	return User{}, NotFoundError{Op: "identity.GetUserByUsername", Resource: "user"}
}

// ListUsers returns all users, oldest first.
func (m *MemoryStore) ListUsers(_ context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CountUsers returns the number of users.
func (m *MemoryStore) CountUsers(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

// SetAdmin changes the admin flag, refusing to demote the last admin.
func (m *MemoryStore) SetAdmin(_ context.Context, userID string, admin bool) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return User{}, NotFoundError{Op: "identity.SetAdmin", Resource: "user"}
	}
	if u.IsAdmin && !admin && m.adminsLocked() <= 1 {
		return User{}, ErrLastAdmin
	}
	u.IsAdmin = admin
	m.users[userID] = u
	return u, nil
}

func (m *MemoryStore) adminsLocked() int {
	n := 0
	for _, x := range m.users {
		if x.IsAdmin {
			n++
		}
	}
	return n
}

// UpdateAccount changes username and/or email.
func (m *MemoryStore) UpdateAccount(_ context.Context, userID string, in UpdateAccountInput) (User, error) {
	const op = "identity.UpdateAccount"

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if in.Username != nil {
		n := NormalizeUsername(*in.Username)
		for id, x := range m.users {
			if id != userID && x.UsernameNorm == n {
				return User{}, ConflictError{Op: op, Field: "username"}
			}
		}
		u.Username, u.UsernameNorm = strings.TrimSpace(*in.Username), n
	}
	if in.Email != nil {
		n := NormalizeEmail(*in.Email)
		for id, x := range m.users {
			if id != userID && x.EmailNorm == n {
				return User{}, ConflictError{Op: op, Field: "email"}
			}
		}
		u.Email, u.EmailNorm = strings.TrimSpace(*in.Email), n
	}
	m.users[userID] = u
	return u, nil
}

// UpdatePasswordHash replaces the stored digest.
func (m *MemoryStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return NotFoundError{Op: "identity.UpdatePasswordHash", Resource: "user"}
	}
	u.PasswordHash = hash
	m.users[userID] = u
	return nil
}

// DeleteUser removes the profile, then the user. Session cleanup is the session store's job here.
func (m *MemoryStore) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return NotFoundError{Op: "identity.DeleteUser", Resource: "user"}
	}
	if u.IsAdmin && m.adminsLocked() <= 1 {
		return ErrLastAdmin
	}
	delete(m.profiles, userID)
	delete(m.users, userID)
	return nil
}

// GetProfile loads a user's profile.
func (m *MemoryStore) GetProfile(_ context.Context, userID string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, NotFoundError{Op: "identity.GetProfile", Resource: "profile"}
	}
	return p, nil
}
