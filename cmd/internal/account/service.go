// Package account implements what members and administrators do with
// accounts once they exist: logging in and out, changing credentials,
// deleting accounts, and managing the admin flag.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/internal/auth/session"
	"clubhouse/cmd/internal/metrics"
	"clubhouse/cmd/internal/realtime"
	"clubhouse/cmd/security/password"
)

// Shorter passwords are refused before any lookup.
const minLoginPassword = 6

// Sessions is the part of the session manager this service drives.
type Sessions interface {
	Issue(ctx context.Context, userID string) (session.Issued, error)
	Invalidate(ctx context.Context, sessionID string) error
	InvalidateAllForUser(ctx context.Context, userID string) error
}

// Publisher receives user events for the admin feed.
type Publisher interface {
	Publish(eventType string, payload any)
}

// UserEvent is the feed payload for admin-flag changes and deletions.
type UserEvent struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	IsAdmin  bool      `json:"is_admin"`
	ActorID  string    `json:"actor_id,omitempty"`
	At       time.Time `json:"at"`
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}

// Service implements account operations over the identity and session stores.
type Service struct {
	users     identity.Store
	sessions  Sessions
	passwords password.Config
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time

	// dummyHash is verified when a login names no user, so both paths cost one argon2id run.
	dummyHash string
}

// Option configures the Service.
type Option func(*Service)

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService constructs a Service.
func NewService(users identity.Store, sessions Sessions, passwords password.Config, opts ...Option) (*Service, error) {
	if users == nil || sessions == nil {
		return nil, errors.New("account: nil user store or sessions")
	}
	s := &Service{
		users:     users,
		sessions:  sessions,
		passwords: passwords,
		publisher: noopPublisher{},
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	dummy, err := passwords.Hash("clubhouse-login-timing-guard")
	if err != nil {
		return nil, err
	}
	s.dummyHash = dummy
	return s, nil
}

func invalidCredentials(op string) error {
	return identity.OpError{Op: op, Kind: identity.ErrInvalidCredentials, Msg: "invalid username or password"}
}

// Login authenticates by username or email and issues a session.
// Unknown users and wrong passwords are indistinguishable to the caller,
// and a failed login never creates a session. Legacy digests are upgraded
// to argon2id on success.
func (s *Service) Login(ctx context.Context, login, pw string) (identity.User, session.Issued, error) {
	const op = "account.Login"

	login = strings.TrimSpace(login)
	if login == "" {
		return identity.User{}, session.Issued{}, identity.Invalid(op, "username", "please enter a valid username or email")
	}
	if utf8.RuneCountInString(pw) < minLoginPassword {
		metrics.Logins.WithLabelValues("invalid").Inc()
		return identity.User{}, session.Issued{}, invalidCredentials(op)
	}

	u, err := s.users.GetUserByLogin(ctx, login)
	if err != nil {
		if identity.IsNotFound(err) {
			_, _ = s.passwords.Verify(s.dummyHash, pw)
			metrics.Logins.WithLabelValues("invalid").Inc()
			s.log.Info("auth.login.fail", "reason", "unknown_user")
			return identity.User{}, session.Issued{}, invalidCredentials(op)
		}
		metrics.Logins.WithLabelValues("error").Inc()
		return identity.User{}, session.Issued{}, identity.StoreFailure(op, err)
	}

	ok, needsRehash, err := s.passwords.Check(u.PasswordHash, pw)
	if err != nil {
		s.log.Warn("auth.login.digest.invalid", "user_id", u.ID, "err", err)
	}
	if !ok {
		metrics.Logins.WithLabelValues("invalid").Inc()
		s.log.Info("auth.login.fail", "reason", "bad_password", "user_id", u.ID)
		return identity.User{}, session.Issued{}, invalidCredentials(op)
	}

	if needsRehash {
		s.rehash(ctx, u, pw)
	}

	issued, err := s.sessions.Issue(ctx, u.ID)
	if err != nil {
		metrics.Logins.WithLabelValues("error").Inc()
		return identity.User{}, session.Issued{}, identity.StoreFailure(op, err)
	}

	metrics.Logins.WithLabelValues("ok").Inc()
	s.log.Info("auth.login.ok", "user_id", u.ID, "admin", u.IsAdmin)
	return u, issued, nil
}

// rehash replaces a legacy or under-cost digest. Failure only costs the upgrade.
func (s *Service) rehash(ctx context.Context, u identity.User, pw string) {
	h, err := s.passwords.Hash(pw)
	if err != nil {
		s.log.Warn("auth.login.rehash.fail", "user_id", u.ID, "err", err)
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, u.ID, h); err != nil {
		s.log.Warn("auth.login.rehash.fail", "user_id", u.ID, "err", err)
		return
	}
	s.log.Info("auth.login.rehash.ok", "user_id", u.ID)
}

// Logout invalidates a session. Unknown ids are ignored.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return identity.StoreFailure("account.Logout", s.sessions.Invalidate(ctx, sessionID))
}

// ChangePassword replaces the password after checking the current one, then
// revokes every session of the user and issues a fresh one for the caller.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next, confirm string) (session.Issued, error) {
	const op = "account.ChangePassword"

	fields := map[string]string{}
	if current == "" {
		fields["currentPassword"] = "current password is required"
	}
	if err := s.passwords.ValidateChange(next); err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) {
			fields["newPassword"] = fmt.Sprintf("new password must be at least %d characters long", s.passwords.Policy.ChangeFloor())
		} else {
			fields["newPassword"] = password.Describe(err)
		}
	}
	if next != confirm {
		fields["confirmPassword"] = "new passwords do not match"
	}
	if len(fields) > 0 {
		return session.Issued{}, identity.ValidationError{Op: op, Fields: fields}
	}

	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return session.Issued{}, identity.StoreFailure(op, err)
	}
	if err := s.checkPassword(op, u, current, "currentPassword", "current password is incorrect"); err != nil {
		return session.Issued{}, err
	}

	issued, err := s.replacePassword(ctx, op, u.ID, next)
	if err != nil {
		return session.Issued{}, err
	}
	s.log.Info("account.password.changed", "user_id", u.ID)
	return issued, nil
}

// UpdateAccountInput changes login identifiers and optionally the password.
type UpdateAccountInput struct {
	Username        string
	Email           string
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

// UpdateAccount changes username and email. When NewPassword is set the
// current password must verify, and all sessions are replaced by the
// returned one (nil otherwise).
func (s *Service) UpdateAccount(ctx context.Context, userID string, in UpdateAccountInput) (identity.User, *session.Issued, error) {
	const op = "account.UpdateAccount"

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	fields := map[string]string{}
	if !identity.ValidUsername(username) {
		fields["username"] = "username must be 3-31 characters of a-z, 0-9, _ or -"
	}
	if err := validateEmail(email); err != nil {
		fields["email"] = err.Error()
	}
	changing := in.NewPassword != ""
	if changing {
		if in.CurrentPassword == "" {
			fields["currentPassword"] = "current password is required to change password"
		}
		if err := s.passwords.Validate(in.NewPassword); err != nil {
			fields["newPassword"] = password.Describe(err)
		}
		if in.NewPassword != in.ConfirmPassword {
			fields["confirmPassword"] = "new passwords do not match"
		}
	}
	if len(fields) > 0 {
		return identity.User{}, nil, identity.ValidationError{Op: op, Fields: fields}
	}

	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return identity.User{}, nil, identity.StoreFailure(op, err)
	}
	if changing {
		if err := s.checkPassword(op, u, in.CurrentPassword, "currentPassword", "current password is incorrect"); err != nil {
			return identity.User{}, nil, err
		}
	}

	u, err = s.users.UpdateAccount(ctx, userID, identity.UpdateAccountInput{Username: &username, Email: &email})
	if err != nil {
		return identity.User{}, nil, identity.StoreFailure(op, err)
	}
	if !changing {
		return u, nil, nil
	}

	issued, err := s.replacePassword(ctx, op, u.ID, in.NewPassword)
	if err != nil {
		return identity.User{}, nil, err
	}
	return u, &issued, nil
}

// DeleteAccount removes the caller's own account after re-checking the password.
func (s *Service) DeleteAccount(ctx context.Context, userID, pw string, confirmed bool) error {
	const op = "account.DeleteAccount"

	fields := map[string]string{}
	if pw == "" {
		fields["password"] = "password is required"
	}
	if !confirmed {
		fields["confirm"] = "you must confirm account deletion"
	}
	if len(fields) > 0 {
		return identity.ValidationError{Op: op, Fields: fields}
	}

	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return identity.StoreFailure(op, err)
	}
	if err := s.checkPassword(op, u, pw, "password", "incorrect password"); err != nil {
		return err
	}
	return s.remove(ctx, op, u, u.ID)
}

// ToggleAdmin flips target's admin flag. Demoting the last administrator
// fails with identity.ErrLastAdmin.
func (s *Service) ToggleAdmin(ctx context.Context, actorID, targetID string) (identity.User, error) {
	const op = "account.ToggleAdmin"

	target, err := s.users.GetUserByID(ctx, targetID)
	if err != nil {
		return identity.User{}, identity.StoreFailure(op, err)
	}
	u, err := s.users.SetAdmin(ctx, target.ID, !target.IsAdmin)
	if err != nil {
		if identity.IsInvalidState(err) {
			s.log.Info("account.admin.toggle.refused", "target_id", target.ID, "actor_id", actorID)
		}
		return identity.User{}, identity.StoreFailure(op, err)
	}

	s.log.Info("account.admin.toggled", "target_id", u.ID, "admin", u.IsAdmin, "actor_id", actorID)
	s.publisher.Publish(realtime.TypeUserAdminToggled, UserEvent{
		UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin, ActorID: actorID, At: s.now(),
	})
	return u, nil
}

// DeleteUser removes another user's account. Administrators cannot delete themselves here.
func (s *Service) DeleteUser(ctx context.Context, actorID, targetID string) error {
	const op = "account.DeleteUser"

	if actorID == targetID {
		return identity.OpError{Op: op, Kind: identity.ErrForbidden, Msg: "you cannot delete your own account"}
	}
	target, err := s.users.GetUserByID(ctx, targetID)
	if err != nil {
		return identity.StoreFailure(op, err)
	}
	return s.remove(ctx, op, target, actorID)
}

// ListUsers returns every user.
func (s *Service) ListUsers(ctx context.Context) ([]identity.User, error) {
	out, err := s.users.ListUsers(ctx)
	return out, identity.StoreFailure("account.ListUsers", err)
}

// CountUsers feeds the admin summary.
func (s *Service) CountUsers(ctx context.Context) (int, error) {
	n, err := s.users.CountUsers(ctx)
	return n, identity.StoreFailure("account.CountUsers", err)
}

// GetUser loads one user.
func (s *Service) GetUser(ctx context.Context, id string) (identity.User, error) {
	u, err := s.users.GetUserByID(ctx, id)
	return u, identity.StoreFailure("account.GetUser", err)
}

// BootstrapOption adjusts BootstrapAdmin.
type BootstrapOption func(*bootstrapConfig)

type bootstrapConfig struct {
	email        string
	failIfExists bool
}

// WithEmail sets the new admin's email (default "<username>@localhost").
func WithEmail(email string) BootstrapOption {
	return func(c *bootstrapConfig) { c.email = strings.TrimSpace(email) }
}

// FailIfExists turns an existing username into a Conflict instead of a promotion.
func FailIfExists() BootstrapOption {
	return func(c *bootstrapConfig) { c.failIfExists = true }
}

// BootstrapAdmin creates an administrator, or promotes an existing user with
// that username. created reports which happened. A promoted user keeps
// their password.
func (s *Service) BootstrapAdmin(ctx context.Context, username, pw string, opts ...BootstrapOption) (u identity.User, created bool, err error) {
	const op = "account.BootstrapAdmin"

	var cfg bootstrapConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	username = strings.TrimSpace(username)
	if !identity.ValidUsername(username) {
		return identity.User{}, false, identity.Invalid(op, "username",
			"invalid username (min 3, max 31 characters, alphanumeric, underscore, and hyphen only)")
	}

	existing, err := s.users.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		if cfg.failIfExists {
			return identity.User{}, false, identity.ConflictError{Op: op, Field: "username"}
		}
		u, err := s.users.SetAdmin(ctx, existing.ID, true)
		if err != nil {
			return identity.User{}, false, identity.StoreFailure(op, err)
		}
		s.log.Info("account.bootstrap.promoted", "user_id", u.ID)
		return u, false, nil
	case !identity.IsNotFound(err):
		return identity.User{}, false, identity.StoreFailure(op, err)
	}

	if err := s.passwords.Validate(pw); err != nil {
		return identity.User{}, false, identity.Invalid(op, "password", password.Describe(err))
	}
	email := cfg.email
	if email == "" {
		email = username + "@localhost"
	}
	if err := validateEmail(email); err != nil {
		return identity.User{}, false, identity.Invalid(op, "email", err.Error())
	}

	hash, err := s.passwords.Hash(pw)
	if err != nil {
		return identity.User{}, false, err
	}
	u, err = s.users.CreateUser(ctx, identity.CreateUserInput{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      true,
		Now:          s.now(),
	})
	if err != nil {
		return identity.User{}, false, identity.StoreFailure(op, err)
	}
	s.log.Info("account.bootstrap.created", "user_id", u.ID)
	return u, true, nil
}

func (s *Service) checkPassword(op string, u identity.User, pw, field, msg string) error {
	ok, _, err := s.passwords.Check(u.PasswordHash, pw)
	if err != nil {
		s.log.Warn("account.digest.invalid", "user_id", u.ID, "err", err)
	}
	if !ok {
		return identity.Invalid(op, field, msg)
	}
	return nil
}

// replacePassword stores the new digest, revokes every session of the
// user and issues a replacement for the caller.
func (s *Service) replacePassword(ctx context.Context, op, userID, pw string) (session.Issued, error) {
	hash, err := s.passwords.Hash(pw)
	if err != nil {
		return session.Issued{}, err
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return session.Issued{}, identity.StoreFailure(op, err)
	}
	if err := s.sessions.InvalidateAllForUser(ctx, userID); err != nil {
		return session.Issued{}, identity.StoreFailure(op, err)
	}
	issued, err := s.sessions.Issue(ctx, userID)
	if err != nil {
		return session.Issued{}, identity.StoreFailure(op, err)
	}
	return issued, nil
}

// remove deletes the user row first; the store refuses to delete the last
// administrator, so sessions are only revoked once the delete has happened.
func (s *Service) remove(ctx context.Context, op string, u identity.User, actorID string) error {
	if err := s.users.DeleteUser(ctx, u.ID); err != nil {
		if errors.Is(err, identity.ErrLastAdmin) {
			s.log.Info("account.user.delete.refused", "user_id", u.ID, "actor_id", actorID)
		}
		return identity.StoreFailure(op, err)
	}
	if err := s.sessions.InvalidateAllForUser(ctx, u.ID); err != nil {
		s.log.Warn("account.user.sessions.revoke.fail", "user_id", u.ID, "err", err)
	}

	s.log.Info("account.user.deleted", "user_id", u.ID, "actor_id", actorID)
	s.publisher.Publish(realtime.TypeUserDeleted, UserEvent{
		UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin, ActorID: actorID, At: s.now(),
	})
	return nil
}
