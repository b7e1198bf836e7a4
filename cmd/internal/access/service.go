package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/identity/ids"
	"clubhouse/cmd/internal/metrics"
	"clubhouse/cmd/internal/realtime"
	"clubhouse/cmd/internal/relay"
	"clubhouse/cmd/internal/verify"
	"clubhouse/cmd/security/password"
)

const maxNotesLen = 2000

// SubmitInput is a visitor's request. Name wins over FirstName/LastName
// when both are given. BotToken is the Turnstile response.
type SubmitInput struct {
	Name      string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   string
	City      string
	State     string
	ZipCode   string
	Country   string
	Reason    string

	AgreeToValues    bool
	RequireAgreement bool

	BotToken string
	RemoteIP string
}

// ApproveInput names the account an administrator provisions.
type ApproveInput struct {
	RequestID string
	AdminID   string
	Username  string
	Password  string
	Notes     string
}

// RejectInput records a rejection.
type RejectInput struct {
	RequestID string
	AdminID   string
	Notes     string
}

// Publisher receives lifecycle events; the admin feed hub implements it.
type Publisher interface {
	Publish(eventType string, payload any)
}

// RequestEvent is the feed payload for request transitions.
type RequestEvent struct {
	RequestID   string    `json:"request_id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	UserID      string    `json:"user_id,omitempty"`
	Username    string    `json:"username,omitempty"`
	ProcessedBy string    `json:"processed_by,omitempty"`
	At          time.Time `json:"at"`
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}

// Service runs the access-request state machine.
type Service struct {
	store     Store
	passwords password.Config
	verifier  verify.Verifier
	relayer   relay.Relayer
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithVerifier sets the bot verifier (default verify.Noop).
func WithVerifier(v verify.Verifier) Option {
	return func(s *Service) {
		if v != nil {
			s.verifier = v
		}
	}
}

// WithRelayer sets the best-effort form relay (default relay.Noop).
func WithRelayer(r relay.Relayer) Option {
	return func(s *Service) {
		if r != nil {
			s.relayer = r
		}
	}
}

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

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service. passwords hashes the password chosen at approval.
func NewService(store Store, passwords password.Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("access: nil store")
	}
	s := &Service{
		store:     store,
		passwords: passwords,
		verifier:  verify.Noop{},
		relayer:   relay.Noop{},
		publisher: noopPublisher{},
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Submit validates, verifies and stores a new pending request, then relays
// it and notifies administrators. Relay failures are logged, never returned.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Request, error) {
	const op = "access.Submit"

	req, err := validateSubmit(op, in)
	if err != nil {
		return Request{}, err
	}

	if err := s.verifier.Verify(ctx, in.BotToken, in.RemoteIP); err != nil {
		s.log.Info("access.submit.verify.fail", "err", err)
		if !errors.Is(err, verify.ErrVerificationFailed) {
			err = fmt.Errorf("%w: %v", verify.ErrVerificationFailed, err)
		}
		return Request{}, err
	}

	now := s.now()
	id, err := ids.NewUUID()
	if err != nil {
		return Request{}, err
	}
	req.ID = id
	req.CreatedAt = now

	out, err := s.store.Insert(ctx, req)
	if err != nil {
		if identity.IsConflict(err) {
			s.log.Info("access.submit.conflict", "field", identity.ConflictField(err))
		}
		return Request{}, identity.StoreFailure(op, err)
	}
	metrics.AccessRequests.WithLabelValues("submitted").Inc()
	s.log.Info("access.submit.ok", "request_id", out.ID)

	if err := s.relayer.Relay(ctx, relay.Submission{
		Name:    out.Name(),
		Email:   out.Email,
		Phone:   out.Phone,
		ZipCode: out.ZipCode,
		Reason:  out.Reason,
	}); err != nil {
		s.log.Warn("access.submit.relay.fail", "request_id", out.ID, "err", err)
	}

	s.publisher.Publish(realtime.TypeAccessRequestSubmitted, RequestEvent{
		RequestID: out.ID,
		Email:     out.Email,
		Name:      out.Name(),
		Status:    out.Status,
		At:        out.CreatedAt,
	})
	return out, nil
}

// Approve provisions a user and profile from a pending request in one
// transaction. The password is hashed before the transaction opens.
//
// Errors come in a fixed order: a missing request, then a request that is no
// longer pending, then username and password problems. The store re-checks
// the status inside its transaction.
func (s *Service) Approve(ctx context.Context, in ApproveInput) (identity.User, error) {
	const op = "access.Approve"

	rec, err := s.processRecord(op, in.RequestID, in.AdminID, in.Notes)
	if err != nil {
		return identity.User{}, err
	}
	current, err := s.store.Get(ctx, rec.RequestID)
	if err != nil {
		return identity.User{}, identity.StoreFailure(op, err)
	}
	if current.Status != StatusPending {
		return identity.User{}, notPending(op, current.Status)
	}

	fields := map[string]string{}
	if !identity.ValidUsername(in.Username) {
		fields["username"] = "username must be 3-31 characters of a-z, 0-9, _ or -"
	}
	if err := s.passwords.Validate(in.Password); err != nil {
		fields["password"] = password.Describe(err)
	}
	if len(fields) > 0 {
		return identity.User{}, identity.ValidationError{Op: op, Fields: fields}
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return identity.User{}, err
	}

	req, user, err := s.store.Approve(ctx, ApproveRecord{
		ProcessRecord: rec,
		Username:      in.Username,
		PasswordHash:  hash,
	})
	if err != nil {
		s.log.Info("access.approve.fail", "request_id", rec.RequestID, "err", err)
		return identity.User{}, identity.StoreFailure(op, err)
	}

	metrics.AccessRequests.WithLabelValues("approved").Inc()
	s.log.Info("access.approve.ok", "request_id", req.ID, "user_id", user.ID, "admin_id", rec.AdminID)

	s.publisher.Publish(realtime.TypeAccessRequestApproved, RequestEvent{
		RequestID:   req.ID,
		Email:       req.Email,
		Name:        req.Name(),
		Status:      req.Status,
		UserID:      user.ID,
		Username:    user.Username,
		ProcessedBy: rec.AdminID,
		At:          rec.Now,
	})
	return user, nil
}

// Reject marks a pending request rejected. No account is created.
func (s *Service) Reject(ctx context.Context, in RejectInput) (Request, error) {
	const op = "access.Reject"

	rec, err := s.processRecord(op, in.RequestID, in.AdminID, in.Notes)
	if err != nil {
		return Request{}, err
	}

	req, err := s.store.Reject(ctx, rec)
	if err != nil {
		s.log.Info("access.reject.fail", "request_id", rec.RequestID, "err", err)
		return Request{}, identity.StoreFailure(op, err)
	}

	metrics.AccessRequests.WithLabelValues("rejected").Inc()
	s.log.Info("access.reject.ok", "request_id", req.ID, "admin_id", rec.AdminID)

	s.publisher.Publish(realtime.TypeAccessRequestRejected, RequestEvent{
		RequestID:   req.ID,
		Email:       req.Email,
		Name:        req.Name(),
		Status:      req.Status,
		ProcessedBy: rec.AdminID,
		At:          rec.Now,
	})
	return req, nil
}

// Get loads one request.
func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	const op = "access.Get"
	if !ids.IsUUID(id) {
		return Request{}, identity.NotFoundError{Op: op, Resource: "access_request"}
	}
	r, err := s.store.Get(ctx, id)
	return r, identity.StoreFailure(op, err)
}

// ListPending returns pending requests, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]Request, error) {
	return s.List(ctx, StatusPending)
}

// List returns requests in status, or every request when status is empty.
func (s *Service) List(ctx context.Context, status Status) ([]Request, error) {
	const op = "access.List"
	if status != "" && !status.Valid() {
		return nil, identity.Invalid(op, "status", "unknown status")
	}
	out, err := s.store.List(ctx, status)
	return out, identity.StoreFailure(op, err)
}

// CountPending feeds the admin summary.
func (s *Service) CountPending(ctx context.Context) (int, error) {
	n, err := s.store.CountPending(ctx)
	return n, identity.StoreFailure("access.CountPending", err)
}

func (s *Service) processRecord(op, requestID, adminID, notes string) (ProcessRecord, error) {
	requestID = strings.TrimSpace(requestID)
	if !ids.IsUUID(requestID) {
		return ProcessRecord{}, identity.NotFoundError{Op: op, Resource: "access_request"}
	}
	if strings.TrimSpace(adminID) == "" {
		return ProcessRecord{}, identity.OpError{Op: op, Kind: identity.ErrUnauthorized, Msg: "missing administrator"}
	}

	rec := ProcessRecord{RequestID: requestID, AdminID: adminID, Now: s.now()}
	if n := strings.TrimSpace(notes); n != "" {
		if len(n) > maxNotesLen {
			return ProcessRecord{}, identity.Invalid(op, "notes", "notes are too long")
		}
		rec.Notes = &n
	}
	return rec, nil
}
