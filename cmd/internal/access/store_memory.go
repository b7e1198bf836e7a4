package access

import (
	"context"
	"sort"
	"sync"

	"clubhouse/cmd/identity"
)

// MemoryStore keeps requests in process and provisions users through an
// identity.MemoryStore. It backs tests and DB-less development runs.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]Request
	users    *identity.MemoryStore
}

// NewMemoryStore constructs a MemoryStore sharing users with the identity store.
func NewMemoryStore(users *identity.MemoryStore) *MemoryStore {
	if users == nil {
		users = identity.NewMemoryStore()
	}
	return &MemoryStore{requests: make(map[string]Request), users: users}
}

// Insert stores a pending request.
func (m *MemoryStore) Insert(ctx context.Context, r Request) (Request, error) {
	const op = "access.Insert"
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.users.HasEmail(r.EmailNorm) {
		return Request{}, identity.ConflictError{Op: op, Field: FieldEmail}
	}
	for _, existing := range m.requests {
		if existing.EmailNorm == r.EmailNorm && existing.Status == StatusPending {
			return Request{}, identity.ConflictError{Op: op, Field: FieldPendingRequest}
		}
	}
	r.Status = StatusPending
	r.ProcessedAt, r.ProcessedBy, r.Notes = nil, nil, nil
	m.requests[r.ID] = r
	return r, nil
}

// Approve transitions the request and creates the user and profile.
// The request lock is held across user creation, so a failed insert leaves
// the request pending.
func (m *MemoryStore) Approve(ctx context.Context, in ApproveRecord) (Request, identity.User, error) {
	const op = "access.Approve"
	if err := ctx.Err(); err != nil {
		return Request{}, identity.User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.pendingLocked(op, in.RequestID)
	if err != nil {
		return Request{}, identity.User{}, err
	}

	u, _, err := m.users.CreateUserWithProfile(ctx, identity.CreateUserInput{
		Username:     in.Username,
		Email:        r.Email,
		PasswordHash: in.PasswordHash,
		Now:          in.Now,
	}, profileFor(r, "", in.Now))
	if err != nil {
		return Request{}, identity.User{}, err
	}

	r = applyDecision(r, in.ProcessRecord, StatusApproved)
	m.requests[r.ID] = r
	return r, u, nil
}

// Reject transitions the request to rejected.
func (m *MemoryStore) Reject(ctx context.Context, in ProcessRecord) (Request, error) {
	const op = "access.Reject"
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.pendingLocked(op, in.RequestID)
	if err != nil {
		return Request{}, err
	}
	r = applyDecision(r, in, StatusRejected)
	m.requests[r.ID] = r
	return r, nil
}

// Get loads a request.
func (m *MemoryStore) Get(_ context.Context, id string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return Request{}, identity.NotFoundError{Op: "access.Get", Resource: "access_request"}
	}
	return r, nil
}

// List returns requests oldest first.
func (m *MemoryStore) List(_ context.Context, status Status) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Request
	for _, r := range m.requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CountPending counts pending requests.
func (m *MemoryStore) CountPending(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) pendingLocked(op, id string) (Request, error) {
	r, ok := m.requests[id]
	if !ok {
		return Request{}, identity.NotFoundError{Op: op, Resource: "access_request"}
	}
	if r.Status != StatusPending {
		return Request{}, notPending(op, r.Status)
	}
	return r, nil
}

func applyDecision(r Request, in ProcessRecord, to Status) Request {
	at := in.Now
	by := in.AdminID
	r.Status = to
	r.ProcessedAt = &at
	r.ProcessedBy = &by
	r.Notes = in.Notes
	return r
}
