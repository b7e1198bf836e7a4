package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Subprotocol is the only WebSocket subprotocol the admin feed speaks.
const Subprotocol = "clubhouse.admin.v1"

// Event types pushed to administrators.
const (
	TypeAccessRequestSubmitted = "access_request.submitted"
	TypeAccessRequestApproved  = "access_request.approved"
	TypeAccessRequestRejected  = "access_request.rejected"
	TypeUserAdminToggled       = "user.admin_toggled"
	TypeUserDeleted            = "user.deleted"

	// Control frames.
	TypeFeedHello = "feed.hello"
	TypeFeedPing  = "feed.ping"
	TypeFeedPong  = "feed.pong"
	TypeFeedError = "feed.error"
)

var publishable = map[string]struct{}{
	TypeAccessRequestSubmitted: {},
	TypeAccessRequestApproved:  {},
	TypeAccessRequestRejected:  {},
	TypeUserAdminToggled:       {},
	TypeUserDeleted:            {},
}

// Event is the wire envelope for every frame on the feed.
type Event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// ErrUnknownEventType is returned by NewEvent for types the feed does not carry.
var ErrUnknownEventType = errors.New("realtime: unknown event type")

// NewEvent marshals payload into an envelope stamped with a ULID and ts.
func NewEvent(typ string, payload any, ts time.Time) (Event, error) {
	if _, ok := publishable[typ]; !ok && !isControl(typ) {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownEventType, typ)
	}
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("realtime: marshal %s payload: %w", typ, err)
	}
	id, err := NewEventID(ts)
	if err != nil {
		return Event{}, err
	}
	return Event{ID: id, Type: typ, TS: ts.UTC(), Payload: raw}, nil
}

// Validate checks an inbound frame.
func (e Event) Validate() error {
	if e.Type == "" {
		return errors.New("missing type")
	}
	if e.Type != TypeFeedPing {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	return nil
}

func isControl(typ string) bool {
	switch typ {
	case TypeFeedHello, TypeFeedPing, TypeFeedPong, TypeFeedError:
		return true
	}
	return false
}

// HelloPayload greets a newly connected administrator.
type HelloPayload struct {
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id"`
}

// ErrorPayload reports a rejected inbound frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
