package realtime

import (
	"time"

	"clubhouse/cmd/identity/ids"
)

// NewClientID returns a ULID naming one feed connection in logs.
func NewClientID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEventID returns a ULID, so event ids sort by publish time.
func NewEventID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
