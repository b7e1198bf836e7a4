package realtime

import (
	"sync"
	"sync/atomic"
)

// Client is one connected administrator.
//
// Send is never closed by the server so a concurrent Publish cannot panic;
// done signals the connection goroutines instead. Close is idempotent.
type Client struct {
	ID     string
	UserID string
	Send   chan Event

	done      chan struct{}
	closeOnce sync.Once
	revoked   atomic.Bool
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id, userID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueue
	}
	return &Client{
		ID:     id,
		UserID: userID,
		Send:   make(chan Event, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Revoke closes the client because its user lost feed access.
func (c *Client) Revoke() {
	if c == nil {
		return
	}
	c.revoked.Store(true)
	c.Close()
}

// Revoked reports whether the client was closed by Revoke.
func (c *Client) Revoked() bool { return c != nil && c.revoked.Load() }

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
