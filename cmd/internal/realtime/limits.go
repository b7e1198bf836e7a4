package realtime

import "time"

const (
	// Admins only send pings, so inbound frames stay small.
	maxFrameBytes = 4 << 10

	defaultSendQueue = 64
	minSendQueue     = 8

	// Consecutive full-queue drops before a client is disconnected.
	maxDroppedEvents = 16
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	writeTimeout = 5 * time.Second
	closeGrace   = 1 * time.Second

	// Inbound frames per window.
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
