package session

import (
	"errors"
	"fmt"

	"clubhouse/cmd/identity"
)

var (
	// ErrInvalidSession is returned by Validate for missing, expired, or orphaned sessions.
	// It is an identity.ErrUnauthorized.
	ErrInvalidSession = fmt.Errorf("invalid session: %w", identity.ErrUnauthorized)

	// ErrSessionNotFound is returned by stores when no row matches.
	ErrSessionNotFound = errors.New("session not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)
