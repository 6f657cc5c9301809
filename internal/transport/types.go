// Package transport defines the delivery boundary: how the bot sends a
// direct message to a user, and how delivery failures are classified.
package transport

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	// KindUnreachable: the user cannot receive direct messages (blocked
	// the bot, deactivated, never started a chat).
	KindUnreachable ErrorKind = "unreachable"
	// KindRateLimited: the platform is throttling sends. The dispatcher
	// backs off the whole batch, not just the one reminder.
	KindRateLimited ErrorKind = "rate_limited"
	KindUnknown     ErrorKind = "unknown"
)

// Error wraps a platform send failure with a coarse kind the dispatcher can
// branch on.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the transport error kind, defaulting to KindUnknown.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// Transport delivers a direct message to a user identified by the raw
// external identifier the repository stores.
type Transport interface {
	SendDirect(ctx context.Context, userID string, text string) error
}
