// Package dedupe records which (handler, event) pairs have already been
// processed so redelivered events are not handled twice.
package dedupe

import (
	"context"
	"time"
)

// DefaultTTL is how long a processed key is remembered.
const DefaultTTL = 24 * time.Hour

// Store remembers processed keys.
type Store interface {
	// Seen reports whether key was marked and has not expired.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark records key as processed.
	Mark(ctx context.Context, key string) error
}

// Key builds the dedupe key for a handler and an event id.
func Key(handler, eventID string) string {
	return handler + ":" + eventID
}
