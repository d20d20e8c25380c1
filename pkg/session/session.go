package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session has no value for a key, or the
// value has expired.
var ErrNotFound = errors.New("session value not found")

// Store keeps string values per (session id, key). Setting a key replaces
// its previous value. A ttl of zero means the value does not expire.
type Store interface {
	Get(ctx context.Context, sessionID, key string) (string, error)
	Set(ctx context.Context, sessionID, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, sessionID, key string) error
	Close() error
}
