package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rhuss/httpauth/pkg/session"
)

// Fixed session keys under which the default sources persist challenge
// values.
const (
	NonceKey  = "auth_nonce"
	OpaqueKey = "auth_opaque"
)

// NonceSource generates and verifies one kind of Digest challenge value
// (nonce or opaque). Verify must compare in constant time.
type NonceSource interface {
	Generate(ctx context.Context, r *http.Request) (string, error)
	Verify(ctx context.Context, r *http.Request, value string) bool
}

// NonceConsumer is implemented by sources that can invalidate the value
// stored for a request's session before it expires.
type NonceConsumer interface {
	Consume(ctx context.Context, r *http.Request) error
}

// SessionIDFunc extracts the id of the client conversation a request
// belongs to. An empty id means no session can be associated.
type SessionIDFunc func(r *http.Request) string

// ClientAddress keys sessions by the client IP address.
func ClientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// CookieSession keys sessions by the value of the named cookie.
func CookieSession(name string) SessionIDFunc {
	return func(r *http.Request) string {
		c, err := r.Cookie(name)
		if err != nil {
			return ""
		}
		return c.Value
	}
}

// RandomToken returns 128 random bits rendered as lowercase hex.
// crypto/rand is safe for concurrent use.
func RandomToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// SessionNonces persists generated values in a session.Store under a fixed
// key, one value per session. Generating replaces the previous value, so a
// stale value stops verifying. Expiry is left to the store via TTL.
type SessionNonces struct {
	store     session.Store
	key       string
	sessionID SessionIDFunc
	ttl       time.Duration
}

var (
	_ NonceSource   = (*SessionNonces)(nil)
	_ NonceConsumer = (*SessionNonces)(nil)
)

// NewSessionNonces creates a source storing values under key. A nil
// sessionID defaults to ClientAddress; a zero ttl lets values live until
// the store evicts them.
func NewSessionNonces(store session.Store, key string, sessionID SessionIDFunc, ttl time.Duration) *SessionNonces {
	if sessionID == nil {
		sessionID = ClientAddress
	}
	return &SessionNonces{store: store, key: key, sessionID: sessionID, ttl: ttl}
}

func (s *SessionNonces) Generate(ctx context.Context, r *http.Request) (string, error) {
	id := s.sessionID(r)
	if id == "" {
		return "", errors.New("no session for request")
	}
	value, err := RandomToken()
	if err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, id, s.key, value, s.ttl); err != nil {
		return "", fmt.Errorf("storing %s: %w", s.key, err)
	}
	return value, nil
}

func (s *SessionNonces) Verify(ctx context.Context, r *http.Request, value string) bool {
	id := s.sessionID(r)
	if id == "" || value == "" {
		return false
	}
	stored, err := s.store.Get(ctx, id, s.key)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			slog.Warn("session lookup failed", "key", s.key, "error", err)
		}
		return false
	}
	return secureEqual(value, stored)
}

// Consume deletes the session's stored value.
func (s *SessionNonces) Consume(ctx context.Context, r *http.Request) error {
	id := s.sessionID(r)
	if id == "" {
		return nil
	}
	if err := s.store.Delete(ctx, id, s.key); err != nil {
		return fmt.Errorf("deleting %s: %w", s.key, err)
	}
	return nil
}
