package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rhuss/httpauth/pkg/session"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := New(Config{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing client")
	}
}

func TestSetAndGet(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "10.0.0.1", "auth_nonce", "abc", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(ctx, "10.0.0.1", "auth_nonce")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "abc" {
		t.Errorf("Get = %q, want %q", got, "abc")
	}

	if !mr.Exists("httpauth:session:10.0.0.1:auth_nonce") {
		t.Error("expected value under the default key prefix")
	}
}

func TestGetNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "sid", "auth_nonce")
	if !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	s.Set(ctx, "sid", "auth_nonce", "abc", time.Minute)
	if ttl := mr.TTL("httpauth:session:sid:auth_nonce"); ttl != time.Minute {
		t.Errorf("TTL = %v, want %v", ttl, time.Minute)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := s.Get(ctx, "sid", "auth_nonce"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Set(ctx, "sid", "auth_opaque", "xyz", 0)
	if err := s.Delete(ctx, "sid", "auth_opaque"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "sid", "auth_opaque"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUnavailableServer(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	s, err := New(Config{Client: redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	defer s.Close()
	mr.Close()

	_, err = s.Get(context.Background(), "sid", "auth_nonce")
	if err == nil || errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected a connection error, got %v", err)
	}
}
