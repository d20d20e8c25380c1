package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/httpauth/pkg/session"
)

func TestSetAndGet(t *testing.T) {
	s := New(0)
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
}

func TestGetNotFound(t *testing.T) {
	s := New(0)
	_, err := s.Get(context.Background(), "10.0.0.1", "auth_nonce")
	if !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetReplaces(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	s.Set(ctx, "sid", "auth_nonce", "first", 0)
	s.Set(ctx, "sid", "auth_nonce", "second", 0)

	got, err := s.Get(ctx, "sid", "auth_nonce")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "second" {
		t.Errorf("Get = %q, want %q", got, "second")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestKeysAndSessionsAreIsolated(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	s.Set(ctx, "a", "auth_nonce", "n-a", 0)
	s.Set(ctx, "a", "auth_opaque", "o-a", 0)
	s.Set(ctx, "b", "auth_nonce", "n-b", 0)

	tests := []struct {
		sid, key, want string
	}{
		{"a", "auth_nonce", "n-a"},
		{"a", "auth_opaque", "o-a"},
		{"b", "auth_nonce", "n-b"},
	}
	for _, tt := range tests {
		got, err := s.Get(ctx, tt.sid, tt.key)
		if err != nil {
			t.Fatalf("Get(%q, %q) failed: %v", tt.sid, tt.key, err)
		}
		if got != tt.want {
			t.Errorf("Get(%q, %q) = %q, want %q", tt.sid, tt.key, got, tt.want)
		}
	}

	if _, err := s.Get(ctx, "b", "auth_opaque"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unset key, got %v", err)
	}
}

func TestExpiry(t *testing.T) {
	s := New(0)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	s.Set(ctx, "sid", "auth_nonce", "abc", time.Minute)

	if _, err := s.Get(ctx, "sid", "auth_nonce"); err != nil {
		t.Fatalf("expected value before expiry, got %v", err)
	}

	now = now.Add(time.Minute)
	if _, err := s.Get(ctx, "sid", "auth_nonce"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expired value not collected, Len = %d", s.Len())
	}
}

func TestDelete(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	s.Set(ctx, "sid", "auth_nonce", "abc", 0)
	if err := s.Delete(ctx, "sid", "auth_nonce"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "sid", "auth_nonce"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	if err := s.Delete(ctx, "sid", "missing"); err != nil {
		t.Errorf("deleting a missing value should succeed, got %v", err)
	}
}

func TestLRUEviction(t *testing.T) {
	s := New(3)
	ctx := context.Background()

	s.Set(ctx, "a", "k", "1", 0)
	s.Set(ctx, "b", "k", "2", 0)
	s.Set(ctx, "c", "k", "3", 0)

	// Touch a so b becomes the least recently used.
	if _, err := s.Get(ctx, "a", "k"); err != nil {
		t.Fatalf("expected a to exist, got %v", err)
	}

	s.Set(ctx, "d", "k", "4", 0)

	if _, err := s.Get(ctx, "b", "k"); !errors.Is(err, session.ErrNotFound) {
		t.Error("expected b to be evicted")
	}
	for _, sid := range []string{"a", "c", "d"} {
		if _, err := s.Get(ctx, sid, "k"); err != nil {
			t.Errorf("expected %s to exist after eviction, got %v", sid, err)
		}
	}
}

func TestLRUEviction_Unlimited(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		s.Set(ctx, fmt.Sprintf("sid-%d", i), "k", "v", 0)
	}

	if s.Len() != 100 {
		t.Errorf("expected 100 entries, got %d", s.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New(50)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := fmt.Sprintf("sid-%d", i)
			for j := 0; j < 100; j++ {
				s.Set(ctx, sid, "auth_nonce", fmt.Sprint(j), 0)
				s.Get(ctx, sid, "auth_nonce")
			}
		}(i)
	}
	wg.Wait()

	if s.Len() > 50 {
		t.Errorf("Len = %d, exceeds max size 50", s.Len())
	}
}
