// Package memory provides an in-memory session.Store for tests and single
// instance deployments. Values are lost when the process restarts. Optional
// LRU eviction limits memory usage.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rhuss/httpauth/pkg/debug"
	"github.com/rhuss/httpauth/pkg/observability"
	"github.com/rhuss/httpauth/pkg/session"
)

// entry holds a stored value and its metadata.
type entry struct {
	key       string
	value     string
	expiresAt time.Time     // zero = never
	lruElem   *list.Element // position in LRU list
}

// Store is an in-memory session.Store with optional LRU eviction.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
	now     func() time.Time
}

var _ session.Store = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the least recently used value is evicted
// when the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func storeKey(sessionID, key string) string {
	return sessionID + "\x00" + key
}

// Get returns the value stored under key for the session.
func (s *Store) Get(_ context.Context, sessionID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer observability.ObserveSession("memory", "get", nil)

	k := storeKey(sessionID, key)
	e, ok := s.entries[k]
	if !ok {
		return "", session.ErrNotFound
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.remove(e)
		return "", session.ErrNotFound
	}

	s.lruList.MoveToFront(e.lruElem)
	return e.value, nil
}

// Set stores value under key for the session, replacing any previous value.
func (s *Store) Set(_ context.Context, sessionID, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer observability.ObserveSession("memory", "set", nil)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	k := storeKey(sessionID, key)
	if e, ok := s.entries[k]; ok {
		e.value = value
		e.expiresAt = expiresAt
		s.lruList.MoveToFront(e.lruElem)
		return nil
	}

	// Evict if at capacity.
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	e := &entry{key: k, value: value, expiresAt: expiresAt}
	e.lruElem = s.lruList.PushFront(e)
	s.entries[k] = e
	return nil
}

// Delete removes the value. Deleting a missing value is not an error.
func (s *Store) Delete(_ context.Context, sessionID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer observability.ObserveSession("memory", "delete", nil)

	if e, ok := s.entries[storeKey(sessionID, key)]; ok {
		s.remove(e)
	}
	return nil
}

// Len returns the number of stored values, including expired ones not yet
// collected.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// remove must be called with s.mu held.
func (s *Store) remove(e *entry) {
	s.lruList.Remove(e.lruElem)
	delete(s.entries, e.key)
}

// evictOldest removes the least recently used entry.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	s.remove(back.Value.(*entry))
	debug.Log("session", "evicted least recently used value", "backend", "memory", "size", len(s.entries))
}
