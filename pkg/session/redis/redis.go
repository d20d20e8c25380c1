// Package redis provides a Redis-backed session.Store, letting several
// server instances share Digest challenge state.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rhuss/httpauth/pkg/observability"
	"github.com/rhuss/httpauth/pkg/session"
)

// DefaultKeyPrefix is prepended to every Redis key.
const DefaultKeyPrefix = "httpauth:session:"

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance. It may be a single node,
	// sentinel or cluster client.
	Client redis.UniversalClient

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "httpauth:session:"
	KeyPrefix string
}

// Store implements session.Store using Redis string keys with native
// expiry.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ session.Store = (*Store)(nil)

// New creates a new Redis-backed store.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Store{client: cfg.Client, keyPrefix: cfg.KeyPrefix}, nil
}

// Dial connects to the Redis server at addr and verifies connectivity.
func Dial(ctx context.Context, addr, password string, db int, keyPrefix string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return New(Config{Client: client, KeyPrefix: keyPrefix})
}

func (s *Store) buildKey(sessionID, key string) string {
	return s.keyPrefix + sessionID + ":" + key
}

// Get returns the value stored under key for the session.
func (s *Store) Get(ctx context.Context, sessionID, key string) (string, error) {
	val, err := s.client.Get(ctx, s.buildKey(sessionID, key)).Result()
	if errors.Is(err, redis.Nil) {
		observability.ObserveSession("redis", "get", nil)
		return "", session.ErrNotFound
	}
	observability.ObserveSession("redis", "get", err)
	if err != nil {
		return "", fmt.Errorf("getting session value: %w", err)
	}
	return val, nil
}

// Set stores value under key for the session. A ttl of zero stores the
// value without expiry.
func (s *Store) Set(ctx context.Context, sessionID, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	err := s.client.Set(ctx, s.buildKey(sessionID, key), value, ttl).Err()
	observability.ObserveSession("redis", "set", err)
	if err != nil {
		return fmt.Errorf("setting session value: %w", err)
	}
	return nil
}

// Delete removes the value. Deleting a missing value is not an error.
func (s *Store) Delete(ctx context.Context, sessionID, key string) error {
	err := s.client.Del(ctx, s.buildKey(sessionID, key)).Err()
	observability.ObserveSession("redis", "delete", err)
	if err != nil {
		return fmt.Errorf("deleting session value: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
