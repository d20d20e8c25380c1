// Package postgres provides a PostgreSQL-backed session.Store. The same
// database also holds a users table, so the store doubles as the
// auth.SecretLookup and auth.RoleResolver of a deployment.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/httpauth/pkg/auth"
	"github.com/rhuss/httpauth/pkg/observability"
	"github.com/rhuss/httpauth/pkg/session"
)

// Store is a PostgreSQL-backed session store and user table.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ session.Store     = (*Store)(nil)
	_ auth.SecretLookup = (*Store)(nil)
	_ auth.RoleResolver = (*Store)(nil)

	_ auth.IdentityResolver = (*Store)(nil)
)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Get returns the unexpired value stored under key for the session.
func (s *Store) Get(ctx context.Context, sessionID, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM session_values
		WHERE session_id = $1 AND key = $2
		  AND (expires_at IS NULL OR expires_at > now())
	`, sessionID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		observability.ObserveSession("postgres", "get", nil)
		return "", session.ErrNotFound
	}
	observability.ObserveSession("postgres", "get", err)
	if err != nil {
		return "", fmt.Errorf("querying session value: %w", err)
	}
	return value, nil
}

// Set upserts the value. A ttl of zero stores it without expiry.
func (s *Store) Set(ctx context.Context, sessionID, key, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_values (session_id, key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (session_id, key)
		DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()
	`, sessionID, key, value, expiresAt)
	observability.ObserveSession("postgres", "set", err)
	if err != nil {
		return fmt.Errorf("upserting session value: %w", err)
	}
	return nil
}

// Delete removes the value. Deleting a missing value is not an error.
func (s *Store) Delete(ctx context.Context, sessionID, key string) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM session_values WHERE session_id = $1 AND key = $2",
		sessionID, key,
	)
	observability.ObserveSession("postgres", "delete", err)
	if err != nil {
		return fmt.Errorf("deleting session value: %w", err)
	}
	return nil
}

// PurgeExpired deletes expired values and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM session_values WHERE expires_at IS NOT NULL AND expires_at <= now()",
	)
	if err != nil {
		return 0, fmt.Errorf("purging expired session values: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PutUser creates or replaces a user.
func (s *Store) PutUser(ctx context.Context, username string, user auth.User) error {
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (username, secret, roles, service_tier, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (username)
		DO UPDATE SET secret = EXCLUDED.secret, roles = EXCLUDED.roles,
		              service_tier = EXCLUDED.service_tier, updated_at = now()
	`, username, user.Secret, roles, user.ServiceTier)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// DeleteUser removes a user. Returns auth.ErrUnknownUser if it does not exist.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM users WHERE username = $1", username)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUnknownUser
	}
	return nil
}

func (s *Store) user(ctx context.Context, username string) (auth.User, error) {
	var u auth.User
	err := s.pool.QueryRow(ctx,
		"SELECT secret, roles, service_tier FROM users WHERE username = $1",
		username,
	).Scan(&u.Secret, &u.Roles, &u.ServiceTier)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.User{}, auth.ErrUnknownUser
	}
	if err != nil {
		return auth.User{}, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// LookupSecret returns the stored secret for username.
func (s *Store) LookupSecret(ctx context.Context, username string) (string, error) {
	u, err := s.user(ctx, username)
	if err != nil {
		return "", err
	}
	return u.Secret, nil
}

// ResolveIdentity returns an identity carrying the user's service tier.
func (s *Store) ResolveIdentity(ctx context.Context, username string) (*auth.Identity, error) {
	u, err := s.user(ctx, username)
	if err != nil {
		return nil, err
	}
	return &auth.Identity{Subject: username, ServiceTier: u.ServiceTier}, nil
}

// ResolveRoles returns the roles of the identity's subject. Unknown
// subjects hold no roles.
func (s *Store) ResolveRoles(ctx context.Context, id *auth.Identity) ([]string, error) {
	u, err := s.user(ctx, id.Subject)
	if errors.Is(err, auth.ErrUnknownUser) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return slices.Clone(u.Roles), nil
}

// HealthCheck verifies database connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
