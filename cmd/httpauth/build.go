package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/httpauth/pkg/auth"
	"github.com/rhuss/httpauth/pkg/auth/apikey"
	"github.com/rhuss/httpauth/pkg/auth/htdigest"
	"github.com/rhuss/httpauth/pkg/auth/jwt"
	"github.com/rhuss/httpauth/pkg/auth/noop"
	"github.com/rhuss/httpauth/pkg/config"
	"github.com/rhuss/httpauth/pkg/debug"
	"github.com/rhuss/httpauth/pkg/session"
	"github.com/rhuss/httpauth/pkg/session/memory"
	"github.com/rhuss/httpauth/pkg/session/postgres"
	redisstore "github.com/rhuss/httpauth/pkg/session/redis"
)

// userStore serves stored secrets, identities and roles.
type userStore interface {
	auth.SecretLookup
	auth.IdentityResolver
	auth.RoleResolver
}

// app holds everything serve builds from the configuration.
type app struct {
	handler    http.Handler
	sessions   session.Store
	pg         *postgres.Store
	htdigest   *htdigest.File
	background []func(ctx context.Context)
	closers    []io.Closer
}

// Close releases stores in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// newLogger builds the process logger from the logging settings and
// enables the configured debug categories.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	debug.Init(cfg.Debug)

	opts := &slog.HandlerOptions{Level: debug.ParseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// buildApp wires stores, authenticators and routes. On error everything
// opened so far is closed.
func buildApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStores(ctx, cfg); err != nil {
		return nil, err
	}

	users, err := a.users(cfg)
	if err != nil {
		return nil, err
	}

	var schemes []*auth.RoleAuthorizer

	if cfg.Basic.Enabled {
		basic, err := auth.NewRoleAuthorizer(newBasic(cfg.Basic, users), users)
		if err != nil {
			return nil, err
		}
		schemes = append(schemes, basic)
	}

	if cfg.Digest.Enabled {
		digest, err := a.newDigest(cfg.Digest, users)
		if err != nil {
			return nil, err
		}
		authz, err := auth.NewRoleAuthorizer(digest, users)
		if err != nil {
			return nil, err
		}
		schemes = append(schemes, authz)
	}

	if cfg.Token.Enabled {
		token, err := newToken(cfg.Token)
		if err != nil {
			return nil, err
		}
		authz, err := auth.NewRoleAuthorizer(token, auth.ScopeRoles)
		if err != nil {
			return nil, err
		}
		schemes = append(schemes, authz)
	}

	var limiter auth.RateLimiter
	if cfg.RateLimit.Enabled {
		tiers := make(map[string]auth.TierConfig, len(cfg.RateLimit.Tiers))
		for name, n := range cfg.RateLimit.Tiers {
			tiers[name] = auth.TierConfig{RequestsPerWindow: n}
		}
		limiter = auth.NewInProcessLimiter(tiers, cfg.RateLimit.DefaultRequests, cfg.RateLimit.Window)
	}

	a.handler, err = a.routes(cfg, schemes, limiter)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// openStores opens the session backend and, when users live in postgres,
// the user table. Both share one pool when both use postgres.
func (a *app) openStores(ctx context.Context, cfg *config.Config) error {
	if cfg.Session.Backend == "postgres" || cfg.UserStore == "postgres" {
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Session.Postgres.DSN,
			MaxConns:       cfg.Session.Postgres.MaxConns,
			MigrateOnStart: cfg.Session.Postgres.MigrateOnStart,
		})
		if err != nil {
			return fmt.Errorf("opening postgres: %w", err)
		}
		a.pg = pg
		a.closers = append(a.closers, pg)

		if cfg.Session.Backend == "postgres" && cfg.Session.Postgres.PurgeInterval > 0 {
			a.background = append(a.background, func(ctx context.Context) {
				purgeLoop(ctx, pg, cfg.Session.Postgres.PurgeInterval)
			})
		}
	}

	switch cfg.Session.Backend {
	case "memory":
		a.sessions = memory.New(cfg.Session.MaxSize)
	case "redis":
		store, err := redisstore.Dial(ctx, cfg.Session.Redis.Addr, cfg.Session.Redis.Password,
			cfg.Session.Redis.DB, cfg.Session.Redis.KeyPrefix)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		a.sessions = store
	case "postgres":
		a.sessions = a.pg
		return nil
	default:
		return fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
	a.closers = append(a.closers, a.sessions)
	return nil
}

func (a *app) users(cfg *config.Config) (userStore, error) {
	if cfg.UserStore == "postgres" {
		return a.pg, nil
	}
	users := make(auth.StaticUsers, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Username] = auth.User{
			Secret:      u.Password,
			Roles:       u.Roles,
			ServiceTier: u.ServiceTier,
		}
	}
	return users, nil
}

func newBasic(cfg config.BasicConfig, users userStore) *auth.Basic {
	opts := []auth.Option{
		auth.WithRealm(cfg.Realm),
		auth.WithSecretLookup(users),
		auth.WithIdentityResolver(users),
	}
	switch cfg.PasswordHash {
	case "sha256":
		opts = append(opts, auth.WithPasswordHasher(auth.SHA256Hasher))
	case "bcrypt":
		opts = append(opts, auth.WithPasswordVerifier(auth.BcryptVerifier{Lookup: users}))
	}
	return auth.NewBasic(opts...)
}

func (a *app) newDigest(cfg config.DigestConfig, users userStore) (*auth.Digest, error) {
	var sessionID auth.SessionIDFunc
	if cfg.SessionCookie != "" {
		sessionID = auth.CookieSession(cfg.SessionCookie)
	}

	opts := []auth.Option{
		auth.WithRealm(cfg.Realm),
		auth.WithAlgorithm(auth.Algorithm(strings.ToUpper(cfg.Algorithm))),
		auth.WithNonceSource(auth.NewSessionNonces(a.sessions, auth.NonceKey, sessionID, cfg.NonceTTL)),
		auth.WithOpaqueSource(auth.NewSessionNonces(a.sessions, auth.OpaqueKey, sessionID, cfg.NonceTTL)),
		auth.WithIdentityResolver(users),
	}
	if cfg.Qop {
		opts = append(opts, auth.WithQop())
	}
	if cfg.OneTimeNonces {
		opts = append(opts, auth.WithOneTimeNonces())
	}

	var lookup auth.SecretLookup = users
	if cfg.HA1File != "" {
		f, err := htdigest.Load(cfg.HA1File, cfg.Realm)
		if err != nil {
			return nil, fmt.Errorf("loading digest.ha1_file: %w", err)
		}
		a.htdigest = f
		a.background = append(a.background, func(ctx context.Context) {
			if err := f.Watch(ctx); err != nil {
				slog.Warn("htdigest watch stopped", "path", cfg.HA1File, "error", err)
			}
		})
		lookup = f
	}
	opts = append(opts, auth.WithSecretLookup(lookup))
	if cfg.HA1Passwords || cfg.HA1File != "" {
		opts = append(opts, auth.WithHA1Passwords())
	}

	return auth.NewDigest(opts...), nil
}

func newToken(cfg config.TokenConfig) (*auth.Token, error) {
	var verifier auth.TokenVerifier
	switch cfg.Verifier {
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					ServiceTier: k.ServiceTier,
					Scopes:      k.Scopes,
				},
			})
		}
		verifier = apikey.New(entries)
	case "jwt":
		v, err := jwt.New(jwt.Config{
			Issuer:      cfg.JWT.Issuer,
			Audience:    cfg.JWT.Audience,
			JWKSURL:     cfg.JWT.JWKSURL,
			HMACSecret:  []byte(cfg.JWT.HMACSecret),
			UserClaim:   cfg.JWT.UserClaim,
			TierClaim:   cfg.JWT.TierClaim,
			ScopesClaim: cfg.JWT.ScopesClaim,
			CacheTTL:    cfg.JWT.CacheTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("creating jwt verifier: %w", err)
		}
		verifier = v
	case "noop":
		slog.Warn("token verifier noop accepts every token")
		verifier = noop.Verifier{}
	default:
		return nil, fmt.Errorf("unknown token verifier %q", cfg.Verifier)
	}

	return auth.NewToken(
		auth.WithScheme(cfg.Scheme),
		auth.WithRealm(cfg.Realm),
		auth.WithTokenHeader(cfg.Header),
		auth.WithTokenVerifier(verifier),
	), nil
}

// routes mounts one guarded endpoint per enabled scheme, a multi-scheme
// endpoint at / and an admin endpoint requiring the admin role.
func (a *app) routes(cfg *config.Config, schemes []*auth.RoleAuthorizer, limiter auth.RateLimiter) (http.Handler, error) {
	common := []auth.GuardOption{auth.WithBypass(bypassPaths(cfg)...)}
	if limiter != nil {
		common = append(common, auth.WithRateLimiter(limiter))
	}

	mux := http.NewServeMux()
	for _, s := range schemes {
		g, err := auth.NewGuard(s, common...)
		if err != nil {
			return nil, err
		}
		prefix := "/" + strings.ToLower(s.Scheme()) + "/"
		mux.Handle(prefix, g.HandlerFunc(whoami))
	}

	authenticators := make([]auth.Authenticator, 0, len(schemes))
	for _, s := range schemes {
		authenticators = append(authenticators, s)
	}
	multi, err := auth.NewMultiRoleAuth(authenticators[0], authenticators[1:]...)
	if err != nil {
		return nil, err
	}

	g, err := auth.NewGuard(multi, common...)
	if err != nil {
		return nil, err
	}
	mux.Handle("/", g.HandlerFunc(whoami))

	admin, err := auth.NewGuard(multi, append(common, auth.WithRoles("admin"))...)
	if err != nil {
		return nil, err
	}
	mux.Handle("/admin/", admin.HandlerFunc(whoami))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/readyz", a.ready)
	if cfg.Observability.Metrics.Enabled {
		mux.Handle(cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	return mux, nil
}

// bypassPaths drops the metrics path from the bypass list when no metrics
// endpoint is mounted, so it stays behind authentication.
func bypassPaths(cfg *config.Config) []string {
	paths := make([]string, 0, len(cfg.Server.Bypass))
	for _, p := range cfg.Server.Bypass {
		if p == cfg.Observability.Metrics.Path && !cfg.Observability.Metrics.Enabled {
			continue
		}
		paths = append(paths, p)
	}
	return paths
}

func (a *app) ready(w http.ResponseWriter, r *http.Request) {
	if a.pg != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.pg.HealthCheck(ctx); err != nil {
			slog.Warn("readiness check failed", "error", err)
			http.Error(w, "postgres unavailable\n", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// whoami reports the authenticated identity. Requests the guard let
// through unauthenticated (OPTIONS, bypass paths) get an empty 204.
func whoami(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	body := struct {
		Subject     string   `json:"subject"`
		ServiceTier string   `json:"service_tier,omitempty"`
		Scopes      []string `json:"scopes,omitempty"`
	}{
		Subject:     id.Subject,
		ServiceTier: id.ServiceTier,
		Scopes:      id.Scopes,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// purgeLoop deletes expired session values until ctx is done.
func purgeLoop(ctx context.Context, pg *postgres.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pg.PurgeExpired(ctx)
			if err != nil {
				slog.Warn("purging expired session values failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("purged expired session values", "count", n)
			}
		}
	}
}
