// Package config provides unified configuration for the httpauth server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (HTTPAUTH_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the httpauth server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Basic         BasicConfig         `yaml:"basic"`
	Digest        DigestConfig        `yaml:"digest"`
	Token         TokenConfig         `yaml:"token"`
	UserStore     string              `yaml:"user_store"` // "static" or "postgres", default: "static"
	Users         []UserConfig        `yaml:"users"`
	Session       SessionConfig       `yaml:"session"`
	RateLimit     RateLimitConfig     `yaml:"ratelimit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 10s
	Bypass          []string      `yaml:"bypass"`           // default: /healthz, /readyz, /metrics
}

// BasicConfig holds Basic authentication settings.
type BasicConfig struct {
	Enabled      bool   `yaml:"enabled"`       // default: true
	Realm        string `yaml:"realm"`         // default: "Authentication Required"
	PasswordHash string `yaml:"password_hash"` // "plain", "sha256" or "bcrypt", default: "plain"
}

// DigestConfig holds Digest authentication settings.
type DigestConfig struct {
	Enabled       bool          `yaml:"enabled"`         // default: true
	Realm         string        `yaml:"realm"`           // default: "Authentication Required"
	Algorithm     string        `yaml:"algorithm"`       // "MD5" or "SHA-256", default: "MD5"
	Qop           bool          `yaml:"qop"`             // advertise qop="auth"
	HA1Passwords  bool          `yaml:"ha1_passwords"`   // stored secrets are HA1 values
	HA1File       string        `yaml:"ha1_file"`        // htdigest file, implies ha1_passwords
	SessionCookie string        `yaml:"session_cookie"`  // empty keys nonces by client address
	NonceTTL      time.Duration `yaml:"nonce_ttl"`       // default: 5m
	OneTimeNonces bool          `yaml:"one_time_nonces"` // consume the nonce after each successful response
}

// TokenConfig holds token authentication settings.
type TokenConfig struct {
	Enabled  bool           `yaml:"enabled"`  // default: false
	Scheme   string         `yaml:"scheme"`   // default: "Bearer"
	Realm    string         `yaml:"realm"`    // default: "Authentication Required"
	Header   string         `yaml:"header"`   // custom token header, empty reads Authorization
	Verifier string         `yaml:"verifier"` // "apikey", "jwt" or "noop", default: "apikey"
	APIKeys  []APIKeyConfig `yaml:"api_keys"` // entries for verifier=apikey
	JWT      JWTConfig      `yaml:"jwt"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string   `yaml:"key" json:"key"`
	KeyFile     string   `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string   `yaml:"subject" json:"subject"`
	ServiceTier string   `yaml:"service_tier" json:"service_tier"`
	Scopes      []string `yaml:"scopes" json:"scopes"`
}

// JWTConfig holds JWT verifier settings.
type JWTConfig struct {
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	JWKSURL        string        `yaml:"jwks_url"`
	HMACSecret     string        `yaml:"hmac_secret"`
	HMACSecretFile string        `yaml:"hmac_secret_file"` // _file variant for hmac_secret
	UserClaim      string        `yaml:"user_claim"`       // default: "sub"
	TierClaim      string        `yaml:"tier_claim"`       // default: "tier"
	ScopesClaim    string        `yaml:"scopes_claim"`     // default: "scope"
	CacheTTL       time.Duration `yaml:"cache_ttl"`        // default: 1h
}

// UserConfig describes an entry of the static user table.
type UserConfig struct {
	Username     string   `yaml:"username" json:"username"`
	Password     string   `yaml:"password" json:"password"`
	PasswordFile string   `yaml:"password_file" json:"password_file"` // _file variant for password
	Roles        []string `yaml:"roles" json:"roles"`
	ServiceTier  string   `yaml:"service_tier" json:"service_tier"`
}

// SessionConfig selects where Digest nonces and opaque values are kept.
type SessionConfig struct {
	Backend  string         `yaml:"backend"`  // "memory", "redis" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for the memory backend, default: 10000
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"` // _file variant for password
	DB           int    `yaml:"db"`
	KeyPrefix    string `yaml:"key_prefix"` // default: "httpauth:session:"
}

// PostgresConfig holds PostgreSQL settings, shared by the session backend
// and the postgres user store.
type PostgresConfig struct {
	DSN            string        `yaml:"dsn"`
	DSNFile        string        `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32         `yaml:"max_conns"`        // default: 10
	MigrateOnStart bool          `yaml:"migrate_on_start"` // default: false
	PurgeInterval  time.Duration `yaml:"purge_interval"`   // default: 5m
}

// RateLimitConfig holds per-tier request limits.
type RateLimitConfig struct {
	Enabled         bool           `yaml:"enabled"`          // default: false
	Window          time.Duration  `yaml:"window"`           // default: 1m
	DefaultRequests int            `yaml:"default_requests"` // default: 600
	Tiers           map[string]int `yaml:"tiers"`            // tier name to requests per window
}

// ObservabilityConfig holds monitoring and logging settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds slog handler settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "trace", "debug", "info", "warn" or "error", default: "info"
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories, see pkg/debug
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Bypass:          []string{"/healthz", "/readyz", "/metrics"},
		},
		Basic: BasicConfig{
			Enabled:      true,
			Realm:        "Authentication Required",
			PasswordHash: "plain",
		},
		Digest: DigestConfig{
			Enabled:   true,
			Realm:     "Authentication Required",
			Algorithm: "MD5",
			NonceTTL:  5 * time.Minute,
		},
		Token: TokenConfig{
			Scheme:   "Bearer",
			Realm:    "Authentication Required",
			Verifier: "apikey",
			JWT: JWTConfig{
				UserClaim:   "sub",
				TierClaim:   "tier",
				ScopesClaim: "scope",
				CacheTTL:    time.Hour,
			},
		},
		UserStore: "static",
		Session: SessionConfig{
			Backend: "memory",
			MaxSize: 10000,
			Redis: RedisConfig{
				KeyPrefix: "httpauth:session:",
			},
			Postgres: PostgresConfig{
				MaxConns:      10,
				PurgeInterval: 5 * time.Minute,
			},
		},
		RateLimit: RateLimitConfig{
			Window:          time.Minute,
			DefaultRequests: 600,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}
