package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if !c.Basic.Enabled && !c.Digest.Enabled && !c.Token.Enabled {
		errs = append(errs, errors.New("at least one of basic, digest or token must be enabled"))
	}

	switch c.Basic.PasswordHash {
	case "plain", "sha256", "bcrypt":
	default:
		errs = append(errs, fmt.Errorf("basic.password_hash must be \"plain\", \"sha256\" or \"bcrypt\", got %q", c.Basic.PasswordHash))
	}

	switch strings.ToUpper(c.Digest.Algorithm) {
	case "MD5", "SHA-256":
	default:
		errs = append(errs, fmt.Errorf("digest.algorithm must be \"MD5\" or \"SHA-256\", got %q", c.Digest.Algorithm))
	}

	if c.Token.Enabled {
		if c.Token.Scheme == "" {
			errs = append(errs, errors.New("token.scheme is required"))
		}
		switch c.Token.Verifier {
		case "apikey":
			if len(c.Token.APIKeys) == 0 {
				errs = append(errs, errors.New("token.api_keys is required when token.verifier is \"apikey\""))
			}
		case "jwt":
			if c.Token.JWT.JWKSURL == "" && c.Token.JWT.HMACSecret == "" {
				errs = append(errs, errors.New("token.jwt.jwks_url or token.jwt.hmac_secret is required when token.verifier is \"jwt\""))
			}
		case "noop":
		default:
			errs = append(errs, fmt.Errorf("token.verifier must be \"apikey\", \"jwt\" or \"noop\", got %q", c.Token.Verifier))
		}
		if c.Basic.Enabled && c.Token.Scheme == "Basic" || c.Digest.Enabled && c.Token.Scheme == "Digest" {
			errs = append(errs, fmt.Errorf("token.scheme %q collides with an enabled scheme", c.Token.Scheme))
		}
	}

	switch c.UserStore {
	case "static":
		seen := make(map[string]bool, len(c.Users))
		for i, u := range c.Users {
			if u.Username == "" {
				errs = append(errs, fmt.Errorf("users[%d].username is required", i))
				continue
			}
			if seen[u.Username] {
				errs = append(errs, fmt.Errorf("users[%d].username %q is duplicated", i, u.Username))
			}
			seen[u.Username] = true
		}
	case "postgres":
		if c.Session.Postgres.DSN == "" {
			errs = append(errs, errors.New("session.postgres.dsn or session.postgres.dsn_file is required when user_store is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("user_store must be \"static\" or \"postgres\", got %q", c.UserStore))
	}

	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.Redis.Addr == "" {
			errs = append(errs, errors.New("session.redis.addr is required when session.backend is \"redis\""))
		}
	case "postgres":
		if c.Session.Postgres.DSN == "" {
			errs = append(errs, errors.New("session.postgres.dsn or session.postgres.dsn_file is required when session.backend is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("session.backend must be \"memory\", \"redis\" or \"postgres\", got %q", c.Session.Backend))
	}

	if c.RateLimit.Enabled && c.RateLimit.Window < 0 {
		errs = append(errs, fmt.Errorf("ratelimit.window must not be negative, got %s", c.RateLimit.Window))
	}

	switch strings.ToLower(c.Observability.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("observability.logging.level must be trace, debug, info, warn or error, got %q", c.Observability.Logging.Level))
	}
	switch c.Observability.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("observability.logging.format must be \"text\" or \"json\", got %q", c.Observability.Logging.Format))
	}

	return errors.Join(errs...)
}
