package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, HTTPAUTH_CONFIG env, ./config.yaml, /etc/httpauth/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. HTTPAUTH_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/httpauth/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("HTTPAUTH_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/httpauth/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps HTTPAUTH_* environment variables to config fields.
// Malformed numeric, boolean or JSON values are errors rather than being
// silently ignored.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"HTTPAUTH_USER_STORE":       &cfg.UserStore,
		"HTTPAUTH_BASIC_REALM":      &cfg.Basic.Realm,
		"HTTPAUTH_PASSWORD_HASH":    &cfg.Basic.PasswordHash,
		"HTTPAUTH_DIGEST_REALM":     &cfg.Digest.Realm,
		"HTTPAUTH_DIGEST_ALGORITHM": &cfg.Digest.Algorithm,
		"HTTPAUTH_HA1_FILE":         &cfg.Digest.HA1File,
		"HTTPAUTH_TOKEN_VERIFIER":   &cfg.Token.Verifier,
		"HTTPAUTH_TOKEN_HEADER":     &cfg.Token.Header,
		"HTTPAUTH_JWT_ISSUER":       &cfg.Token.JWT.Issuer,
		"HTTPAUTH_JWT_AUDIENCE":     &cfg.Token.JWT.Audience,
		"HTTPAUTH_JWKS_URL":         &cfg.Token.JWT.JWKSURL,
		"HTTPAUTH_JWT_HMAC_SECRET":  &cfg.Token.JWT.HMACSecret,
		"HTTPAUTH_SESSION_BACKEND":  &cfg.Session.Backend,
		"HTTPAUTH_REDIS_ADDR":       &cfg.Session.Redis.Addr,
		"HTTPAUTH_REDIS_PASSWORD":   &cfg.Session.Redis.Password,
		"HTTPAUTH_POSTGRES_DSN":     &cfg.Session.Postgres.DSN,
		"HTTPAUTH_LOG_LEVEL":        &cfg.Observability.Logging.Level,
		"HTTPAUTH_LOG_FORMAT":       &cfg.Observability.Logging.Format,
		"HTTPAUTH_LOG_DEBUG":        &cfg.Observability.Logging.Debug,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	// HTTPAUTH_REALM sets every realm at once; the specific variables above
	// win when both are present.
	if v := os.Getenv("HTTPAUTH_REALM"); v != "" {
		if os.Getenv("HTTPAUTH_BASIC_REALM") == "" {
			cfg.Basic.Realm = v
		}
		if os.Getenv("HTTPAUTH_DIGEST_REALM") == "" {
			cfg.Digest.Realm = v
		}
		cfg.Token.Realm = v
	}

	ints := map[string]*int{
		"HTTPAUTH_PORT":         &cfg.Server.Port,
		"HTTPAUTH_SESSION_SIZE": &cfg.Session.MaxSize,
		"HTTPAUTH_REDIS_DB":     &cfg.Session.Redis.DB,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"HTTPAUTH_BASIC_ENABLED":     &cfg.Basic.Enabled,
		"HTTPAUTH_DIGEST_ENABLED":    &cfg.Digest.Enabled,
		"HTTPAUTH_ONE_TIME_NONCES":   &cfg.Digest.OneTimeNonces,
		"HTTPAUTH_TOKEN_ENABLED":     &cfg.Token.Enabled,
		"HTTPAUTH_RATELIMIT_ENABLED": &cfg.RateLimit.Enabled,
		"HTTPAUTH_METRICS_ENABLED":   &cfg.Observability.Metrics.Enabled,
	}
	for name, dst := range bools {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = b
		}
	}

	// HTTPAUTH_USERS: JSON array of user entries.
	if v := os.Getenv("HTTPAUTH_USERS"); v != "" {
		var users []UserConfig
		if err := json.Unmarshal([]byte(v), &users); err != nil {
			return fmt.Errorf("parsing HTTPAUTH_USERS: %w", err)
		}
		cfg.Users = users
	}

	// HTTPAUTH_API_KEYS: JSON array of API key entries.
	if v := os.Getenv("HTTPAUTH_API_KEYS"); v != "" {
		var keys []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			return fmt.Errorf("parsing HTTPAUTH_API_KEYS: %w", err)
		}
		cfg.Token.APIKeys = keys
	}

	return nil
}

// fileRef pairs a _file field with the value field it fills.
type fileRef struct {
	name string
	file string
	dst  *string
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	refs := []fileRef{
		{"token.jwt.hmac_secret_file", cfg.Token.JWT.HMACSecretFile, &cfg.Token.JWT.HMACSecret},
		{"session.redis.password_file", cfg.Session.Redis.PasswordFile, &cfg.Session.Redis.Password},
		{"session.postgres.dsn_file", cfg.Session.Postgres.DSNFile, &cfg.Session.Postgres.DSN},
	}
	for i := range cfg.Token.APIKeys {
		k := &cfg.Token.APIKeys[i]
		refs = append(refs, fileRef{fmt.Sprintf("token.api_keys[%d].key_file", i), k.KeyFile, &k.Key})
	}
	for i := range cfg.Users {
		u := &cfg.Users[i]
		refs = append(refs, fileRef{fmt.Sprintf("users[%d].password_file", i), u.PasswordFile, &u.Password})
	}

	for _, ref := range refs {
		if ref.file == "" || *ref.dst != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.name, err)
		}
		*ref.dst = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
