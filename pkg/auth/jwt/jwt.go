// Package jwt provides a token verifier for JSON Web Tokens. Signatures
// are checked against an RSA JWKS endpoint or, for single-service setups,
// a shared HMAC secret.
//
// Subject, service tier and scopes are read from configurable claims.
package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/httpauth/pkg/auth"
)

// Config holds the JWT verifier configuration.
type Config struct {
	// Issuer is the expected JWT issuer (iss claim). If empty, issuer is not validated.
	Issuer string

	// Audience is the expected JWT audience (aud claim). If empty, audience is not validated.
	Audience string

	// JWKSURL is the URL to fetch the JSON Web Key Set for RSA signature verification.
	JWKSURL string

	// HMACSecret enables HS256/384/512 tokens signed with a shared secret
	// instead of JWKS lookups.
	HMACSecret []byte

	// UserClaim is the JWT claim used as the identity subject. Default: "sub".
	UserClaim string

	// TierClaim is the JWT claim used as the service tier. Default: "tier".
	TierClaim string

	// ScopesClaim is the JWT claim used for authorization scopes. Default: "scope".
	// The value can be a space-separated string or a JSON array.
	ScopesClaim string

	// CacheTTL controls how long JWKS keys are cached. Default: 1 hour.
	CacheTTL time.Duration

	// Leeway tolerates clock skew when checking exp, nbf and iat.
	Leeway time.Duration

	// HTTPClient allows injecting a custom HTTP client (useful for testing).
	// If nil, http.DefaultClient is used.
	HTTPClient *http.Client
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 1 * time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Verifier validates JWTs and maps their claims to an identity.
type Verifier struct {
	config    Config
	jwksCache *jwksCache
}

var _ auth.TokenVerifier = (*Verifier)(nil)

// New creates a JWT verifier. Either JWKSURL or HMACSecret must be set.
func New(cfg Config) (*Verifier, error) {
	if cfg.JWKSURL == "" && len(cfg.HMACSecret) == 0 {
		return nil, errors.New("jwt: one of JWKSURL or HMACSecret is required")
	}
	cfg.applyDefaults()
	return &Verifier{
		config: cfg,
		jwksCache: &jwksCache{
			keys:    make(map[string]*rsa.PublicKey),
			ttl:     cfg.CacheTTL,
			jwksURL: cfg.JWKSURL,
			client:  cfg.HTTPClient,
		},
	}, nil
}

// VerifyToken parses and validates token. Any failure (bad signature,
// expiry, wrong issuer or audience, missing subject) rejects it; details
// are logged at debug level.
func (v *Verifier) VerifyToken(ctx context.Context, tokenStr string) (*auth.Identity, bool) {
	if tokenStr == "" {
		return nil, false
	}

	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (any, error) {
		return v.key(ctx, token)
	}, v.parserOptions()...)
	if err != nil {
		slog.Debug("JWT validation failed", "error", err)
		return nil, false
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return nil, false
	}

	subject := claimString(claims, v.config.UserClaim)
	if subject == "" {
		slog.Debug("JWT missing subject claim", "claim", v.config.UserClaim)
		return nil, false
	}

	identity := &auth.Identity{
		Subject:     subject,
		ServiceTier: claimString(claims, v.config.TierClaim),
		Scopes:      extractScopes(claims, v.config.ScopesClaim),
		Metadata:    make(map[string]string),
	}
	if iss := claimString(claims, "iss"); iss != "" {
		identity.Metadata["issuer"] = iss
	}

	return identity, true
}

// key selects the verification key for token.
func (v *Verifier) key(ctx context.Context, token *jwtlib.Token) (any, error) {
	if len(v.config.HMACSecret) > 0 {
		if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.config.HMACSecret, nil
	}

	if _, ok := token.Method.(*jwtlib.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("token missing kid header")
	}

	key, err := v.jwksCache.getKey(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS key for kid %q: %w", kid, err)
	}
	return key, nil
}

// parserOptions builds JWT parser options based on the configuration.
func (v *Verifier) parserOptions() []jwtlib.ParserOption {
	methods := []string{"RS256", "RS384", "RS512"}
	if len(v.config.HMACSecret) > 0 {
		methods = []string{"HS256", "HS384", "HS512"}
	}

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods(methods),
		jwtlib.WithExpirationRequired(),
	}
	if v.config.Leeway > 0 {
		opts = append(opts, jwtlib.WithLeeway(v.config.Leeway))
	}
	if v.config.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(v.config.Audience))
	}
	return opts
}

// claimString extracts a string value from JWT claims.
// Returns empty string if the claim is missing or not a string.
func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// extractScopes extracts scopes from JWT claims.
// The scope claim can be either a space-separated string or a JSON array.
func extractScopes(claims jwtlib.MapClaims, key string) []string {
	switch val := claims[key].(type) {
	case string:
		parts := strings.Fields(val)
		if len(parts) == 0 {
			return nil
		}
		return parts
	case []any:
		var scopes []string
		for _, item := range val {
			if s, ok := item.(string); ok {
				scopes = append(scopes, s)
			}
		}
		return scopes
	}
	return nil
}

// jwksCache caches RSA public keys fetched from a JWKS endpoint.
// It is thread-safe and supports TTL-based cache invalidation.
type jwksCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey // kid -> public key
	fetchedAt time.Time
	ttl       time.Duration
	jwksURL   string
	client    *http.Client
}

// getKey returns the RSA public key for the given kid.
// It fetches from the JWKS endpoint if the cache is expired or the kid is unknown.
func (c *jwksCache) getKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	// Try cache first with read lock.
	c.mu.RLock()
	if key, ok := c.keys[kid]; ok && time.Since(c.fetchedAt) < c.ttl {
		c.mu.RUnlock()
		return key, nil
	}
	c.mu.RUnlock()

	// Cache miss or expired: refresh with write lock.
	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have refreshed).
	if key, ok := c.keys[kid]; ok && time.Since(c.fetchedAt) < c.ttl {
		return key, nil
	}

	if err := c.fetchJWKS(ctx); err != nil {
		return nil, err
	}

	key, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key %q not found in JWKS", kid)
	}

	return key, nil
}

// fetchJWKS fetches the JWKS from the configured URL and populates the key cache.
// Must be called with the write lock held.
func (c *jwksCache) fetchJWKS(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("creating JWKS request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading JWKS response: %w", err)
	}

	var jwks jwksDocument
	if err := json.Unmarshal(body, &jwks); err != nil {
		return fmt.Errorf("parsing JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, jwk := range jwks.Keys {
		if jwk.Kty != "RSA" {
			continue
		}
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}

		pubKey, err := parseRSAPublicKey(jwk)
		if err != nil {
			slog.Warn("skipping JWKS key", "kid", jwk.Kid, "error", err)
			continue
		}

		keys[jwk.Kid] = pubKey
	}

	c.keys = keys
	c.fetchedAt = time.Now()

	slog.Debug("JWKS cache refreshed", "keys", len(keys), "url", c.jwksURL)
	return nil
}

// jwksDocument represents the JSON Web Key Set response.
type jwksDocument struct {
	Keys []jwkKey `json:"keys"`
}

// jwkKey represents a single JSON Web Key.
type jwkKey struct {
	Kty string `json:"kty"` // Key type (e.g., "RSA")
	Kid string `json:"kid"` // Key ID
	Use string `json:"use"` // Key use (e.g., "sig")
	N   string `json:"n"`   // RSA modulus (base64url-encoded)
	E   string `json:"e"`   // RSA public exponent (base64url-encoded)
}

// parseRSAPublicKey constructs an *rsa.PublicKey from a JWK.
func parseRSAPublicKey(jwk jwkKey) (*rsa.PublicKey, error) {
	// Decode modulus (n).
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}

	// Decode exponent (e).
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	if !e.IsInt64() {
		return nil, fmt.Errorf("RSA exponent too large")
	}

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}
