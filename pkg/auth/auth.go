package auth

import (
	"context"
	"net/http"
)

// DefaultRealm is the protection space advertised when none is configured.
const DefaultRealm = "Authentication Required"

// AuthDecision represents the three possible outcomes of authentication.
type AuthDecision int

const (
	// Yes means credentials are valid and the identity is used.
	Yes AuthDecision = iota

	// No means credentials are present but invalid.
	No

	// Abstain means no credentials for this scheme were supplied (absent
	// header, malformed header or a different scheme). On the wire it is
	// indistinguishable from No.
	Abstain
)

// String returns a lowercase label suitable for logs and metrics.
func (d AuthDecision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Abstain:
		return "abstain"
	default:
		return "unknown"
	}
}

// AuthResult carries the outcome of an authentication attempt.
type AuthResult struct {
	Decision AuthDecision
	Identity *Identity // populated only when Decision == Yes
	Err      error     // populated only when Decision == No; never sent to clients
}

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the unique identifier (required, non-empty).
	Subject string

	// ServiceTier selects the rate limit bucket.
	ServiceTier string

	// Scopes lists authorization scopes granted by a token verifier.
	Scopes []string

	// Metadata carries verifier-specific data.
	Metadata map[string]string

	// Credential is the parsed credential the identity was derived from.
	Credential Credential
}

// Authenticator implements one HTTP authentication scheme.
//
// Implementations are configured at construction and must be safe for
// concurrent use by any number of requests.
type Authenticator interface {
	// Scheme returns the scheme token matched against the Authorization header.
	Scheme() string

	// Authenticate examines the request credentials.
	Authenticate(ctx context.Context, r *http.Request) AuthResult

	// Challenge returns the WWW-Authenticate value sent with a 401.
	Challenge(ctx context.Context, r *http.Request) (string, error)
}

// SecretLookup returns the stored secret (password, HA1 or hash) for a
// username. It returns ErrUnknownUser when the user does not exist.
type SecretLookup interface {
	LookupSecret(ctx context.Context, username string) (string, error)
}

// SecretLookupFunc adapts a function to SecretLookup.
type SecretLookupFunc func(ctx context.Context, username string) (string, error)

func (f SecretLookupFunc) LookupSecret(ctx context.Context, username string) (string, error) {
	return f(ctx, username)
}

// PasswordVerifier decides a username/password pair on its own. When an
// authenticator has one, stored secrets are never consulted.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, username, password string) bool
}

// PasswordVerifierFunc adapts a function to PasswordVerifier.
type PasswordVerifierFunc func(ctx context.Context, username, password string) bool

func (f PasswordVerifierFunc) VerifyPassword(ctx context.Context, username, password string) bool {
	return f(ctx, username, password)
}

// PasswordHasher transforms a client password before it is compared with
// the stored secret.
type PasswordHasher interface {
	HashPassword(username, password string) (string, error)
}

// PasswordHasherFunc adapts a function to PasswordHasher.
type PasswordHasherFunc func(username, password string) (string, error)

func (f PasswordHasherFunc) HashPassword(username, password string) (string, error) {
	return f(username, password)
}

// TokenVerifier decides an opaque token. A nil identity with ok=true yields
// an anonymous identity.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*Identity, bool)
}

// TokenVerifierFunc adapts a function to TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, token string) (*Identity, bool)

func (f TokenVerifierFunc) VerifyToken(ctx context.Context, token string) (*Identity, bool) {
	return f(ctx, token)
}

// IdentityResolver builds the identity of a username whose password or
// Digest response has been verified. It returns ErrUnknownUser when it
// holds no record for the user; the identity then carries only the subject.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, username string) (*Identity, error)
}

// IdentityResolverFunc adapts a function to IdentityResolver.
type IdentityResolverFunc func(ctx context.Context, username string) (*Identity, error)

func (f IdentityResolverFunc) ResolveIdentity(ctx context.Context, username string) (*Identity, error) {
	return f(ctx, username)
}

// RoleResolver returns the roles held by an authenticated identity.
type RoleResolver interface {
	ResolveRoles(ctx context.Context, id *Identity) ([]string, error)
}

// RoleResolverFunc adapts a function to RoleResolver.
type RoleResolverFunc func(ctx context.Context, id *Identity) ([]string, error)

func (f RoleResolverFunc) ResolveRoles(ctx context.Context, id *Identity) ([]string, error) {
	return f(ctx, id)
}

// ScopeRoles resolves roles from the identity's scopes, as populated by
// token verifiers such as the JWT verifier.
var ScopeRoles = RoleResolverFunc(func(_ context.Context, id *Identity) ([]string, error) {
	return id.Scopes, nil
})

// anonymous is the identity used when a verifier accepts a request without
// naming a subject.
func anonymous(cred Credential) *Identity {
	return &Identity{Subject: "anonymous", ServiceTier: "default", Credential: cred}
}
