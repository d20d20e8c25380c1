package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/rhuss/httpauth/pkg/debug"
)

// Basic authenticates requests using the Basic scheme.
type Basic struct {
	scheme   string
	realm    string
	lookup     SecretLookup
	verifier   PasswordVerifier
	hasher     PasswordHasher
	identities IdentityResolver
}

var _ Authenticator = (*Basic)(nil)

// NewBasic creates a Basic authenticator. Either a PasswordVerifier or a
// SecretLookup should be supplied; without both every request fails.
func NewBasic(opts ...Option) *Basic {
	o := buildOptions("Basic", opts)
	return &Basic{
		scheme:   o.scheme,
		realm:    o.realm,
		lookup:     o.lookup,
		verifier:   o.verifier,
		hasher:     o.hasher,
		identities: o.identities,
	}
}

func (b *Basic) Scheme() string { return b.scheme }

// Realm returns the advertised realm.
func (b *Basic) Realm() string { return b.realm }

// Challenge returns `<scheme> realm="<realm>"`.
func (b *Basic) Challenge(_ context.Context, _ *http.Request) (string, error) {
	return fmt.Sprintf(`%s realm="%s"`, b.scheme, b.realm), nil
}

func (b *Basic) credential(r *http.Request) *BasicCredential {
	payload, ok := schemePayload(r, b.scheme)
	if !ok {
		return nil
	}
	cred, ok := ParseBasic(payload)
	if !ok {
		return nil
	}
	return cred
}

// Authenticate decides the request. A registered PasswordVerifier is
// authoritative and is consulted even when no credentials were sent (with
// an empty username and password). Otherwise the possibly hashed client
// password must equal the looked-up secret.
func (b *Basic) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	var (
		cred               Credential
		username, password string
	)
	if c := b.credential(r); c != nil {
		cred, username, password = c, c.Username, c.Password
	}

	if b.verifier != nil {
		if !b.verifier.VerifyPassword(ctx, username, password) {
			debug.Log("basic", "password verifier rejected", "username", username)
			return reject(cred)
		}
		return identify(ctx, b.identities, username, cred)
	}

	if cred == nil {
		return AuthResult{Decision: Abstain}
	}

	if b.hasher != nil {
		hashed, err := b.hasher.HashPassword(username, password)
		if err != nil {
			slog.Debug("password hasher failed", "scheme", b.scheme, "error", err)
			return reject(cred)
		}
		password = hashed
	}

	stored, ok := lookupSecret(ctx, b.lookup, username)
	if !ok {
		debug.Log("basic", "unknown user", "username", username)
		return reject(cred)
	}
	if !secureEqual(password, stored) {
		debug.Log("basic", "password mismatch", "username", username)
		return reject(cred)
	}
	return identify(ctx, b.identities, username, cred)
}

// identify builds the identity of a verified username. A resolver failure
// other than ErrUnknownUser fails the request.
func identify(ctx context.Context, identities IdentityResolver, username string, cred Credential) AuthResult {
	if username == "" {
		return AuthResult{Decision: Yes, Identity: anonymous(cred)}
	}
	id := &Identity{Subject: username}
	if identities != nil {
		resolved, err := identities.ResolveIdentity(ctx, username)
		switch {
		case err == nil && resolved != nil:
			// Copy so the resolver's value is never shared between requests.
			out := *resolved
			out.Subject = username
			id = &out
		case err != nil && !errors.Is(err, ErrUnknownUser):
			slog.Warn("identity lookup failed", "username", username, "error", err)
			return AuthResult{Decision: No, Err: fmt.Errorf("resolving identity: %w", err)}
		}
	}
	id.Credential = cred
	return AuthResult{Decision: Yes, Identity: id}
}

func reject(cred Credential) AuthResult {
	if cred == nil {
		return AuthResult{Decision: Abstain}
	}
	return AuthResult{Decision: No, Err: ErrUnauthenticated}
}

// lookupSecret fetches the stored secret for username. ok is false for an
// empty username, a missing lookup, an unknown user or a lookup failure.
func lookupSecret(ctx context.Context, lookup SecretLookup, username string) (string, bool) {
	if lookup == nil || username == "" {
		return "", false
	}
	secret, err := lookup.LookupSecret(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrUnknownUser) {
			slog.Warn("secret lookup failed", "error", err)
		}
		return "", false
	}
	return secret, true
}

// secureEqual compares two strings in constant time. Both sides are hashed
// first so that the comparison time does not depend on their lengths.
func secureEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

// SHA256Hasher hashes passwords as lowercase hex SHA-256, for secrets
// stored in that form.
var SHA256Hasher = PasswordHasherFunc(func(_, password string) (string, error) {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:]), nil
})

// BcryptVerifier verifies Basic passwords against bcrypt hashes returned by
// Lookup.
type BcryptVerifier struct {
	Lookup SecretLookup
}

func (v BcryptVerifier) VerifyPassword(ctx context.Context, username, password string) bool {
	hash, ok := lookupSecret(ctx, v.Lookup, username)
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
