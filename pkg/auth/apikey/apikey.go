// Package apikey provides a token verifier that checks opaque tokens
// against a static key store using SHA-256 hashing and constant-time
// comparison.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/rhuss/httpauth/pkg/auth"
)

// KeyEntry maps a key hash to an identity.
type KeyEntry struct {
	KeyHash  [32]byte
	Identity auth.Identity
}

// RawKeyEntry is the configuration format for API keys.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

// Verifier validates tokens against a static key store.
type Verifier struct {
	keys []KeyEntry
}

var _ auth.TokenVerifier = (*Verifier)(nil)

// New creates a verifier from a list of raw keys and identities. Keys are
// hashed immediately; plaintext keys are not stored. Entries with an empty
// key are skipped.
func New(entries []RawKeyEntry) *Verifier {
	v := &Verifier{}
	for _, e := range entries {
		if e.Key == "" {
			continue
		}
		v.keys = append(v.keys, KeyEntry{
			KeyHash:  sha256.Sum256([]byte(e.Key)),
			Identity: e.Identity,
		})
	}
	return v
}

// VerifyToken returns the identity registered for token. Every entry is
// compared so the time taken does not reveal which key matched.
func (v *Verifier) VerifyToken(_ context.Context, token string) (*auth.Identity, bool) {
	if token == "" {
		return nil, false
	}

	tokenHash := sha256.Sum256([]byte(token))

	var match *KeyEntry
	for i := range v.keys {
		if subtle.ConstantTimeCompare(tokenHash[:], v.keys[i].KeyHash[:]) == 1 && match == nil {
			match = &v.keys[i]
		}
	}
	if match == nil {
		return nil, false
	}

	// Copy identity to avoid shared state.
	id := match.Identity
	return &id, true
}
