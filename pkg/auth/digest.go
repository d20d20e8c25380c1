package auth

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rhuss/httpauth/pkg/debug"
	"github.com/rhuss/httpauth/pkg/session/memory"
)

// Algorithm is a Digest hash function. Client and server must agree on it.
type Algorithm string

const (
	AlgorithmMD5    Algorithm = "MD5"
	AlgorithmSHA256 Algorithm = "SHA-256"
)

// defaultSessionCapacity bounds the in-memory store used by NewDigest when
// no nonce or opaque source is supplied.
const defaultSessionCapacity = 10000

// Hash returns the lowercase hex digest of s.
func (a Algorithm) Hash(s string) string {
	if strings.EqualFold(string(a), string(AlgorithmSHA256)) {
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	}
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HA1 computes H(username:realm:password).
func HA1(alg Algorithm, username, realm, password string) string {
	return alg.Hash(username + ":" + realm + ":" + password)
}

// DigestResponse computes H(HA1:nonce:H(method:uri)).
func DigestResponse(alg Algorithm, ha1, nonce, method, uri string) string {
	ha2 := alg.Hash(method + ":" + uri)
	return alg.Hash(ha1 + ":" + nonce + ":" + ha2)
}

// DigestResponseQop computes H(HA1:nonce:nc:cnonce:qop:H(method:uri)).
func DigestResponseQop(alg Algorithm, ha1, nonce, nc, cnonce, qop, method, uri string) string {
	ha2 := alg.Hash(method + ":" + uri)
	return alg.Hash(ha1 + ":" + nonce + ":" + nc + ":" + cnonce + ":" + qop + ":" + ha2)
}

// Digest authenticates requests using the Digest scheme.
type Digest struct {
	scheme       string
	realm        string
	lookup        SecretLookup
	identities    IdentityResolver
	nonces        NonceSource
	opaques       NonceSource
	ha1Passwords  bool
	algorithm     Algorithm
	qop           bool
	oneTimeNonces bool
}

var _ Authenticator = (*Digest)(nil)

// NewDigest creates a Digest authenticator. Without explicit nonce and
// opaque sources, values are kept in an in-memory session store keyed by
// client address.
func NewDigest(opts ...Option) *Digest {
	o := buildOptions("Digest", opts)
	if o.nonces == nil || o.opaques == nil {
		store := memory.New(defaultSessionCapacity)
		if o.nonces == nil {
			o.nonces = NewSessionNonces(store, NonceKey, nil, 0)
		}
		if o.opaques == nil {
			o.opaques = NewSessionNonces(store, OpaqueKey, nil, 0)
		}
	}
	return &Digest{
		scheme:       o.scheme,
		realm:        o.realm,
		lookup:        o.lookup,
		identities:    o.identities,
		nonces:        o.nonces,
		opaques:       o.opaques,
		ha1Passwords:  o.ha1Passwords,
		algorithm:     o.algorithm,
		qop:           o.qop,
		oneTimeNonces: o.oneTimeNonces,
	}
}

func (d *Digest) Scheme() string { return d.scheme }

// Realm returns the advertised realm.
func (d *Digest) Realm() string { return d.realm }

// Algorithm returns the configured hash function.
func (d *Digest) Algorithm() Algorithm { return d.algorithm }

// Challenge issues a fresh nonce and opaque and formats
// `Digest realm="<realm>",nonce="<nonce>",opaque="<opaque>"`.
func (d *Digest) Challenge(ctx context.Context, r *http.Request) (string, error) {
	nonce, err := d.nonces.Generate(ctx, r)
	if err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	opaque, err := d.opaques.Generate(ctx, r)
	if err != nil {
		return "", fmt.Errorf("generating opaque: %w", err)
	}

	header := fmt.Sprintf(`%s realm="%s",nonce="%s",opaque="%s"`, d.scheme, d.realm, nonce, opaque)
	if !strings.EqualFold(string(d.algorithm), string(AlgorithmMD5)) {
		header += ",algorithm=" + string(d.algorithm)
	}
	if d.qop {
		header += `,qop="auth"`
	}
	return header, nil
}

func (d *Digest) credential(r *http.Request) *DigestCredential {
	payload, ok := schemePayload(r, d.scheme)
	if !ok {
		return nil
	}
	cred, ok := ParseDigest(payload)
	if !ok {
		return nil
	}
	return cred
}

// Authenticate verifies a Digest response. Any missing field or failed
// check yields the same generic failure.
func (d *Digest) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	cred := d.credential(r)
	if cred == nil {
		return AuthResult{Decision: Abstain}
	}
	if !d.verify(ctx, r, cred) {
		return AuthResult{Decision: No, Err: ErrUnauthenticated}
	}
	if d.oneTimeNonces {
		d.consumeNonce(ctx, r)
	}
	return identify(ctx, d.identities, cred.Username, cred)
}

// consumeNonce invalidates the nonce a successful response used. A failed
// delete is logged; the nonce then stays valid until it expires.
func (d *Digest) consumeNonce(ctx context.Context, r *http.Request) {
	c, ok := d.nonces.(NonceConsumer)
	if !ok {
		return
	}
	if err := c.Consume(ctx, r); err != nil {
		slog.Warn("consuming digest nonce failed", "error", err)
		return
	}
	debug.Log("digest", "nonce consumed")
}

func (d *Digest) verify(ctx context.Context, r *http.Request, cred *DigestCredential) bool {
	if cred.Username == "" || cred.Realm == "" || cred.URI == "" || cred.Nonce == "" || cred.Response == "" {
		debug.Log("digest", "incomplete digest response", "username", cred.Username)
		return false
	}
	if cred.Algorithm != "" && !strings.EqualFold(cred.Algorithm, string(d.algorithm)) {
		debug.Log("digest", "algorithm mismatch", "username", cred.Username, "algorithm", cred.Algorithm)
		return false
	}

	secret, ok := lookupSecret(ctx, d.lookup, cred.Username)
	if !ok || secret == "" {
		debug.Log("digest", "no usable secret", "username", cred.Username)
		return false
	}

	if !d.nonces.Verify(ctx, r, cred.Nonce) {
		debug.Log("digest", "nonce rejected", "username", cred.Username, "nonce", debug.Fingerprint(cred.Nonce))
		return false
	}
	if !d.opaques.Verify(ctx, r, cred.Opaque) {
		debug.Log("digest", "opaque rejected", "username", cred.Username)
		return false
	}

	ha1 := secret
	if !d.ha1Passwords {
		ha1 = HA1(d.algorithm, cred.Username, cred.Realm, secret)
	}

	var expected string
	switch {
	case cred.Qop == "":
		expected = DigestResponse(d.algorithm, ha1, cred.Nonce, r.Method, cred.URI)
	case d.qop && cred.Qop == "auth" && cred.NC != "" && cred.CNonce != "":
		expected = DigestResponseQop(d.algorithm, ha1, cred.Nonce, cred.NC, cred.CNonce, cred.Qop, r.Method, cred.URI)
	default:
		debug.Log("digest", "unsupported qop", "username", cred.Username, "qop", cred.Qop)
		return false
	}

	if !secureEqual(expected, cred.Response) {
		debug.Log("digest", "response mismatch", "username", cred.Username)
		return false
	}
	return true
}
