package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rhuss/httpauth/pkg/debug"
)

// Token authenticates opaque tokens, by default under the Bearer scheme.
// All decisions are delegated to a TokenVerifier.
type Token struct {
	scheme   string
	realm    string
	header   string
	verifier TokenVerifier
}

var _ Authenticator = (*Token)(nil)

// NewToken creates a Token authenticator. Without a TokenVerifier every
// request fails.
func NewToken(opts ...Option) *Token {
	o := buildOptions("Bearer", opts)
	return &Token{
		scheme:   o.scheme,
		realm:    o.realm,
		header:   o.tokenHeader,
		verifier: o.tokens,
	}
}

func (t *Token) Scheme() string { return t.scheme }

// Challenge returns `<scheme> realm="<realm>"`.
func (t *Token) Challenge(_ context.Context, _ *http.Request) (string, error) {
	return fmt.Sprintf(`%s realm="%s"`, t.scheme, t.realm), nil
}

func (t *Token) credential(r *http.Request) *TokenCredential {
	if t.header != "" && !strings.EqualFold(t.header, "Authorization") {
		value := strings.TrimSpace(r.Header.Get(t.header))
		if value == "" {
			return nil
		}
		return &TokenCredential{Scheme: t.scheme, Token: value}
	}
	payload, ok := schemePayload(r, t.scheme)
	if !ok {
		return nil
	}
	return &TokenCredential{Scheme: t.scheme, Token: payload}
}

// Authenticate hands the raw token (empty when none was sent) to the
// verifier, whose answer is final.
func (t *Token) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	var (
		cred  Credential
		token string
	)
	if c := t.credential(r); c != nil {
		cred, token = c, c.Token
	}
	if t.verifier == nil {
		return reject(cred)
	}

	id, ok := t.verifier.VerifyToken(ctx, token)
	if !ok {
		debug.Log("token", "token rejected", "scheme", t.scheme, "token", debug.Fingerprint(token))
		return reject(cred)
	}
	if id == nil || id.Subject == "" {
		return AuthResult{Decision: Yes, Identity: anonymous(cred)}
	}

	// Copy to avoid sharing verifier-owned state between requests.
	out := *id
	out.Credential = cred
	return AuthResult{Decision: Yes, Identity: &out}
}
