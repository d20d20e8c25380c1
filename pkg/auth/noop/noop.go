// Package noop provides verifiers that accept every credential. They are
// meant for local development behind a trusted proxy and are selected in
// configuration with verifier "noop".
package noop

import (
	"context"

	"github.com/rhuss/httpauth/pkg/auth"
)

// Verifier accepts any token and any username/password pair.
type Verifier struct{}

var (
	_ auth.TokenVerifier    = Verifier{}
	_ auth.PasswordVerifier = Verifier{}
)

// VerifyToken accepts the token without naming a subject, so the Token
// authenticator substitutes the anonymous identity.
func (Verifier) VerifyToken(_ context.Context, _ string) (*auth.Identity, bool) {
	return nil, true
}

// VerifyPassword accepts the pair; the username becomes the subject.
func (Verifier) VerifyPassword(_ context.Context, _, _ string) bool {
	return true
}
