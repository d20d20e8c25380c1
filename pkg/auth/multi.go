package auth

import (
	"context"
	"net/http"
)

// Selector picks the authenticator responsible for an Authorization header.
type Selector interface {
	Select(header string) Authenticator
}

// MultiAuth accepts several schemes on the same endpoint. The scheme of the
// Authorization header selects one of the additional authenticators by
// exact, case-sensitive match in registration order; anything else,
// including a missing or malformed header, goes to the primary.
type MultiAuth struct {
	primary     Authenticator
	additional  []Authenticator
	roleCapable bool
}

var (
	_ Authenticator = (*MultiAuth)(nil)
	_ Selector      = (*MultiAuth)(nil)
)

// NewMultiAuth validates that every authenticator has a non-empty, unique
// scheme.
func NewMultiAuth(primary Authenticator, additional ...Authenticator) (*MultiAuth, error) {
	if primary == nil {
		return nil, configErrorf("multi auth", "primary authenticator is required")
	}

	seen := map[string]bool{}
	for i, a := range append([]Authenticator{primary}, additional...) {
		if a == nil {
			return nil, configErrorf("multi auth", "authenticator %d is nil", i)
		}
		s := a.Scheme()
		if s == "" {
			return nil, configErrorf("multi auth", "authenticator %d has an empty scheme", i)
		}
		if seen[s] {
			return nil, configErrorf("multi auth", "scheme %q registered twice", s)
		}
		seen[s] = true
	}

	return &MultiAuth{primary: primary, additional: additional}, nil
}

// NewMultiRoleAuth is NewMultiAuth for role-protected endpoints: every
// authenticator must be RoleCapable.
func NewMultiRoleAuth(primary Authenticator, additional ...Authenticator) (*MultiAuth, error) {
	m, err := NewMultiAuth(primary, additional...)
	if err != nil {
		return nil, err
	}
	for _, a := range append([]Authenticator{primary}, additional...) {
		if _, ok := a.(RoleCapable); !ok {
			return nil, configErrorf("multi role auth", "authenticator for scheme %q does not support role authorization", a.Scheme())
		}
	}
	m.roleCapable = true
	return m, nil
}

// RoleCapable reports whether the instance was built with NewMultiRoleAuth.
func (m *MultiAuth) RoleCapable() bool { return m.roleCapable }

// Select returns the authenticator for header.
func (m *MultiAuth) Select(header string) Authenticator {
	scheme, _, ok := SplitAuthorization(header)
	if !ok {
		return m.primary
	}
	for _, a := range m.additional {
		if a.Scheme() == scheme {
			return a
		}
	}
	return m.primary
}

// Scheme returns the primary scheme.
func (m *MultiAuth) Scheme() string { return m.primary.Scheme() }

func (m *MultiAuth) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	return m.Select(r.Header.Get("Authorization")).Authenticate(ctx, r)
}

func (m *MultiAuth) Challenge(ctx context.Context, r *http.Request) (string, error) {
	return m.Select(r.Header.Get("Authorization")).Challenge(ctx, r)
}
