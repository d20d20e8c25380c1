package auth

import (
	"context"
	"slices"
)

// User is an entry of a static user table.
type User struct {
	// Secret is the stored secret: a plaintext password, an HA1 value or a
	// hash, depending on how the authenticator is configured.
	Secret      string
	Roles       []string
	ServiceTier string
}

// StaticUsers is an in-memory user table. It serves as both SecretLookup
// and RoleResolver and must not be modified after use begins.
type StaticUsers map[string]User

var (
	_ SecretLookup = StaticUsers(nil)
	_ RoleResolver     = StaticUsers(nil)
	_ IdentityResolver = StaticUsers(nil)
)

func (u StaticUsers) LookupSecret(_ context.Context, username string) (string, error) {
	user, ok := u[username]
	if !ok {
		return "", ErrUnknownUser
	}
	return user.Secret, nil
}

// ResolveIdentity returns an identity carrying the user's service tier.
func (u StaticUsers) ResolveIdentity(_ context.Context, username string) (*Identity, error) {
	user, ok := u[username]
	if !ok {
		return nil, ErrUnknownUser
	}
	return &Identity{Subject: username, ServiceTier: user.ServiceTier}, nil
}

// ResolveRoles returns the roles of the identity's subject. Unknown
// subjects hold no roles.
func (u StaticUsers) ResolveRoles(_ context.Context, id *Identity) ([]string, error) {
	user, ok := u[id.Subject]
	if !ok {
		return nil, nil
	}
	return slices.Clone(user.Roles), nil
}
