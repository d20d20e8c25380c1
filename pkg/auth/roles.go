package auth

import (
	"context"
	"log/slog"

	"github.com/rhuss/httpauth/pkg/debug"
)

// RoleMode selects how required roles are matched.
type RoleMode int

const (
	// MatchAny authorizes when the identity holds at least one required role.
	MatchAny RoleMode = iota
	// MatchAll authorizes when the identity holds every required role.
	MatchAll
)

// RoleRequirement is the set of roles an endpoint demands.
//
// An empty Roles list authorizes every authenticated identity in both modes.
type RoleRequirement struct {
	Roles []string
	Mode  RoleMode
}

// Satisfied reports whether held satisfies the requirement.
func (req RoleRequirement) Satisfied(held []string) bool {
	if len(req.Roles) == 0 {
		return true
	}

	have := make(map[string]struct{}, len(held))
	for _, r := range held {
		have[r] = struct{}{}
	}

	if req.Mode == MatchAll {
		for _, r := range req.Roles {
			if _, ok := have[r]; !ok {
				return false
			}
		}
		return true
	}

	for _, r := range req.Roles {
		if _, ok := have[r]; ok {
			return true
		}
	}
	return false
}

// RoleCapable is an Authenticator that can also authorize identities.
type RoleCapable interface {
	Authenticator
	Authorize(ctx context.Context, id *Identity, req RoleRequirement) bool
}

// RoleAuthorizer adds role authorization to any Authenticator.
type RoleAuthorizer struct {
	Authenticator
	resolver RoleResolver
}

var _ RoleCapable = (*RoleAuthorizer)(nil)

// NewRoleAuthorizer wraps authn with role checks backed by resolver.
func NewRoleAuthorizer(authn Authenticator, resolver RoleResolver) (*RoleAuthorizer, error) {
	if authn == nil {
		return nil, configErrorf("role authorizer", "authenticator is required")
	}
	if resolver == nil {
		return nil, configErrorf("role authorizer", "role resolver is required for %s", authn.Scheme())
	}
	return &RoleAuthorizer{Authenticator: authn, resolver: resolver}, nil
}

// Authorize resolves the identity's roles and matches them against req.
// Resolver failures deny access.
func (a *RoleAuthorizer) Authorize(ctx context.Context, id *Identity, req RoleRequirement) bool {
	if id == nil {
		return false
	}
	if len(req.Roles) == 0 {
		return true
	}
	held, err := a.resolver.ResolveRoles(ctx, id)
	if err != nil {
		slog.Warn("role resolution failed", "subject", id.Subject, "error", err)
		return false
	}
	if !req.Satisfied(held) {
		debug.Log("roles", "required roles missing", "subject", id.Subject, "held", held, "required", req.Roles)
		return false
	}
	return true
}
