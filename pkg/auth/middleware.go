package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/rhuss/httpauth/pkg/observability"
	"github.com/rhuss/httpauth/pkg/transport"
)

// DefaultBypassEndpoints lists endpoints that usually skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// Guard protects handlers with an Authenticator (possibly a MultiAuth), an
// optional role requirement and an optional rate limiter. A Guard is
// immutable after NewGuard and safe for concurrent use.
type Guard struct {
	authn     Authenticator
	roles     *RoleRequirement
	responder Responder
	limiter   RateLimiter
	bypass    map[string]bool
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithRoles requires the authenticated identity to hold any of roles.
func WithRoles(roles ...string) GuardOption {
	return func(g *Guard) {
		if g.roles == nil {
			g.roles = &RoleRequirement{}
		}
		g.roles.Roles = append(g.roles.Roles, roles...)
	}
}

// WithRequireAll switches the role requirement to MatchAll.
func WithRequireAll() GuardOption {
	return func(g *Guard) {
		if g.roles == nil {
			g.roles = &RoleRequirement{}
		}
		g.roles.Mode = MatchAll
	}
}

// WithErrorHandler customizes the body of 401 responses.
func WithErrorHandler(h ErrorHandler) GuardOption {
	return func(g *Guard) { g.responder = NewResponder(h) }
}

// WithRateLimiter enforces per-identity rate limits after authentication.
func WithRateLimiter(l RateLimiter) GuardOption {
	return func(g *Guard) { g.limiter = l }
}

// WithBypass lets requests for the given paths through unauthenticated.
func WithBypass(paths ...string) GuardOption {
	return func(g *Guard) {
		for _, p := range paths {
			g.bypass[p] = true
		}
	}
}

// NewGuard composes a Guard. Configuring roles on an authenticator that
// cannot authorize is a *ConfigError.
func NewGuard(authn Authenticator, opts ...GuardOption) (*Guard, error) {
	if authn == nil {
		return nil, configErrorf("guard", "authenticator is required")
	}

	g := &Guard{
		authn:     authn,
		responder: NewResponder(nil),
		bypass:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.roles != nil {
		switch a := authn.(type) {
		case *MultiAuth:
			if !a.RoleCapable() {
				return nil, configErrorf("guard", "roles require a MultiAuth built with NewMultiRoleAuth")
			}
		case RoleCapable:
		default:
			return nil, configErrorf("guard", "authenticator for scheme %q does not support role authorization", authn.Scheme())
		}
	}

	return g, nil
}

// Check authenticates and, when roles are configured, authorizes r. It
// returns the authenticator that decided, which is the one whose challenge
// must be sent on failure. Authorization failures carry ErrForbidden.
func (g *Guard) Check(r *http.Request) (Authenticator, AuthResult) {
	authn := g.authn
	if sel, ok := authn.(Selector); ok {
		authn = sel.Select(r.Header.Get("Authorization"))
	}

	ctx := r.Context()
	result := authn.Authenticate(ctx, r)
	if result.Decision == Yes && result.Identity == nil {
		result = AuthResult{Decision: No, Err: ErrUnauthenticated}
	}

	if result.Decision == Yes && g.roles != nil {
		rc, ok := authn.(RoleCapable)
		if !ok || !rc.Authorize(ctx, result.Identity, *g.roles) {
			result = AuthResult{Decision: No, Err: ErrForbidden}
		}
	}

	if result.Decision != Yes && result.Err == nil {
		result.Err = ErrUnauthenticated
	}

	observability.DecisionsTotal.WithLabelValues(authn.Scheme(), outcomeLabel(result)).Inc()
	return authn, result
}

// Middleware wraps next so it only runs for authorized requests. OPTIONS
// requests pass through so CORS pre-flights are not challenged.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || g.bypass[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authn, result := g.Check(r)

		if result.Decision != Yes {
			if errors.Is(result.Err, ErrForbidden) {
				slog.Warn("authorization failed",
					"scheme", authn.Scheme(),
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
			} else {
				slog.Warn("authentication failed",
					"scheme", authn.Scheme(),
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
			}
			g.responder.Respond(w, r, authn)
			return
		}

		if result.Identity.Subject == "" {
			slog.Error("authenticator returned identity with empty subject", "scheme", authn.Scheme())
			transport.WriteError(w, http.StatusInternalServerError, "internal authentication error")
			return
		}

		slog.Debug("authentication succeeded",
			"scheme", authn.Scheme(),
			"subject", result.Identity.Subject,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		if g.limiter != nil {
			if err := g.limiter.Allow(r.Context(), result.Identity); err != nil {
				slog.Warn("rate limit exceeded",
					"subject", result.Identity.Subject,
					"tier", result.Identity.ServiceTier,
				)
				observability.RateLimitRejectedTotal.WithLabelValues(tierLabel(result.Identity)).Inc()
				transport.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), result.Identity)))
	})
}

// HandlerFunc is Middleware for a plain handler function.
func (g *Guard) HandlerFunc(next http.HandlerFunc) http.Handler {
	return g.Middleware(next)
}

func outcomeLabel(result AuthResult) string {
	switch {
	case result.Decision == Yes:
		return "authenticated"
	case errors.Is(result.Err, ErrForbidden):
		return "forbidden"
	case result.Decision == Abstain:
		return "missing"
	default:
		return "rejected"
	}
}

func tierLabel(id *Identity) string {
	if id.ServiceTier == "" {
		return "default"
	}
	return id.ServiceTier
}
