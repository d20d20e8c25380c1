package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func newTestGuard(t *testing.T, authn Authenticator, opts ...GuardOption) *Guard {
	t.Helper()
	g, err := NewGuard(authn, opts...)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	return g
}

func TestGuard_BypassEndpoint(t *testing.T) {
	authn := &mockAuthn{scheme: "Basic", result: AuthResult{Decision: No}}
	handler := newTestGuard(t, authn, WithBypass(DefaultBypassEndpoints...)).HandlerFunc(okHandler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("bypass endpoint: status = %d, want 200", rec.Code)
	}
	if authn.calls != 0 {
		t.Errorf("authenticator called %d times for bypass path", authn.calls)
	}
}

func TestGuard_OptionsPassesThrough(t *testing.T) {
	authn := &mockAuthn{scheme: "Basic", result: AuthResult{Decision: No}}
	handler := newTestGuard(t, authn).HandlerFunc(okHandler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/protected", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS: status = %d, want 200", rec.Code)
	}
}

func TestGuard_NoAuth_Challenges(t *testing.T) {
	handler := newTestGuard(t, NewBasic(WithRealm("foo"))).HandlerFunc(okHandler)

	tests := []struct {
		name   string
		header string
	}{
		{"absent", ""},
		{"scheme only", "Basic"},
		{"malformed base64", "Basic !!!"},
		{"other scheme", "Bearer abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, r)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if got := rec.Header().Get("WWW-Authenticate"); got != `Basic realm="foo"` {
				t.Errorf("WWW-Authenticate = %q", got)
			}
		})
	}
}

func TestGuard_ValidAuth_Passes(t *testing.T) {
	users := StaticUsers{"john": {Secret: "hello", ServiceTier: "gold"}}
	g := newTestGuard(t, NewBasic(WithSecretLookup(users)))

	var got *Identity
	handler := g.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, basicRequest("john", "hello"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.Subject != "john" {
		t.Fatalf("identity = %v, want subject john", got)
	}
	if _, ok := got.Credential.(*BasicCredential); !ok {
		t.Errorf("credential = %T, want *BasicCredential", got.Credential)
	}
}

func TestGuard_Roles(t *testing.T) {
	users := StaticUsers{
		"john":  {Secret: "hello", Roles: []string{"admin", "user"}},
		"alice": {Secret: "secret", Roles: []string{"user"}},
	}
	authn, err := NewRoleAuthorizer(NewBasic(WithSecretLookup(users)), users)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		opts       []GuardOption
		user, pass string
		want       int
	}{
		{"any match", []GuardOption{WithRoles("admin", "ops")}, "john", "hello", http.StatusOK},
		{"missing role", []GuardOption{WithRoles("admin")}, "alice", "secret", http.StatusUnauthorized},
		{"require all", []GuardOption{WithRoles("admin", "user"), WithRequireAll()}, "john", "hello", http.StatusOK},
		{"require all missing", []GuardOption{WithRoles("admin", "user"), WithRequireAll()}, "alice", "secret", http.StatusUnauthorized},
		{"empty requirement", []GuardOption{WithRoles()}, "alice", "secret", http.StatusOK},
		{"bad password", []GuardOption{WithRoles("user")}, "alice", "wrong", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestGuard(t, authn, tt.opts...).HandlerFunc(okHandler)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, basicRequest(tt.user, tt.pass))

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing challenge on role failure")
			}
		})
	}
}

func TestGuard_CheckReportsForbidden(t *testing.T) {
	users := StaticUsers{"alice": {Secret: "secret", Roles: []string{"user"}}}
	authn, _ := NewRoleAuthorizer(NewBasic(WithSecretLookup(users)), users)
	g := newTestGuard(t, authn, WithRoles("admin"))

	_, result := g.Check(basicRequest("alice", "secret"))
	if result.Decision != No {
		t.Errorf("Decision = %s, want no", result.Decision)
	}
	if !errors.Is(result.Err, ErrForbidden) {
		t.Errorf("Err = %v, want ErrForbidden", result.Err)
	}

	_, result = g.Check(httptest.NewRequest(http.MethodGet, "/", nil))
	if !errors.Is(result.Err, ErrUnauthenticated) {
		t.Errorf("Err = %v, want ErrUnauthenticated", result.Err)
	}
}

func TestNewGuard_ConfigErrors(t *testing.T) {
	users := StaticUsers{}
	roleBasic, _ := NewRoleAuthorizer(NewBasic(), users)
	plainMulti, _ := NewMultiAuth(roleBasic, NewToken())

	tests := []struct {
		name  string
		authn Authenticator
		opts  []GuardOption
	}{
		{"nil authenticator", nil, nil},
		{"roles without resolver", NewBasic(), []GuardOption{WithRoles("admin")}},
		{"plain multi with roles", plainMulti, []GuardOption{WithRoles("admin")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGuard(tt.authn, tt.opts...)
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Errorf("err = %v, want *ConfigError", err)
			}
		})
	}

	if _, err := NewGuard(NewBasic()); err != nil {
		t.Errorf("guard without roles rejected: %v", err)
	}
}

func TestGuard_MultiScheme(t *testing.T) {
	users := StaticUsers{"john": {Secret: "hello", Roles: []string{"admin"}}}
	basic, _ := NewRoleAuthorizer(NewBasic(WithSecretLookup(users)), users)
	token, _ := NewRoleAuthorizer(
		NewToken(WithTokenVerifier(staticTokens(map[string]string{"xyz": "svc"}))),
		users,
	)
	multi, err := NewMultiRoleAuth(basic, token)
	if err != nil {
		t.Fatal(err)
	}
	handler := newTestGuard(t, multi, WithRoles("admin")).HandlerFunc(okHandler)

	// Valid Basic credentials with the admin role.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, basicRequest("john", "hello"))
	if rec.Code != http.StatusOK {
		t.Errorf("basic admin: status = %d, want 200", rec.Code)
	}

	// Valid token but the subject holds no roles.
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("token without role: status = %d, want 401", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != `Bearer realm="Authentication Required"` {
		t.Errorf("token challenge = %q", got)
	}

	// No header falls back to the primary challenge.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("WWW-Authenticate"); got != `Basic realm="Authentication Required"` {
		t.Errorf("default challenge = %q", got)
	}
}

func TestGuard_DigestRoundTrip(t *testing.T) {
	d := NewDigest(WithRealm("example"), WithSecretLookup(StaticUsers{"john": {Secret: "hello"}}))
	handler := newTestGuard(t, d).HandlerFunc(okHandler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dir/index.html", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("first request: status = %d, want 401", rec.Code)
	}
	challenge := rec.Header().Get("WWW-Authenticate")

	client := digestClient{username: "john", password: "hello", alg: AlgorithmMD5}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, digestRequest(http.MethodGet, "/dir/index.html",
		client.authorization(challenge, http.MethodGet, "/dir/index.html")))
	if rec.Code != http.StatusOK {
		t.Errorf("answered challenge: status = %d, want 200", rec.Code)
	}
}

func TestGuard_CustomErrorHandler(t *testing.T) {
	handler := newTestGuard(t, NewBasic(), WithErrorHandler(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("go away"))
	})).HandlerFunc(okHandler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if rec.Body.String() != "go away" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "go away")
	}
}

func TestGuard_EmptySubject(t *testing.T) {
	authn := &mockAuthn{scheme: "Basic", result: AuthResult{Decision: Yes, Identity: &Identity{}}}
	handler := newTestGuard(t, authn).HandlerFunc(okHandler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestGuard_YesWithoutIdentity(t *testing.T) {
	authn := &mockAuthn{scheme: "Basic", result: AuthResult{Decision: Yes}}
	handler := newTestGuard(t, authn).HandlerFunc(okHandler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestGuard_RateLimit_Exceeded(t *testing.T) {
	authn := &mockAuthn{scheme: "Bearer", result: AuthResult{
		Decision: Yes,
		Identity: &Identity{Subject: "alice", ServiceTier: "limited"},
	}}
	limiter := NewInProcessLimiter(map[string]TierConfig{"limited": {RequestsPerWindow: 2}}, 100, 0)
	handler := newTestGuard(t, authn, WithRateLimiter(limiter)).HandlerFunc(okHandler)

	for i := range 2 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request: status = %d, want 429", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if !strings.Contains(rec.Body.String(), `"type":"too_many_requests"`) {
		t.Errorf("body = %q, want too_many_requests envelope", rec.Body.String())
	}
}

func TestOutcomeLabel(t *testing.T) {
	tests := []struct {
		name   string
		result AuthResult
		want   string
	}{
		{"yes", AuthResult{Decision: Yes}, "authenticated"},
		{"forbidden", AuthResult{Decision: No, Err: ErrForbidden}, "forbidden"},
		{"wrapped forbidden", AuthResult{Decision: No, Err: fmt.Errorf("admin route: %w", ErrForbidden)}, "forbidden"},
		{"abstain", AuthResult{Decision: Abstain, Err: ErrUnauthenticated}, "missing"},
		{"rejected", AuthResult{Decision: No, Err: ErrUnauthenticated}, "rejected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := outcomeLabel(tt.result); got != tt.want {
				t.Errorf("outcomeLabel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGuard_NoLimiter_AllAllowed(t *testing.T) {
	authn := &mockAuthn{scheme: "Bearer", result: AuthResult{
		Decision: Yes,
		Identity: &Identity{Subject: "alice"},
	}}
	handler := newTestGuard(t, authn).HandlerFunc(okHandler)

	for i := range 10 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}
}
