package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/rhuss/httpauth/pkg/auth"
	"github.com/rhuss/httpauth/pkg/config"
	"github.com/rhuss/httpauth/pkg/debug"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs([]string{})
		rootCmd.SetOut(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRootCmd_Version(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "httpauth version dev") {
		t.Errorf("output = %q", out)
	}
}

func TestHA1Cmd(t *testing.T) {
	out, err := execute(t, "ha1", "--realm", "testrealm@host.com", "Mufasa", "Circle Of Life")
	if err != nil {
		t.Fatal(err)
	}
	want := "Mufasa:testrealm@host.com:939e7578ed9e3c518a452acee763bce9\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}

	if _, err := execute(t, "ha1", "--algorithm", "SHA-512", "a", "b"); err == nil {
		t.Error("unsupported algorithm accepted")
	}
	algorithm = string(auth.AlgorithmMD5)
	realm = auth.DefaultRealm
}

func TestBcryptCmd(t *testing.T) {
	out, err := execute(t, "bcrypt", "--cost", "4", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("hello")); err != nil {
		t.Errorf("printed hash does not verify: %v", err)
	}
}

func TestCheckCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600)

	out, err := execute(t, "check", "--config", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "port 9000") {
		t.Errorf("output = %q", out)
	}

	os.WriteFile(path, []byte("session:\n  backend: etcd\n"), 0o600)
	if _, err := execute(t, "check", "--config", path); err == nil {
		t.Error("invalid configuration accepted")
	}
	configPath = ""
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Digest.Realm = "example"
	cfg.Token.Enabled = true
	cfg.Token.APIKeys = []config.APIKeyConfig{
		{Key: "sk-admin", Subject: "ci", Scopes: []string{"admin"}},
		{Key: "sk-reader", Subject: "reader", ServiceTier: "free"},
	}
	cfg.Users = []config.UserConfig{
		{Username: "john", Password: "hello", Roles: []string{"admin"}},
		{Username: "alice", Password: "secret", Roles: []string{"user"}},
	}
	return &cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	a, err := buildApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func do(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func subject(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Subject string `json:"subject"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	return body.Subject
}

func TestApp_Routes(t *testing.T) {
	a := newTestApp(t, testConfig())
	h := a.handler

	basic := func(path, user, pass string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.SetBasicAuth(user, pass)
		return r
	}
	bearer := func(path, token string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.Header.Set("Authorization", "Bearer "+token)
		return r
	}

	tests := []struct {
		name        string
		req         *http.Request
		wantStatus  int
		wantSubject string
		wantScheme  string
	}{
		{"health", httptest.NewRequest(http.MethodGet, "/healthz", nil), http.StatusOK, "", ""},
		{"ready", httptest.NewRequest(http.MethodGet, "/readyz", nil), http.StatusOK, "", ""},
		{"multi without credentials", httptest.NewRequest(http.MethodGet, "/", nil), http.StatusUnauthorized, "", "Basic"},
		{"multi basic", basic("/", "john", "hello"), http.StatusOK, "john", ""},
		{"multi bearer", bearer("/", "sk-reader"), http.StatusOK, "reader", ""},
		{"multi bad bearer", bearer("/", "nope"), http.StatusUnauthorized, "", "Bearer"},
		{"basic route", basic("/basic/x", "alice", "secret"), http.StatusOK, "alice", ""},
		{"basic route wrong password", basic("/basic/x", "alice", "wrong"), http.StatusUnauthorized, "", "Basic"},
		{"token route", bearer("/bearer/", "sk-admin"), http.StatusOK, "ci", ""},
		{"digest route challenge", httptest.NewRequest(http.MethodGet, "/digest/", nil), http.StatusUnauthorized, "", "Digest"},
		{"admin by role", basic("/admin/", "john", "hello"), http.StatusOK, "john", ""},
		{"admin without role", basic("/admin/", "alice", "secret"), http.StatusUnauthorized, "", "Basic"},
		{"admin by scope", bearer("/admin/", "sk-admin"), http.StatusOK, "ci", ""},
		{"admin scope missing", bearer("/admin/", "sk-reader"), http.StatusUnauthorized, "", "Bearer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, tt.req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantScheme != "" && !strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), tt.wantScheme+" ") {
				t.Errorf("WWW-Authenticate = %q, want %s challenge", rec.Header().Get("WWW-Authenticate"), tt.wantScheme)
			}
			if tt.wantSubject != "" {
				if got := subject(t, rec); got != tt.wantSubject {
					t.Errorf("subject = %q, want %q", got, tt.wantSubject)
				}
			}
		})
	}
}

func TestNewToken_HeaderSettings(t *testing.T) {
	for _, header := range []string{"", "Authorization"} {
		cfg := testConfig().Token
		cfg.Header = header
		token, err := newToken(cfg)
		if err != nil {
			t.Fatal(err)
		}

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer sk-reader")
		result := token.Authenticate(r.Context(), r)
		if result.Decision != auth.Yes {
			t.Fatalf("header %q: Decision = %s, want yes", header, result.Decision)
		}
		if result.Identity.Subject != "reader" {
			t.Errorf("header %q: Subject = %q, want %q", header, result.Identity.Subject, "reader")
		}
	}
}

func TestApp_UnauthenticatedPassThrough(t *testing.T) {
	a := newTestApp(t, testConfig())

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"options on scheme route", http.MethodOptions, "/basic/", http.StatusNoContent},
		{"options on multi route", http.MethodOptions, "/", http.StatusNoContent},
		{"post to readiness", http.MethodPost, "/readyz", http.StatusOK},
		{"post to health", http.MethodPost, "/healthz", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(a.handler, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestApp_MetricsDisabledNotBypassed(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.Metrics.Enabled = false
	a := newTestApp(t, cfg)

	rec := do(a.handler, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestWhoami_NoIdentity(t *testing.T) {
	rec := httptest.NewRecorder()
	whoami(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}

func TestApp_Metrics(t *testing.T) {
	a := newTestApp(t, testConfig())
	do(a.handler, httptest.NewRequest(http.MethodGet, "/", nil))

	rec := do(a.handler, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "httpauth_decisions_total") {
		t.Error("metrics output missing httpauth_decisions_total")
	}
}

// answerDigest computes the Authorization header for a Digest challenge.
func answerDigest(t *testing.T, challenge, user, pass, uri string) string {
	t.Helper()
	_, rest, ok := auth.SplitAuthorization(challenge)
	if !ok {
		t.Fatalf("malformed challenge %q", challenge)
	}
	params, ok := auth.ParseDigest(rest)
	if !ok {
		t.Fatalf("malformed challenge parameters %q", rest)
	}
	ha1 := auth.HA1(auth.AlgorithmMD5, user, params.Realm, pass)
	resp := auth.DigestResponse(auth.AlgorithmMD5, ha1, params.Nonce, http.MethodGet, uri)
	return fmt.Sprintf(`Digest username="%s",realm="%s",nonce="%s",uri="%s",response="%s",opaque="%s"`,
		user, params.Realm, params.Nonce, uri, resp, params.Opaque)
}

func digestRoundTrip(t *testing.T, h http.Handler, user, pass string) *httptest.ResponseRecorder {
	t.Helper()
	rec := do(h, httptest.NewRequest(http.MethodGet, "/digest/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("challenge status = %d, want 401", rec.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "/digest/", nil)
	r.Header.Set("Authorization", answerDigest(t, rec.Header().Get("WWW-Authenticate"), user, pass, "/digest/"))
	return do(h, r)
}

func TestApp_DigestMemorySessions(t *testing.T) {
	a := newTestApp(t, testConfig())

	rec := digestRoundTrip(t, a.handler, "john", "hello")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := subject(t, rec); got != "john" {
		t.Errorf("subject = %q, want john", got)
	}
}

func TestApp_DigestRedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Session.Backend = "redis"
	cfg.Session.Redis.Addr = mr.Addr()
	a := newTestApp(t, cfg)

	rec := digestRoundTrip(t, a.handler, "john", "hello")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if keys := mr.Keys(); len(keys) == 0 {
		t.Error("no session values stored in redis")
	}
}

func TestApp_DigestHA1File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "htdigest")
	line := "john:example:" + auth.HA1(auth.AlgorithmMD5, "john", "example", "from-file") + "\n"
	os.WriteFile(path, []byte(line), 0o600)

	cfg := testConfig()
	cfg.Digest.HA1File = path
	a := newTestApp(t, cfg)

	if a.htdigest == nil || a.htdigest.Len() != 1 {
		t.Fatalf("htdigest file not loaded")
	}
	if len(a.background) == 0 {
		t.Error("no watcher registered for the htdigest file")
	}

	if rec := digestRoundTrip(t, a.handler, "john", "from-file"); rec.Code != http.StatusOK {
		t.Errorf("file password: status = %d, want 200", rec.Code)
	}
	if rec := digestRoundTrip(t, a.handler, "john", "hello"); rec.Code != http.StatusUnauthorized {
		t.Errorf("table password: status = %d, want 401", rec.Code)
	}
}

func TestApp_BcryptPasswords(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("hello"), bcrypt.MinCost)

	cfg := testConfig()
	cfg.Digest.Enabled = false
	cfg.Basic.PasswordHash = "bcrypt"
	cfg.Users = []config.UserConfig{{Username: "john", Password: string(hash)}}
	a := newTestApp(t, cfg)

	r := httptest.NewRequest(http.MethodGet, "/basic/", nil)
	r.SetBasicAuth("john", "hello")
	if rec := do(a.handler, r); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestApp_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.Tiers = map[string]int{"free": 1}
	a := newTestApp(t, cfg)

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/bearer/", nil)
		r.Header.Set("Authorization", "Bearer sk-reader")
		return r
	}
	if rec := do(a.handler, req()); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", rec.Code)
	}
	if rec := do(a.handler, req()); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status = %d, want 429", rec.Code)
	}
}

func TestApp_RateLimitPasswordUserTier(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.Tiers = map[string]int{"free": 1}
	cfg.Users[1].ServiceTier = "free"
	a := newTestApp(t, cfg)

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/basic/", nil)
		r.SetBasicAuth("alice", "secret")
		return r
	}
	if rec := do(a.handler, req()); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", rec.Code)
	}
	if rec := do(a.handler, req()); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status = %d, want 429", rec.Code)
	}

	// john has no tier and falls back to the default limit.
	r := httptest.NewRequest(http.MethodGet, "/basic/", nil)
	r.SetBasicAuth("john", "hello")
	if rec := do(a.handler, r); rec.Code != http.StatusOK {
		t.Errorf("untiered user: status = %d, want 200", rec.Code)
	}
}

func TestApp_DigestOneTimeNonces(t *testing.T) {
	cfg := testConfig()
	cfg.Digest.OneTimeNonces = true
	a := newTestApp(t, cfg)

	rec := do(a.handler, httptest.NewRequest(http.MethodGet, "/digest/", nil))
	header := answerDigest(t, rec.Header().Get("WWW-Authenticate"), "john", "hello", "/digest/")

	for i, want := range []int{http.StatusOK, http.StatusUnauthorized} {
		r := httptest.NewRequest(http.MethodGet, "/digest/", nil)
		r.Header.Set("Authorization", header)
		if rec := do(a.handler, r); rec.Code != want {
			t.Errorf("use %d: status = %d, want %d", i+1, rec.Code, want)
		}
	}
}

func TestApp_PostgresUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Backend = "postgres"
	cfg.Session.Postgres.DSN = "postgres://nobody@127.0.0.1:1/none?connect_timeout=1"

	if _, err := buildApp(context.Background(), cfg); err == nil {
		t.Error("buildApp succeeded without a database")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv("HTTPAUTH_DEBUG", "")
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json", Debug: "digest"}, &buf)
	t.Cleanup(func() { debug.Init("") })

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info entry logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("json output missing entry: %s", out)
	}
	if !debug.Enabled("digest") {
		t.Error("debug category from config not enabled")
	}
}
