// Package debug provides category-based debug logging for httpauth.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): controlled via HTTPAUTH_DEBUG env or config
//   - Levels (HOW MUCH detail): controlled via observability.logging.level
//
// Usage:
//
//	debug.Log("digest", "nonce rejected", "username", cred.Username)
//	if debug.Enabled("session") { /* expensive formatting */ }
//
// Categories: basic, digest, token, roles, session, all.
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
//
// Rejection reasons are only ever logged here, never returned to clients.
// Secrets are never logged; use Fingerprint to correlate them.
package debug

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// LevelTrace is below slog.LevelDebug for maximum verbosity.
const LevelTrace = slog.LevelDebug - 4

// categories holds the set of enabled debug categories.
// Access is read-only after Init(), so no synchronization needed.
var categories map[string]bool

func init() {
	categories = parseCategories(os.Getenv("HTTPAUTH_DEBUG"))
}

// Init configures the enabled categories at startup. The environment
// overrides config.
func Init(configCategories string) {
	cats := os.Getenv("HTTPAUTH_DEBUG")
	if cats == "" {
		cats = configCategories
	}
	categories = parseCategories(cats)
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	return categories["all"] || categories[category]
}

// Log emits a debug message for the given category.
// If the category is not enabled, this is a no-op.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// ParseLevel converts a level string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "INFO", "":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the sorted list of enabled categories.
func Categories() []string {
	result := make([]string, 0, len(categories))
	for k := range categories {
		result = append(result, k)
	}
	slices.Sort(result)
	return result
}

// Fingerprint returns a short, non-reversible identifier for a secret
// value such as a token or nonce.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:4])
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	if s == "" {
		return m
	}
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
