// Package transport provides the HTTP middleware chain that surrounds the
// authentication guard.
//
// # Middleware
//
// The chain wraps an http.Handler with cross-cutting concerns. Built-in
// middleware provides panic recovery, request ID assignment (X-Request-ID)
// and structured access logging via log/slog. The auth guard and the
// metrics middleware from pkg/observability plug into the same chain.
//
// # Errors
//
// Error bodies share one JSON envelope:
//
//	{"error":{"type":"server_error","message":"..."}}
//
// The subpackage http manages the server lifecycle, including graceful
// shutdown on SIGINT and SIGTERM.
package transport
