// Package auth implements HTTP authentication for net/http servers.
//
// Each Authenticator handles one scheme (Basic, Digest or a token scheme
// such as Bearer) and returns one of three outcomes: Yes (identity found),
// No (credentials present but invalid) or Abstain (no credentials for this
// scheme). Decisions are delegated to pluggable strategies such as
// SecretLookup, PasswordVerifier and TokenVerifier.
//
// A MultiAuth dispatches on the scheme of the Authorization header, a
// RoleAuthorizer adds role checks, and a Guard wires everything into
// net/http middleware that answers failures with a 401 challenge.
package auth
