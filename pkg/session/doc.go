// Package session defines the store used to persist per-client values,
// such as Digest nonces and opaques, between a challenge and the request
// that answers it.
//
// Implementations live in the memory, redis and postgres subpackages. All
// of them are safe for concurrent use.
package session
