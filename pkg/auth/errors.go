package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors. They are logged, never written to a response.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrTooManyRequests = errors.New("rate limit exceeded")
	ErrUnknownUser     = errors.New("unknown user")
)

// ConfigError reports an invalid composition of authenticators. It is only
// returned from constructors, never while serving a request.
type ConfigError struct {
	Component string
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(component, format string, args ...any) *ConfigError {
	return &ConfigError{Component: component, Err: fmt.Errorf(format, args...)}
}
