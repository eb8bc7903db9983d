package percy

import "errors"

// Sentinel errors for Percy operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidConfig is returned by New when the configuration is incomplete.
	ErrInvalidConfig = errors.New("percy: invalid config")

	// ErrTokenFetch wraps every failure to obtain a project token.
	ErrTokenFetch = errors.New("percy: token fetch failed")

	// ErrEmptyToken is returned when the vendor answers without a token.
	ErrEmptyToken = errors.New("percy: empty project token")

	// ErrUnhealthy wraps every failed health check.
	ErrUnhealthy = errors.New("percy: server not healthy")

	// ErrMissingBuildID is returned when the health response carries no usable build.id.
	ErrMissingBuildID = errors.New("percy: health response has no build id")

	// ErrBinaryNotFound is returned when no Percy executable can be located.
	ErrBinaryNotFound = errors.New("percy: binary not found")
)
