package process

import "errors"

// Sentinel errors for process operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAlreadyRunning is returned by Start when the managed process is still alive.
	ErrAlreadyRunning = errors.New("process: already running")

	// ErrNoBinary is returned by Run when the config names no executable.
	ErrNoBinary = errors.New("process: binary path is empty")
)
