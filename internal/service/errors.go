package service

import "errors"

var (
	// ErrScriptNotFound means the runner script path does not resolve.
	ErrScriptNotFound = errors.New("script not found")

	// ErrSpawnFailed means the OS could not launch the runner process.
	ErrSpawnFailed = errors.New("spawn failed")

	// ErrServiceCrashed means the runner exited unexpectedly. Any command
	// pending at that moment is failed with this error.
	ErrServiceCrashed = errors.New("service crashed")

	// ErrServiceStopped is the invalidation cause for a command pending
	// when the service is stopped deliberately.
	ErrServiceStopped = errors.New("service stopped")
)
