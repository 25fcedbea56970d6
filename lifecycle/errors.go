package lifecycle

import "errors"

// Sentinel errors for lifecycle operations.
var (
	// ErrNilCleanup is returned when Register is called without a cleanup
	// callback. This is programmer misuse, not a runtime condition.
	ErrNilCleanup = errors.New("lifecycle: cleanup callback is nil")

	// ErrDestroyed is returned when registering on a destroyed tracker.
	ErrDestroyed = errors.New("lifecycle: tracker is destroyed")
)
