package lazy

import "errors"

// Sentinel errors for scheduler operations.
var (
	// ErrNilActivator indicates Register was called without an activator.
	ErrNilActivator = errors.New("lazy: activator is nil")

	// ErrNilSignal indicates Register was called without a readiness signal.
	ErrNilSignal = errors.New("lazy: readiness signal is nil")

	// ErrDuplicateID indicates an item with the same id is already registered.
	ErrDuplicateID = errors.New("lazy: duplicate item id")

	// ErrDependencyCycle indicates the item's dependencies form a cycle.
	ErrDependencyCycle = errors.New("lazy: dependency cycle detected")

	// ErrDependencyTimeout marks an item whose dependencies never
	// activated within the configured window.
	ErrDependencyTimeout = errors.New("lazy: dependency wait timed out")

	// ErrUnknownItem indicates the id is not registered.
	ErrUnknownItem = errors.New("lazy: unknown item")

	// ErrDestroyed indicates an operation on a destroyed scheduler.
	ErrDestroyed = errors.New("lazy: scheduler is destroyed")
)
