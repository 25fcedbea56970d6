package cache

import "errors"

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	// ErrInvalidKey indicates an empty or malformed key.
	ErrInvalidKey = errors.New("cache: key is invalid")

	// ErrKeyTooLong indicates a key longer than MaxKeyLength.
	ErrKeyTooLong = errors.New("cache: key exceeds max length")

	// ErrClosed indicates an operation on a closed store.
	ErrClosed = errors.New("cache: store is closed")

	// ErrNotCached is returned by typed lookups on a miss.
	ErrNotCached = errors.New("cache: value not cached")
)
