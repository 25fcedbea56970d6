package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Keyer generates deterministic cache keys from a scope and an input.
//
// Contract:
// - Determinism: same inputs must produce the same key. encoding/json
//   marshals map keys in sorted order, so map-shaped inputs are stable.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key generates a cache key from a scope name and input.
	Key(scope string, input any) (string, error)
}

// DefaultKeyer generates SHA-256 based cache keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key generates a deterministic cache key.
// Format: perf:<scope>:<hash> where hash is the first 16 hex characters of
// SHA-256 over the JSON encoding of input.
func (k *DefaultKeyer) Key(scope string, input any) (string, error) {
	encoded, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("cache: failed to encode key input: %w", err)
	}

	hash := sha256.Sum256(encoded)
	return fmt.Sprintf("perf:%s:%s", scope, hex.EncodeToString(hash[:8])), nil
}

// Ensure DefaultKeyer implements Keyer.
var _ Keyer = (*DefaultKeyer)(nil)
