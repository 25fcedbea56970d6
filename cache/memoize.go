package cache

import (
	"context"
	"time"

	"github.com/jonwraymond/perfcore/observe"
)

// Memoizer binds a Store, a Codec and a Keyer into a compute-and-cache
// helper for typed values. Serialization failures never surface to the
// caller: the value is computed and returned uncached, at the cost of
// recomputation next time.
type Memoizer struct {
	store  *Store
	codec  Codec
	keyer  Keyer
	scope  string
	ttl    time.Duration
	logger observe.Logger
}

// MemoizerOption configures a Memoizer.
type MemoizerOption func(*Memoizer)

// WithCodec overrides the JSON codec.
func WithCodec(c Codec) MemoizerOption {
	return func(m *Memoizer) {
		if c != nil {
			m.codec = c
		}
	}
}

// WithKeyer overrides the default keyer.
func WithKeyer(k Keyer) MemoizerOption {
	return func(m *Memoizer) {
		if k != nil {
			m.keyer = k
		}
	}
}

// WithTTL sets the TTL for cached results. Zero inherits the store default.
func WithTTL(ttl time.Duration) MemoizerOption {
	return func(m *Memoizer) { m.ttl = ttl }
}

// WithLogger sets the diagnostics logger.
func WithLogger(l observe.Logger) MemoizerOption {
	return func(m *Memoizer) {
		if l != nil {
			m.logger = l.WithComponent("cache")
		}
	}
}

// NewMemoizer creates a memoizer whose keys are scoped under scope.
func NewMemoizer(store *Store, scope string, opts ...MemoizerOption) *Memoizer {
	m := &Memoizer{
		store:  store,
		codec:  JSONCodec(),
		keyer:  NewDefaultKeyer(),
		scope:  scope,
		logger: observe.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCompute returns the cached value for input, computing and caching
// it on a miss. fn errors pass through and are never cached. Encoding and
// decoding failures are logged and degrade to plain computation.
func GetOrCompute[T any](ctx context.Context, m *Memoizer, input any, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	key, err := m.keyer.Key(m.scope, input)
	if err != nil {
		m.logger.Warn(ctx, "key derivation failed, computing uncached",
			observe.F("scope", m.scope), observe.F("error", err.Error()))
		return fn(ctx)
	}

	if data, ok := m.store.Get(ctx, key); ok {
		var out T
		if err := m.codec.Unmarshal(data, &out); err == nil {
			return out, nil
		}
		// Stale encoding or codec change: drop and recompute.
		m.logger.Warn(ctx, "cached value failed to decode",
			observe.F("key", key), observe.F("codec", m.codec.Name()))
		m.store.Delete(ctx, key)
	}

	out, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	encoded, err := m.codec.Marshal(out)
	if err != nil {
		m.logger.Warn(ctx, "value not serializable, returning uncached",
			observe.F("key", key), observe.F("codec", m.codec.Name()),
			observe.F("error", err.Error()))
		return out, nil
	}
	if err := m.store.Set(ctx, key, encoded, m.ttl); err != nil {
		m.logger.Warn(ctx, "failed to cache computed value",
			observe.F("key", key), observe.F("error", err.Error()))
	}
	return out, nil
}

// GetTyped returns the decoded cached value for input without computing.
// Returns ErrNotCached on a miss or decode failure.
func GetTyped[T any](ctx context.Context, m *Memoizer, input any) (T, error) {
	var zero T

	key, err := m.keyer.Key(m.scope, input)
	if err != nil {
		return zero, err
	}
	data, ok := m.store.Get(ctx, key)
	if !ok {
		return zero, ErrNotCached
	}
	var out T
	if err := m.codec.Unmarshal(data, &out); err != nil {
		return zero, ErrNotCached
	}
	return out, nil
}
