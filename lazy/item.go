package lazy

import (
	"context"
	"time"
)

// Priority orders queued items. Lower values drain first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// State is an item's position in its lifecycle.
// pending -> queued -> activating -> activated | failed.
type State int

const (
	StatePending State = iota
	StateQueued
	StateActivating
	StateActivated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Activator performs the deferred work. It may block; the scheduler runs
// it outside its lock with at most MaxConcurrent activators in flight.
type Activator func(ctx context.Context) ([]byte, error)

// item is one registered unit of deferred work. Fields are guarded by the
// scheduler mutex.
type item struct {
	id           string
	priority     Priority
	deps         []string
	precondition func() bool
	state        State
	registeredAt time.Time
	queuedAt     time.Time
	seq          uint64
	index        int // heap index, -1 when not queued

	signal    ReadinessSignal
	activator Activator
	stopWatch chan struct{}
}

// Option configures an item at registration time.
type Option func(*item)

// WithID sets an explicit item id instead of a generated one.
func WithID(id string) Option {
	return func(it *item) {
		if id != "" {
			it.id = id
		}
	}
}

// WithPriority sets the item's priority. Default: PriorityNormal.
func WithPriority(p Priority) Option {
	return func(it *item) { it.priority = p }
}

// WithDependencies names items that must activate before this one runs.
func WithDependencies(ids ...string) Option {
	return func(it *item) { it.deps = append(it.deps, ids...) }
}

// WithPrecondition attaches a capability check evaluated just before the
// activator runs. When it returns false the activation is skipped with a
// logged warning and the item is considered settled.
func WithPrecondition(check func() bool) Option {
	return func(it *item) { it.precondition = check }
}
