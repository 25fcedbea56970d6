package lazy

import (
	"context"
	"sync"
	"time"
)

// ReadinessSignal is an external condition that permits a deferred item to
// run. Ready returns a channel that is closed exactly once, when the
// condition becomes true; a signal that is already ready returns a closed
// channel.
type ReadinessSignal interface {
	Ready() <-chan struct{}
}

// ManualSignal is a readiness signal fired explicitly by the caller.
type ManualSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewManualSignal creates an unfired signal.
func NewManualSignal() *ManualSignal {
	return &ManualSignal{ch: make(chan struct{})}
}

// Fire marks the signal ready. Safe to call more than once.
func (s *ManualSignal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Ready implements ReadinessSignal.
func (s *ManualSignal) Ready() <-chan struct{} {
	return s.ch
}

// ReadyNow returns a signal that is already fired.
func ReadyNow() ReadinessSignal {
	s := NewManualSignal()
	s.Fire()
	return s
}

// After returns a signal that fires once d has elapsed.
func After(d time.Duration) ReadinessSignal {
	s := NewManualSignal()
	time.AfterFunc(d, s.Fire)
	return s
}

// DeferredSlotProvider hands out best-effort, time-bounded execution slots
// for continuing the drain loop at low priority. Schedule returns false
// when no slot is available, in which case the scheduler falls back to an
// ordinary goroutine tick. The context passed to fn is cancelled when the
// budget is exhausted.
type DeferredSlotProvider interface {
	Schedule(budget time.Duration, fn func(ctx context.Context)) bool
}

// SlotFunc adapts a function to a DeferredSlotProvider.
type SlotFunc func(budget time.Duration, fn func(ctx context.Context)) bool

// Schedule implements DeferredSlotProvider.
func (f SlotFunc) Schedule(budget time.Duration, fn func(ctx context.Context)) bool {
	return f(budget, fn)
}

// TimedSlots returns a provider that always grants a slot, running fn on a
// fresh goroutine under a context that expires with the budget. It stands
// in for host-provided idle-time slots when none exist.
func TimedSlots() DeferredSlotProvider {
	return SlotFunc(func(budget time.Duration, fn func(ctx context.Context)) bool {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), budget)
			defer cancel()
			fn(ctx)
		}()
		return true
	})
}
