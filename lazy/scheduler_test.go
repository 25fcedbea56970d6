package lazy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/perfcore/cache"
	"github.com/jonwraymond/perfcore/lifecycle"
)

func newTestScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	s := NewScheduler(cfg)
	t.Cleanup(s.Destroy)
	return s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// orderRecorder collects activation order across goroutines.
type orderRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *orderRecorder) activator(name string) Activator {
	return func(ctx context.Context) ([]byte, error) {
		r.mu.Lock()
		r.order = append(r.order, name)
		r.mu.Unlock()
		return []byte(name), nil
	}
}

func (r *orderRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// TestScheduler_WaitsForReadiness verifies nothing runs before the signal
// fires.
func TestScheduler_WaitsForReadiness(t *testing.T) {
	s := newTestScheduler(t, Config{})

	ran := make(chan struct{})
	sig := NewManualSignal()
	id, err := s.Register(sig, func(ctx context.Context) ([]byte, error) {
		close(ran)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Register = %v", err)
	}

	select {
	case <-ran:
		t.Fatal("activator ran before readiness fired")
	case <-time.After(30 * time.Millisecond):
	}

	sig.Fire()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("activator did not run after readiness fired")
	}

	waitFor(t, 2*time.Second, func() bool {
		st, _ := s.State(id)
		return st == StateActivated
	}, "item never reached activated state")
}

// holdSlot occupies the scheduler's only concurrency slot until the
// returned release func is called, so later registrations pile up in the
// queue and drain strictly by priority.
func holdSlot(t *testing.T, s *Scheduler) (release func()) {
	t.Helper()
	started := make(chan struct{})
	gate := make(chan struct{})
	if _, err := s.Register(ReadyNow(), func(ctx context.Context) ([]byte, error) {
		close(started)
		<-gate
		return nil, nil
	}); err != nil {
		t.Fatalf("Register blocker = %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("blocker never acquired the slot")
	}
	return func() { close(gate) }
}

// queuedCount reports how many of the given ids are in the queued state.
func queuedCount(s *Scheduler, ids ...string) int {
	n := 0
	for _, id := range ids {
		if st, ok := s.State(id); ok && st == StateQueued {
			n++
		}
	}
	return n
}

// TestScheduler_PriorityOrder reproduces: register [low, high, normal],
// maxConcurrent=1, all ready at once -> activation order high, normal, low.
func TestScheduler_PriorityOrder(t *testing.T) {
	rec := &orderRecorder{}
	s := newTestScheduler(t, Config{MaxConcurrent: 1})
	release := holdSlot(t, s)

	sig := NewManualSignal()
	low, err := s.Register(sig, rec.activator("low"), WithPriority(PriorityLow))
	if err != nil {
		t.Fatalf("Register low = %v", err)
	}
	high, err := s.Register(sig, rec.activator("high"), WithPriority(PriorityHigh))
	if err != nil {
		t.Fatalf("Register high = %v", err)
	}
	normal, err := s.Register(sig, rec.activator("normal"))
	if err != nil {
		t.Fatalf("Register normal = %v", err)
	}

	sig.Fire()
	waitFor(t, 2*time.Second, func() bool {
		return queuedCount(s, low, high, normal) == 3
	}, "items never queued")
	release()

	waitFor(t, 2*time.Second, func() bool {
		return len(rec.snapshot()) == 3
	}, "not all items activated")

	got := rec.snapshot()
	want := []string{"high", "normal", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("activation order = %v, want %v", got, want)
		}
	}
}

// TestScheduler_RegistrationOrderWithinPriority verifies the two-key sort
// is stable.
func TestScheduler_RegistrationOrderWithinPriority(t *testing.T) {
	rec := &orderRecorder{}
	s := newTestScheduler(t, Config{MaxConcurrent: 1})
	release := holdSlot(t, s)

	sig := NewManualSignal()
	ids := make([]string, 0, 3)
	for _, name := range []string{"first", "second", "third"} {
		id, err := s.Register(sig, rec.activator(name))
		if err != nil {
			t.Fatalf("Register %s = %v", name, err)
		}
		ids = append(ids, id)
	}
	sig.Fire()
	waitFor(t, 2*time.Second, func() bool {
		return queuedCount(s, ids...) == 3
	}, "items never queued")
	release()

	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 3 }, "not all items activated")

	got := rec.snapshot()
	for i, want := range []string{"first", "second", "third"} {
		if got[i] != want {
			t.Fatalf("activation order = %v, want registration order", got)
		}
	}
}

// TestScheduler_DependencyGating reproduces: B depends on A, B's signal
// fires first -> B waits for A to activate.
func TestScheduler_DependencyGating(t *testing.T) {
	rec := &orderRecorder{}
	s := newTestScheduler(t, Config{})

	sigA := NewManualSignal()
	sigB := NewManualSignal()

	if _, err := s.Register(sigA, rec.activator("A"), WithID("A")); err != nil {
		t.Fatalf("Register A = %v", err)
	}
	idB, err := s.Register(sigB, rec.activator("B"), WithID("B"), WithDependencies("A"))
	if err != nil {
		t.Fatalf("Register B = %v", err)
	}

	sigB.Fire()
	time.Sleep(50 * time.Millisecond)
	if len(rec.snapshot()) != 0 {
		t.Fatal("B activated before its dependency")
	}
	if st, _ := s.State(idB); st != StateQueued {
		t.Fatalf("B state = %v, want queued", st)
	}

	sigA.Fire()
	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 2 }, "A and B never both activated")

	got := rec.snapshot()
	if got[0] != "A" || got[1] != "B" {
		t.Fatalf("activation order = %v, want [A B]", got)
	}
}

// TestScheduler_DependencyCycleRejected verifies cycles fail at Register.
func TestScheduler_DependencyCycleRejected(t *testing.T) {
	s := newTestScheduler(t, Config{})
	noop := func(ctx context.Context) ([]byte, error) { return nil, nil }

	if _, err := s.Register(NewManualSignal(), noop, WithID("a"), WithDependencies("b")); err != nil {
		t.Fatalf("Register a = %v", err)
	}
	if _, err := s.Register(NewManualSignal(), noop, WithID("b"), WithDependencies("a")); !errors.Is(err, ErrDependencyCycle) {
		t.Errorf("closing the cycle = %v, want ErrDependencyCycle", err)
	}
	if _, err := s.Register(NewManualSignal(), noop, WithID("self"), WithDependencies("self")); !errors.Is(err, ErrDependencyCycle) {
		t.Errorf("self-dependency = %v, want ErrDependencyCycle", err)
	}
}

// TestScheduler_DependencyTimeout verifies a gated item fails once its
// dependency never shows up within the window.
func TestScheduler_DependencyTimeout(t *testing.T) {
	s := newTestScheduler(t, Config{DependencyTimeout: 50 * time.Millisecond})

	id, err := s.Register(ReadyNow(), func(ctx context.Context) ([]byte, error) {
		t.Error("gated activator should never run")
		return nil, nil
	}, WithDependencies("never-registered"))
	if err != nil {
		t.Fatalf("Register = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		st, _ := s.State(id)
		return st == StateFailed
	}, "item never failed on dependency timeout")

	if m := s.GetMetrics(); m.Failed != 1 {
		t.Errorf("Failed = %d, want 1", m.Failed)
	}
}

// TestScheduler_FailedDependencyFailsDependent verifies an item whose
// dependency failed is failed rather than left gated.
func TestScheduler_FailedDependencyFailsDependent(t *testing.T) {
	s := newTestScheduler(t, Config{})

	if _, err := s.Register(ReadyNow(), func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("activation broke")
	}, WithID("broken")); err != nil {
		t.Fatalf("Register broken = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		st, _ := s.State("broken")
		return st == StateFailed
	}, "broken item never failed")

	id, err := s.Register(ReadyNow(), func(ctx context.Context) ([]byte, error) {
		t.Error("dependent of a failed item should not run")
		return nil, nil
	}, WithDependencies("broken"))
	if err != nil {
		t.Fatalf("Register dependent = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		st, _ := s.State(id)
		return st == StateFailed
	}, "dependent never failed")
}

// TestScheduler_FailureNotRetried verifies a failed activator stays
// failed and runs once.
func TestScheduler_FailureNotRetried(t *testing.T) {
	s := newTestScheduler(t, Config{})

	calls := 0
	var mu sync.Mutex
	id, _ := s.Register(ReadyNow(), func(ctx context.Context) ([]byte, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, errors.New("boom")
	})

	waitFor(t, 2*time.Second, func() bool {
		st, _ := s.State(id)
		return st == StateFailed
	}, "item never failed")

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("activator ran %d times, want 1 (no retry)", calls)
	}
}

// TestScheduler_ResultCaching verifies a cached result skips the
// activator on a later registration with the same id.
func TestScheduler_ResultCaching(t *testing.T) {
	store := cache.New(cache.Config{SweepInterval: -1})
	defer store.Close()

	calls := 0
	var mu sync.Mutex
	activator := func(ctx context.Context) ([]byte, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return []byte("computed"), nil
	}

	s1 := newTestScheduler(t, Config{Cache: store})
	id, _ := s1.Register(ReadyNow(), activator, WithID("shared"))
	waitFor(t, 2*time.Second, func() bool {
		st, _ := s1.State(id)
		return st == StateActivated
	}, "first activation never completed")

	s2 := newTestScheduler(t, Config{Cache: store})
	id2, _ := s2.Register(ReadyNow(), activator, WithID("shared"))
	waitFor(t, 2*time.Second, func() bool {
		st, _ := s2.State(id2)
		return st == StateActivated
	}, "second activation never settled")

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("activator ran %d times, want 1 (cache hit)", calls)
	}
	if v, ok := s2.GetCached(context.Background(), "shared"); !ok || string(v) != "computed" {
		t.Errorf("GetCached = (%q, %v), want (computed, true)", v, ok)
	}
	if m := s2.GetMetrics(); m.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", m.CacheHits)
	}
}

// TestScheduler_PreconditionSkip verifies an unmet precondition settles
// the item without invoking the activator.
func TestScheduler_PreconditionSkip(t *testing.T) {
	s := newTestScheduler(t, Config{})

	id, _ := s.Register(ReadyNow(), func(ctx context.Context) ([]byte, error) {
		t.Error("activator should not run when precondition is unmet")
		return nil, nil
	}, WithPrecondition(func() bool { return false }))

	waitFor(t, 2*time.Second, func() bool {
		st, _ := s.State(id)
		return st == StateActivated
	}, "skipped item never settled")

	if m := s.GetMetrics(); m.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", m.Skipped)
	}
}

// TestScheduler_ImmediateActivation verifies RegisterImmediate runs
// synchronously.
func TestScheduler_ImmediateActivation(t *testing.T) {
	s := newTestScheduler(t, Config{})

	ran := false
	id, err := s.RegisterImmediate(func(ctx context.Context) ([]byte, error) {
		ran = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("RegisterImmediate = %v", err)
	}
	if !ran {
		t.Error("immediate activator did not run synchronously")
	}
	if st, _ := s.State(id); st != StateActivated {
		t.Errorf("state = %v, want activated", st)
	}
}

// TestScheduler_UnregisterPending verifies cancellation before readiness.
func TestScheduler_UnregisterPending(t *testing.T) {
	s := newTestScheduler(t, Config{})

	sig := NewManualSignal()
	id, _ := s.Register(sig, func(ctx context.Context) ([]byte, error) {
		t.Error("cancelled activator should not run")
		return nil, nil
	})

	if !s.Unregister(id) {
		t.Fatal("Unregister = false, want true")
	}
	sig.Fire()
	time.Sleep(50 * time.Millisecond)
}

// TestScheduler_UnregisterBeatsReadiness reproduces the race where the
// readiness signal and the cancellation are both observable when the
// watcher wakes: a queued-after-cancel item must be dropped, not run.
func TestScheduler_UnregisterBeatsReadiness(t *testing.T) {
	s := newTestScheduler(t, Config{})

	sig := NewManualSignal()
	id, _ := s.Register(sig, func(ctx context.Context) ([]byte, error) {
		t.Error("cancelled activator should not run")
		return nil, nil
	})

	s.mu.Lock()
	it := s.items[id]
	s.mu.Unlock()

	if !s.Unregister(id) {
		t.Fatal("Unregister = false, want true")
	}
	sig.Fire()

	// Deliver the stale readiness directly, as a watcher that took the
	// Ready branch of its select would.
	s.enqueue(it)
	time.Sleep(50 * time.Millisecond)

	if m := s.GetMetrics(); m.Activated != 0 {
		t.Errorf("Activated = %d, want 0", m.Activated)
	}
}

// TestScheduler_UnregisterInFlight verifies an in-flight activation
// cannot be cancelled and runs to completion.
func TestScheduler_UnregisterInFlight(t *testing.T) {
	s := newTestScheduler(t, Config{})

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	id, _ := s.Register(ReadyNow(), func(ctx context.Context) ([]byte, error) {
		close(started)
		<-release
		close(done)
		return nil, nil
	})

	<-started
	if s.Unregister(id) {
		t.Error("Unregister of an in-flight item = true, want false")
	}
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight activation never completed")
	}
}

// TestScheduler_PreloadHighPriority verifies preload bypasses readiness
// for high-priority items only.
func TestScheduler_PreloadHighPriority(t *testing.T) {
	rec := &orderRecorder{}
	s := newTestScheduler(t, Config{MaxConcurrent: 1})

	never := NewManualSignal()
	s.Register(never, rec.activator("critical"), WithPriority(PriorityHigh))
	s.Register(never, rec.activator("background"), WithPriority(PriorityLow))

	s.PreloadHighPriority()

	waitFor(t, 2*time.Second, func() bool { return len(rec.snapshot()) == 1 }, "high-priority item never preloaded")
	time.Sleep(30 * time.Millisecond)

	got := rec.snapshot()
	if len(got) != 1 || got[0] != "critical" {
		t.Fatalf("preloaded = %v, want [critical] only", got)
	}
}

// TestScheduler_ForceActivate verifies Activate bypasses the readiness
// wait for one item.
func TestScheduler_ForceActivate(t *testing.T) {
	s := newTestScheduler(t, Config{})

	ran := false
	id, _ := s.Register(NewManualSignal(), func(ctx context.Context) ([]byte, error) {
		ran = true
		return nil, nil
	})

	if err := s.Activate(context.Background(), id); err != nil {
		t.Fatalf("Activate = %v", err)
	}
	if !ran {
		t.Error("forced activation did not run")
	}
	if err := s.Activate(context.Background(), "missing"); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("Activate(missing) = %v, want ErrUnknownItem", err)
	}
}

// TestScheduler_MaxConcurrent verifies the in-flight cap holds.
func TestScheduler_MaxConcurrent(t *testing.T) {
	s := newTestScheduler(t, Config{MaxConcurrent: 2})

	var mu sync.Mutex
	inFlight, peak := 0, 0
	release := make(chan struct{})

	blocker := func(ctx context.Context) ([]byte, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		<-release
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil, nil
	}

	for i := 0; i < 5; i++ {
		s.Register(ReadyNow(), blocker)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return inFlight == 2
	}, "two activations never started")
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	if peak > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", peak)
	}
	mu.Unlock()

	close(release)
	waitFor(t, 2*time.Second, func() bool {
		return s.GetMetrics().Activated == 5
	}, "not all activations completed")
}

// TestScheduler_DeferredSlots verifies slot-provider continuations are
// used and counted.
func TestScheduler_DeferredSlots(t *testing.T) {
	s := newTestScheduler(t, Config{
		MaxConcurrent: 1,
		Slots:         TimedSlots(),
	})

	sig := NewManualSignal()
	for i := 0; i < 3; i++ {
		s.Register(sig, func(ctx context.Context) ([]byte, error) { return nil, nil })
	}
	sig.Fire()

	waitFor(t, 2*time.Second, func() bool {
		return s.GetMetrics().Activated == 3
	}, "not all items activated through deferred slots")

	if m := s.GetMetrics(); m.SlotUses == 0 {
		t.Error("SlotUses = 0, want > 0")
	}
}

// TestScheduler_RollingAverage verifies the duration metric moves.
func TestScheduler_RollingAverage(t *testing.T) {
	s := newTestScheduler(t, Config{MaxConcurrent: 1})

	for i := 0; i < 2; i++ {
		s.Register(ReadyNow(), func(ctx context.Context) ([]byte, error) {
			time.Sleep(10 * time.Millisecond)
			return nil, nil
		})
	}

	waitFor(t, 2*time.Second, func() bool {
		return s.GetMetrics().Activated == 2
	}, "activations never completed")

	if avg := s.GetMetrics().AvgActivation; avg < 5*time.Millisecond {
		t.Errorf("AvgActivation = %v, want >= 5ms", avg)
	}
}

// TestScheduler_TimerResourceRegistered verifies the scheduler files its
// tick timer with the tracker and releases it on Destroy.
func TestScheduler_TimerResourceRegistered(t *testing.T) {
	tr := lifecycle.NewTracker(lifecycle.Config{SweepInterval: -1})
	defer tr.Destroy()

	s := NewScheduler(Config{Tracker: tr})
	if m := tr.GetMetrics(); m.LiveByType[lifecycle.TypeTimer] != 1 {
		t.Fatalf("LiveByType[timer] = %d, want 1", m.LiveByType[lifecycle.TypeTimer])
	}

	s.Destroy()
	if m := tr.GetMetrics(); m.LiveByType[lifecycle.TypeTimer] != 0 {
		t.Errorf("LiveByType[timer] after Destroy = %d, want 0", m.LiveByType[lifecycle.TypeTimer])
	}
}

// TestScheduler_RegisterValidation covers misuse errors.
func TestScheduler_RegisterValidation(t *testing.T) {
	s := newTestScheduler(t, Config{})
	noop := func(ctx context.Context) ([]byte, error) { return nil, nil }

	if _, err := s.Register(NewManualSignal(), nil); !errors.Is(err, ErrNilActivator) {
		t.Errorf("nil activator = %v, want ErrNilActivator", err)
	}
	if _, err := s.Register(nil, noop); !errors.Is(err, ErrNilSignal) {
		t.Errorf("nil signal = %v, want ErrNilSignal", err)
	}
	if _, err := s.Register(NewManualSignal(), noop, WithID("dup")); err != nil {
		t.Fatalf("Register dup = %v", err)
	}
	if _, err := s.Register(NewManualSignal(), noop, WithID("dup")); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate id = %v, want ErrDuplicateID", err)
	}
}

// TestScheduler_DestroyRejectsRegistration verifies post-Destroy misuse.
func TestScheduler_DestroyRejectsRegistration(t *testing.T) {
	s := NewScheduler(Config{})
	s.Destroy()

	if _, err := s.Register(NewManualSignal(), func(ctx context.Context) ([]byte, error) {
		return nil, nil
	}); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Register after Destroy = %v, want ErrDestroyed", err)
	}
}

// TestScheduler_ActivateAfterDestroy verifies forced activation is
// refused once the scheduler is destroyed.
func TestScheduler_ActivateAfterDestroy(t *testing.T) {
	s := NewScheduler(Config{})

	id, _ := s.Register(NewManualSignal(), func(ctx context.Context) ([]byte, error) {
		t.Error("activator should not run after Destroy")
		return nil, nil
	})
	s.Destroy()

	if err := s.Activate(context.Background(), id); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Activate after Destroy = %v, want ErrDestroyed", err)
	}
}
