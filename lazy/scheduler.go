package lazy

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jonwraymond/perfcore/cache"
	"github.com/jonwraymond/perfcore/lifecycle"
	"github.com/jonwraymond/perfcore/observe"
)

// Config configures a Scheduler.
type Config struct {
	// MaxConcurrent caps in-flight activations. Default: 3.
	MaxConcurrent int

	// Cache, when set, stores activation results so repeat registrations
	// skip the activator.
	Cache *cache.Store

	// DisableCaching turns off result caching even with a Cache attached.
	DisableCaching bool

	// Tracker, when set, receives the scheduler's own timer resource;
	// activators typically register their created resources here too.
	Tracker *lifecycle.Tracker

	// DependencyTimeout fails items whose dependencies have not activated
	// within the window. Default: 30 seconds. Negative disables, restoring
	// the wait-forever behavior.
	DependencyTimeout time.Duration

	// Slots optionally provides best-effort deferred execution slots for
	// continuing the drain loop. Without a provider the scheduler falls
	// back to ordinary goroutine ticks.
	Slots DeferredSlotProvider

	// SlotBudget is the time budget requested per slot. Default: 50ms.
	SlotBudget time.Duration

	// Logger receives diagnostics. Default: no-op.
	Logger observe.Logger

	// Metrics receives telemetry. Optional.
	Metrics *observe.PerfMetrics

	// Tracer spans each activation. Default: no-op.
	Tracer observe.Tracer
}

// Scheduler defers registered work until its readiness signal fires, then
// drains a priority queue with dependency gating and bounded concurrency.
// Safe for concurrent use.
type Scheduler struct {
	cfg Config
	sem *semaphore.Weighted

	mu        sync.Mutex
	items     map[string]*item
	activated map[string]bool // settled ids, survives Unregister
	queue     activationQueue
	seq       uint64
	destroyed bool

	registered    int64
	activatedN    int64
	failedN       int64
	skippedN      int64
	cacheHits     int64
	cacheMisses   int64
	slotUses      int64
	completed     int64
	avgActivation time.Duration

	timerResource string
	stopTick      chan struct{}
	tickOnce      sync.Once
	done          chan struct{}
	wg            sync.WaitGroup
}

// Metrics is a point-in-time snapshot of scheduler state.
type Metrics struct {
	Registered    int64
	Activated     int64
	Failed        int64
	Skipped       int64
	Pending       int
	CacheHits     int64
	CacheMisses   int64
	AvgActivation time.Duration
	SlotUses      int64
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.DependencyTimeout == 0 {
		cfg.DependencyTimeout = 30 * time.Second
	}
	if cfg.SlotBudget <= 0 {
		cfg.SlotBudget = 50 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	cfg.Logger = cfg.Logger.WithComponent("lazy")
	if cfg.Tracer == nil {
		cfg.Tracer = observe.NopTracer()
	}

	s := &Scheduler{
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		items:     make(map[string]*item),
		activated: make(map[string]bool),
		stopTick:  make(chan struct{}),
		done:      make(chan struct{}),
	}

	if cfg.DependencyTimeout > 0 {
		s.wg.Add(1)
		go s.tickLoop()
		if cfg.Tracker != nil {
			rid, err := cfg.Tracker.Register(lifecycle.TypeTimer, s.stopTicking)
			if err == nil {
				s.timerResource = rid
			}
		}
	}

	return s
}

// Register defers activator until signal fires and returns the item id.
// Dependency cycles among registered items are rejected.
func (s *Scheduler) Register(signal ReadinessSignal, activator Activator, opts ...Option) (string, error) {
	return s.register(signal, activator, false, opts...)
}

// RegisterImmediate registers and activates synchronously, bypassing the
// readiness wait. The signal may be nil.
func (s *Scheduler) RegisterImmediate(activator Activator, opts ...Option) (string, error) {
	return s.register(nil, activator, true, opts...)
}

func (s *Scheduler) register(signal ReadinessSignal, activator Activator, immediate bool, opts ...Option) (string, error) {
	if activator == nil {
		return "", ErrNilActivator
	}
	if signal == nil && !immediate {
		return "", ErrNilSignal
	}

	it := &item{
		priority:     PriorityNormal,
		registeredAt: time.Now(),
		index:        -1,
		signal:       signal,
		activator:    activator,
		stopWatch:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(it)
	}
	if it.id == "" {
		it.id = uuid.NewString()
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return "", ErrDestroyed
	}
	if _, exists := s.items[it.id]; exists {
		s.mu.Unlock()
		return "", ErrDuplicateID
	}
	if s.hasCycleLocked(it) {
		s.mu.Unlock()
		return "", ErrDependencyCycle
	}
	it.seq = s.seq
	s.seq++
	s.items[it.id] = it
	s.registered++
	if immediate {
		it.state = StateActivating
	}
	s.mu.Unlock()

	if immediate {
		if err := s.sem.Acquire(context.Background(), 1); err != nil {
			return it.id, err
		}
		s.runActivation(it)
		return it.id, nil
	}

	s.wg.Add(1)
	go s.watch(it)
	return it.id, nil
}

// watch waits for the item's readiness signal and queues it.
func (s *Scheduler) watch(it *item) {
	defer s.wg.Done()
	select {
	case <-it.signal.Ready():
		s.enqueue(it)
	case <-it.stopWatch:
	case <-s.done:
	}
}

func (s *Scheduler) enqueue(it *item) {
	s.mu.Lock()
	// The identity check drops items unregistered between the readiness
	// signal firing and this point; their watch may have raced the cancel.
	if s.destroyed || it.state != StatePending || s.items[it.id] != it {
		s.mu.Unlock()
		return
	}
	it.state = StateQueued
	it.queuedAt = time.Now()
	heap.Push(&s.queue, it)
	s.mu.Unlock()

	s.drain()
}

// drain starts eligible queue heads until the queue empties or the
// concurrency cap is reached. Items with unsatisfied dependencies are set
// aside rather than blocking the loop; items whose dependencies failed or
// timed out are failed in place.
func (s *Scheduler) drain() {
	for {
		if !s.sem.TryAcquire(1) {
			return
		}

		s.mu.Lock()
		if s.destroyed {
			s.mu.Unlock()
			s.sem.Release(1)
			return
		}

		now := time.Now()
		var next *item
		var gated, dead []*item
		for s.queue.Len() > 0 {
			it := heap.Pop(&s.queue).(*item)
			satisfied, blocked := s.depStateLocked(it)
			if satisfied {
				next = it
				break
			}
			if blocked || (s.cfg.DependencyTimeout > 0 && now.Sub(it.queuedAt) > s.cfg.DependencyTimeout) {
				it.state = StateFailed
				s.failedN++
				dead = append(dead, it)
				continue
			}
			gated = append(gated, it)
		}
		for _, it := range gated {
			heap.Push(&s.queue, it)
		}
		if next != nil {
			next.state = StateActivating
		}
		s.mu.Unlock()

		for _, it := range dead {
			s.cfg.Logger.Warn(context.Background(), "item failed waiting on dependencies",
				observe.F("item_id", it.id),
				observe.F("dependencies", it.deps),
				observe.F("error", ErrDependencyTimeout.Error()),
			)
		}
		if next == nil {
			s.sem.Release(1)
			return
		}
		go s.runActivation(next) // the semaphore slot transfers to the goroutine
	}
}

// depStateLocked reports whether the item's dependencies are all settled
// (satisfied) or can never settle because one failed (blocked).
func (s *Scheduler) depStateLocked(it *item) (satisfied, blocked bool) {
	satisfied = true
	for _, dep := range it.deps {
		if s.activated[dep] {
			continue
		}
		satisfied = false
		if d, ok := s.items[dep]; ok && d.state == StateFailed {
			return false, true
		}
	}
	return satisfied, false
}

// runActivation executes one item. The caller must have acquired a
// semaphore slot and set the item to StateActivating.
func (s *Scheduler) runActivation(it *item) {
	defer s.sem.Release(1)

	ctx := context.Background()
	start := time.Now()
	ctx, span := s.cfg.Tracer.StartActivation(ctx, it.id, it.priority.String())

	status := "ok"
	var actErr error

	cached := false
	if s.cachingEnabled() {
		if _, ok := s.cfg.Cache.Get(ctx, resultKey(it.id)); ok {
			cached = true
			s.mu.Lock()
			s.cacheHits++
			s.mu.Unlock()
		} else {
			s.mu.Lock()
			s.cacheMisses++
			s.mu.Unlock()
		}
	}

	switch {
	case cached:
		status = "cached"
		s.settle(it, true)

	case it.precondition != nil && !it.precondition():
		status = "skipped"
		s.cfg.Logger.Warn(ctx, "activation precondition unmet, skipping",
			observe.F("item_id", it.id))
		s.mu.Lock()
		s.skippedN++
		s.mu.Unlock()
		s.settle(it, true)

	default:
		result, err := it.activator(ctx)
		if err != nil {
			actErr = err
			status = "failed"
			s.cfg.Logger.Error(ctx, "activation failed",
				observe.F("item_id", it.id),
				observe.F("error", err.Error()))
			s.settle(it, false)
		} else {
			if s.cachingEnabled() {
				if cerr := s.cfg.Cache.Set(ctx, resultKey(it.id), result, 0); cerr != nil {
					s.cfg.Logger.Warn(ctx, "failed to cache activation result",
						observe.F("item_id", it.id),
						observe.F("error", cerr.Error()))
				}
			}
			d := time.Since(start)
			s.mu.Lock()
			s.completed++
			s.avgActivation += (d - s.avgActivation) / time.Duration(s.completed)
			s.mu.Unlock()
			s.settle(it, true)
		}
	}

	s.cfg.Metrics.RecordActivation(ctx, status, time.Since(start))
	s.cfg.Tracer.EndSpan(span, actErr)
	s.continueDrain()
}

// settle records the item's terminal state. Activated ids are remembered
// independently of the items map so dependents still resolve after the
// item itself is unregistered.
func (s *Scheduler) settle(it *item, ok bool) {
	s.mu.Lock()
	if ok {
		it.state = StateActivated
		s.activated[it.id] = true
		s.activatedN++
	} else {
		it.state = StateFailed
		s.failedN++
	}
	s.mu.Unlock()
}

// continueDrain resumes draining through a deferred-execution slot when
// one is available, otherwise on an ordinary goroutine tick.
func (s *Scheduler) continueDrain() {
	if s.cfg.Slots != nil && s.cfg.Slots.Schedule(s.cfg.SlotBudget, func(context.Context) { s.drain() }) {
		s.mu.Lock()
		s.slotUses++
		s.mu.Unlock()
		return
	}
	go s.drain()
}

// Unregister cancels a pending or queued item, or removes the record of a
// settled one. In-flight activations cannot be cancelled and run to
// completion; Unregister returns false for them.
func (s *Scheduler) Unregister(id string) bool {
	s.mu.Lock()
	it, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	switch it.state {
	case StateActivating:
		s.mu.Unlock()
		return false
	case StateQueued:
		if it.index >= 0 {
			heap.Remove(&s.queue, it.index)
		}
	case StatePending:
		close(it.stopWatch)
	}
	delete(s.items, id)
	s.mu.Unlock()
	return true
}

// Activate forces an item to activate now, bypassing readiness and the
// queue. It blocks until the activation completes. Already-settled items
// are left as they are.
func (s *Scheduler) Activate(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	it, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownItem
	}
	switch it.state {
	case StateActivated, StateActivating, StateFailed:
		s.mu.Unlock()
		return nil
	case StateQueued:
		if it.index >= 0 {
			heap.Remove(&s.queue, it.index)
		}
	case StatePending:
		close(it.stopWatch)
	}
	it.state = StateActivating
	s.mu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.mu.Lock()
		it.state = StateQueued
		it.queuedAt = time.Now()
		heap.Push(&s.queue, it)
		s.mu.Unlock()
		return err
	}
	s.runActivation(it)
	return nil
}

// PreloadHighPriority queues every unactivated high-priority item
// immediately, bypassing the readiness wait.
func (s *Scheduler) PreloadHighPriority() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	for _, it := range s.items {
		if it.priority != PriorityHigh || it.state != StatePending {
			continue
		}
		close(it.stopWatch)
		it.state = StateQueued
		it.queuedAt = now
		heap.Push(&s.queue, it)
	}
	s.mu.Unlock()

	s.drain()
}

// GetCached returns the cached activation result for an item id.
func (s *Scheduler) GetCached(ctx context.Context, id string) ([]byte, bool) {
	if !s.cachingEnabled() {
		return nil, false
	}
	return s.cfg.Cache.Get(ctx, resultKey(id))
}

// SetCached stores an activation result for an item id.
func (s *Scheduler) SetCached(ctx context.Context, id string, value []byte) error {
	if !s.cachingEnabled() {
		return nil
	}
	return s.cfg.Cache.Set(ctx, resultKey(id), value, 0)
}

// GetMetrics returns a snapshot of scheduler statistics.
func (s *Scheduler) GetMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := 0
	for _, it := range s.items {
		if it.state == StatePending || it.state == StateQueued || it.state == StateActivating {
			pending++
		}
	}
	return Metrics{
		Registered:    s.registered,
		Activated:     s.activatedN,
		Failed:        s.failedN,
		Skipped:       s.skippedN,
		Pending:       pending,
		CacheHits:     s.cacheHits,
		CacheMisses:   s.cacheMisses,
		AvgActivation: s.avgActivation,
		SlotUses:      s.slotUses,
	}
}

// State returns an item's current state.
func (s *Scheduler) State(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		if s.activated[id] {
			return StateActivated, true
		}
		return StatePending, false
	}
	return it.state, true
}

// Destroy stops watchers and timers and clears the queue. In-flight
// activations run to completion. Idempotent.
func (s *Scheduler) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	close(s.done)
	s.queue = nil
	s.mu.Unlock()

	s.stopTicking()
	s.wg.Wait()
	if s.timerResource != "" && s.cfg.Tracker != nil {
		s.cfg.Tracker.Unregister(s.timerResource)
	}
}

func (s *Scheduler) cachingEnabled() bool {
	return s.cfg.Cache != nil && !s.cfg.DisableCaching
}

func resultKey(id string) string {
	return "lazy:result:" + id
}

// hasCycleLocked reports whether adding it would close a dependency cycle
// among the currently known items. Dependencies on ids not yet registered
// are ignored here; the cycle is caught when the closing item registers.
func (s *Scheduler) hasCycleLocked(start *item) bool {
	seen := make(map[string]bool)
	var visit func(id string) bool
	visit = func(id string) bool {
		if id == start.id {
			return true
		}
		if seen[id] {
			return false
		}
		seen[id] = true
		dep, ok := s.items[id]
		if !ok {
			return false
		}
		for _, d := range dep.deps {
			if visit(d) {
				return true
			}
		}
		return false
	}
	for _, d := range start.deps {
		if visit(d) {
			return true
		}
	}
	return false
}

// tickLoop periodically re-evaluates the queue so dependency timeouts fire
// even when no completions are driving the drain.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	interval := s.cfg.DependencyTimeout / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	if interval > 5*time.Second {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.drain()
		case <-s.stopTick:
			return
		case <-s.done:
			return
		}
	}
}

func (s *Scheduler) stopTicking() {
	s.tickOnce.Do(func() { close(s.stopTick) })
}
