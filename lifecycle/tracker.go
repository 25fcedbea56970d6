package lifecycle

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/perfcore/observe"
)

// Config configures a Tracker.
type Config struct {
	// SweepInterval is how often the automatic sweep runs.
	// Default: 60 seconds. Negative disables the sweep.
	SweepInterval time.Duration

	// StaleAge is the inactivity age after which the sweep reclaims a
	// resource. Default: 5 minutes.
	StaleAge time.Duration

	// Thresholds overrides DefaultThresholds per resource type.
	Thresholds map[ResourceType]int

	// GCInterval is the minimum interval between forced GC hints.
	// Default: 30 seconds.
	GCInterval time.Duration

	// Logger receives diagnostics. Default: no-op.
	Logger observe.Logger

	// Metrics receives telemetry. Optional.
	Metrics *observe.PerfMetrics
}

// Tracker is a registry of cleanup obligations with automatic reclamation.
// Safe for concurrent use. Cleanup callbacks run outside the tracker lock,
// so they may call back into the Tracker.
type Tracker struct {
	cfg Config

	mu        sync.Mutex
	resources map[string]*resource
	counts    map[ResourceType]int
	destroyed bool
	lastGC    time.Time

	cleaned         int64
	staleReclaimed  int64
	orphanReclaimed int64

	done chan struct{}
	wg   sync.WaitGroup
}

// Metrics is a point-in-time snapshot of tracker state.
type Metrics struct {
	Live            int
	LiveByType      map[ResourceType]int
	TotalSizeBytes  int64
	Cleaned         int64
	StaleReclaimed  int64
	OrphanReclaimed int64
}

// NewTracker creates a tracker and starts its sweep loop.
func NewTracker(cfg Config) *Tracker {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	if cfg.StaleAge <= 0 {
		cfg.StaleAge = 5 * time.Minute
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 30 * time.Second
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	cfg.Logger = cfg.Logger.WithComponent("lifecycle")

	t := &Tracker{
		cfg:       cfg,
		resources: make(map[string]*resource),
		counts:    make(map[ResourceType]int),
		done:      make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		t.wg.Add(1)
		go t.sweepLoop()
	}

	return t
}

// Register stores a cleanup obligation and returns its id.
func (t *Tracker) Register(typ ResourceType, cleanup func(), opts ...RegisterOption) (string, error) {
	if cleanup == nil {
		return "", ErrNilCleanup
	}

	now := time.Now()
	r := &resource{
		typ:            typ,
		cleanup:        cleanup,
		createdAt:      now,
		lastAccessedAt: now,
		sizeBytes:      DefaultResourceSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}

	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return "", ErrDestroyed
	}
	if prev, ok := t.resources[r.id]; ok {
		// Re-registration under the same id replaces the old obligation.
		t.counts[prev.typ]--
	}
	t.resources[r.id] = r
	t.counts[typ]++
	t.mu.Unlock()

	t.cfg.Metrics.RecordResource(context.Background(), string(typ), 1)
	return r.id, nil
}

// Unregister invokes the resource's cleanup exactly once and removes it.
// A second call with the same id is a no-op returning false. Panics inside
// the cleanup are recovered and logged; the entry is removed regardless.
func (t *Tracker) Unregister(id string) bool {
	t.mu.Lock()
	r, ok := t.resources[id]
	if ok {
		delete(t.resources, id)
		t.counts[r.typ]--
		t.cleaned++
	}
	t.mu.Unlock()

	if !ok {
		return false
	}

	t.runCleanup(r)
	t.cfg.Metrics.RecordResource(context.Background(), string(r.typ), -1)
	return true
}

// Touch refreshes the resource's last-access time so the stale sweep does
// not reclaim it. Returns false for unknown ids.
func (t *Tracker) Touch(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.resources[id]
	if !ok {
		return false
	}
	r.lastAccessedAt = time.Now()
	return true
}

// CleanupByType unregisters every resource of the given type and returns
// how many were reclaimed.
func (t *Tracker) CleanupByType(typ ResourceType) int {
	return t.reclaim(func(r *resource) bool { return r.typ == typ })
}

// CleanupStale unregisters resources not accessed within maxAge.
func (t *Tracker) CleanupStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	n := t.reclaim(func(r *resource) bool { return r.lastAccessedAt.Before(cutoff) })
	t.mu.Lock()
	t.staleReclaimed += int64(n)
	t.mu.Unlock()
	return n
}

// CleanupOrphanedResources unregisters resources whose owning context has
// been garbage collected. This is the primary leak-prevention mechanism for
// callers that forget explicit unregistration.
func (t *Tracker) CleanupOrphanedResources() int {
	n := t.reclaim(func(r *resource) bool { return r.orphaned() })
	t.mu.Lock()
	t.orphanReclaimed += int64(n)
	t.mu.Unlock()
	return n
}

// reclaim snapshots matching ids under the lock, then unregisters them
// outside it so cleanups can safely re-enter the tracker.
func (t *Tracker) reclaim(match func(*resource) bool) int {
	t.mu.Lock()
	ids := make([]string, 0)
	for id, r := range t.resources {
		if match(r) {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	n := 0
	for _, id := range ids {
		if t.Unregister(id) {
			n++
		}
	}
	return n
}

// DetectLeaks compares live counts per type against the configured
// thresholds and returns violations without remediating them.
func (t *Tracker) DetectLeaks() []Violation {
	t.mu.Lock()
	counts := make(map[ResourceType]int, len(t.counts))
	for typ, n := range t.counts {
		counts[typ] = n
	}
	t.mu.Unlock()

	var violations []Violation
	for typ, n := range counts {
		threshold, ok := t.cfg.Thresholds[typ]
		if ok && n > threshold {
			violations = append(violations, Violation{Type: typ, Count: n, Threshold: threshold})
			t.cfg.Metrics.RecordLeak(context.Background(), string(typ))
		}
	}
	return violations
}

// OptimizeGC hints the runtime to collect, rate-limited to the configured
// GC interval. Returns true when a collection was requested.
func (t *Tracker) OptimizeGC() bool {
	t.mu.Lock()
	if time.Since(t.lastGC) < t.cfg.GCInterval {
		t.mu.Unlock()
		return false
	}
	t.lastGC = time.Now()
	t.mu.Unlock()

	runtime.GC()
	return true
}

// GetMetrics returns a snapshot of tracker state.
func (t *Tracker) GetMetrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	byType := make(map[ResourceType]int, len(t.counts))
	live := 0
	for typ, n := range t.counts {
		if n > 0 {
			byType[typ] = n
			live += n
		}
	}
	var size int64
	for _, r := range t.resources {
		size += r.sizeBytes
	}

	return Metrics{
		Live:            live,
		LiveByType:      byType,
		TotalSizeBytes:  size,
		Cleaned:         t.cleaned,
		StaleReclaimed:  t.staleReclaimed,
		OrphanReclaimed: t.orphanReclaimed,
	}
}

// Destroy stops the sweep loop and reclaims every remaining resource.
// Idempotent.
func (t *Tracker) Destroy() {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.destroyed = true
	close(t.done)
	t.mu.Unlock()

	t.wg.Wait()
	t.reclaim(func(*resource) bool { return true })
}

func (t *Tracker) sweepLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-t.done:
			return
		}
	}
}

// sweep runs one best-effort hygiene pass: stale + orphan cleanup, leak
// detection, and a GC hint when anything was reclaimed.
func (t *Tracker) sweep() {
	ctx := context.Background()

	stale := t.CleanupStale(t.cfg.StaleAge)
	orphans := t.CleanupOrphanedResources()

	for _, v := range t.DetectLeaks() {
		t.cfg.Logger.Warn(ctx, "resource leak threshold exceeded",
			observe.F("type", string(v.Type)),
			observe.F("count", v.Count),
			observe.F("threshold", v.Threshold),
		)
	}

	if stale+orphans > 0 {
		t.cfg.Logger.Debug(ctx, "sweep reclaimed resources",
			observe.F("stale", stale),
			observe.F("orphaned", orphans),
		)
		t.OptimizeGC()
	}

	t.cfg.Metrics.RecordSweep(ctx, "lifecycle")
}

// runCleanup invokes a cleanup callback, converting panics into logged
// diagnostics so a broken callback cannot take down the host.
func (t *Tracker) runCleanup(r *resource) {
	defer func() {
		if rec := recover(); rec != nil {
			t.cfg.Logger.Error(context.Background(), "resource cleanup panicked",
				observe.F("resource_id", r.id),
				observe.F("type", string(r.typ)),
				observe.F("panic", fmt.Sprint(rec)),
			)
		}
	}()
	r.cleanup()
}
