package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/jonwraymond/perfcore/lifecycle"
	"github.com/jonwraymond/perfcore/observe"
)

// Config configures a Store.
type Config struct {
	// MaxEntries caps the number of resident entries. Default: 1000.
	MaxEntries int

	// MemoryThreshold is the total stored size in bytes above which a Set
	// evicts roughly 20% of entries. Default: 50 MiB. Negative disables.
	MemoryThreshold int64

	// MaxAge is the store-wide TTL applied to entries without their own.
	// Default: 1 hour. Negative means entries without a TTL never expire.
	MaxAge time.Duration

	// Strategy selects the eviction policy. Default: StrategyAdaptive.
	Strategy Strategy

	// SweepInterval is how often the periodic sweep runs.
	// Default: 30 seconds. Negative disables the sweep.
	SweepInterval time.Duration

	// CompressionThreshold is the stored-size floor for compression
	// attempts. Default: DefaultCompressionThreshold. Negative disables.
	CompressionThreshold int

	// CompressionMinRatio is the largest compressed/raw ratio worth
	// keeping. Default: DefaultCompressionMinRatio.
	CompressionMinRatio float64

	// LargeEntryBytes is the stored size at which an entry is registered
	// with the Tracker for orphan accounting. Default: 4096.
	LargeEntryBytes int64

	// Tracker, when set, receives a cacheEntry resource for each large
	// entry; its cleanup deletes the key.
	Tracker *lifecycle.Tracker

	// Logger receives diagnostics. Default: no-op.
	Logger observe.Logger

	// Metrics receives telemetry. Optional.
	Metrics *observe.PerfMetrics
}

// Store is a byte-valued cache with TTLs, size accounting, pluggable
// eviction and opportunistic compression. Safe for concurrent use.
type Store struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // front = least recently accessed
	seq     uint64

	hits      int64
	misses    int64
	evictions int64
	totalSize int64
	rawTotal  int64 // pre-compression bytes of compressed entries
	compTotal int64 // stored bytes of compressed entries

	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// Metrics is a point-in-time snapshot of store state.
type Metrics struct {
	Entries          int
	TotalSizeBytes   int64
	Hits             int64
	Misses           int64
	HitRate          float64
	MissRate         float64
	Evictions        int64
	CompressionRatio float64
}

// New creates a store and starts its sweep loop.
func New(cfg Config) *Store {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.MemoryThreshold == 0 {
		cfg.MemoryThreshold = 50 << 20
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.CompressionThreshold == 0 {
		cfg.CompressionThreshold = DefaultCompressionThreshold
	}
	if cfg.CompressionMinRatio <= 0 || cfg.CompressionMinRatio >= 1 {
		cfg.CompressionMinRatio = DefaultCompressionMinRatio
	}
	if cfg.LargeEntryBytes <= 0 {
		cfg.LargeEntryBytes = 4096
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	cfg.Logger = cfg.Logger.WithComponent("cache")

	s := &Store{
		cfg:     cfg,
		entries: make(map[string]*entry),
		order:   list.New(),
		done:    make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop()
	}

	return s
}

// Get returns the value for key, or (nil, false) when the key is missing
// or expired. Expired entries are removed on the way out. Compressed
// payloads are decompressed transparently.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	now := time.Now()

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.misses++
		s.mu.Unlock()
		s.cfg.Metrics.RecordCacheAccess(ctx, false)
		return nil, false
	}
	if e.expired(now, s.cfg.MaxAge) {
		rid := s.removeLocked(e)
		s.misses++
		s.mu.Unlock()
		s.unregisterResource(rid)
		s.cfg.Metrics.RecordCacheAccess(ctx, false)
		return nil, false
	}

	e.lastAccessedAt = now
	e.accessCount++
	s.order.MoveToBack(e.elem)
	p := e.payload
	rid := e.resourceID
	s.mu.Unlock()

	// Keep the tracked resource's access time in step with the entry so
	// the stale sweep does not reclaim a hot key.
	if rid != "" && s.cfg.Tracker != nil {
		s.cfg.Tracker.Touch(rid)
	}

	value := p.data
	if p.compressed {
		var err error
		value, err = decompressBytes(p.data)
		if err != nil {
			// Corrupt payload: drop the entry and report a miss.
			s.cfg.Logger.Error(ctx, "failed to decompress cached value",
				observe.F("key", key), observe.F("error", err.Error()))
			s.Delete(ctx, key)
			s.mu.Lock()
			s.misses++
			s.mu.Unlock()
			s.cfg.Metrics.RecordCacheAccess(ctx, false)
			return nil, false
		}
	}

	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
	s.cfg.Metrics.RecordCacheAccess(ctx, true)
	return value, true
}

// Set stores value under key. At capacity it evicts one entry first; when
// total stored size exceeds the memory threshold it evicts roughly 20% of
// entries afterward. A prior entry for the same key is replaced. ttl=0
// inherits the store-wide max age.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	p := maybeCompress(value, s.cfg.CompressionThreshold, s.cfg.CompressionMinRatio)
	now := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	var removed []string
	if prev, ok := s.entries[key]; ok {
		removed = append(removed, s.removeLocked(prev))
	}
	if len(s.entries) >= s.cfg.MaxEntries {
		ids, n := s.evictLocked(1)
		removed = append(removed, ids...)
		defer s.cfg.Metrics.RecordEviction(ctx, s.cfg.Strategy.String(), n)
	}

	e := &entry{
		key:            key,
		payload:        p,
		rawSize:        int64(len(value)),
		createdAt:      now,
		lastAccessedAt: now,
		ttl:            ttl,
		seq:            s.seq,
	}
	s.seq++
	e.elem = s.order.PushBack(e)
	s.entries[key] = e
	s.totalSize += p.size()
	if p.compressed {
		s.rawTotal += e.rawSize
		s.compTotal += p.size()
	}

	if s.cfg.MemoryThreshold > 0 && s.totalSize > s.cfg.MemoryThreshold {
		n := (len(s.entries) + 4) / 5 // ~20%
		ids, evicted := s.evictLocked(n)
		removed = append(removed, ids...)
		defer s.cfg.Metrics.RecordEviction(ctx, s.cfg.Strategy.String(), evicted)
	}

	registerLarge := s.cfg.Tracker != nil && p.size() >= s.cfg.LargeEntryBytes
	seq := e.seq
	s.mu.Unlock()

	for _, rid := range removed {
		s.unregisterResource(rid)
	}
	if registerLarge {
		s.registerLargeEntry(ctx, key, seq, p.size())
	}
	return nil
}

// Delete removes key. Returns true when an entry was present.
func (s *Store) Delete(ctx context.Context, key string) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	var rid string
	if ok {
		rid = s.removeLocked(e)
	}
	s.mu.Unlock()

	if ok {
		s.unregisterResource(rid)
	}
	return ok
}

// Has reports whether key is resident and unexpired. Unlike Get it mutates
// no access statistics.
func (s *Store) Has(ctx context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && !e.expired(time.Now(), s.cfg.MaxAge)
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	rids := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		if e.resourceID != "" {
			rids = append(rids, e.resourceID)
		}
	}
	s.entries = make(map[string]*entry)
	s.order.Init()
	s.totalSize, s.rawTotal, s.compTotal = 0, 0, 0
	s.mu.Unlock()

	for _, rid := range rids {
		s.unregisterResource(rid)
	}
}

// Len returns the number of resident entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns the resident keys in no particular order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// GetMetrics returns a snapshot of store statistics.
func (s *Store) GetMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{
		Entries:          len(s.entries),
		TotalSizeBytes:   s.totalSize,
		Hits:             s.hits,
		Misses:           s.misses,
		Evictions:        s.evictions,
		CompressionRatio: 1,
	}
	if total := s.hits + s.misses; total > 0 {
		m.HitRate = float64(s.hits) / float64(total)
		m.MissRate = float64(s.misses) / float64(total)
	}
	if s.rawTotal > 0 {
		m.CompressionRatio = float64(s.compTotal) / float64(s.rawTotal)
	}
	return m
}

// Close stops the sweep loop and clears the store. Idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	s.Clear(context.Background())
}

// removeLocked detaches e from the map, list and size accounting and
// returns its lifecycle resource id for deregistration outside the lock.
func (s *Store) removeLocked(e *entry) string {
	delete(s.entries, e.key)
	s.order.Remove(e.elem)
	s.totalSize -= e.payload.size()
	if e.payload.compressed {
		s.rawTotal -= e.rawSize
		s.compTotal -= e.payload.size()
	}
	return e.resourceID
}

// evictLocked removes up to n entries chosen by the configured strategy.
func (s *Store) evictLocked(n int) ([]string, int) {
	victims := s.victimsLocked(n)
	rids := make([]string, 0, len(victims))
	for _, e := range victims {
		rids = append(rids, s.removeLocked(e))
	}
	s.evictions += int64(len(victims))
	return rids, len(victims)
}

func (s *Store) unregisterResource(rid string) {
	if rid == "" || s.cfg.Tracker == nil {
		return
	}
	s.cfg.Tracker.Unregister(rid)
}

// deleteIfCurrent removes key only when the resident entry still carries
// seq. A replacement bumps the sequence, so cleanups held by a prior
// generation's lifecycle resource cannot take out the current entry.
func (s *Store) deleteIfCurrent(key string, seq uint64) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.seq != seq {
		s.mu.Unlock()
		return
	}
	rid := s.removeLocked(e)
	s.mu.Unlock()
	s.unregisterResource(rid)
}

// registerLargeEntry files a cacheEntry resource whose cleanup deletes the
// key. The seq guard skips registration when the entry has already been
// replaced or evicted, and scopes the cleanup to this generation of the
// key.
func (s *Store) registerLargeEntry(ctx context.Context, key string, seq uint64, size int64) {
	rid, err := s.cfg.Tracker.Register(lifecycle.TypeCacheEntry,
		func() { s.deleteIfCurrent(key, seq) },
		lifecycle.WithSize(size),
	)
	if err != nil {
		s.cfg.Logger.Warn(ctx, "failed to register large entry",
			observe.F("key", key), observe.F("error", err.Error()))
		return
	}

	s.mu.Lock()
	e, ok := s.entries[key]
	if ok && e.seq == seq {
		e.resourceID = rid
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.cfg.Tracker.Unregister(rid)
}

func (s *Store) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep drops expired entries regardless of pressure and retries
// compression on raw entries that exceed the threshold (entries loaded
// from a persisted blob or stored under a previous configuration).
func (s *Store) sweep() {
	ctx := context.Background()
	now := time.Now()

	s.mu.Lock()
	var removed []string
	expired := make([]*entry, 0)
	for _, e := range s.entries {
		if e.expired(now, s.cfg.MaxAge) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		removed = append(removed, s.removeLocked(e))
	}

	for _, e := range s.entries {
		if e.payload.compressed || int(e.payload.size()) <= s.cfg.CompressionThreshold {
			continue
		}
		p := maybeCompress(e.payload.data, s.cfg.CompressionThreshold, s.cfg.CompressionMinRatio)
		if !p.compressed {
			continue
		}
		s.totalSize += p.size() - e.payload.size()
		s.rawTotal += e.rawSize
		s.compTotal += p.size()
		e.payload = p
	}
	s.mu.Unlock()

	for _, rid := range removed {
		s.unregisterResource(rid)
	}
	if len(expired) > 0 {
		s.cfg.Logger.Debug(ctx, "sweep removed expired entries",
			observe.F("count", len(expired)))
	}
	s.cfg.Metrics.RecordSweep(ctx, "cache")
}
