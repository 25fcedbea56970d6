package cache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jonwraymond/perfcore/lifecycle"
)

// newTrackedStore builds a store wired to a tracker with predictable
// sizes: compression off, large-entry threshold at 1KB, sweeps disabled.
func newTrackedStore(t *testing.T) (*Store, *lifecycle.Tracker) {
	t.Helper()
	tr := lifecycle.NewTracker(lifecycle.Config{SweepInterval: -1})
	t.Cleanup(tr.Destroy)

	s := New(Config{
		Tracker:              tr,
		LargeEntryBytes:      1024,
		CompressionThreshold: -1,
		SweepInterval:        -1,
	})
	t.Cleanup(s.Close)
	return s, tr
}

func trackedEntries(tr *lifecycle.Tracker) int {
	return tr.GetMetrics().LiveByType[lifecycle.TypeCacheEntry]
}

// TestLargeEntry_Registration verifies only entries at or above the
// threshold are filed with the tracker.
func TestLargeEntry_Registration(t *testing.T) {
	ctx := context.Background()
	s, tr := newTrackedStore(t)

	s.Set(ctx, "small", make([]byte, 16), 0)
	if n := trackedEntries(tr); n != 0 {
		t.Fatalf("tracked after small Set = %d, want 0", n)
	}

	s.Set(ctx, "big", make([]byte, 2048), 0)
	if n := trackedEntries(tr); n != 1 {
		t.Fatalf("tracked after large Set = %d, want 1", n)
	}

	s.Delete(ctx, "big")
	if n := trackedEntries(tr); n != 0 {
		t.Errorf("tracked after Delete = %d, want 0", n)
	}
}

// TestLargeEntry_ReplacementKeepsNewValue verifies replacing a tracked
// entry leaves the replacement resident: the old generation's cleanup
// must not take out the new value.
func TestLargeEntry_ReplacementKeepsNewValue(t *testing.T) {
	ctx := context.Background()
	s, tr := newTrackedStore(t)

	v1 := bytes.Repeat([]byte{0xa5}, 5000)
	v2 := []byte("replacement")

	if err := s.Set(ctx, "k", v1, 0); err != nil {
		t.Fatalf("Set v1 = %v", err)
	}
	if err := s.Set(ctx, "k", v2, 0); err != nil {
		t.Fatalf("Set v2 = %v", err)
	}

	got, ok := s.Get(ctx, "k")
	if !ok {
		t.Fatal("key absent immediately after replacement")
	}
	if !bytes.Equal(got, v2) {
		t.Errorf("Get = %d bytes, want the replacement value", len(got))
	}
	if n := trackedEntries(tr); n != 0 {
		t.Errorf("tracked after small replacement = %d, want 0", n)
	}
}

// TestLargeEntry_LargeReplacementStaysTracked verifies a large-for-large
// replacement re-registers and keeps exactly one resource.
func TestLargeEntry_LargeReplacementStaysTracked(t *testing.T) {
	ctx := context.Background()
	s, tr := newTrackedStore(t)

	s.Set(ctx, "k", make([]byte, 2048), 0)
	s.Set(ctx, "k", make([]byte, 4096), 0)

	if !s.Has(ctx, "k") {
		t.Fatal("key absent after large replacement")
	}
	if n := trackedEntries(tr); n != 1 {
		t.Errorf("tracked = %d, want 1", n)
	}
}

// TestLargeEntry_CleanupDeletesKey verifies the tracker-side reclamation
// path removes the entry from the store.
func TestLargeEntry_CleanupDeletesKey(t *testing.T) {
	ctx := context.Background()
	s, tr := newTrackedStore(t)

	s.Set(ctx, "k", make([]byte, 2048), 0)

	if n := tr.CleanupByType(lifecycle.TypeCacheEntry); n != 1 {
		t.Fatalf("CleanupByType = %d, want 1", n)
	}
	if s.Has(ctx, "k") {
		t.Error("reclaimed entry still resident")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

// TestLargeEntry_EvictionUnregisters verifies capacity eviction releases
// the evicted entry's resource and leaves the survivor tracked.
func TestLargeEntry_EvictionUnregisters(t *testing.T) {
	ctx := context.Background()
	tr := lifecycle.NewTracker(lifecycle.Config{SweepInterval: -1})
	t.Cleanup(tr.Destroy)

	s := New(Config{
		MaxEntries:           1,
		Tracker:              tr,
		LargeEntryBytes:      1024,
		CompressionThreshold: -1,
		SweepInterval:        -1,
	})
	t.Cleanup(s.Close)

	s.Set(ctx, "first", make([]byte, 2048), 0)
	s.Set(ctx, "second", make([]byte, 2048), 0)

	if s.Has(ctx, "first") {
		t.Error("first should have been evicted")
	}
	if !s.Has(ctx, "second") {
		t.Error("second should be resident")
	}
	if n := trackedEntries(tr); n != 1 {
		t.Errorf("tracked = %d, want 1", n)
	}
}

// TestLargeEntry_HotEntrySurvivesStaleSweep verifies a Get refreshes the
// resource's access time, so the stale sweep only reclaims entries that
// are actually idle.
func TestLargeEntry_HotEntrySurvivesStaleSweep(t *testing.T) {
	ctx := context.Background()
	s, tr := newTrackedStore(t)

	s.Set(ctx, "k", make([]byte, 2048), 0)

	time.Sleep(30 * time.Millisecond)
	if _, ok := s.Get(ctx, "k"); !ok {
		t.Fatal("Get missed")
	}
	if n := tr.CleanupStale(20 * time.Millisecond); n != 0 {
		t.Fatalf("CleanupStale reclaimed %d hot entries, want 0", n)
	}
	if !s.Has(ctx, "k") {
		t.Fatal("hot entry was reclaimed by the stale sweep")
	}

	time.Sleep(30 * time.Millisecond)
	if n := tr.CleanupStale(20 * time.Millisecond); n != 1 {
		t.Fatalf("CleanupStale = %d idle entries, want 1", n)
	}
	if s.Has(ctx, "k") {
		t.Error("idle entry should have been reclaimed")
	}
}

// TestLargeEntry_LoadReplacement verifies restoring a blob over a tracked
// key keeps the restored value resident.
func TestLargeEntry_LoadReplacement(t *testing.T) {
	ctx := context.Background()

	src := newTestStore(t, Config{CompressionThreshold: -1})
	src.Set(ctx, "k", []byte("from-blob"), 0)
	var blob bytes.Buffer
	if err := src.SaveTo(&blob); err != nil {
		t.Fatalf("SaveTo = %v", err)
	}

	dst, tr := newTrackedStore(t)
	dst.Set(ctx, "k", make([]byte, 2048), 0)
	if err := dst.LoadFrom(&blob); err != nil {
		t.Fatalf("LoadFrom = %v", err)
	}

	got, ok := dst.Get(ctx, "k")
	if !ok || string(got) != "from-blob" {
		t.Errorf("after load, k = (%q, %v), want (from-blob, true)", got, ok)
	}
	if n := trackedEntries(tr); n != 0 {
		t.Errorf("tracked after replacement = %d, want 0", n)
	}
}

// TestLargeEntry_ClearUnregisters verifies Clear releases every tracked
// resource.
func TestLargeEntry_ClearUnregisters(t *testing.T) {
	ctx := context.Background()
	s, tr := newTrackedStore(t)

	s.Set(ctx, "a", make([]byte, 2048), 0)
	s.Set(ctx, "b", make([]byte, 2048), 0)

	s.Clear(ctx)
	if n := trackedEntries(tr); n != 0 {
		t.Errorf("tracked after Clear = %d, want 0", n)
	}
}
