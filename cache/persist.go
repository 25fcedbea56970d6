package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jonwraymond/perfcore/observe"
)

// record is the serialized form of one entry in the persisted blob.
// Value carries the stored representation, so compressed entries stay
// compressed on disk.
type record struct {
	Key            string        `json:"key"`
	Value          []byte        `json:"value"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastAccessedAt time.Time     `json:"lastAccessedAt"`
	AccessCount    int64         `json:"accessCount"`
	SizeBytes      int64         `json:"sizeBytes"`
	RawSizeBytes   int64         `json:"rawSizeBytes"`
	TTL            time.Duration `json:"ttl,omitempty"`
	Compressed     bool          `json:"compressed"`
}

// SaveTo writes the store contents as a single JSON blob.
func (s *Store) SaveTo(w io.Writer) error {
	s.mu.Lock()
	records := make([]record, 0, len(s.entries))
	for el := s.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		records = append(records, record{
			Key:            e.key,
			Value:          e.payload.data,
			CreatedAt:      e.createdAt,
			LastAccessedAt: e.lastAccessedAt,
			AccessCount:    e.accessCount,
			SizeBytes:      e.payload.size(),
			RawSizeBytes:   e.rawSize,
			TTL:            e.ttl,
			Compressed:     e.payload.compressed,
		})
	}
	s.mu.Unlock()

	if err := json.NewEncoder(w).Encode(records); err != nil {
		return fmt.Errorf("cache: save: %w", err)
	}
	return nil
}

// LoadFrom reinserts entries from a blob written by SaveTo. Entries are
// restored as-is with their original timestamps and counters; TTLs are not
// revalidated until the next access. Existing entries with the same keys
// are replaced.
func (s *Store) LoadFrom(r io.Reader) error {
	var records []record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return fmt.Errorf("cache: load: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var removed []string
	for _, rec := range records {
		if ValidateKey(rec.Key) != nil {
			continue
		}
		if prev, ok := s.entries[rec.Key]; ok {
			removed = append(removed, s.removeLocked(prev))
		}
		e := &entry{
			key:            rec.Key,
			payload:        payload{compressed: rec.Compressed, data: rec.Value},
			rawSize:        rec.RawSizeBytes,
			createdAt:      rec.CreatedAt,
			lastAccessedAt: rec.LastAccessedAt,
			accessCount:    rec.AccessCount,
			ttl:            rec.TTL,
			seq:            s.seq,
		}
		if e.rawSize == 0 {
			e.rawSize = e.payload.size()
		}
		s.seq++
		e.elem = insertByAccessTime(s.order, e)
		s.entries[rec.Key] = e
		s.totalSize += e.payload.size()
		if e.payload.compressed {
			s.rawTotal += e.rawSize
			s.compTotal += e.payload.size()
		}
	}
	s.mu.Unlock()

	for _, rid := range removed {
		s.unregisterResource(rid)
	}
	return nil
}

// insertByAccessTime keeps the access-order list sorted oldest-first while
// restoring persisted entries.
func insertByAccessTime(order *list.List, e *entry) *list.Element {
	for el := order.Back(); el != nil; el = el.Prev() {
		if !el.Value.(*entry).lastAccessedAt.After(e.lastAccessedAt) {
			return order.InsertAfter(e, el)
		}
	}
	return order.PushFront(e)
}

// SaveFile persists the store to path in the background. Errors are logged
// and swallowed; callers are not blocked and the in-memory cache keeps
// operating regardless of the outcome.
func (s *Store) SaveFile(path string) {
	go func() {
		ctx := context.Background()
		f, err := os.Create(path)
		if err != nil {
			s.cfg.Logger.Warn(ctx, "cache persistence save failed",
				observe.F("path", path), observe.F("error", err.Error()))
			return
		}
		defer f.Close()
		if err := s.SaveTo(f); err != nil {
			s.cfg.Logger.Warn(ctx, "cache persistence save failed",
				observe.F("path", path), observe.F("error", err.Error()))
		}
	}()
}

// LoadFile restores the store from path. A missing or corrupt blob is
// logged and ignored; the cache continues purely in memory.
func (s *Store) LoadFile(path string) {
	ctx := context.Background()
	f, err := os.Open(path)
	if err != nil {
		s.cfg.Logger.Debug(ctx, "cache persistence blob unavailable",
			observe.F("path", path), observe.F("error", err.Error()))
		return
	}
	defer f.Close()
	if err := s.LoadFrom(f); err != nil {
		s.cfg.Logger.Warn(ctx, "cache persistence load failed",
			observe.F("path", path), observe.F("error", err.Error()))
	}
}
