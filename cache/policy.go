package cache

import (
	"sort"
	"time"
)

// Strategy selects which entries are removed under capacity or memory
// pressure.
type Strategy int

const (
	// StrategyAdaptive scores entries by age, size and access frequency
	// and evicts the worst offenders first. This is the default.
	StrategyAdaptive Strategy = iota

	// StrategyLRU evicts the least recently accessed entries first.
	StrategyLRU

	// StrategyLFU evicts the least frequently accessed entries first.
	StrategyLFU

	// StrategyTTL evicts the oldest inserted entries first.
	StrategyTTL
)

func (s Strategy) String() string {
	switch s {
	case StrategyLRU:
		return "lru"
	case StrategyLFU:
		return "lfu"
	case StrategyTTL:
		return "ttl"
	default:
		return "adaptive"
	}
}

// adaptiveScore ranks an entry for eviction: old, large, rarely accessed
// entries score high and go first. The score is computed on the fly during
// eviction and never stored.
func adaptiveScore(e *entry, now time.Time) float64 {
	ageSeconds := now.Sub(e.createdAt).Seconds()
	sizeKB := float64(e.payload.size()) / 1024
	return ageSeconds + sizeKB - float64(e.accessCount)*10
}

// victimsLocked returns up to n entries to evict, ordered most-evictable
// first. Caller holds the store mutex.
func (s *Store) victimsLocked(n int) []*entry {
	if n <= 0 || len(s.entries) == 0 {
		return nil
	}

	if s.cfg.Strategy == StrategyLRU {
		// The access-order list already ranks entries least recently
		// accessed first; no sort needed.
		victims := make([]*entry, 0, n)
		for el := s.order.Front(); el != nil && len(victims) < n; el = el.Next() {
			victims = append(victims, el.Value.(*entry))
		}
		return victims
	}

	all := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}

	now := time.Now()
	switch s.cfg.Strategy {
	case StrategyLFU:
		sort.Slice(all, func(i, j int) bool {
			if all[i].accessCount != all[j].accessCount {
				return all[i].accessCount < all[j].accessCount
			}
			return all[i].seq < all[j].seq
		})
	case StrategyTTL:
		sort.Slice(all, func(i, j int) bool {
			if !all[i].createdAt.Equal(all[j].createdAt) {
				return all[i].createdAt.Before(all[j].createdAt)
			}
			return all[i].seq < all[j].seq
		})
	default: // StrategyAdaptive
		sort.Slice(all, func(i, j int) bool {
			si, sj := adaptiveScore(all[i], now), adaptiveScore(all[j], now)
			if si != sj {
				return si > sj
			}
			return all[i].seq < all[j].seq
		})
	}

	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}
