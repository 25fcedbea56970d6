package cache

import (
	"container/list"
	"strings"
	"time"
)

// payload is the stored representation of a value: either the raw bytes or
// a gzip-compressed form. The tag is explicit rather than inferred from the
// bytes so raw values that happen to look like gzip are never misread.
type payload struct {
	compressed bool
	data       []byte
}

func (p payload) size() int64 {
	return int64(len(p.data))
}

// entry is one resident cache entry. All fields are guarded by the store
// mutex.
type entry struct {
	key            string
	payload        payload
	rawSize        int64 // size before compression; equals payload size when raw
	createdAt      time.Time
	lastAccessedAt time.Time
	accessCount    int64
	ttl            time.Duration // 0 means use the store-wide max age
	seq            uint64        // insertion order, breaks eviction ties
	elem           *list.Element // position in the access-order list
	resourceID     string        // lifecycle registration for large entries
}

// expired reports whether the entry is past its TTL (or the store-wide max
// age when it has none). A zero effective TTL never expires.
func (e *entry) expired(now time.Time, storeMaxAge time.Duration) bool {
	ttl := e.ttl
	if ttl <= 0 {
		ttl = storeMaxAge
	}
	if ttl <= 0 {
		return false
	}
	return now.Sub(e.createdAt) > ttl
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
