// Package cache provides an adaptive in-process cache for computed values.
//
// The Store is byte-valued with per-entry TTLs, size accounting, four
// eviction strategies (adaptive scoring, LRU, LFU, insertion age) and
// transparent gzip compression for large payloads. A periodic sweep drops
// expired entries and re-evaluates compression. Typed values go through a
// Codec (JSON or gob) via GetOrCompute, which derives deterministic keys
// and falls back to plain computation when a value cannot be encoded.
//
// The Store optionally persists its contents as a single serialized blob
// and registers its large entries with a lifecycle.Tracker so forgotten
// entries are reclaimed with their owning context.
package cache
