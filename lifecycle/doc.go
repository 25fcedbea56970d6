// Package lifecycle tracks cleanup obligations for long-lived resources
// (watchers, listeners, timers, animations, large cache entries).
//
// Callers register a cleanup callback when they create a resource and
// unregister it when they tear the resource down. Because callers often
// forget the second half, the Tracker also reclaims resources on its own:
// stale entries past a maximum age, and orphaned entries whose owning
// context has been garbage collected (observed through a weak reference to
// an Owner handle). Leak detection compares live counts per resource type
// against fixed thresholds and reports violations without remediating them.
package lifecycle
