// Package lazy defers expensive work until an external readiness condition
// fires, then runs it through a priority queue with dependency gating and a
// bounded number of in-flight activations.
//
// Each registered item binds a ReadinessSignal. When the signal fires, the
// item is queued ordered by (priority, registration order). The drain loop
// starts items whose dependencies have activated, up to the concurrency
// cap; gated items are set aside without blocking the loop. Activation
// results are cached in a cache.Store so repeated registrations skip the
// activator entirely, and dependency cycles are rejected at registration.
package lazy
