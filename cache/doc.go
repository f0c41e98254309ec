// Package cache implements the normalized entity store and everything built
// on top of it: identity resolution, the subscription graph, the named-list
// registry, the optimistic mutation pipeline and the list-operation
// interpreter.
//
// Entities are stored once, keyed by (typename, id), with all references
// indirected through that key. Queries and fragments subscribe to selection
// shapes; every merge reports exactly the slots it changed and only
// subscriptions depending on those slots are re-evaluated. A re-evaluated
// value is pushed to its sink only when it actually differs.
//
// The cache is safe for concurrent use. Every merge runs atomically under a
// single mutex; sinks are invoked after the lock is released so they may
// re-enter the cache. Because delivery happens outside the lock, pushes from
// two concurrent merges may reach a sink out of order; the subscription's
// recorded value is updated under the lock, so the next change re-derives
// from current state and the stale push is transient.
package cache
