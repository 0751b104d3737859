// Package cache provides a bounded, memory-aware LRU cache.
//
// A Cache holds at most MaxEntries values whose estimated sizes sum to no
// more than the memory budget. Both Get and Put refresh recency; eviction
// always removes the least recently used entry first. Values pass through an
// optional copier on the way in and out, so callers never share state with
// the cache.
//
// Statistics are always tracked. Prometheus metrics are optional:
//
//	c, err := cache.New[core.Body](1000, 100<<20,
//		cache.WithCopier(core.CloneBody),
//		cache.WithMetrics[core.Body](prometheus.DefaultRegisterer, "store"),
//	)
package cache
