// Package cache provides a simple key-value cache interface with LRU eviction
// and TTL support.
//
// The package defines two interfaces:
//
//   - [Cache]: Untyped cache storing values as any
//   - [TypedCache]: Generic type-safe wrapper via [NewTyped]
//
// # Implementations
//
// [LRU] provides an in-memory LRU cache guarded by a mutex. [Nop] never
// stores anything and is the default where caching is optional.
//
//	c := cache.NewLRU(cache.LRUOpts{Size: 1000})
//	defer c.Close()
//
//	c.Put("key", value, cache.WithTTL(5*time.Minute))
//	if val, ok := c.Get("key"); ok {
//	    // Use val
//	}
//
// # Aggregates
//
// The event-sourcing repository keys cached aggregates by stream
// (bucket and aggregate id), matching aggregate identity semantics:
//
//	accounts := cache.NewTyped[*Account](c)
//	accounts.Put(es.StreamKey(bucket, id), acc)
//
// Expired entries are lazily evicted on access.
package cache
