// Package cache provides a content-addressed response cache.
//
// Entries are keyed by the SHA-256 of the model identifier and the input
// text, expire after a TTL, and are bounded in number: when an insert pushes
// the cache past MaxEntries the oldest entry by creation time is evicted.
//
//	c := cache.New(cache.Config{Enabled: true, TTL: time.Hour, MaxEntries: 1000}, nil, logger)
//	if payload, tokens, ok := c.Get(model, input); ok {
//	    return payload, tokens
//	}
//	payload, tokens := call(model, input)
//	c.Put(model, input, payload, tokens)
//
// # Durable backing
//
// A Store persists entries between processes. JSONFileStore keeps the whole
// cache in one JSON document, replaced atomically on every write.
// BoltStore keeps one record per entry in a bbolt database and writes
// incrementally, which suits caches far larger than a few thousand entries.
//
// Store failures never fail a lookup: they are logged and the cache carries
// on in memory, treating unreadable data as empty.
//
// Two inputs whose keys collide are treated as the same entry.
package cache
