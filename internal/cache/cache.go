// Package cache memoizes Oracle results keyed by normalized-ChunkSet
// identity. Its lifetime is exactly one ddmin run: entries never
// invalidate, since the Oracle is a pure function of its ChunkSet under a
// fixed FailurePredicate and original input.
package cache

import (
	"github.com/calvinalkan/ddmin/internal/chunkset"
)

// Stats tracks how effectively the Cache is deduplicating Oracle queries.
type Stats struct {
	Hits   int
	Misses int
}

// Cache maps a normalized ChunkSet to its Oracle verdict.
type Cache struct {
	entries map[string]bool
	stats   Stats
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]bool)}
}

// Get reports the cached verdict for cs, if any.
func (c *Cache) Get(cs chunkset.ChunkSet) (fail bool, ok bool) {
	fail, ok = c.entries[cs.Key()]
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}

	return fail, ok
}

// Put records the verdict for cs, replacing any earlier entry for an
// equivalent ChunkSet. The Oracle is pure, so a repeated Put for the same
// key carries the same verdict.
func (c *Cache) Put(cs chunkset.ChunkSet, fail bool) {
	c.entries[cs.Key()] = fail
}

// Stats returns a snapshot of hit/miss counters.
func (c *Cache) Stats() Stats {
	return c.stats
}
