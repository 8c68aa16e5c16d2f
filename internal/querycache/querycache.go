// Package querycache caches SELECT results by their literal query
// string, giving the "cache {enable|disable|clear|stats}" control
// commands something real to act on.
package querycache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is one cached SELECT's result rows.
type Entry struct {
	Rows []map[string]any
}

// Cache is an LRU result cache that can be turned on and off without
// losing its entries, so `cache disable` followed by `cache enable`
// resumes with whatever survived eviction.
type Cache struct {
	lru     *lru.Cache[string, Entry]
	enabled bool
	hits    int64
	misses  int64
}

func New(size int) *Cache {
	if size <= 0 {
		size = 256
	}
	c, _ := lru.New[string, Entry](size)
	return &Cache{lru: c, enabled: true}
}

func (c *Cache) Get(query string) (Entry, bool) {
	if !c.enabled {
		return Entry{}, false
	}
	entry, ok := c.lru.Get(query)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return entry, ok
}

func (c *Cache) Put(query string, entry Entry) {
	if !c.enabled {
		return
	}
	c.lru.Add(query, entry)
}

func (c *Cache) Enable()  { c.enabled = true }
func (c *Cache) Disable() { c.enabled = false }
func (c *Cache) Clear()   { c.lru.Purge() }

// Stats reports whether the cache is accepting entries, how many it
// currently holds, and its cumulative hit/miss counts.
type Stats struct {
	Enabled bool
	Entries int
	Hits    int64
	Misses  int64
}

func (c *Cache) Stats() Stats {
	return Stats{Enabled: c.enabled, Entries: c.lru.Len(), Hits: c.hits, Misses: c.misses}
}
