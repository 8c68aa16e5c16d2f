package lsm

import (
	"container/list"
	"sync"
)

// BlockCache is an LRU cache for recently read entries, keyed by the raw
// storage key, sitting in front of SSTable Get calls.
type BlockCache struct {
	mu       sync.RWMutex
	capacity int
	cache    map[string]*list.Element
	lru      *list.List

	hits   int64
	misses int64
}

type cacheEntry struct {
	key   string
	entry *Entry
}

func NewBlockCache(capacity int) *BlockCache {
	return &BlockCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

func (bc *BlockCache) Get(key string) (*Entry, bool) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if elem, ok := bc.cache[key]; ok {
		bc.lru.MoveToFront(elem)
		bc.hits++
		return elem.Value.(*cacheEntry).entry, true
	}

	bc.misses++
	return nil, false
}

func (bc *BlockCache) Put(key string, entry *Entry) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if elem, ok := bc.cache[key]; ok {
		bc.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).entry = entry
		return
	}

	elem := bc.lru.PushFront(&cacheEntry{key: key, entry: entry})
	bc.cache[key] = elem

	if bc.lru.Len() > bc.capacity {
		bc.evict()
	}
}

func (bc *BlockCache) evict() {
	elem := bc.lru.Back()
	if elem == nil {
		return
	}
	bc.lru.Remove(elem)
	delete(bc.cache, elem.Value.(*cacheEntry).key)
}

func (bc *BlockCache) Delete(key string) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if elem, ok := bc.cache[key]; ok {
		bc.lru.Remove(elem)
		delete(bc.cache, key)
	}
}

func (bc *BlockCache) Clear() {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	bc.cache = make(map[string]*list.Element)
	bc.lru = list.New()
	bc.hits = 0
	bc.misses = 0
}

func (bc *BlockCache) Stats() (hits, misses int64, hitRate float64) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	hits, misses = bc.hits, bc.misses
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return
}

func (bc *BlockCache) Size() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.lru.Len()
}
