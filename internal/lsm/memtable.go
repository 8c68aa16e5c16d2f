package lsm

import (
	"bytes"
	"sort"
	"sync"

	"github.com/dd0wney/rowdb/internal/storageerr"
)

// Entry is a single key-value pair carrying the LSN that produced it, so
// readers merging across the memtable and SSTables can resolve conflicting
// writes to the same key by recency rather than arrival order.
type Entry struct {
	Key     []byte
	Value   []byte
	LSN     uint64
	Deleted bool
}

// MemTable is the mutable write buffer every table's LSM engine accepts
// writes into. Once Freeze()d it refuses further mutation; the engine
// swaps in a fresh MemTable and keeps the frozen snapshot around until it
// has been flushed to an SSTable.
type MemTable struct {
	mu      sync.RWMutex
	data    map[string]*Entry
	keys    []string
	size    int
	maxSize int
	sorted  bool
	frozen  bool
}

func NewMemTable(maxSize int) *MemTable {
	return &MemTable{
		data:    make(map[string]*Entry),
		keys:    make([]string, 0),
		maxSize: maxSize,
		sorted:  true,
	}
}

func (mt *MemTable) Put(key, value []byte, lsn uint64) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.frozen {
		return storageerr.New("memtable.Put", storageerr.KindInvariant).
			Context("write to frozen memtable").Err()
	}

	keyStr := string(key)
	if existing, exists := mt.data[keyStr]; exists {
		if mt.size >= len(existing.Value) {
			mt.size -= len(existing.Value)
		} else {
			mt.size = 0
		}
	} else {
		mt.keys = append(mt.keys, keyStr)
		mt.sorted = false
		mt.size += len(key)
	}
	mt.size += len(value)

	mt.data[keyStr] = &Entry{Key: key, Value: value, LSN: lsn, Deleted: false}
	return nil
}

func (mt *MemTable) Delete(key []byte, lsn uint64) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.frozen {
		return storageerr.New("memtable.Delete", storageerr.KindInvariant).
			Context("write to frozen memtable").Err()
	}

	keyStr := string(key)
	if existing, exists := mt.data[keyStr]; exists {
		existing.Deleted = true
		existing.LSN = lsn
		existing.Value = nil
	} else {
		mt.keys = append(mt.keys, keyStr)
		mt.sorted = false
		mt.data[keyStr] = &Entry{Key: key, LSN: lsn, Deleted: true}
	}
	return nil
}

func (mt *MemTable) Get(key []byte) (*Entry, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	entry, exists := mt.data[string(key)]
	if !exists {
		return nil, false
	}
	return entry, true
}

func (mt *MemTable) Size() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.size
}

func (mt *MemTable) IsFull() bool {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.size >= mt.maxSize
}

// Freeze marks the table immutable and returns a sorted snapshot of its
// entries. Callers must stop issuing writes to mt after calling this; the
// LSM engine enforces that by swapping in a new MemTable under the same
// lock that guarded mt's writes.
func (mt *MemTable) Freeze() *Frozen {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.frozen = true
	if !mt.sorted {
		sort.Strings(mt.keys)
		mt.sorted = true
	}

	entries := make([]*Entry, 0, len(mt.keys))
	for _, k := range mt.keys {
		entries = append(entries, mt.data[k])
	}
	return &Frozen{entries: entries}
}

// Frozen is an immutable, key-sorted snapshot of a memtable that has been
// frozen and is pending flush to an SSTable.
type Frozen struct {
	entries []*Entry
}

func (f *Frozen) Entries() []*Entry { return f.entries }

func (f *Frozen) Get(key []byte) (*Entry, bool) {
	i := sort.Search(len(f.entries), func(i int) bool {
		return bytes.Compare(f.entries[i].Key, key) >= 0
	})
	if i < len(f.entries) && bytes.Equal(f.entries[i].Key, key) {
		return f.entries[i], true
	}
	return nil, false
}

func (f *Frozen) Scan(start, end []byte) []*Entry {
	lo := sort.Search(len(f.entries), func(i int) bool {
		return bytes.Compare(f.entries[i].Key, start) >= 0
	})
	var results []*Entry
	for i := lo; i < len(f.entries); i++ {
		if end != nil && bytes.Compare(f.entries[i].Key, end) >= 0 {
			break
		}
		results = append(results, f.entries[i])
	}
	return results
}

// Scan over a live (unfrozen) memtable, used by the read path before a
// flush has happened.
func (mt *MemTable) Scan(start, end []byte) []*Entry {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if !mt.sorted {
		sort.Strings(mt.keys)
		mt.sorted = true
	}

	var results []*Entry
	for _, k := range mt.keys {
		if bytes.Compare([]byte(k), start) >= 0 && (end == nil || bytes.Compare([]byte(k), end) < 0) {
			results = append(results, mt.data[k])
		}
	}
	return results
}

func EntryCompare(a, b *Entry) int {
	return bytes.Compare(a.Key, b.Key)
}
