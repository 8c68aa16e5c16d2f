// Package index implements secondary indexes over row field values: an
// ordered structure keyed by a sortable encoding of the indexed value, so
// range lookups walk a contiguous slice window instead of scanning every
// distinct value.
package index

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type keyBucket struct {
	key    string
	rowIDs []string
}

// Index is a single-field secondary index over one table's rows.
type Index struct {
	mu        sync.RWMutex
	fieldName string
	valueType ValueType

	keys     []string // sorted, parallel to buckets
	buckets  map[string]*keyBucket
	rowCount int
}

func New(fieldName string, valueType ValueType) *Index {
	return &Index{
		fieldName: fieldName,
		valueType: valueType,
		buckets:   make(map[string]*keyBucket),
	}
}

func (idx *Index) Name() string { return idx.fieldName }

// Insert adds rowID under value, keeping the key slice sorted.
func (idx *Index) Insert(rowID string, value Value) error {
	if value.Type != idx.valueType {
		return fmt.Errorf("index %s: value type mismatch: expected %d, got %d", idx.fieldName, idx.valueType, value.Type)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := sortableKey(value)
	bucket, ok := idx.buckets[key]
	if !ok {
		bucket = &keyBucket{key: key}
		idx.buckets[key] = bucket
		idx.insertSortedKey(key)
	}
	bucket.rowIDs = append(bucket.rowIDs, rowID)
	idx.rowCount++
	return nil
}

func (idx *Index) insertSortedKey(key string) {
	i := sort.SearchStrings(idx.keys, key)
	idx.keys = append(idx.keys, "")
	copy(idx.keys[i+1:], idx.keys[i:])
	idx.keys[i] = key
}

// Remove deletes rowID from value's bucket, dropping the bucket (and its
// slot in the sorted key slice) if it becomes empty.
func (idx *Index) Remove(rowID string, value Value) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := sortableKey(value)
	bucket, ok := idx.buckets[key]
	if !ok {
		return fmt.Errorf("index %s: value not present", idx.fieldName)
	}

	for i, id := range bucket.rowIDs {
		if id != rowID {
			continue
		}
		bucket.rowIDs[i] = bucket.rowIDs[len(bucket.rowIDs)-1]
		bucket.rowIDs = bucket.rowIDs[:len(bucket.rowIDs)-1]
		idx.rowCount--
		if len(bucket.rowIDs) == 0 {
			delete(idx.buckets, key)
			idx.removeSortedKey(key)
		}
		return nil
	}
	return fmt.Errorf("index %s: row %s not found under value", idx.fieldName, rowID)
}

func (idx *Index) removeSortedKey(key string) {
	i := sort.SearchStrings(idx.keys, key)
	if i < len(idx.keys) && idx.keys[i] == key {
		idx.keys = append(idx.keys[:i], idx.keys[i+1:]...)
	}
}

// Lookup returns every row ID indexed under value.
func (idx *Index) Lookup(value Value) ([]string, error) {
	if value.Type != idx.valueType {
		return nil, fmt.Errorf("index %s: value type mismatch", idx.fieldName)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	bucket, ok := idx.buckets[sortableKey(value)]
	if !ok {
		return nil, nil
	}
	result := make([]string, len(bucket.rowIDs))
	copy(result, bucket.rowIDs)
	return result, nil
}

// RangeLookup returns every row ID whose indexed value lies in [start, end],
// walking only the contiguous window of the sorted key slice that falls in
// range rather than scanning every bucket.
func (idx *Index) RangeLookup(start, end Value) ([]string, error) {
	if start.Type != idx.valueType || end.Type != idx.valueType {
		return nil, fmt.Errorf("index %s: value type mismatch", idx.fieldName)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	startKey, endKey := sortableKey(start), sortableKey(end)
	lo := sort.SearchStrings(idx.keys, startKey)
	hi := sort.SearchStrings(idx.keys, endKey+"\x00") // inclusive of endKey itself

	var result []string
	for i := lo; i < hi && i < len(idx.keys); i++ {
		result = append(result, idx.buckets[idx.keys[i]].rowIDs...)
	}
	return result, nil
}

// PrefixLookup returns every row ID whose string value starts with prefix,
// using the sorted key slice to bound the scan to the matching window.
func (idx *Index) PrefixLookup(prefix string) ([]string, error) {
	if idx.valueType != TypeString {
		return nil, fmt.Errorf("index %s: prefix lookup requires a string index", idx.fieldName)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	lo := sort.SearchStrings(idx.keys, prefix)
	var result []string
	for i := lo; i < len(idx.keys); i++ {
		if !strings.HasPrefix(idx.keys[i], prefix) {
			break
		}
		result = append(result, idx.buckets[idx.keys[i]].rowIDs...)
	}
	return result, nil
}

type Statistics struct {
	FieldName      string
	UniqueValues   int
	TotalRows      int
	AvgRowsPerKey  float64
}

func (idx *Index) Stats() Statistics {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	unique := len(idx.keys)
	avg := 0.0
	if unique > 0 {
		avg = float64(idx.rowCount) / float64(unique)
	}
	return Statistics{
		FieldName:     idx.fieldName,
		UniqueValues:  unique,
		TotalRows:     idx.rowCount,
		AvgRowsPerKey: avg,
	}
}

func (idx *Index) Keys() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	keys := make([]string, len(idx.keys))
	copy(keys, idx.keys)
	return keys
}
