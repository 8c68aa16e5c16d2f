// Package storage is the catalog: the set of databases and tables this
// node knows about, the row store and replica-placement map behind each
// table, and the scheduled snapshot/load cycle that persists all three
// independently of LSM flushing.
package storage

import (
	"encoding/json"
	"sync"
	"time"
)

// Row is one document, identified by a row-id that is never reused.
type Row struct {
	ID  string          `json:"id"`
	Doc json.RawMessage `json:"doc"`
}

// Placement names the two nodes responsible for one row: a primary and a
// secondary, distinct whenever at least two nodes are online.
type Placement struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

// TableStorageObject is the authoritative row store for one (db, table) on
// this node. Exclusively mutated by the writer path and replication
// handlers; readers take the shared side of the lock.
type TableStorageObject struct {
	mu   sync.RWMutex
	DB   string           `json:"db"`
	Name string           `json:"name"`
	Rows map[string]Row `json:"rows"`
}

func NewTableStorageObject(db, name string) *TableStorageObject {
	return &TableStorageObject{DB: db, Name: name, Rows: make(map[string]Row)}
}

func (t *TableStorageObject) Put(row Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Rows[row.ID] = row
}

func (t *TableStorageObject) Get(rowID string) (Row, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.Rows[rowID]
	return row, ok
}

func (t *TableStorageObject) Delete(rowID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.Rows, rowID)
}

func (t *TableStorageObject) Snapshot() map[string]Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Row, len(t.Rows))
	for k, v := range t.Rows {
		out[k] = v
	}
	return out
}

func (t *TableStorageObject) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.Rows)
}

// TableReplicaObject is the placement map for one (db, table): every row
// visible to the cluster has exactly one entry.
type TableReplicaObject struct {
	mu         sync.RWMutex
	DB         string               `json:"db"`
	Name       string               `json:"name"`
	Placements map[string]Placement `json:"placements"`
}

func NewTableReplicaObject(db, name string) *TableReplicaObject {
	return &TableReplicaObject{DB: db, Name: name, Placements: make(map[string]Placement)}
}

func (t *TableReplicaObject) Set(rowID string, p Placement) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Placements[rowID] = p
}

func (t *TableReplicaObject) Get(rowID string) (Placement, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.Placements[rowID]
	return p, ok
}

// UpdateNewPrimary replaces the primary role for rowID, used by Reshuffle
// when the former primary is lost.
func (t *TableReplicaObject) UpdateNewPrimary(rowID, newPrimary string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.Placements[rowID]
	p.Primary = newPrimary
	t.Placements[rowID] = p
}

func (t *TableReplicaObject) UpdateNewSecondary(rowID, newSecondary string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.Placements[rowID]
	p.Secondary = newSecondary
	t.Placements[rowID] = p
}

func (t *TableReplicaObject) Snapshot() map[string]Placement {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Placement, len(t.Placements))
	for k, v := range t.Placements {
		out[k] = v
	}
	return out
}

// RowsOwnedBy returns every row-id for which node is the primary or
// secondary, used when Reshuffle needs to find what a lost node owned.
func (t *TableReplicaObject) RowsOwnedBy(node string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var rowIDs []string
	for rowID, p := range t.Placements {
		if p.Primary == node || p.Secondary == node {
			rowIDs = append(rowIDs, rowID)
		}
	}
	return rowIDs
}

// DatabaseObject is the serialized metadata blob for one database,
// written to <db>.meta.
type DatabaseObject struct {
	Name      string    `json:"name"`
	Tables    []string  `json:"tables"`
	CreatedAt time.Time `json:"created_at"`
}
