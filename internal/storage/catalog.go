package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dd0wney/rowdb/internal/config"
	"github.com/dd0wney/rowdb/internal/docenc"
	"github.com/dd0wney/rowdb/internal/index"
	"github.com/dd0wney/rowdb/internal/logging"
	"github.com/dd0wney/rowdb/internal/lsm"
	"github.com/dd0wney/rowdb/internal/storageerr"
	"github.com/dd0wney/rowdb/internal/wal"
)

func tableKey(db, table string) string { return db + "." + table }

// tableEntry is everything one (db, table) owns: its durable write path
// (WAL, LSM engine), its in-memory row mirror and placement map for fast
// scans and the Scheduler's snapshot, and its secondary indexes.
type tableEntry struct {
	db, name string
	wal      *wal.WAL
	engine   *lsm.Engine
	storage  *TableStorageObject
	replica  *TableReplicaObject
	indexes  *index.Manager
}

// Catalog is the top-level database/table namespace for this node: every
// DatabaseObject it knows about and every table's storage, replication
// placement and index state.
type Catalog struct {
	mu     sync.RWMutex
	dataDir string
	cfg    config.StorageConfig
	logger logging.Logger

	databases map[string]*DatabaseObject
	tables    map[string]*tableEntry

	// onWrite, when set, is called after every successful local
	// InsertRow with the LSN just assigned; it picks a placement and
	// broadcasts the row to the rest of the cluster. Kept as a plain
	// function hook rather than an import of internal/replication so
	// storage has no dependency on the network stack.
	onWrite func(db, table, rowID string, doc json.RawMessage, lsn uint64) (primary, secondary string)
}

// SetWriteHook installs the callback InsertRow invokes after a
// successful write, used by internal/runtime to wire the Replicator in.
func (c *Catalog) SetWriteHook(fn func(db, table, rowID string, doc json.RawMessage, lsn uint64) (primary, secondary string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWrite = fn
}

func NewCatalog(dataDir string, cfg config.StorageConfig, logger logging.Logger) (*Catalog, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create catalog data dir: %w", err)
	}

	c := &Catalog{
		dataDir:   dataDir,
		cfg:       cfg,
		logger:    logger,
		databases: make(map[string]*DatabaseObject),
		tables:    make(map[string]*tableEntry),
	}

	if err := c.loadCatalog(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) CreateDatabase(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.databases[name]; exists {
		return storageerr.New("catalog.CreateDatabase", storageerr.KindInvariant).
			Entity("database", name).Context("already exists").Err()
	}
	if err := os.MkdirAll(filepath.Join(c.dataDir, name), 0755); err != nil {
		return err
	}
	c.databases[name] = &DatabaseObject{Name: name, CreatedAt: time.Now()}
	return nil
}

func (c *Catalog) DropDatabase(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	db, exists := c.databases[name]
	if !exists {
		return storageerr.New("catalog.DropDatabase", storageerr.KindInvariant).
			Entity("database", name).Context("does not exist").Err()
	}
	for _, table := range db.Tables {
		key := tableKey(name, table)
		if entry, ok := c.tables[key]; ok {
			entry.engine.Close()
			entry.wal.Close()
			delete(c.tables, key)
		}
	}
	delete(c.databases, name)
	return os.RemoveAll(filepath.Join(c.dataDir, name))
}

func (c *Catalog) ListDatabases() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.databases))
	for name := range c.databases {
		names = append(names, name)
	}
	return names
}

func (c *Catalog) CreateTable(db, table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dbo, exists := c.databases[db]
	if !exists {
		return storageerr.New("catalog.CreateTable", storageerr.KindInvariant).
			Entity("database", db).Context("does not exist").Err()
	}
	key := tableKey(db, table)
	if _, exists := c.tables[key]; exists {
		return storageerr.New("catalog.CreateTable", storageerr.KindInvariant).
			Entity("table", key).Context("already exists").Err()
	}

	entry, err := c.openTable(db, table)
	if err != nil {
		return err
	}
	c.tables[key] = entry
	dbo.Tables = append(dbo.Tables, table)
	return nil
}

func (c *Catalog) openTable(db, table string) (*tableEntry, error) {
	tableDir := filepath.Join(c.dataDir, db, table)
	if err := os.MkdirAll(tableDir, 0755); err != nil {
		return nil, err
	}

	w, err := wal.Open(filepath.Join(tableDir, "wal"), c.cfg.WALSegmentBytes, c.logger)
	if err != nil {
		if w == nil {
			return nil, err
		}
		c.logger.Warn("wal recovered with a truncated tail", logging.Table(table), logging.Error(err))
	}

	engineOpts := lsm.DefaultOptions(filepath.Join(tableDir, "lsm"))
	engineOpts.MemTableMaxBytes = c.cfg.MemTableMaxBytes
	engineOpts.BloomFalsePositiveRate = c.cfg.BloomFalsePositiveRate
	engineOpts.CompactionStrategy = &lsm.LeveledCompactionStrategy{
		Level0FileLimit: 4, LevelSizeRatio: float64(c.cfg.LevelSizeRatio), MaxLevels: 7,
	}
	engineOpts.Logger = c.logger

	engine, err := lsm.New(engineOpts)
	if err != nil {
		return nil, err
	}

	entry := &tableEntry{
		db: db, name: table,
		wal: w, engine: engine,
		storage: NewTableStorageObject(db, table),
		replica: NewTableReplicaObject(db, table),
		indexes: index.NewManager(),
	}

	if err := entry.replayWAL(c.logger); err != nil {
		return nil, err
	}
	return entry, nil
}

// replayWAL rebuilds the in-memory row mirror and the LSM engine's
// memtable from every entry the WAL holds, starting at LSN 0, including
// entries already present in the engine's SSTables.
func (t *tableEntry) replayWAL(logger logging.Logger) error {
	return t.wal.Replay(0, func(e wal.Entry) error {
		switch e.Record.Op {
		case wal.OpPut:
			value, err := docenc.EncodeJSON(e.Record.Doc)
			if err != nil {
				return err
			}
			if err := t.engine.Put([]byte(e.Record.RowID), value, e.LSN); err != nil {
				return err
			}
			t.storage.Put(Row{ID: e.Record.RowID, Doc: e.Record.Doc})
		case wal.OpDelete:
			if err := t.engine.Delete([]byte(e.Record.RowID), e.LSN); err != nil {
				return err
			}
			t.storage.Delete(e.Record.RowID)
		}
		return nil
	})
}

func (c *Catalog) DropTable(db, table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dbo, exists := c.databases[db]
	if !exists {
		return storageerr.New("catalog.DropTable", storageerr.KindInvariant).Entity("database", db).Err()
	}
	key := tableKey(db, table)
	entry, exists := c.tables[key]
	if !exists {
		return storageerr.New("catalog.DropTable", storageerr.KindInvariant).Entity("table", key).Err()
	}
	entry.engine.Close()
	entry.wal.Close()
	delete(c.tables, key)

	for i, name := range dbo.Tables {
		if name == table {
			dbo.Tables = append(dbo.Tables[:i], dbo.Tables[i+1:]...)
			break
		}
	}
	return os.RemoveAll(filepath.Join(c.dataDir, db, table))
}

func (c *Catalog) ListTables(db string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dbo, exists := c.databases[db]
	if !exists {
		return nil, storageerr.New("catalog.ListTables", storageerr.KindInvariant).Entity("database", db).Err()
	}
	tables := make([]string, len(dbo.Tables))
	copy(tables, dbo.Tables)
	return tables, nil
}

func (c *Catalog) table(db, table string) (*tableEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, exists := c.tables[tableKey(db, table)]
	if !exists {
		return nil, storageerr.New("catalog.table", storageerr.KindInvariant).
			Entity("table", tableKey(db, table)).Context("not found").Err()
	}
	return entry, nil
}

// InsertRow appends a WAL record, applies it to the LSM engine and the
// in-memory row mirror, and indexes the document's fields. Returns the
// LSN assigned to the write.
func (c *Catalog) InsertRow(db, table, rowID string, doc json.RawMessage) (uint64, error) {
	entry, err := c.table(db, table)
	if err != nil {
		return 0, err
	}

	lsn, err := entry.wal.Append(wal.OpPut, db, table, rowID, doc)
	if err != nil {
		return 0, err
	}

	value, err := docenc.EncodeJSON(doc)
	if err != nil {
		return lsn, err
	}
	if err := entry.engine.Put([]byte(rowID), value, lsn); err != nil {
		return lsn, err
	}
	entry.storage.Put(Row{ID: rowID, Doc: doc})

	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err == nil {
		entry.indexes.IndexRow(rowID, toIndexValues(fields))
	}

	c.mu.RLock()
	hook := c.onWrite
	c.mu.RUnlock()
	if hook != nil {
		primary, secondary := hook(db, table, rowID, doc, lsn)
		entry.replica.Set(rowID, Placement{Primary: primary, Secondary: secondary})
	}

	return lsn, nil
}

func (c *Catalog) DeleteRow(db, table, rowID string) (uint64, error) {
	entry, err := c.table(db, table)
	if err != nil {
		return 0, err
	}

	if row, ok := entry.storage.Get(rowID); ok {
		var fields map[string]any
		if err := json.Unmarshal(row.Doc, &fields); err == nil {
			entry.indexes.UnindexRow(rowID, toIndexValues(fields))
		}
	}

	lsn, err := entry.wal.Append(wal.OpDelete, db, table, rowID, nil)
	if err != nil {
		return 0, err
	}
	if err := entry.engine.Delete([]byte(rowID), lsn); err != nil {
		return lsn, err
	}
	entry.storage.Delete(rowID)
	return lsn, nil
}

func (c *Catalog) GetRow(db, table, rowID string) (Row, bool, error) {
	entry, err := c.table(db, table)
	if err != nil {
		return Row{}, false, err
	}
	row, ok := entry.storage.Get(rowID)
	return row, ok, nil
}

func (c *Catalog) ScanTable(db, table string) (map[string]Row, error) {
	entry, err := c.table(db, table)
	if err != nil {
		return nil, err
	}
	return entry.storage.Snapshot(), nil
}

func (c *Catalog) Indexes(db, table string) (*index.Manager, error) {
	entry, err := c.table(db, table)
	if err != nil {
		return nil, err
	}
	return entry.indexes, nil
}

func (c *Catalog) Engine(db, table string) (*lsm.Engine, error) {
	entry, err := c.table(db, table)
	if err != nil {
		return nil, err
	}
	return entry.engine, nil
}

func (c *Catalog) ReplicaObject(db, table string) (*TableReplicaObject, error) {
	entry, err := c.table(db, table)
	if err != nil {
		return nil, err
	}
	return entry.replica, nil
}

// ApplyReplicatedInsert applies a ReplicateInsertObject RPC to local
// storage, assigning it a fresh local WAL LSN — this node's WAL is its
// own sequence space, independent of the sender's. The caller
// (internal/replication) is responsible for the per-(db,table,row-id)
// ordering gate against the sender's LSN before calling this.
func (c *Catalog) ApplyReplicatedInsert(db, table, rowID string, doc json.RawMessage) (uint64, error) {
	entry, err := c.table(db, table)
	if err != nil {
		return 0, err
	}

	lsn, err := entry.wal.Append(wal.OpPut, db, table, rowID, doc)
	if err != nil {
		return 0, err
	}
	value, err := docenc.EncodeJSON(doc)
	if err != nil {
		return lsn, err
	}
	if err := entry.engine.Put([]byte(rowID), value, lsn); err != nil {
		return lsn, err
	}
	entry.storage.Put(Row{ID: rowID, Doc: doc})

	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err == nil {
		entry.indexes.IndexRow(rowID, toIndexValues(fields))
	}
	return lsn, nil
}

// SetPlacement overwrites the placement record for one row, used for both
// the ordinary write path's initial placement and Reshuffle's final
// broadcast step.
func (c *Catalog) SetPlacement(db, table, rowID, primary, secondary string) error {
	entry, err := c.table(db, table)
	if err != nil {
		return err
	}
	entry.replica.Set(rowID, Placement{Primary: primary, Secondary: secondary})
	return nil
}

// WipeAll drops every database this node knows about, for the
// administrative DeleteEverything RPC.
func (c *Catalog) WipeAll() error {
	c.mu.RLock()
	names := make([]string, 0, len(c.databases))
	for name := range c.databases {
		names = append(names, name)
	}
	c.mu.RUnlock()

	for _, name := range names {
		if err := c.DropDatabase(name); err != nil {
			return err
		}
	}
	return nil
}

// TableRef names one (db, table) pair, used by Reshuffle to enumerate
// every table it must scan when a node is declared lost.
type TableRef struct{ DB, Table string }

// Tables lists every (db, table) this node currently serves.
func (c *Catalog) Tables() []TableRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	refs := make([]TableRef, 0, len(c.tables))
	for _, t := range c.tables {
		refs = append(refs, TableRef{DB: t.db, Table: t.name})
	}
	return refs
}

// ReplicaOwnedRows returns every row-id for which node is the primary or
// secondary of (db, table).
func (c *Catalog) ReplicaOwnedRows(db, table, node string) []string {
	entry, err := c.table(db, table)
	if err != nil {
		return nil
	}
	return entry.replica.RowsOwnedBy(node)
}

// GetRowDoc returns a row's raw document bytes, for Reshuffle's row
// shipping step.
func (c *Catalog) GetRowDoc(db, table, rowID string) ([]byte, bool) {
	entry, err := c.table(db, table)
	if err != nil {
		return nil, false
	}
	row, ok := entry.storage.Get(rowID)
	if !ok {
		return nil, false
	}
	return row.Doc, true
}

// UpdatePrimary and UpdateSecondary let Reshuffle rewrite one row's
// placement in place after shipping it to a replacement node.
func (c *Catalog) UpdatePrimary(db, table, rowID, newPrimary string) {
	if entry, err := c.table(db, table); err == nil {
		entry.replica.UpdateNewPrimary(rowID, newPrimary)
	}
}

func (c *Catalog) UpdateSecondary(db, table, rowID, newSecondary string) {
	if entry, err := c.table(db, table); err == nil {
		entry.replica.UpdateNewSecondary(rowID, newSecondary)
	}
}

func (c *Catalog) CurrentPlacement(db, table, rowID string) (primary, secondary string) {
	entry, err := c.table(db, table)
	if err != nil {
		return "", ""
	}
	p, _ := entry.replica.Get(rowID)
	return p.Primary, p.Secondary
}

func toIndexValues(fields map[string]any) map[string]index.Value {
	values := make(map[string]index.Value, len(fields))
	for name, v := range fields {
		switch val := v.(type) {
		case string:
			values[name] = index.StringValue(val)
		case float64:
			values[name] = index.FloatValue(val)
		case bool:
			values[name] = index.BoolValue(val)
		}
	}
	return values
}
