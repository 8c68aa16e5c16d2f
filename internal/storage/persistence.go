package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const filePermissions = 0644

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePermissions); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

func (c *Catalog) metaPath(db string) string {
	return filepath.Join(c.dataDir, db+".meta")
}

func (c *Catalog) storageSnapshotPath(db, table string) string {
	return filepath.Join(c.dataDir, db, table, "table-storage.snapshot")
}

func (c *Catalog) replicaSnapshotPath(db, table string) string {
	return filepath.Join(c.dataDir, db, table, "table-replica.snapshot")
}

// PersistCatalog writes every DatabaseObject's metadata, then every
// table's storage and replica snapshot, in that order, as the Storage
// Scheduler's perform_persist contract requires.
func (c *Catalog) PersistCatalog() error {
	c.mu.RLock()
	databases := make([]*DatabaseObject, 0, len(c.databases))
	for _, db := range c.databases {
		databases = append(databases, db)
	}
	tables := make([]*tableEntry, 0, len(c.tables))
	for _, t := range c.tables {
		tables = append(tables, t)
	}
	c.mu.RUnlock()

	for _, db := range databases {
		data, err := json.Marshal(db)
		if err != nil {
			return fmt.Errorf("marshal database %s: %w", db.Name, err)
		}
		if err := writeAtomic(c.metaPath(db.Name), data); err != nil {
			return err
		}
	}

	for _, t := range tables {
		if err := t.saveStorageSnapshot(c.storageSnapshotPath(t.db, t.name)); err != nil {
			return err
		}
		if err := t.saveReplicaSnapshot(c.replicaSnapshotPath(t.db, t.name)); err != nil {
			return err
		}
	}

	return nil
}

func (t *tableEntry) saveStorageSnapshot(path string) error {
	data, err := json.Marshal(t.storage.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal table storage %s.%s: %w", t.db, t.name, err)
	}
	return writeAtomic(path, data)
}

func (t *tableEntry) saveReplicaSnapshot(path string) error {
	data, err := json.Marshal(t.replica.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal table replicas %s.%s: %w", t.db, t.name, err)
	}
	return writeAtomic(path, data)
}

// loadCatalog reads every *.meta file, reopens each database's tables
// (replaying their WALs on top of the last storage/replica snapshot, if
// any), and populates c.databases/c.tables.
func (c *Catalog) loadCatalog() error {
	entries, err := os.ReadDir(c.dataDir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".meta" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dataDir, e.Name()))
		if err != nil {
			return err
		}
		var dbo DatabaseObject
		if err := json.Unmarshal(data, &dbo); err != nil {
			return fmt.Errorf("unmarshal %s: %w", e.Name(), err)
		}
		c.databases[dbo.Name] = &dbo

		for _, table := range dbo.Tables {
			entry, err := c.openTable(dbo.Name, table)
			if err != nil {
				return fmt.Errorf("reopen table %s.%s: %w", dbo.Name, table, err)
			}
			if err := entry.loadStorageSnapshot(c.storageSnapshotPath(dbo.Name, table)); err != nil {
				return err
			}
			if err := entry.loadReplicaSnapshot(c.replicaSnapshotPath(dbo.Name, table)); err != nil {
				return err
			}
			if err := entry.replayWAL(c.logger); err != nil {
				return fmt.Errorf("replay wal for %s.%s: %w", dbo.Name, table, err)
			}
			c.tables[tableKey(dbo.Name, table)] = entry
		}
	}

	return nil
}

func (t *tableEntry) loadStorageSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var rows map[string]Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("unmarshal table storage snapshot %s: %w", path, err)
	}
	for _, row := range rows {
		t.storage.Put(row)
	}
	return nil
}

func (t *tableEntry) loadReplicaSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var placements map[string]Placement
	if err := json.Unmarshal(data, &placements); err != nil {
		return fmt.Errorf("unmarshal table replica snapshot %s: %w", path, err)
	}
	for rowID, p := range placements {
		t.replica.Set(rowID, p)
	}
	return nil
}

// Close flushes the active memtable and closes the WAL for every table.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, t := range c.tables {
		if err := t.engine.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := t.engine.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := t.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
