package replication

import "sync"

// lsnGate tracks, per (db, table, row-id), the highest sender LSN this
// node has already applied, so an at-least-once transport can redeliver
// freely: anything at or below the recorded LSN is a duplicate.
type lsnGate struct {
	mu   sync.Mutex
	seen map[string]uint64
}

func newLSNGate() *lsnGate {
	return &lsnGate{seen: make(map[string]uint64)}
}

func gateKey(db, table, rowID string) string { return db + "." + table + "." + rowID }

// Admit reports whether lsn is new for (db, table, rowID) and, if so,
// records it as the new high-water mark. A false return means the
// caller must discard the message without applying it.
func (g *lsnGate) Admit(db, table, rowID string, lsn uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := gateKey(db, table, rowID)
	last, ok := g.seen[key]
	if ok && lsn <= last {
		return false
	}
	g.seen[key] = lsn
	return true
}
