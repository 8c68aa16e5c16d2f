package replication

import (
	"time"

	"github.com/dd0wney/rowdb/internal/logging"
)

// PlacementSource is network.Network's placement-selection surface,
// kept narrow so this package doesn't import internal/network directly.
type PlacementSource interface {
	GetPrimarySecondary() (primary, secondary string)
}

// Replicator is the write-path hook: every successful local InsertRow
// calls Replicate, which picks a placement and broadcasts both the row
// and its placement record so the secondary picks it up even if this
// node goes down before the Scheduler's next persist.
type Replicator struct {
	localID     string
	broadcaster *Broadcaster
	placement   PlacementSource
	logger      logging.Logger
}

func NewReplicator(localID string, broadcaster *Broadcaster, placement PlacementSource, logger logging.Logger) *Replicator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Replicator{localID: localID, broadcaster: broadcaster, placement: placement, logger: logger}
}

// Replicate broadcasts a freshly written row and its chosen placement.
// lsn is this node's local WAL LSN for the write, used as the envelope's
// ordering key for every receiver's per-row LSN gate.
func (r *Replicator) Replicate(db, table, rowID string, doc []byte, lsn uint64) (primary, secondary string) {
	primary, secondary = r.placement.GetPrimarySecondary()

	if err := r.broadcaster.Send(r.localID, TypeReplicateInsertObject, lsn, ReplicateInsertObject{
		DB: db, Table: table, RowID: rowID, JSON: doc,
	}); err != nil {
		r.logger.Warn("broadcast replicate_insert_object failed", logging.Error(err))
	}

	if err := r.broadcaster.Send(r.localID, TypeTableReplicaObjectUpsert, lsn, TableReplicaObjectInsertOrReplace{
		DB: db, Table: table, RowID: rowID, Primary: primary, Secondary: secondary,
	}); err != nil {
		r.logger.Warn("broadcast table_replica_object_insert_or_replace failed", logging.Error(err))
	}

	return primary, secondary
}

// ReplicateDeleteEverything broadcasts the administrative wipe command.
func (r *Replicator) ReplicateDeleteEverything(lsn uint64) error {
	return r.broadcaster.Send(r.localID, TypeDeleteEverything, lsn, DeleteEverything{})
}

// PublishQueryLog broadcasts one executed query's shape to every node's
// Statistics Manager.
func (r *Replicator) PublishQueryLog(lsn uint64, log QueryLog) error {
	return r.broadcaster.Send(r.localID, TypeQueryLog, lsn, log)
}

// reshuffleLSN stamps a Reshuffle-driven broadcast with a value greater
// than any WAL-assigned LSN a receiver's lsnGate has already seen for
// this row, so the repair isn't discarded as stale.
func reshuffleLSN() uint64 { return uint64(time.Now().UnixNano()) }

// ShipRow satisfies reshuffle.RowShipper: it re-broadcasts a row so the
// node the Reshuffler picked to replace a lost replica receives it over
// its normal subscription, the same path a fresh insert takes.
func (r *Replicator) ShipRow(db, table, rowID string, doc []byte) error {
	return r.broadcaster.Send(r.localID, TypeReplicateInsertObject, reshuffleLSN(), ReplicateInsertObject{
		DB: db, Table: table, RowID: rowID, JSON: doc,
	})
}

// BroadcastPlacement satisfies reshuffle.RowShipper: it announces the
// row's updated primary/secondary after a repair.
func (r *Replicator) BroadcastPlacement(db, table, rowID, primary, secondary string) error {
	return r.broadcaster.Send(r.localID, TypeTableReplicaObjectUpsert, reshuffleLSN(), TableReplicaObjectInsertOrReplace{
		DB: db, Table: table, RowID: rowID, Primary: primary, Secondary: secondary,
	})
}
