// Package replication implements the four RPC shapes nodes exchange to
// keep row copies in sync: row shipping, placement updates, query-log
// propagation for statistics, and the full-wipe administrative command.
// Delivery is at-least-once; receivers discard anything at or below the
// last LSN they already applied for that (db, table, row-id).
package replication

import "encoding/json"

// MessageType discriminates the envelope's payload.
type MessageType string

const (
	TypeDeleteEverything             MessageType = "delete_everything"
	TypeReplicateInsertObject        MessageType = "replicate_insert_object"
	TypeTableReplicaObjectUpsert     MessageType = "table_replica_object_insert_or_replace"
	TypeQueryLog                     MessageType = "query_log"
)

// Envelope is the wire frame every RPC travels in: a type tag plus an
// LSN for the receiver's dedup/ordering check, and the JSON-encoded
// payload matching Type.
type Envelope struct {
	Type    MessageType     `json:"type"`
	From    string          `json:"from"`
	LSN     uint64          `json:"lsn"`
	Payload json.RawMessage `json:"payload"`
}

// DeleteEverything wipes all databases on every node that receives it.
// It carries no payload beyond the envelope.
type DeleteEverything struct{}

// ReplicateInsertObject ships one row's current document to a peer.
// Applying it is idempotent on RowID: the receiver's LSN gate, not the
// payload, is what makes replays safe.
type ReplicateInsertObject struct {
	DB    string          `json:"db"`
	Table string          `json:"table"`
	RowID string          `json:"row_id"`
	JSON  json.RawMessage `json:"json"`
}

// TableReplicaObjectInsertOrReplace overwrites the placement record for
// one row, used both on ordinary writes and as the last step of a
// reshuffle.
type TableReplicaObjectInsertOrReplace struct {
	DB        string `json:"db"`
	Table     string `json:"table"`
	RowID     string `json:"row_id"`
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

// QueryLog reports one executed query's cost-relevant shape to every
// node's Statistics Manager, so selectivity estimates stay consistent
// across the cluster without each node running its own query log.
type QueryLog struct {
	DB        string  `json:"db"`
	Table     string  `json:"table"`
	Predicate string  `json:"predicate"`
	RowsRead  int64   `json:"rows_read"`
	RuntimeMS float64 `json:"runtime_ms"`
}

func encodePayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
