package replication

import (
	"encoding/json"
	"fmt"

	"github.com/dd0wney/rowdb/internal/logging"
)

// Applier is the narrow write surface Handler needs from the catalog —
// kept separate from *storage.Catalog so this package stays testable
// without a real on-disk catalog.
type Applier interface {
	ApplyReplicatedInsert(db, table, rowID string, doc json.RawMessage) (uint64, error)
	SetPlacement(db, table, rowID, primary, secondary string) error
	WipeAll() error
}

// Handler applies inbound RPC envelopes to the local catalog, gating
// row-mutating ones on per-row LSN order.
type Handler struct {
	applier Applier
	gate    *lsnGate
	logger  logging.Logger

	onQueryLog func(QueryLog)
}

func NewHandler(applier Applier, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Handler{applier: applier, gate: newLSNGate(), logger: logger}
}

// OnQueryLog registers the Statistics Manager's ingestion callback for
// TypeQueryLog envelopes.
func (h *Handler) OnQueryLog(fn func(QueryLog)) { h.onQueryLog = fn }

// Apply dispatches one received envelope by type.
func (h *Handler) Apply(env Envelope) error {
	switch env.Type {
	case TypeDeleteEverything:
		return h.applier.WipeAll()

	case TypeReplicateInsertObject:
		var msg ReplicateInsertObject
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return fmt.Errorf("decode ReplicateInsertObject: %w", err)
		}
		if !h.gate.Admit(msg.DB, msg.Table, msg.RowID, env.LSN) {
			h.logger.Debug("dropped stale replicated insert",
				logging.Database(msg.DB), logging.Table(msg.Table), logging.RowID(msg.RowID), logging.LSN(env.LSN))
			return nil
		}
		_, err := h.applier.ApplyReplicatedInsert(msg.DB, msg.Table, msg.RowID, msg.JSON)
		return err

	case TypeTableReplicaObjectUpsert:
		var msg TableReplicaObjectInsertOrReplace
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return fmt.Errorf("decode TableReplicaObjectInsertOrReplace: %w", err)
		}
		if !h.gate.Admit(msg.DB+".placement", msg.Table, msg.RowID, env.LSN) {
			return nil
		}
		return h.applier.SetPlacement(msg.DB, msg.Table, msg.RowID, msg.Primary, msg.Secondary)

	case TypeQueryLog:
		var msg QueryLog
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return fmt.Errorf("decode QueryLog: %w", err)
		}
		if h.onQueryLog != nil {
			h.onQueryLog(msg)
		}
		return nil

	default:
		return fmt.Errorf("unknown replication message type %q", env.Type)
	}
}
