// Package reshuffle re-places the rows a lost node owned: it ships each
// row to its new holder, updates this node's own placement record, and
// broadcasts the new placement to the rest of the cluster, backing off
// to an under-repaired state if retries run out.
package reshuffle

import (
	"context"
	"time"

	"github.com/dd0wney/rowdb/internal/eventbus"
	"github.com/dd0wney/rowdb/internal/logging"
	"github.com/dd0wney/rowdb/internal/metrics"
	"github.com/dd0wney/rowdb/internal/storageerr"
	"golang.org/x/sync/errgroup"
)

// reshuffleConcurrency bounds how many rows from a single lost node are
// reshuffled at once. Each row waits out its own grace window, so
// running them sequentially would multiply that wait by the row count.
const reshuffleConcurrency = 8

// RowSource is the subset of storage.Catalog Reshuffle needs: finding
// what a lost node owned and reading the current row contents.
type RowSource interface {
	ReplicaOwnedRows(db, table, node string) []string
	GetRowDoc(db, table, rowID string) (doc []byte, ok bool)
	Tables() []TableRef
}

// TableRef names one (db, table) pair Reshuffle should scan when a node
// is lost.
type TableRef struct {
	DB, Table string
}

// PlacementChooser picks a replacement node excluding the ones already
// holding a row.
type PlacementChooser interface {
	GetReplacementExcluding(exclude, avoid string) (string, bool)
	IsOnline(nodeID string) bool
}

// RowShipper is the narrow replication surface Reshuffle drives: ship a
// row to its new holder and broadcast the updated placement.
type RowShipper interface {
	ShipRow(db, table, rowID string, doc []byte) error
	BroadcastPlacement(db, table, rowID, primary, secondary string) error
}

// LocalPlacement is the local half of the placement update Reshuffle
// must apply before broadcasting.
type LocalPlacement interface {
	UpdatePrimary(db, table, rowID, newPrimary string)
	UpdateSecondary(db, table, rowID, newSecondary string)
	CurrentPlacement(db, table, rowID string) (primary, secondary string)
}

// Options configures retry/backoff behavior.
type Options struct {
	GraceWindow time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

func DefaultOptions() Options {
	return Options{GraceWindow: 10 * time.Second, MaxRetries: 3, RetryDelay: 500 * time.Millisecond}
}

// Reshuffler runs the 4-step reshuffle procedure for every row a lost
// node owned.
type Reshuffler struct {
	rows       RowSource
	placement  PlacementChooser
	shipper    RowShipper
	local      LocalPlacement
	bus        *eventbus.Bus
	logger     logging.Logger
	metrics    *metrics.Registry
	opts       Options
}

func New(rows RowSource, placement PlacementChooser, shipper RowShipper, local LocalPlacement, bus *eventbus.Bus, logger logging.Logger, reg *metrics.Registry, opts Options) *Reshuffler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Reshuffler{rows: rows, placement: placement, shipper: shipper, local: local, bus: bus, logger: logger, metrics: reg, opts: opts}
}

// Run subscribes to node-lost events and reshuffles every row the lost
// node owned, blocking until ctx is cancelled.
func (r *Reshuffler) Run(ctx context.Context) {
	sub := r.bus.Subscribe(ctx, eventbus.TopicNodeLost)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			event, ok := msg.(eventbus.NodeEvent)
			if !ok {
				continue
			}
			r.handleNodeLost(ctx, event.NodeID)
		}
	}
}

func (r *Reshuffler) handleNodeLost(ctx context.Context, lostNode string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reshuffleConcurrency)

	for _, ref := range r.rows.Tables() {
		for _, rowID := range r.rows.ReplicaOwnedRows(ref.DB, ref.Table, lostNode) {
			db, table, rowID := ref.DB, ref.Table, rowID
			g.Go(func() error {
				r.reshuffleRow(gctx, db, table, rowID, lostNode)
				return nil
			})
		}
	}
	g.Wait()
}

// reshuffleRow runs the grace window, then the 4-step procedure with
// bounded retry. When retries exhaust, the row is logged and counted under
// the "under_repaired" outcome; its placement record is left as it was and
// no per-row under-repaired mark is kept.
func (r *Reshuffler) reshuffleRow(ctx context.Context, db, table, rowID, lostNode string) {
	select {
	case <-time.After(r.opts.GraceWindow):
	case <-ctx.Done():
		return
	}

	if r.placement.IsOnline(lostNode) {
		r.logger.Info("node reappeared within grace window, aborting reshuffle",
			logging.Database(db), logging.Table(table), logging.RowID(rowID))
		return
	}

	primary, secondary := r.local.CurrentPlacement(db, table, rowID)
	var err error
	for attempt := 0; attempt < r.opts.MaxRetries; attempt++ {
		err = r.attemptOnce(db, table, rowID, lostNode, primary, secondary)
		if err == nil {
			r.recordOutcome("repaired")
			return
		}
		r.logger.Warn("reshuffle attempt failed",
			logging.Database(db), logging.Table(table), logging.RowID(rowID),
			logging.Int("attempt", attempt+1), logging.Error(err))
		select {
		case <-time.After(r.opts.RetryDelay):
		case <-ctx.Done():
			return
		}
	}

	r.logger.Error("reshuffle exhausted retries, leaving row under-repaired",
		logging.Database(db), logging.Table(table), logging.RowID(rowID), logging.Error(err))
	r.recordOutcome("under_repaired")
}

func (r *Reshuffler) attemptOnce(db, table, rowID, lostNode, primary, secondary string) error {
	replacement, ok := r.placement.GetReplacementExcluding(lostNode, otherOf(primary, secondary, lostNode))
	if !ok {
		return storageerr.New("reshuffle.attemptOnce", storageerr.KindInvariant).
			Entity("row", rowID).Context("no replacement node available").Cause(storageerr.ErrUnderRepaired).Err()
	}

	doc, ok := r.rows.GetRowDoc(db, table, rowID)
	if !ok {
		return storageerr.New("reshuffle.attemptOnce", storageerr.KindInvariant).
			Entity("row", rowID).Context("row no longer present locally").Err()
	}

	if err := r.shipper.ShipRow(db, table, rowID, doc); err != nil {
		return err
	}

	newPrimary, newSecondary := primary, secondary
	if primary == lostNode {
		r.local.UpdatePrimary(db, table, rowID, replacement)
		newPrimary = replacement
	} else if secondary == lostNode {
		r.local.UpdateSecondary(db, table, rowID, replacement)
		newSecondary = replacement
	}

	return r.shipper.BroadcastPlacement(db, table, rowID, newPrimary, newSecondary)
}

func otherOf(primary, secondary, exclude string) string {
	if primary == exclude {
		return secondary
	}
	return primary
}

func (r *Reshuffler) recordOutcome(outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.ReshuffleRunsTotal.WithLabelValues(outcome).Inc()
}
