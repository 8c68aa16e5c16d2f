// Package runtime wires one node's services together: the storage
// catalog, the network membership/beacon, the replication transport and
// protocol handler, the reshuffler, the scheduler, the statistics
// manager and the query engine. It exists to break the mutual-reference
// cycle those packages would otherwise need to construct each other.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dd0wney/rowdb/internal/config"
	"github.com/dd0wney/rowdb/internal/eventbus"
	"github.com/dd0wney/rowdb/internal/logging"
	"github.com/dd0wney/rowdb/internal/metrics"
	"github.com/dd0wney/rowdb/internal/network"
	"github.com/dd0wney/rowdb/internal/query"
	"github.com/dd0wney/rowdb/internal/replication"
	"github.com/dd0wney/rowdb/internal/reshuffle"
	"github.com/dd0wney/rowdb/internal/scheduler"
	"github.com/dd0wney/rowdb/internal/statistics"
	"github.com/dd0wney/rowdb/internal/storage"
	"github.com/dd0wney/rowdb/internal/transport"
)

// Runtime owns every long-lived service one node runs.
type Runtime struct {
	Config  *config.Config
	Logger  logging.Logger
	Metrics *metrics.Registry

	Catalog     *storage.Catalog
	Bus         *eventbus.Bus
	Network     *network.Network
	Transport   transport.Factory
	Broadcaster *replication.Broadcaster
	Handler     *replication.Handler
	Replicator  *replication.Replicator
	Reshuffler  *reshuffle.Reshuffler
	Scheduler   *scheduler.Scheduler
	Statistics  *statistics.Manager
	Planner     *query.Planner
	Memory      *query.MemoryManager
	Executor    *query.Executor

	receivers []*replication.Receiver
}

// New constructs every service and wires their cross-references, but
// starts nothing — call Start to bring the node fully online.
func New(cfg *config.Config, logger logging.Logger) (*Runtime, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	reg := metrics.NewRegistry()
	bus := eventbus.New()

	catalog, err := storage.NewCatalog(cfg.DataDir, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("runtime: open catalog: %w", err)
	}

	net := network.New(cfg.Network, cfg.Replication, cfg.NodeID, cfg.NodeAddr, logger, reg, bus)

	factory, err := transport.NewFactory(cfg.Network.Transport)
	if err != nil {
		return nil, fmt.Errorf("runtime: build transport factory: %w", err)
	}

	addrs := transport.DefaultAddrs(cfg.Network.RPCPort)
	broadcaster, err := replication.NewBroadcaster(factory, addrs.RPCPublishAddr)
	if err != nil {
		return nil, fmt.Errorf("runtime: build broadcaster: %w", err)
	}

	statsMgr := statistics.NewManager()

	applier := &catalogApplier{catalog: catalog}
	handler := replication.NewHandler(applier, logger)
	handler.OnQueryLog(func(log replication.QueryLog) {
		statsMgr.RecordQuery(log.DB, log.Table, log.RuntimeMS)
	})

	replicator := replication.NewReplicator(cfg.NodeID, broadcaster, net.Membership, logger)

	catalog.SetWriteHook(func(db, table, rowID string, doc json.RawMessage, lsn uint64) (string, string) {
		return replicator.Replicate(db, table, rowID, doc, lsn)
	})

	reshuffler := reshuffle.New(
		catalogRowSource{catalog},
		net.Membership,
		replicator,
		catalog,
		bus,
		logger,
		reg,
		reshuffle.Options{
			GraceWindow: cfg.Replication.ReshuffleGrace,
			MaxRetries:  cfg.Replication.ReshuffleRetries,
			RetryDelay:  500 * time.Millisecond,
		},
	)

	sched := scheduler.New(catalog, net, cfg.Storage.SchedulerInterval, logger)

	memory := query.NewMemoryManager(cfg.Query.MemoryBudgetBytes)
	planner := query.NewPlanner(statsMgr, query.CatalogIndexes{Catalog: catalog})
	executor := query.NewExecutor(catalog, memory, logger)
	executor.SetQueryTimeout(cfg.Query.QueryTimeout)

	return &Runtime{
		Config:      cfg,
		Logger:      logger,
		Metrics:     reg,
		Catalog:     catalog,
		Bus:         bus,
		Network:     net,
		Transport:   factory,
		Broadcaster: broadcaster,
		Handler:     handler,
		Replicator:  replicator,
		Reshuffler:  reshuffler,
		Scheduler:   sched,
		Statistics:  statsMgr,
		Planner:     planner,
		Memory:      memory,
		Executor:    executor,
	}, nil
}

// Start brings every background service online: the beacon, the
// membership sweep, the broadcaster's listen socket, the reshuffler's
// event loop and the persistence scheduler.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.Network.Start(); err != nil {
		return fmt.Errorf("runtime: start network: %w", err)
	}

	if err := r.Broadcaster.Start(); err != nil {
		return fmt.Errorf("runtime: start broadcaster: %w", err)
	}

	go r.Reshuffler.Run(ctx)

	r.Scheduler.Start()

	r.Network.OnNodeLost(func(nodeID string) {
		r.Logger.Warn("node lost, reshuffle will run after its grace window", logging.String("node_id", nodeID))
	})

	return nil
}

// ConnectPeer dials a newly observed peer's publish socket so this node
// starts receiving its replicated writes and placement updates.
func (r *Runtime) ConnectPeer(peerAddr string) error {
	receiver, err := replication.NewReceiver(r.Transport, peerAddr, r.Handler, r.Logger)
	if err != nil {
		return fmt.Errorf("runtime: connect peer %s: %w", peerAddr, err)
	}
	receiver.Start()
	r.receivers = append(r.receivers, receiver)
	return nil
}

// Stop shuts every service down in roughly the reverse order Start
// brought them up, persisting the catalog synchronously on the way out.
func (r *Runtime) Stop() {
	for _, rec := range r.receivers {
		rec.Stop()
	}
	r.Scheduler.Stop()
	r.Network.Stop()
	_ = r.Broadcaster.Close()
	if err := r.Catalog.PersistCatalog(); err != nil {
		r.Logger.Error("final persist on shutdown failed", logging.Error(err))
	}
}

// catalogApplier adapts *storage.Catalog to replication.Applier.
type catalogApplier struct {
	catalog *storage.Catalog
}

func (a *catalogApplier) ApplyReplicatedInsert(db, table, rowID string, doc json.RawMessage) (uint64, error) {
	return a.catalog.ApplyReplicatedInsert(db, table, rowID, doc)
}

func (a *catalogApplier) SetPlacement(db, table, rowID, primary, secondary string) error {
	return a.catalog.SetPlacement(db, table, rowID, primary, secondary)
}

func (a *catalogApplier) WipeAll() error { return a.catalog.WipeAll() }

// catalogRowSource adapts *storage.Catalog's TableRef to
// reshuffle.TableRef, the one shape-identical-but-distinct type the two
// packages can't share without an import cycle.
type catalogRowSource struct {
	catalog *storage.Catalog
}

func (s catalogRowSource) ReplicaOwnedRows(db, table, node string) []string {
	return s.catalog.ReplicaOwnedRows(db, table, node)
}

func (s catalogRowSource) GetRowDoc(db, table, rowID string) ([]byte, bool) {
	return s.catalog.GetRowDoc(db, table, rowID)
}

func (s catalogRowSource) Tables() []reshuffle.TableRef {
	refs := make([]reshuffle.TableRef, 0)
	for _, t := range s.catalog.Tables() {
		refs = append(refs, reshuffle.TableRef{DB: t.DB, Table: t.Table})
	}
	return refs
}
