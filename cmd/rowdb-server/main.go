package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dd0wney/rowdb/internal/api"
	"github.com/dd0wney/rowdb/internal/config"
	"github.com/dd0wney/rowdb/internal/engine"
	"github.com/dd0wney/rowdb/internal/health"
	"github.com/dd0wney/rowdb/internal/logging"
	"github.com/dd0wney/rowdb/internal/runtime"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file (defaults built in if omitted)")
	nodeID := flag.String("node-id", "", "this node's cluster-unique ID (overrides config)")
	nodeAddr := flag.String("node-addr", "", "this node's advertised address (overrides config)")
	dataDir := flag.String("data-dir", "", "on-disk data directory (overrides config)")
	httpAddr := flag.String("http-addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	logger := logging.NewDefaultLogger()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", logging.Error(err))
		return 1
	}
	applyOverrides(&cfg, *nodeID, *nodeAddr, *dataDir, *httpAddr)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", logging.Error(err))
		return 1
	}

	rt, err := runtime.New(&cfg, logger)
	if err != nil {
		logger.Error("failed to build runtime", logging.Error(err))
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		logger.Error("failed to start runtime", logging.Error(err))
		return 1
	}

	eng := engine.New(rt)
	httpServer := api.NewServer(cfg.HTTPAddr, eng, rt.Metrics, newHealthChecker(rt), logger)

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", logging.Error(err))
			rt.Stop()
			return 1
		}
	case sig := <-sigCh:
		logger.Info("received shutdown signal", logging.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", logging.Error(err))
	}

	cancel()
	rt.Stop()
	logger.Info("shutdown complete")
	return 0
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// newHealthChecker registers the node's liveness and readiness probes:
// whether the catalog can still list its own databases, and whether
// the discovery/RPC transport believes this node is online.
func newHealthChecker(rt *runtime.Runtime) *health.Checker {
	checker := health.NewChecker()

	checker.Register("catalog", func() health.Check {
		_ = rt.Catalog.ListDatabases()
		return health.Check{Name: "catalog", Status: health.StatusHealthy}
	})

	checker.Register("network", func() health.Check {
		if rt.Network.IsOnline() {
			return health.Check{Name: "network", Status: health.StatusHealthy}
		}
		return health.Check{Name: "network", Status: health.StatusDegraded, Message: "node not yet online"}
	})

	return checker
}

func applyOverrides(cfg *config.Config, nodeID, nodeAddr, dataDir, httpAddr string) {
	if nodeID != "" {
		cfg.NodeID = nodeID
	}
	if nodeAddr != "" {
		cfg.NodeAddr = nodeAddr
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
}
