package runtime

import (
	"testing"

	"github.com/dd0wney/rowdb/internal/config"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.NodeID = "node-1"
	cfg.NodeAddr = "127.0.0.1"
	cfg.DataDir = t.TempDir()
	cfg.Network.BeaconPort = 0 // let the OS assign an ephemeral port
	return &cfg
}

func TestNewWiresEveryService(t *testing.T) {
	rt, err := New(testConfig(t), nil)
	require.NoError(t, err)

	require.NotNil(t, rt.Catalog)
	require.NotNil(t, rt.Network)
	require.NotNil(t, rt.Replicator)
	require.NotNil(t, rt.Reshuffler)
	require.NotNil(t, rt.Scheduler)
	require.NotNil(t, rt.Statistics)
	require.NotNil(t, rt.Planner)
	require.NotNil(t, rt.Executor)
}

func TestRuntimeCatalogWriteHookTriggersReplication(t *testing.T) {
	rt, err := New(testConfig(t), nil)
	require.NoError(t, err)

	require.NoError(t, rt.Catalog.CreateDatabase("db"))
	require.NoError(t, rt.Catalog.CreateTable("db", "widgets"))

	_, err = rt.Catalog.InsertRow("db", "widgets", "1", []byte(`{"name":"gizmo"}`))
	require.NoError(t, err)
}
