package engine

import (
	"context"
	"testing"

	"github.com/dd0wney/rowdb/internal/config"
	"github.com/dd0wney/rowdb/internal/runtime"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.NodeID = "node-1"
	cfg.NodeAddr = "127.0.0.1"
	cfg.DataDir = t.TempDir()
	cfg.Network.BeaconPort = 0

	rt, err := runtime.New(&cfg, nil)
	require.NoError(t, err)
	return New(rt)
}

func TestEngineCreatesDatabaseAndTable(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	results := e.Run(ctx, []string{"create database shop", "create table shop.items"})
	require.True(t, results[0].Executed)
	require.True(t, results[1].Executed)
}

func TestEngineInsertAndSelect(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.Run(ctx, []string{"create database shop", "create table shop.items"})
	insertRes := e.RunOne(ctx, "insert into shop.items (name,qty) values('widget','3')")
	require.True(t, insertRes.Executed, insertRes.Error)
	require.NotEmpty(t, insertRes.Primary)

	selectRes := e.RunOne(ctx, "select * from shop.items")
	require.True(t, selectRes.Executed, selectRes.Error)
	require.Len(t, selectRes.List, 1)
	require.Equal(t, "widget", selectRes.List[0]["name"])
	require.NotEmpty(t, selectRes.Explain)
}

func TestEngineSelectWithWhereFiltersRows(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.Run(ctx, []string{"create database shop", "create table shop.items"})
	e.Run(ctx, []string{
		"insert into shop.items (name,qty) values('widget','3')",
		"insert into shop.items (name,qty) values('gadget','7')",
	})

	res := e.RunOne(ctx, "select * from shop.items where qty>='5'")
	require.True(t, res.Executed, res.Error)
	require.Len(t, res.List, 1)
	require.Equal(t, "gadget", res.List[0]["name"])
}

func TestEngineUpdateAndDelete(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.Run(ctx, []string{"create database shop", "create table shop.items"})
	e.Run(ctx, []string{"insert into shop.items (name,qty) values('widget','3')"})

	updateRes := e.RunOne(ctx, "update shop.items set qty='9' where name='widget'")
	require.True(t, updateRes.Executed, updateRes.Error)
	require.Equal(t, 1, updateRes.List[0]["updated"])

	selectRes := e.RunOne(ctx, "select * from shop.items where qty='9'")
	require.Len(t, selectRes.List, 1)

	deleteRes := e.RunOne(ctx, "delete shop.items where name='widget'")
	require.True(t, deleteRes.Executed, deleteRes.Error)
	require.Equal(t, 1, deleteRes.List[0]["deleted"])

	selectRes = e.RunOne(ctx, "select * from shop.items")
	require.Empty(t, selectRes.List)
}

func TestEngineCreateAndShowIndexes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.Run(ctx, []string{"create database shop", "create table shop.items"})

	res := e.RunOne(ctx, "create index on shop.items(name)")
	require.True(t, res.Executed, res.Error)

	showRes := e.RunOne(ctx, "show indexes on shop.items")
	require.True(t, showRes.Executed, showRes.Error)
	require.Len(t, showRes.List, 1)
	require.Equal(t, "name", showRes.List[0]["field"])
}

func TestEngineOptimizationControls(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res := e.RunOne(ctx, "optimization level HIGH")
	require.True(t, res.Executed, res.Error)
	require.Equal(t, config.OptimizationHigh, e.currentLevel())

	res = e.RunOne(ctx, "optimization disable")
	require.True(t, res.Executed, res.Error)
	require.Equal(t, config.OptimizationNone, e.currentLevel())
}

func TestEngineCacheControls(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res := e.RunOne(ctx, "cache stats")
	require.True(t, res.Executed, res.Error)
	require.Equal(t, true, res.List[0]["enabled"])

	res = e.RunOne(ctx, "cache disable")
	require.True(t, res.Executed, res.Error)
}

func TestEngineDeleteEverything(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.Run(ctx, []string{"create database shop", "create table shop.items"})
	e.Run(ctx, []string{"insert into shop.items (name,qty) values('widget','3')"})

	res := e.RunOne(ctx, "delete everything")
	require.True(t, res.Executed, res.Error)

	showRes := e.RunOne(ctx, "show databases")
	require.True(t, showRes.Executed, showRes.Error)
	require.Empty(t, showRes.List)
}

func TestEngineStatisticsCollectScansEveryTableConcurrently(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.Run(ctx, []string{
		"create database shop", "create table shop.items", "create table shop.orders",
	})
	e.Run(ctx, []string{
		"insert into shop.items (name) values('widget')",
		"insert into shop.items (name) values('gadget')",
		"insert into shop.orders (id) values('1')",
	})

	res := e.RunOne(ctx, "statistics collect")
	require.True(t, res.Executed, res.Error)

	require.Equal(t, int64(2), e.rt.Statistics.Table("shop", "items").RowCount())
	require.Equal(t, int64(1), e.rt.Statistics.Table("shop", "orders").RowCount())
}

func TestEngineReportsSyntaxErrorWithoutAbortingLaterStatements(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	results := e.Run(ctx, []string{"frobnicate", "create database shop"})
	require.False(t, results[0].Executed)
	require.NotEmpty(t, results[0].Error)
	require.True(t, results[1].Executed)
}
