package query

import (
	"context"
	"strconv"
	"testing"

	"github.com/dd0wney/rowdb/internal/config"
	"github.com/dd0wney/rowdb/internal/logging"
	"github.com/dd0wney/rowdb/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *storage.Catalog {
	t.Helper()
	cat, err := storage.NewCatalog(t.TempDir(), config.DefaultStorageConfig(), logging.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, cat.CreateDatabase("db"))
	require.NoError(t, cat.CreateTable("db", "people"))
	return cat
}

func insertPerson(t *testing.T, cat *storage.Catalog, id, name string, age int) {
	t.Helper()
	doc := []byte(`{"name":"` + name + `","age":` + strconv.Itoa(age) + `}`)
	_, err := cat.InsertRow("db", "people", id, doc)
	require.NoError(t, err)
}

func TestExecutorRunsTableScan(t *testing.T) {
	cat := newTestCatalog(t)
	insertPerson(t, cat, "1", "ana", 30)
	insertPerson(t, cat, "2", "bo", 40)

	plan := &Plan{Root: &PlanNode{Op: OpTableScan, DB: "db", Table: "people"}}
	exec := NewExecutor(cat, NewMemoryManager(0), logging.NewNopLogger())

	rows, err := exec.Execute(plan)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestExecutorFiltersRows(t *testing.T) {
	cat := newTestCatalog(t)
	insertPerson(t, cat, "1", "ana", 30)
	insertPerson(t, cat, "2", "bo", 40)

	plan := &Plan{Root: &PlanNode{
		Op: OpFilter, Table: "people",
		Cond:     []Predicate{{Field: "age", Op: ">", Value: float64(35)}},
		Children: []*PlanNode{{Op: OpTableScan, DB: "db", Table: "people"}},
	}}
	exec := NewExecutor(cat, NewMemoryManager(0), logging.NewNopLogger())

	rows, err := exec.Execute(plan)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bo", rows[0].Fields["name"])
}

func TestExecutorLimitsRows(t *testing.T) {
	cat := newTestCatalog(t)
	insertPerson(t, cat, "1", "ana", 30)
	insertPerson(t, cat, "2", "bo", 40)
	insertPerson(t, cat, "3", "cy", 50)

	plan := &Plan{Root: &PlanNode{
		Op: OpLimit, LimitN: 2,
		Children: []*PlanNode{{Op: OpTableScan, DB: "db", Table: "people"}},
	}}
	exec := NewExecutor(cat, NewMemoryManager(0), logging.NewNopLogger())

	rows, err := exec.Execute(plan)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestExecutorSortsRows(t *testing.T) {
	cat := newTestCatalog(t)
	insertPerson(t, cat, "1", "ana", 40)
	insertPerson(t, cat, "2", "bo", 20)
	insertPerson(t, cat, "3", "cy", 30)

	plan := &Plan{Root: &PlanNode{
		Op: OpSort, SortFields: []string{"age"},
		Children: []*PlanNode{{Op: OpTableScan, DB: "db", Table: "people"}},
	}}
	exec := NewExecutor(cat, NewMemoryManager(0), logging.NewNopLogger())

	rows, err := exec.Execute(plan)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "bo", rows[0].Fields["name"])
	assert.Equal(t, "ana", rows[2].Fields["name"])
}

func TestExecutorCancelsOnAlreadyCanceledContext(t *testing.T) {
	cat := newTestCatalog(t)
	plan := &Plan{Root: &PlanNode{Op: OpTableScan, DB: "db", Table: "people"}}
	exec := NewExecutor(cat, NewMemoryManager(0), logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.ExecuteWithContext(ctx, plan)
	assert.Error(t, err)
}
