package query

import (
	"testing"

	"github.com/dd0wney/rowdb/internal/config"
	"github.com/stretchr/testify/assert"
)

type fakeStats struct {
	rows        int64
	selectivity map[string]float64
}

func (f fakeStats) RowCount(db, table string) int64 { return f.rows }
func (f fakeStats) Selectivity(db, table, field string) float64 {
	if s, ok := f.selectivity[field]; ok {
		return s
	}
	return 1.0
}

type fakeIndexes struct {
	fields map[string]bool
}

func (f fakeIndexes) HasIndex(db, table, field string) bool { return f.fields[field] }

func TestPlanScanPrefersIndexWhenSelective(t *testing.T) {
	stats := fakeStats{rows: 10000, selectivity: map[string]float64{"status": 0.01}}
	indexes := fakeIndexes{fields: map[string]bool{"status": true}}
	p := NewPlanner(stats, indexes)

	plan := p.PlanScan("db", "orders", []Predicate{{Field: "status", Op: "=", Value: "open"}}, config.OptimizationBasic, 0)

	assert.Equal(t, OpIndexScan, plan.Root.Op)
}

func TestPlanScanFallsBackToTableScanWhenUnselective(t *testing.T) {
	stats := fakeStats{rows: 100, selectivity: map[string]float64{"status": 0.9}}
	indexes := fakeIndexes{fields: map[string]bool{"status": true}}
	p := NewPlanner(stats, indexes)

	plan := p.PlanScan("db", "orders", []Predicate{{Field: "status", Op: "=", Value: "open"}}, config.OptimizationBasic, 0)

	assert.Equal(t, OpTableScan, plan.Root.Children[0].Op)
}

func TestPlanScanAtNoneSkipsIndexSelection(t *testing.T) {
	stats := fakeStats{rows: 10000, selectivity: map[string]float64{"status": 0.01}}
	indexes := fakeIndexes{fields: map[string]bool{"status": true}}
	p := NewPlanner(stats, indexes)

	plan := p.PlanScan("db", "orders", []Predicate{{Field: "status", Op: "=", Value: "open"}}, config.OptimizationNone, 0)

	assert.Equal(t, OpTableScan, plan.Root.Children[0].Op)
}

func TestPlanScanUsesRangeScanForInequality(t *testing.T) {
	stats := fakeStats{rows: 10000, selectivity: map[string]float64{"age": 0.01}}
	indexes := fakeIndexes{fields: map[string]bool{"age": true}}
	p := NewPlanner(stats, indexes)

	plan := p.PlanScan("db", "people", []Predicate{{Field: "age", Op: ">", Value: 30}}, config.OptimizationBasic, 0)

	assert.Equal(t, OpRangeScan, plan.Root.Op)
}

func TestPlanJoinPrefersHashJoinWhenCheaper(t *testing.T) {
	p := NewPlanner(fakeStats{}, fakeIndexes{})
	left := &PlanNode{Op: OpTableScan, Table: "a", EstimatedRows: 10000}
	right := &PlanNode{Op: OpTableScan, Table: "b", EstimatedRows: 10000}

	node := p.PlanJoin(left, right, JoinSpec{LeftField: "id", RightField: "a_id"}, config.OptimizationBasic, 0)

	assert.Equal(t, OpHashJoinProbe, node.Op)
}

func TestPlanJoinAnnotatesSpillAtHighOptimization(t *testing.T) {
	p := NewPlanner(fakeStats{}, fakeIndexes{})
	left := &PlanNode{Op: OpTableScan, Table: "a", EstimatedRows: 1_000_000}
	right := &PlanNode{Op: OpTableScan, Table: "b", EstimatedRows: 1_000_000}

	node := p.PlanJoin(left, right, JoinSpec{LeftField: "id", RightField: "a_id"}, config.OptimizationHigh, 1024)

	assert.True(t, node.Spill)
}

func TestAtLeastOrdersLevelsCorrectly(t *testing.T) {
	assert.True(t, atLeast(config.OptimizationHigh, config.OptimizationMedium))
	assert.False(t, atLeast(config.OptimizationBasic, config.OptimizationHigh))
	assert.True(t, atLeast(config.OptimizationExperimental, config.OptimizationHigh))
}
