// Package query implements the cost-based Query Planner and the
// Executor that runs the operator tree it produces, under a process-wide
// memory budget.
package query

import "github.com/dd0wney/rowdb/internal/config"

// OperatorType names one node in a QueryPlan's operator tree.
type OperatorType string

const (
	OpTableScan      OperatorType = "TABLE_SCAN"
	OpIndexScan      OperatorType = "INDEX_SCAN"
	OpRangeScan      OperatorType = "RANGE_SCAN"
	OpFilter         OperatorType = "FILTER"
	OpProject        OperatorType = "PROJECT"
	OpNestedLoopJoin OperatorType = "NESTED_LOOP_JOIN"
	OpBuildHashTable OperatorType = "BUILD_HASH_TABLE"
	OpHashJoinProbe  OperatorType = "HASH_JOIN_PROBE"
	OpSort           OperatorType = "SORT"
	OpAggregate      OperatorType = "AGGREGATE"
	OpLimit          OperatorType = "LIMIT"
	OpDistinct       OperatorType = "DISTINCT"
)

// Predicate is a single equality/range condition on one field, the unit
// the planner reasons about for index and selectivity decisions.
type Predicate struct {
	Field string
	Op    string // "=", "<", "<=", ">", ">=", "prefix"
	Value any
	High  any // second bound for a range predicate
}

// JoinSpec names one join between two scanned tables.
type JoinSpec struct {
	LeftField, RightField string
}

// PlanNode is one node of the QueryPlan's operator tree: a type tag, the
// estimated cost that won it over its competitors, and whatever
// children/parameters the operator needs at execution time.
type PlanNode struct {
	Op       OperatorType
	DB       string
	Table    string
	Field    string // index/range/sort/aggregate field, where applicable
	Cond     []Predicate
	Children []*PlanNode

	EstimatedCost float64
	EstimatedRows float64
	Spill         bool // set at HIGH+ optimization when the operator may exceed its memory budget

	// Limit/Distinct/Sort parameters
	LimitN     int
	SortFields []string
}

// Plan is the root of one compiled QueryPlan.
type Plan struct {
	Root  *PlanNode
	Level config.OptimizationLevel
}
