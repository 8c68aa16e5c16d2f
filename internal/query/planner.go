package query

import (
	"github.com/dd0wney/rowdb/internal/config"
)

// assumedRowBytes estimates one row's footprint for the memory-aware
// spill annotation HIGH+ optimization applies — a coarse constant rather
// than a real row-size histogram, since no column-width statistics are
// tracked.
const assumedRowBytes = 256

// StatsSource is the Query Planner's read surface into the Statistics
// Manager: row counts and per-column selectivity estimates.
type StatsSource interface {
	RowCount(db, table string) int64
	Selectivity(db, table, field string) float64
}

// IndexSource reports whether a usable secondary index exists for a
// given (db, table, field).
type IndexSource interface {
	HasIndex(db, table, field string) bool
}

// indexSelectivityThreshold is the spec's cutoff: an index scan is only
// considered cheaper than a full scan when the predicate is expected to
// match under 20% of the table.
const indexSelectivityThreshold = 0.2

// levelRank orders OptimizationLevel, which is a string enum and so
// cannot be compared with < / >= directly.
var levelRank = map[config.OptimizationLevel]int{
	config.OptimizationNone:         0,
	config.OptimizationBasic:        1,
	config.OptimizationMedium:       2,
	config.OptimizationHigh:         3,
	config.OptimizationExperimental: 4,
}

func atLeast(level, floor config.OptimizationLevel) bool {
	return levelRank[level] >= levelRank[floor]
}

// Planner generates cost-based candidate plans and picks the cheapest,
// applying progressively more aggressive rules as OptimizationLevel
// rises from NONE to EXPERIMENTAL.
type Planner struct {
	stats   StatsSource
	indexes IndexSource
}

func NewPlanner(stats StatsSource, indexes IndexSource) *Planner {
	return &Planner{stats: stats, indexes: indexes}
}

// PlanScan builds the cheapest single-table plan for db.table under
// predicates, given level.
func (p *Planner) PlanScan(db, table string, predicates []Predicate, level config.OptimizationLevel, memoryBudgetBytes int64) *Plan {
	rows := float64(p.stats.RowCount(db, table))
	if rows < 1 {
		rows = 1
	}

	best := &PlanNode{Op: OpTableScan, DB: db, Table: table, EstimatedRows: rows, EstimatedCost: costTableScan(rows)}

	if atLeast(level, config.OptimizationBasic) {
		for _, pred := range predicates {
			candidate := p.scanCandidateFor(db, table, pred, rows)
			if candidate != nil && candidate.EstimatedCost < best.EstimatedCost {
				best = candidate
			} else if candidate != nil && candidate.EstimatedCost == best.EstimatedCost {
				best = preferByTieBreak(best, candidate)
			}
		}
	}

	for _, pred := range predicates {
		if pred.Field == best.Field && best.Op != OpTableScan {
			continue // folded into the scan already
		}
		best = &PlanNode{Op: OpFilter, DB: db, Table: table, Cond: []Predicate{pred}, Children: []*PlanNode{best},
			EstimatedRows: best.EstimatedRows, EstimatedCost: best.EstimatedCost + best.EstimatedRows}
	}

	if atLeast(level, config.OptimizationHigh) {
		annotateSpill(best, memoryBudgetBytes)
	}

	return &Plan{Root: best, Level: level}
}

func (p *Planner) scanCandidateFor(db, table string, pred Predicate, rows float64) *PlanNode {
	if !p.indexes.HasIndex(db, table, pred.Field) {
		return nil
	}
	if pred.Op != "=" && pred.Op != "<" && pred.Op != "<=" && pred.Op != ">" && pred.Op != ">=" {
		return nil // e.g. "!=": not index-eligible, falls back to a table scan + filter
	}
	selectivity := p.stats.Selectivity(db, table, pred.Field)
	if selectivity >= indexSelectivityThreshold && pred.Op == "=" {
		return nil
	}
	matched := estimatedRows(rows, selectivity)

	if pred.Op == "<" || pred.Op == "<=" || pred.Op == ">" || pred.Op == ">=" || pred.High != nil {
		return &PlanNode{Op: OpRangeScan, DB: db, Table: table, Field: pred.Field, Cond: []Predicate{pred},
			EstimatedRows: matched, EstimatedCost: costRangeScan(rows, matched)}
	}
	return &PlanNode{Op: OpIndexScan, DB: db, Table: table, Field: pred.Field, Cond: []Predicate{pred},
		EstimatedRows: matched, EstimatedCost: costIndexScan(rows, matched)}
}

// preferByTieBreak breaks an exact cost tie using the spec's ordering:
// index scan beats range scan beats full scan.
func preferByTieBreak(a, b *PlanNode) *PlanNode {
	rank := map[OperatorType]int{OpIndexScan: 3, OpRangeScan: 2, OpTableScan: 1}
	if rank[b.Op] > rank[a.Op] {
		return b
	}
	return a
}

// PlanJoin builds a plan joining two already-planned scans on a field
// pair. At MEDIUM and above, it also considers swapping which side
// builds the hash table (or drives the outer loop), keeping whichever
// ordering is cheapest.
func (p *Planner) PlanJoin(left, right *PlanNode, join JoinSpec, level config.OptimizationLevel, memoryBudgetBytes int64) *PlanNode {
	nestedCost := costNestedLoopJoin(left.EstimatedRows, right.EstimatedRows)
	hashCost := costHashJoin(left.EstimatedRows, right.EstimatedRows)

	best := joinNode(OpNestedLoopJoin, left, right, join, nestedCost)
	if hashCost <= nestedCost {
		best = joinNode(OpHashJoinProbe, left, right, join, hashCost)
	}

	if atLeast(level, config.OptimizationMedium) {
		swapped := joinNode(bestJoinOp(hashCost, nestedCost), right, left, JoinSpec{LeftField: join.RightField, RightField: join.LeftField}, min(hashCost, nestedCost))
		if swapped.EstimatedCost < best.EstimatedCost {
			best = swapped
		}
	}

	if atLeast(level, config.OptimizationHigh) {
		annotateSpill(best, memoryBudgetBytes)
	}
	return best
}

func bestJoinOp(hashCost, nestedCost float64) OperatorType {
	if hashCost <= nestedCost {
		return OpHashJoinProbe
	}
	return OpNestedLoopJoin
}

func joinNode(op OperatorType, left, right *PlanNode, join JoinSpec, cost float64) *PlanNode {
	children := []*PlanNode{left, right}
	if op == OpHashJoinProbe {
		build := &PlanNode{Op: OpBuildHashTable, DB: left.DB, Table: left.Table, Field: join.LeftField,
			Children: []*PlanNode{left}, EstimatedRows: left.EstimatedRows, EstimatedCost: left.EstimatedCost}
		children = []*PlanNode{build, right}
	}
	node := &PlanNode{
		Op: op, Children: children,
		EstimatedRows: left.EstimatedRows + right.EstimatedRows,
		EstimatedCost: left.EstimatedCost + right.EstimatedCost + cost,
	}
	if op == OpHashJoinProbe {
		node.Field = join.RightField
	}
	return node
}

func annotateSpill(node *PlanNode, memoryBudgetBytes int64) {
	if node == nil {
		return
	}
	estimatedBytes := int64(node.EstimatedRows) * assumedRowBytes
	if memoryBudgetBytes > 0 && estimatedBytes > memoryBudgetBytes {
		node.Spill = true
	}
	for _, child := range node.Children {
		annotateSpill(child, memoryBudgetBytes)
	}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
