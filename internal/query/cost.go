package query

import "math"

// costTableScan charges one unit per row in the table.
func costTableScan(rows float64) float64 {
	return rows
}

// costIndexScan charges the tree-descent cost plus one unit per matched
// row — log2(rows) to find the starting key, then a linear walk over
// whatever the predicate actually matches.
func costIndexScan(rows, matched float64) float64 {
	if rows < 1 {
		rows = 1
	}
	return math.Log2(rows) + matched
}

// costRangeScan is the same shape as an index scan: descend once, then
// walk the matched window.
func costRangeScan(rows, matched float64) float64 {
	return costIndexScan(rows, matched)
}

// costNestedLoopJoin charges the full cross product: one probe of the
// right side per row of the left side.
func costNestedLoopJoin(leftRows, rightRows float64) float64 {
	return leftRows * rightRows
}

// costHashJoin charges one pass to build the hash table and one pass to
// probe it — linear in the combined input size.
func costHashJoin(leftRows, rightRows float64) float64 {
	return leftRows + rightRows
}

// estimatedRows applies a column's selectivity to a table's row count,
// clamped so a plan never estimates fewer than one matched row.
func estimatedRows(tableRows, selectivity float64) float64 {
	est := tableRows * selectivity
	if est < 1 {
		return 1
	}
	return est
}
