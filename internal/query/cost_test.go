package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostTableScanIsLinearInRows(t *testing.T) {
	assert.Equal(t, 1000.0, costTableScan(1000))
}

func TestCostIndexScanIsLogPlusMatched(t *testing.T) {
	cost := costIndexScan(1024, 5)
	assert.InDelta(t, 15.0, cost, 0.01) // log2(1024) = 10
}

func TestCostHashJoinCheaperThanNestedLoopAtScale(t *testing.T) {
	assert.Less(t, costHashJoin(10000, 10000), costNestedLoopJoin(10000, 10000))
}

func TestEstimatedRowsClampsToOne(t *testing.T) {
	assert.Equal(t, 1.0, estimatedRows(10, 0.0001))
}

func TestEstimatedRowsScalesBySelectivity(t *testing.T) {
	assert.Equal(t, 50.0, estimatedRows(1000, 0.05))
}
