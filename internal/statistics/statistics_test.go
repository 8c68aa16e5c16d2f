package statistics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableStatisticsRowCount(t *testing.T) {
	ts := newTableStatistics()
	ts.SetRowCount(10)
	ts.IncrRowCount(5)
	assert.Equal(t, int64(15), ts.RowCount())
}

func TestColumnSelectivityFallsBackToOneWhenUnknown(t *testing.T) {
	ts := newTableStatistics()
	assert.Equal(t, 1.0, ts.ColumnStats("missing").Selectivity())
}

func TestColumnSelectivityFromNDV(t *testing.T) {
	ts := newTableStatistics()
	ts.UpdateColumn("status", 4)
	assert.Equal(t, 0.25, ts.ColumnStats("status").Selectivity())
}

func TestTrackQueryRuntimeConverges(t *testing.T) {
	ts := newTableStatistics()
	for i := 0; i < 50; i++ {
		ts.TrackQueryRuntime(10.0)
	}
	assert.InDelta(t, 10.0, ts.AvgQueryRuntimeMS(), 0.5)
	assert.Equal(t, int64(50), ts.TotalQueries())
}

func TestManagerLazyCreatesPerTable(t *testing.T) {
	m := NewManager()
	m.Table("db", "t1").SetRowCount(3)
	m.Table("db", "t2").SetRowCount(7)

	assert.Equal(t, int64(3), m.Table("db", "t1").RowCount())
	assert.Equal(t, int64(7), m.Table("db", "t2").RowCount())
}
