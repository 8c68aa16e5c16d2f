package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryManagerReserveRespectsLimit(t *testing.T) {
	m := NewMemoryManager(100)
	assert.True(t, m.Reserve(50))
	assert.False(t, m.Reserve(60))
	m.Release(50)
	assert.Equal(t, int64(60), m.InUse())
}

func TestMemoryManagerUnboundedWhenLimitZero(t *testing.T) {
	m := NewMemoryManager(0)
	assert.True(t, m.Reserve(1 << 30))
}

func TestBufferPoolReusesBySizeClass(t *testing.T) {
	m := NewMemoryManager(0)
	b := m.GetBuffer(40)
	assert.Equal(t, 0, len(b))
	assert.GreaterOrEqual(t, cap(b), 40)
	m.PutBuffer(b)
}

func TestHashSpillSpillsBeyondThreshold(t *testing.T) {
	h := newHashSpill()
	defer h.Close()

	for i := 0; i < hashSpillThreshold+10; i++ {
		h.add("k", Row{ID: "r", Fields: map[string]any{"n": i}})
	}

	rows := h.get("k")
	assert.Len(t, rows, hashSpillThreshold+10)
}

func TestExternalSortMergesChunks(t *testing.T) {
	s := newExternalSort()
	defer s.Close()

	less := func(a, b Row) bool {
		return a.Fields["n"].(int) < b.Fields["n"].(int)
	}

	require.NoError(t, s.writeChunk([]Row{{Fields: map[string]any{"n": 1}}, {Fields: map[string]any{"n": 5}}}))
	require.NoError(t, s.writeChunk([]Row{{Fields: map[string]any{"n": 2}}, {Fields: map[string]any{"n": 3}}}))

	merged, err := s.mergeAll(less)
	require.NoError(t, err)
	require.Len(t, merged, 4)
	assert.Equal(t, 1, merged[0].Fields["n"])
	assert.Equal(t, 5, merged[3].Fields["n"])
}
