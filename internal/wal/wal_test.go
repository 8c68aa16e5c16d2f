package wal

import (
	"testing"

	"github.com/dd0wney/rowdb/internal/logging"
	"github.com/stretchr/testify/require"
)

func openTestWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := Open(t.TempDir(), 0, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	w := openTestWAL(t)

	lsn1, err := w.Append(OpPut, "shop", "items", "row-1", []byte(`{"n":1}`))
	require.NoError(t, err)
	require.Equal(t, uint64(1), lsn1)

	lsn2, err := w.Append(OpPut, "shop", "items", "row-2", []byte(`{"n":2}`))
	require.NoError(t, err)
	require.Equal(t, uint64(2), lsn2)
}

func TestReplayRoundTripsCompressedRecords(t *testing.T) {
	w := openTestWAL(t)

	_, err := w.Append(OpPut, "shop", "items", "row-1", []byte(`{"name":"widget"}`))
	require.NoError(t, err)
	_, err = w.Append(OpDelete, "shop", "items", "row-1", nil)
	require.NoError(t, err)

	var replayed []Entry
	require.NoError(t, w.Replay(0, func(e Entry) error {
		replayed = append(replayed, e)
		return nil
	}))

	require.Len(t, replayed, 2)
	require.Equal(t, "row-1", replayed[0].Record.RowID)
	require.Equal(t, OpPut, replayed[0].Record.Op)
	require.Equal(t, []byte(`{"name":"widget"}`), replayed[0].Record.Doc)
	require.Equal(t, OpDelete, replayed[1].Record.Op)
}

func TestReplayHonorsFromLSN(t *testing.T) {
	w := openTestWAL(t)
	w.Append(OpPut, "shop", "items", "row-1", []byte("a"))
	w.Append(OpPut, "shop", "items", "row-2", []byte("b"))
	w.Append(OpPut, "shop", "items", "row-3", []byte("c"))

	var replayed []Entry
	require.NoError(t, w.Replay(1, func(e Entry) error {
		replayed = append(replayed, e)
		return nil
	}))

	require.Len(t, replayed, 2)
	require.Equal(t, "row-2", replayed[0].Record.RowID)
	require.Equal(t, "row-3", replayed[1].Record.RowID)
}

func TestStatsReportsCompressionSavings(t *testing.T) {
	w := openTestWAL(t)

	repeated := make([]byte, 4096)
	for i := range repeated {
		repeated[i] = 'x'
	}
	_, err := w.Append(OpPut, "shop", "items", "row-1", repeated)
	require.NoError(t, err)

	stats := w.Stats()
	require.Greater(t, stats.BytesRaw, uint64(0))
	require.Less(t, stats.BytesCompressed, stats.BytesRaw)
}

func TestOpenRecoversCurrentLSNAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, 0, logging.NewNopLogger())
	require.NoError(t, err)
	w.Append(OpPut, "shop", "items", "row-1", []byte("a"))
	w.Append(OpPut, "shop", "items", "row-2", []byte("b"))
	require.NoError(t, w.Close())

	reopened, err := Open(dir, 0, logging.NewNopLogger())
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, uint64(2), reopened.CurrentLSN())
}

func TestAppendRollsSegmentPastMaxBytes(t *testing.T) {
	w, err := Open(t.TempDir(), 1, logging.NewNopLogger())
	require.NoError(t, err)
	defer w.Close()

	w.Append(OpPut, "shop", "items", "row-1", []byte("a"))
	require.Equal(t, 2, w.segmentSeq)
}
