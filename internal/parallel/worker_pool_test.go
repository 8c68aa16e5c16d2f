package parallel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsSubmittedTasks(t *testing.T) {
	pool, err := NewWorkerPool(4)
	require.NoError(t, err)

	var counter int64
	for i := 0; i < 50; i++ {
		pool.Submit(func() { atomic.AddInt64(&counter, 1) })
	}
	pool.Close()

	require.Equal(t, int64(50), counter)
	require.Equal(t, Stats{Submitted: 50, Completed: 50, Panics: 0}, pool.Stats())
}

func TestWorkerPoolRecoversPanickingTasks(t *testing.T) {
	pool, err := NewWorkerPool(4)
	require.NoError(t, err)

	var counter int64
	for i := 0; i < 5; i++ {
		pool.Submit(func() { panic("boom") })
	}
	for i := 0; i < 10; i++ {
		pool.Submit(func() { atomic.AddInt64(&counter, 1) })
	}
	pool.Close()

	require.Equal(t, int64(10), counter)
	stats := pool.Stats()
	require.Equal(t, int64(5), stats.Panics)
	require.Equal(t, int64(15), stats.Completed)
}

func TestWorkerPoolSubmitAfterCloseReturnsFalse(t *testing.T) {
	pool, err := NewWorkerPool(2)
	require.NoError(t, err)
	pool.Close()

	require.False(t, pool.Submit(func() {}))
}

func TestWorkerPoolMultipleCloseIsSafe(t *testing.T) {
	pool, err := NewWorkerPool(2)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		pool.Submit(func() { time.Sleep(time.Millisecond) })
	}
	pool.Close()
	pool.Close()
	pool.Close()
}

func TestWorkerPoolConcurrentCloseIsSafe(t *testing.T) {
	pool, err := NewWorkerPool(4)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		pool.Submit(func() { time.Sleep(time.Millisecond) })
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Close()
		}()
	}
	wg.Wait()
}

func TestNewWorkerPoolRejectsExcessiveWorkerCount(t *testing.T) {
	_, err := NewWorkerPool(MaxWorkers + 1)
	require.ErrorIs(t, err, ErrTooManyWorkers)
}

func TestNewWorkerPoolClampsNonPositiveCount(t *testing.T) {
	pool, err := NewWorkerPool(0)
	require.NoError(t, err)
	defer pool.Close()

	var ran bool
	pool.Submit(func() { ran = true })
	pool.Close()
	require.True(t, ran)
}
