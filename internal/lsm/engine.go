// Package lsm implements the per-table LSM-tree storage engine: a mutable
// memtable accepting writes, a frozen snapshot pending flush, leveled
// SSTables on disk, and background workers that flush and compact them.
package lsm

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dd0wney/rowdb/internal/logging"
	"github.com/dd0wney/rowdb/internal/storageerr"
)

// Options configures one table's Engine.
type Options struct {
	DataDir            string
	MemTableMaxBytes   int
	BloomFalsePositiveRate float64
	CompactionStrategy CompactionStrategy
	EnableBackground   bool
	Logger             logging.Logger
}

func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:                dataDir,
		MemTableMaxBytes:       4 * 1024 * 1024,
		BloomFalsePositiveRate: 0.01,
		CompactionStrategy:     DefaultLeveledCompaction(),
		EnableBackground:       true,
	}
}

// Stats tracks counters a Storage Scheduler or /metrics endpoint reads.
type Stats struct {
	mu sync.Mutex

	WriteCount      int64
	ReadCount       int64
	FlushCount      int64
	CompactionCount int64
	BytesWritten    int64
	SSTableCount    int
	Level0FileCount int
}

// Engine is one table's LSM tree: the write path (memtable, frozen
// snapshot awaiting flush) and the read path (cache, memtable, frozen
// snapshot, then leveled SSTables newest-to-oldest).
type Engine struct {
	mu sync.RWMutex

	memTable *MemTable
	frozen   *Frozen

	levels             [][]*SSTable
	cache              *BlockCache
	compactionStrategy CompactionStrategy
	compactor          *Compactor

	dataDir          string
	memTableMaxBytes int
	falsePositiveRate float64
	logger           logging.Logger

	flushChan      chan struct{}
	compactionChan chan struct{}
	stopChan       chan struct{}
	wg             sync.WaitGroup

	stats Stats
}

func New(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.CompactionStrategy == nil {
		opts.CompactionStrategy = DefaultLeveledCompaction()
	}
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create lsm data dir: %w", err)
	}

	levels, err := ListSSTables(opts.DataDir)
	if err != nil {
		opts.Logger.Warn("some sstables failed to open during engine startup", logging.Error(err))
	}

	e := &Engine{
		memTable:           NewMemTable(opts.MemTableMaxBytes),
		levels:             levels,
		cache:              NewBlockCache(10000),
		compactionStrategy: opts.CompactionStrategy,
		compactor:          NewCompactor(opts.DataDir, opts.CompactionStrategy, opts.BloomFalsePositiveRate, opts.Logger),
		dataDir:            opts.DataDir,
		memTableMaxBytes:   opts.MemTableMaxBytes,
		falsePositiveRate:  opts.BloomFalsePositiveRate,
		logger:             opts.Logger,
		flushChan:          make(chan struct{}, 1),
		compactionChan:     make(chan struct{}, 1),
		stopChan:           make(chan struct{}),
	}

	if opts.EnableBackground {
		e.wg.Add(2)
		go e.flushWorker()
		go e.compactionWorker()
	}

	return e, nil
}

// Put applies a durable write at lsn. The caller (Storage) is responsible
// for having already appended the corresponding WAL record and obtained
// lsn from it before calling Put.
func (e *Engine) Put(key, value []byte, lsn uint64) error {
	e.mu.Lock()
	e.cache.Delete(string(key))
	if err := e.memTable.Put(key, value, lsn); err != nil {
		e.mu.Unlock()
		return err
	}
	e.stats.mu.Lock()
	e.stats.WriteCount++
	e.stats.BytesWritten += int64(len(key) + len(value))
	e.stats.mu.Unlock()
	needsFlush := e.memTable.IsFull()
	e.mu.Unlock()

	if needsFlush {
		e.triggerFlush()
	}
	return nil
}

func (e *Engine) Delete(key []byte, lsn uint64) error {
	e.mu.Lock()
	e.cache.Delete(string(key))
	err := e.memTable.Delete(key, lsn)
	e.mu.Unlock()
	return err
}

// Get resolves key by checking, in order: cache, live memtable, frozen
// snapshot, then SSTables newest level first. Returns false for a
// tombstoned or never-written key.
func (e *Engine) Get(key []byte) ([]byte, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	e.stats.mu.Lock()
	e.stats.ReadCount++
	e.stats.mu.Unlock()

	cacheKey := string(key)
	if entry, ok := e.cache.Get(cacheKey); ok {
		if entry.Deleted {
			return nil, false
		}
		return entry.Value, true
	}

	if entry, ok := e.memTable.Get(key); ok {
		e.cache.Put(cacheKey, entry)
		if entry.Deleted {
			return nil, false
		}
		return entry.Value, true
	}

	if e.frozen != nil {
		if entry, ok := e.frozen.Get(key); ok {
			e.cache.Put(cacheKey, entry)
			if entry.Deleted {
				return nil, false
			}
			return entry.Value, true
		}
	}

	for level := 0; level < len(e.levels); level++ {
		for i := len(e.levels[level]) - 1; i >= 0; i-- {
			if entry, ok := e.levels[level][i].Get(key); ok {
				e.cache.Put(cacheKey, entry)
				return entry.Value, true
			}
		}
	}

	return nil, false
}

// Scan returns every live key in [start, end), resolving overlapping
// versions across the memtable, frozen snapshot and SSTables by
// newest-wins (lowest source checked first).
func (e *Engine) Scan(start, end []byte) (map[string][]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make(map[string][]byte)
	seen := make(map[string]bool)

	for _, entry := range e.memTable.Scan(start, end) {
		seen[string(entry.Key)] = true
		if !entry.Deleted {
			results[string(entry.Key)] = entry.Value
		}
	}

	if e.frozen != nil {
		for _, entry := range e.frozen.Scan(start, end) {
			if seen[string(entry.Key)] {
				continue
			}
			seen[string(entry.Key)] = true
			if !entry.Deleted {
				results[string(entry.Key)] = entry.Value
			}
		}
	}

	for level := 0; level < len(e.levels); level++ {
		for i := len(e.levels[level]) - 1; i >= 0; i-- {
			entries, err := e.levels[level][i].Scan(start, end)
			if err != nil {
				continue
			}
			for _, entry := range entries {
				if seen[string(entry.Key)] {
					continue
				}
				seen[string(entry.Key)] = true
				results[string(entry.Key)] = entry.Value
			}
		}
	}

	return results, nil
}

func (e *Engine) Stats() Stats {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	return Stats{
		WriteCount: e.stats.WriteCount, ReadCount: e.stats.ReadCount,
		FlushCount: e.stats.FlushCount, CompactionCount: e.stats.CompactionCount,
		BytesWritten: e.stats.BytesWritten, SSTableCount: e.stats.SSTableCount,
		Level0FileCount: e.stats.Level0FileCount,
	}
}

func (e *Engine) triggerFlush() {
	select {
	case e.flushChan <- struct{}{}:
	default:
	}
}

func (e *Engine) triggerCompaction() {
	select {
	case e.compactionChan <- struct{}{}:
	default:
	}
}

func (e *Engine) flushWorker() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.flushChan:
			if err := e.Flush(); err != nil {
				e.logger.Error("flush failed", logging.Error(err))
			}
		case <-ticker.C:
			e.mu.RLock()
			needsFlush := e.memTable.IsFull()
			e.mu.RUnlock()
			if needsFlush {
				if err := e.Flush(); err != nil {
					e.logger.Error("periodic flush failed", logging.Error(err))
				}
			}
		case <-e.stopChan:
			return
		}
	}
}

// Flush freezes the active memtable and writes it to a new L0 SSTable.
// A no-op if a freeze is already in flight.
func (e *Engine) Flush() error {
	e.mu.Lock()
	if e.frozen != nil {
		e.mu.Unlock()
		return nil
	}
	e.frozen = e.memTable.Freeze()
	e.memTable = NewMemTable(e.memTableMaxBytes)
	e.mu.Unlock()

	entries := e.frozen.Entries()
	if len(entries) == 0 {
		e.mu.Lock()
		e.frozen = nil
		e.mu.Unlock()
		return nil
	}

	seqno := uint64(time.Now().UnixNano())
	path := SSTablePath(e.dataDir, 0, seqno)
	sst, err := BuildSSTable(path, entries, 0, seqno, e.falsePositiveRate)
	if err != nil {
		return storageerr.New("lsm.Flush", storageerr.KindPersistentIO).Cause(err).Err()
	}

	e.mu.Lock()
	if len(e.levels) == 0 {
		e.levels = make([][]*SSTable, 1)
	}
	e.levels[0] = append(e.levels[0], sst)
	e.frozen = nil

	e.stats.mu.Lock()
	e.stats.FlushCount++
	e.stats.SSTableCount++
	e.stats.Level0FileCount = len(e.levels[0])
	e.stats.mu.Unlock()
	e.mu.Unlock()

	e.triggerCompaction()
	return nil
}

func (e *Engine) compactionWorker() {
	defer e.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.compactionChan:
			if err := e.Compact(); err != nil {
				e.logger.Error("compaction failed", logging.Error(err))
			}
		case <-ticker.C:
			if err := e.Compact(); err != nil {
				e.logger.Error("periodic compaction failed", logging.Error(err))
			}
		case <-e.stopChan:
			return
		}
	}
}

// Compact runs one round of the configured CompactionStrategy, if it finds
// work to do, replacing the source level's SSTables under a copy-on-write
// swap so concurrent readers holding the old []levels slice are unaffected.
func (e *Engine) Compact() error {
	e.mu.RLock()
	plan := e.compactionStrategy.SelectCompaction(e.levels)
	e.mu.RUnlock()
	if plan == nil {
		return nil
	}

	newSSTables, err := e.compactor.Compact(plan)
	if err != nil {
		return err
	}

	e.mu.Lock()
	newLevels := make([][]*SSTable, len(e.levels))
	for i := range e.levels {
		if i == plan.Level {
			newLevels[i] = nil
		} else {
			newLevels[i] = e.levels[i]
		}
	}
	for len(newLevels) <= plan.OutputLevel {
		newLevels = append(newLevels, nil)
	}
	newLevels[plan.OutputLevel] = append(newLevels[plan.OutputLevel], newSSTables...)
	e.levels = newLevels

	e.stats.mu.Lock()
	e.stats.CompactionCount++
	e.stats.SSTableCount = e.countSSTables()
	if len(e.levels) > 0 {
		e.stats.Level0FileCount = len(e.levels[0])
	}
	e.stats.mu.Unlock()
	e.mu.Unlock()

	if err := e.compactor.CleanupOldSSTables(plan.SSTables); err != nil {
		return fmt.Errorf("cleanup superseded sstables: %w", err)
	}
	return nil
}

func (e *Engine) countSSTables() int {
	count := 0
	for _, level := range e.levels {
		count += len(level)
	}
	return count
}

// Close stops the background workers and closes every open SSTable
// handle. It does not flush the active memtable; callers that need the
// memtable durable on shutdown rely on WAL replay instead.
func (e *Engine) Close() error {
	close(e.stopChan)
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, level := range e.levels {
		for _, sst := range level {
			sst.Close()
		}
	}
	return nil
}
