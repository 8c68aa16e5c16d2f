package lsm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dd0wney/rowdb/internal/logging"
	"github.com/dd0wney/rowdb/internal/storageerr"
)

// CompactionStrategy decides which SSTables should be merged next.
type CompactionStrategy interface {
	SelectCompaction(levels [][]*SSTable) *CompactionPlan
}

type CompactionPlan struct {
	Level       int
	SSTables    []*SSTable
	OutputLevel int
}

// LeveledCompactionStrategy compacts L0's overlapping flush output into L1,
// and merges a level L >= 1 into L+1 whenever it grows past LevelSizeRatio
// times the next level's size. Only the source level's SSTables are
// merged: the output is appended to the next level without being merged
// with the SSTables already there, so SSTables within L1..LN can overlap.
type LeveledCompactionStrategy struct {
	Level0FileLimit int
	LevelSizeRatio  float64
	MaxLevels       int
}

func DefaultLeveledCompaction() *LeveledCompactionStrategy {
	return &LeveledCompactionStrategy{Level0FileLimit: 4, LevelSizeRatio: 10.0, MaxLevels: 7}
}

func (lcs *LeveledCompactionStrategy) SelectCompaction(levels [][]*SSTable) *CompactionPlan {
	if len(levels) > 0 && len(levels[0]) >= lcs.Level0FileLimit {
		return &CompactionPlan{Level: 0, SSTables: levels[0], OutputLevel: 1}
	}

	for level := 1; level < len(levels)-1; level++ {
		levelSize := calculateLevelSize(levels[level])
		nextLevelSize := calculateLevelSize(levels[level+1])
		if float64(levelSize) > lcs.LevelSizeRatio*float64(nextLevelSize) {
			return &CompactionPlan{Level: level, SSTables: levels[level], OutputLevel: level + 1}
		}
	}
	return nil
}

func calculateLevelSize(sstables []*SSTable) int64 {
	var size int64
	for _, sst := range sstables {
		if info, err := os.Stat(sst.path); err == nil {
			size += info.Size()
		}
	}
	return size
}

// Compactor merges a CompactionPlan's input SSTables into a sorted,
// deduplicated run of output SSTables at the plan's output level.
type Compactor struct {
	strategy          CompactionStrategy
	dataDir           string
	falsePositiveRate float64
	logger            logging.Logger
}

func NewCompactor(dataDir string, strategy CompactionStrategy, falsePositiveRate float64, logger logging.Logger) *Compactor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Compactor{strategy: strategy, dataDir: dataDir, falsePositiveRate: falsePositiveRate, logger: logger}
}

const maxSSTableBytes = 64 * 1024 * 1024

// Compact merges plan.SSTables, dropping tombstones and superseded
// versions, and writes the result as one or more new SSTables at
// plan.OutputLevel. Any output files written before a failure are removed
// before returning the error.
func (c *Compactor) Compact(plan *CompactionPlan) (result []*SSTable, err error) {
	var outputs []*SSTable
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during compaction",
				logging.Int("level", plan.Level), logging.Count(len(plan.SSTables)), logging.Any("panic", r))
			c.cleanup(outputs)
			err = fmt.Errorf("panic during compaction: %v", r)
			result = nil
		}
	}()

	if plan == nil || len(plan.SSTables) == 0 {
		return nil, nil
	}

	var allEntries []*Entry
	for _, sst := range plan.SSTables {
		entries, err := sst.AllEntries()
		if err != nil {
			return nil, storageerr.New("compaction.Compact", storageerr.KindPersistentIO).
				Entity("sstable", sst.path).Cause(err).Err()
		}
		allEntries = append(allEntries, entries...)
	}

	sort.Slice(allEntries, func(i, j int) bool {
		cmp := EntryCompare(allEntries[i], allEntries[j])
		if cmp == 0 {
			return allEntries[i].LSN > allEntries[j].LSN
		}
		return cmp < 0
	})

	deduplicated := make([]*Entry, 0, len(allEntries))
	var lastKey []byte
	for _, entry := range allEntries {
		if lastKey != nil && string(entry.Key) == string(lastKey) {
			continue
		}
		lastKey = entry.Key
		if !entry.Deleted {
			deduplicated = append(deduplicated, entry)
		}
	}
	if len(deduplicated) == 0 {
		return nil, nil
	}

	var batch []*Entry
	batchSize := 0
	seqno := uint64(0)

	flushBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		path := SSTablePath(c.dataDir, plan.OutputLevel, uint64(len(outputs))+seqno)
		sst, err := BuildSSTable(path, batch, plan.OutputLevel, uint64(len(outputs))+seqno, c.falsePositiveRate)
		if err != nil {
			return err
		}
		outputs = append(outputs, sst)
		batch = nil
		batchSize = 0
		return nil
	}

	for _, entry := range deduplicated {
		entrySize := len(entry.Key) + len(entry.Value) + 24
		if batchSize+entrySize > maxSSTableBytes && len(batch) > 0 {
			if err := flushBatch(); err != nil {
				c.cleanup(outputs)
				return nil, err
			}
		}
		batch = append(batch, entry)
		batchSize += entrySize
	}
	if err := flushBatch(); err != nil {
		c.cleanup(outputs)
		return nil, err
	}

	return outputs, nil
}

func (c *Compactor) cleanup(sstables []*SSTable) {
	for _, sst := range sstables {
		if sst == nil {
			continue
		}
		if err := sst.Delete(); err != nil {
			c.logger.Warn("failed to clean up output sstable", logging.Path(sst.path), logging.Error(err))
		}
	}
}

// CleanupOldSSTables removes SSTables that compaction has superseded.
func (c *Compactor) CleanupOldSSTables(sstables []*SSTable) error {
	var errs []error
	for _, sst := range sstables {
		if err := sst.Delete(); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", sst.path, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to clean up %d of %d sstables: %v", len(errs), len(sstables), errs[0])
	}
	return nil
}

// ListSSTables discovers and opens every SSTable file under dir, grouped
// by level.
func ListSSTables(dir string) ([][]*SSTable, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sst"))
	if err != nil {
		return nil, fmt.Errorf("glob sstable files: %w", err)
	}

	levelMap := make(map[int][]*SSTable)
	var errs []error

	for _, path := range files {
		var level int
		var seqno uint64
		if _, err := fmt.Sscanf(filepath.Base(path), "L%d-%d.sst", &level, &seqno); err != nil {
			continue
		}
		sst, err := OpenSSTable(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("open %s: %w", path, err))
			continue
		}
		levelMap[level] = append(levelMap[level], sst)
	}

	maxLevel := 0
	for level := range levelMap {
		if level > maxLevel {
			maxLevel = level
		}
	}

	levels := make([][]*SSTable, maxLevel+1)
	for level := 0; level <= maxLevel; level++ {
		levels[level] = levelMap[level]
	}

	if len(errs) > 0 {
		return levels, fmt.Errorf("failed to open %d sstable(s): %v", len(errs), errs[0])
	}
	return levels, nil
}
