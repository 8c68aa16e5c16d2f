package query

import (
	"encoding/gob"
	"os"
	"sync"
	"sync/atomic"
)

// gob only knows how to decode a concrete type into an interface{} slot
// if that type was registered up front — row fields decoded from JSON
// land in Fields as one of these.
func init() {
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register("")
	gob.Register(false)
	gob.Register([]any{})
	gob.Register(map[string]any{})
}

// Buffer size classes, the same tiers the rest of the engine pools
// buffers in: small encoded keys and values reuse these instead of
// allocating fresh slices per row.
const (
	tinySize   = 16
	smallSize  = 64
	mediumSize = 256
	largeSize  = 1024
	hugeSize   = 4096
	maxPooled  = 65536
)

// bufferPool is a size-class byte pool shared by every query running in
// the process, reducing GC pressure from the high churn of row encoding
// during scans and joins.
type bufferPool struct {
	tiny, small, medium, large, huge sync.Pool
}

func newBufferPool() *bufferPool {
	mk := func(size int) sync.Pool {
		return sync.Pool{New: func() any { b := make([]byte, 0, size); return &b }}
	}
	return &bufferPool{
		tiny:   mk(tinySize),
		small:  mk(smallSize),
		medium: mk(mediumSize),
		large:  mk(largeSize),
		huge:   mk(hugeSize),
	}
}

func (p *bufferPool) classFor(size int) *sync.Pool {
	switch {
	case size <= tinySize:
		return &p.tiny
	case size <= smallSize:
		return &p.small
	case size <= mediumSize:
		return &p.medium
	case size <= largeSize:
		return &p.large
	case size <= hugeSize:
		return &p.huge
	default:
		return nil
	}
}

func (p *bufferPool) Get(size int) []byte {
	pool := p.classFor(size)
	if pool == nil {
		return make([]byte, 0, size)
	}
	bp, ok := pool.Get().(*[]byte)
	if !ok || cap(*bp) < size {
		return make([]byte, 0, size)
	}
	return (*bp)[:0]
}

func (p *bufferPool) Put(b []byte) {
	if cap(b) > maxPooled {
		return
	}
	b = b[:0]
	pool := p.classFor(cap(b))
	if pool == nil {
		return
	}
	pool.Put(&b)
}

// MemoryManager enforces a process-wide budget against which every
// query's working set (hash table buckets, sort buffers, join
// partitions) is charged. A query that cannot reserve its estimate
// spills to disk instead of growing the process unbounded.
type MemoryManager struct {
	pool      *bufferPool
	limit     int64
	allocated atomic.Int64
}

func NewMemoryManager(limitBytes int64) *MemoryManager {
	return &MemoryManager{pool: newBufferPool(), limit: limitBytes}
}

// Reserve charges n bytes against the budget. It always succeeds —
// callers use the returned bool to decide whether to spill rather than
// being blocked — so a query never deadlocks waiting on memory another
// query is holding.
func (m *MemoryManager) Reserve(n int64) (fits bool) {
	newTotal := m.allocated.Add(n)
	if m.limit > 0 && newTotal > m.limit {
		return false
	}
	return true
}

func (m *MemoryManager) Release(n int64) {
	m.allocated.Add(-n)
}

func (m *MemoryManager) InUse() int64 { return m.allocated.Load() }

func (m *MemoryManager) GetBuffer(size int) []byte { return m.pool.Get(size) }

func (m *MemoryManager) PutBuffer(b []byte) { m.pool.Put(b) }

// hashSpillThreshold caps how many rows a single bucket keeps resident
// before the rest of that bucket's rows are written to its spill file.
const hashSpillThreshold = 4096

// hashSpill backs one BUILD_HASH_TABLE operator when the planner
// annotated Spill=true: buckets stay in memory up to hashSpillThreshold
// rows, after which further rows for that key are appended to a
// per-partition temp file and read back on probe.
type hashSpill struct {
	mu        sync.Mutex
	resident  map[string][]Row
	spillFile map[string]*os.File
	dir       string
}

func newHashSpill() *hashSpill {
	dir, err := os.MkdirTemp("", "rowdb-hashjoin-")
	if err != nil {
		dir = ""
	}
	return &hashSpill{resident: map[string][]Row{}, spillFile: map[string]*os.File{}, dir: dir}
}

func (h *hashSpill) add(key string, row Row) {
	h.mu.Lock()
	defer h.mu.Unlock()

	bucket := h.resident[key]
	if len(bucket) < hashSpillThreshold || h.dir == "" {
		h.resident[key] = append(bucket, row)
		return
	}

	f, ok := h.spillFile[key]
	if !ok {
		var err error
		f, err = os.CreateTemp(h.dir, "bucket-*")
		if err != nil {
			h.resident[key] = append(bucket, row)
			return
		}
		h.spillFile[key] = f
	}
	_ = gob.NewEncoder(f).Encode(dropNilFields(row))
}

// dropNilFields strips nil entries before gob encoding, which cannot
// represent a nil value stored in an interface{} field.
func dropNilFields(row Row) Row {
	clean := map[string]any{}
	for k, v := range row.Fields {
		if v != nil {
			clean[k] = v
		}
	}
	return Row{ID: row.ID, Fields: clean}
}

func (h *hashSpill) get(key string) []Row {
	h.mu.Lock()
	defer h.mu.Unlock()

	rows := append([]Row{}, h.resident[key]...)
	f, ok := h.spillFile[key]
	if !ok {
		return rows
	}
	if _, err := f.Seek(0, 0); err != nil {
		return rows
	}
	dec := gob.NewDecoder(f)
	for {
		var row Row
		if err := dec.Decode(&row); err != nil {
			break
		}
		rows = append(rows, row)
	}
	return rows
}

func (h *hashSpill) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, f := range h.spillFile {
		_ = f.Close()
	}
	if h.dir != "" {
		_ = os.RemoveAll(h.dir)
	}
	return nil
}

// externalSort spills an oversized SORT operator's rows to disk in
// sorted chunks and merges them on read, the standard external
// merge-sort shape, rather than holding every row resident at once.
type externalSort struct {
	mu     sync.Mutex
	dir    string
	chunks []string
}

func newExternalSort() *externalSort {
	dir, err := os.MkdirTemp("", "rowdb-sort-")
	if err != nil {
		dir = ""
	}
	return &externalSort{dir: dir}
}

// writeChunk persists one already-sorted batch of rows to its own temp
// file and records it for the eventual merge pass.
func (s *externalSort) writeChunk(rows []Row) error {
	if s.dir == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.CreateTemp(s.dir, "chunk-*")
	if err != nil {
		return err
	}
	defer f.Close()

	enc := gob.NewEncoder(f)
	for _, row := range rows {
		if err := enc.Encode(dropNilFields(row)); err != nil {
			return err
		}
	}
	s.chunks = append(s.chunks, f.Name())
	return nil
}

// sortCursor reads one sorted chunk file one row at a time during the
// merge pass.
type sortCursor struct {
	dec  *gob.Decoder
	file *os.File
	next Row
	ok   bool
}

func (c *sortCursor) advance() {
	var row Row
	if err := c.dec.Decode(&row); err != nil {
		c.ok = false
		return
	}
	c.next = row
	c.ok = true
}

// mergeAll performs a k-way merge of every sorted chunk, ordering rows
// by less.
func (s *externalSort) mergeAll(less func(a, b Row) bool) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cursors []*sortCursor
	defer func() {
		for _, c := range cursors {
			_ = c.file.Close()
		}
	}()

	for _, path := range s.chunks {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		c := &sortCursor{dec: gob.NewDecoder(f), file: f}
		c.advance()
		cursors = append(cursors, c)
	}

	var merged []Row
	for {
		best := -1
		for i, c := range cursors {
			if !c.ok {
				continue
			}
			if best == -1 || less(c.next, cursors[best].next) {
				best = i
			}
		}
		if best == -1 {
			break
		}
		merged = append(merged, cursors[best].next)
		cursors[best].advance()
	}
	return merged, nil
}

func (s *externalSort) Close() error {
	if s.dir != "" {
		_ = os.RemoveAll(s.dir)
	}
	return nil
}
