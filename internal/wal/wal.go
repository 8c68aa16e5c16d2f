// Package wal implements the write-ahead log every table mutation passes
// through before it is visible in the memtable: framed, checksummed
// records spread across rolling segment files, replayed on startup to
// recover state a crash left out of durable storage.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dd0wney/rowdb/internal/logging"
	"github.com/dd0wney/rowdb/internal/storageerr"
	"github.com/golang/snappy"
)

// Entry is a single framed, checksummed record read back off disk.
// Format: [LSN:8][DataLen:4][Data:N][Checksum:4][Timestamp:8], where Data
// is the snappy-compressed EncodeRecord output that carries the op.
type Entry struct {
	LSN       uint64
	Record    Record
	Timestamp int64
}

const segmentPrefix = "wal-"
const segmentSuffix = ".log"

// WAL is the write-ahead log for one table's data directory.
type WAL struct {
	dir             string
	maxSegmentBytes int64
	logger          logging.Logger

	mu          sync.Mutex
	file        *os.File
	writer      *bufio.Writer
	currentLSN  uint64
	segmentSeq  int
	segmentSize int64

	bytesRaw        uint64
	bytesCompressed uint64
}

// Stats reports how much space snappy compression has saved across every
// Append call so far, for the "statistics collect" surface.
type Stats struct {
	BytesRaw        uint64
	BytesCompressed uint64
}

func (w *WAL) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{BytesRaw: w.bytesRaw, BytesCompressed: w.bytesCompressed}
}

// Open opens (or creates) the WAL rooted at dir, replaying every existing
// segment to recover the current LSN. A corrupt tail in any segment is
// truncated at the last good record; Open then returns the usable WAL
// together with a KindPersistentIO error wrapping storageerr.ErrCorruptRecord
// rather than failing.
func Open(dir string, maxSegmentBytes int64, logger logging.Logger) (*WAL, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}

	w := &WAL{dir: dir, maxSegmentBytes: maxSegmentBytes, logger: logger}

	segs, err := w.segments()
	if err != nil {
		return nil, err
	}

	if len(segs) == 0 {
		if err := w.openSegment(1); err != nil {
			return nil, err
		}
		return w, nil
	}

	truncated := false
	for i, seg := range segs {
		isLast := i == len(segs)-1
		n, hitCorruption, err := w.recoverSegment(seg)
		if err != nil {
			return nil, err
		}
		if hitCorruption {
			truncated = true
			if !isLast {
				w.logger.Warn("wal segment has corrupt tail but is not the newest segment",
					logging.Path(seg), logging.Count(n))
			}
		}
	}

	lastSeq := segmentSeq(segs[len(segs)-1])
	if err := w.openSegment(lastSeq); err != nil {
		return nil, err
	}
	if err := w.seekToAppendPosition(); err != nil {
		return nil, err
	}

	if truncated {
		return w, storageerr.New("wal.Open", storageerr.KindPersistentIO).
			Context("recovered a corrupt tail, truncated to last good record").
			Cause(storageerr.ErrCorruptRecord).Err()
	}
	return w, nil
}

func (w *WAL) segments() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var segs []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, segmentSuffix) {
			segs = append(segs, filepath.Join(w.dir, name))
		}
	}
	sort.Slice(segs, func(i, j int) bool { return segmentSeq(segs[i]) < segmentSeq(segs[j]) })
	return segs, nil
}

func segmentSeq(path string) int {
	base := filepath.Base(path)
	base = strings.TrimPrefix(base, segmentPrefix)
	base = strings.TrimSuffix(base, segmentSuffix)
	n, _ := strconv.Atoi(base)
	return n
}

func (w *WAL) segmentPath(seq int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s%d%s", segmentPrefix, seq, segmentSuffix))
}

func (w *WAL) openSegment(seq int) error {
	path := w.segmentPath(seq)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open wal segment %s: %w", path, err)
	}
	w.file = file
	w.writer = bufio.NewWriter(file)
	w.segmentSeq = seq
	info, err := file.Stat()
	if err != nil {
		return err
	}
	w.segmentSize = info.Size()
	return nil
}

func (w *WAL) seekToAppendPosition() error {
	_, err := w.file.Seek(0, io.SeekEnd)
	return err
}

// recoverSegment replays one segment's entries to advance currentLSN and
// reports whether it stopped early because of a corrupt tail. A corrupt
// tail is truncated in place, whichever segment it is in.
func (w *WAL) recoverSegment(path string) (count int, hitCorruption bool, err error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return 0, false, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var goodOffset int64

	for {
		entry, n, rerr := readEntry(reader)
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			hitCorruption = true
			break
		}
		goodOffset += int64(n)
		count++
		if entry.LSN > w.currentLSN {
			w.currentLSN = entry.LSN
		}
	}

	if hitCorruption {
		if err := file.Truncate(goodOffset); err != nil {
			return count, hitCorruption, fmt.Errorf("truncate corrupt wal segment %s: %w", path, err)
		}
	}

	return count, hitCorruption, nil
}

// Append writes one record as a new WAL entry, assigning it the next LSN,
// and fsyncs before returning so the caller's durability guarantee holds.
func (w *WAL) Append(op OpType, db, table, rowID string, doc []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentLSN == ^uint64(0) {
		return 0, storageerr.New("wal.Append", storageerr.KindInvariant).
			Context("LSN space exhausted").Err()
	}

	raw := EncodeRecord(Record{DB: db, Table: table, RowID: rowID, Op: op, Doc: doc})
	data := snappy.Encode(nil, raw)
	w.bytesRaw += uint64(len(raw))
	w.bytesCompressed += uint64(len(data))
	lsn := w.currentLSN + 1

	n, err := writeEntry(w.writer, lsn, data, time.Now().UnixNano())
	if err != nil {
		return 0, storageerr.New("wal.Append", storageerr.KindTransientIO).Cause(err).Err()
	}
	if err := w.writer.Flush(); err != nil {
		return 0, storageerr.New("wal.Append", storageerr.KindTransientIO).Cause(err).Err()
	}
	if err := w.file.Sync(); err != nil {
		return 0, storageerr.New("wal.Append", storageerr.KindPersistentIO).Cause(err).Err()
	}

	w.currentLSN = lsn
	w.segmentSize += int64(n)

	if w.maxSegmentBytes > 0 && w.segmentSize >= w.maxSegmentBytes {
		if err := w.rollSegment(); err != nil {
			return lsn, err
		}
	}

	return lsn, nil
}

func (w *WAL) rollSegment() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	return w.openSegment(w.segmentSeq + 1)
}

// writeEntry frames one entry onto the writer and returns the number of
// bytes written, for segment-size tracking.
func writeEntry(out io.Writer, lsn uint64, data []byte, timestamp int64) (int, error) {
	cw := &countingWriter{w: out}

	if err := binary.Write(cw, binary.LittleEndian, lsn); err != nil {
		return cw.n, err
	}
	dataLen := uint32(len(data))
	if err := binary.Write(cw, binary.LittleEndian, dataLen); err != nil {
		return cw.n, err
	}
	if _, err := cw.Write(data); err != nil {
		return cw.n, err
	}
	checksum := crc32.ChecksumIEEE(data)
	if err := binary.Write(cw, binary.LittleEndian, checksum); err != nil {
		return cw.n, err
	}
	if err := binary.Write(cw, binary.LittleEndian, timestamp); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}

// readEntry reads one framed entry, returning io.EOF cleanly at a segment
// boundary and a non-EOF error on any corruption (bad checksum included).
func readEntry(r *bufio.Reader) (*Entry, int, error) {
	var lsn uint64
	if err := binary.Read(r, binary.LittleEndian, &lsn); err != nil {
		return nil, 0, err
	}
	n := 8

	var dataLen uint32
	if err := binary.Read(r, binary.LittleEndian, &dataLen); err != nil {
		return nil, n, unexpectedEOF(err)
	}
	n += 4

	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, n, unexpectedEOF(err)
	}
	n += len(data)

	var checksum uint32
	if err := binary.Read(r, binary.LittleEndian, &checksum); err != nil {
		return nil, n, unexpectedEOF(err)
	}
	n += 4

	var timestamp int64
	if err := binary.Read(r, binary.LittleEndian, &timestamp); err != nil {
		return nil, n, unexpectedEOF(err)
	}
	n += 8

	if crc32.ChecksumIEEE(data) != checksum {
		return nil, n, storageerr.ErrCorruptRecord
	}

	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, n, fmt.Errorf("wal: decompress record: %w", err)
	}

	record, err := DecodeRecord(raw)
	if err != nil {
		return nil, n, err
	}

	return &Entry{LSN: lsn, Record: record, Timestamp: timestamp}, n, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Replay calls handler for every entry across every segment, in LSN order,
// starting from fromLSN (exclusive).
func (w *WAL) Replay(fromLSN uint64, handler func(Entry) error) error {
	segs, err := w.segments()
	if err != nil {
		return err
	}

	for _, path := range segs {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		reader := bufio.NewReader(file)
		for {
			entry, _, rerr := readEntry(reader)
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				file.Close()
				return storageerr.New("wal.Replay", storageerr.KindPersistentIO).
					Context(path).Cause(rerr).Err()
			}
			if entry.LSN > fromLSN {
				if err := handler(*entry); err != nil {
					file.Close()
					return err
				}
			}
		}
		file.Close()
	}
	return nil
}

// CurrentLSN returns the highest LSN assigned so far.
func (w *WAL) CurrentLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLSN
}

// TruncateThrough deletes every segment file other than the active one
// whose entries are all at or below upToLSN. Nothing in the engine calls
// it, so segments are kept until the table is dropped.
func (w *WAL) TruncateThrough(upToLSN uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	segs, err := w.segments()
	if err != nil {
		return err
	}
	// Never remove the active segment.
	for _, path := range segs {
		if segmentSeq(path) == w.segmentSeq {
			continue
		}
		maxLSN, err := maxLSNInSegment(path)
		if err != nil {
			return err
		}
		if maxLSN <= upToLSN {
			if err := os.Remove(path); err != nil {
				return err
			}
		}
	}
	return nil
}

func maxLSNInSegment(path string) (uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var maxLSN uint64
	for {
		entry, _, err := readEntry(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		if entry.LSN > maxLSN {
			maxLSN = entry.LSN
		}
	}
	return maxLSN, nil
}

// Close flushes and syncs the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}
