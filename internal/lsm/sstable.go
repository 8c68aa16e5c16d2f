package lsm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dd0wney/rowdb/internal/storageerr"
)

// On-disk SSTable layout:
//   [Header: magic(4) | version(4) | entryCount(8) | indexOffset(8)]
//   [Data block: entries in sorted key order]
//   [Index block: sparse index, one entry every IndexInterval keys]
//   [Footer: minKeyLen(4) | minKey | maxKeyLen(4) | maxKey | level(4) |
//            seqno(8) | createdUnixNano(8) | bloomLen(4) | bloom | crc32(4)]
const (
	SSTableMagic   = 0x53535442 // "SSTB"
	SSTableVersion = 2
	IndexInterval  = 128
)

type SSTableHeader struct {
	Magic       uint32
	Version     uint32
	EntryCount  uint64
	IndexOffset uint64
}

type IndexEntry struct {
	Key    []byte
	Offset uint64
}

// SSTable is an immutable, sorted run of entries on disk, belonging to one
// level of one table's LSM engine.
type SSTable struct {
	path       string
	file       *os.File
	header     SSTableHeader
	index      []IndexEntry
	bloom      *BloomFilter
	entryCount int

	MinKey    []byte
	MaxKey    []byte
	Level     int
	SeqNo     uint64
	CreatedAt time.Time
}

func (sst *SSTable) Path() string { return sst.path }

// BuildSSTable writes entries (already sorted) as a new SSTable at the
// given level/seqno, with a bloom filter sized for the requested false
// positive rate. The file is written and fsynced under a temporary name,
// then renamed to path.
func BuildSSTable(path string, entries []*Entry, level int, seqno uint64, falsePositiveRate float64) (*SSTable, error) {
	if len(entries) == 0 {
		return nil, storageerr.New("lsm.BuildSSTable", storageerr.KindInvariant).
			Context("cannot build an SSTable with zero entries").Err()
	}

	bloom := NewBloomFilter(len(entries), falsePositiveRate)
	for _, e := range entries {
		bloom.Add(e.Key)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, err
	}

	writer := bufio.NewWriter(file)
	header := SSTableHeader{Magic: SSTableMagic, Version: SSTableVersion, EntryCount: uint64(len(entries))}
	if err := binary.Write(writer, binary.LittleEndian, &header); err != nil {
		file.Close()
		return nil, err
	}

	index := make([]IndexEntry, 0, len(entries)/IndexInterval+1)
	offset := uint64(binary.Size(header))

	for i, entry := range entries {
		if i%IndexInterval == 0 {
			index = append(index, IndexEntry{Key: entry.Key, Offset: offset})
		}
		n, err := writeDataEntry(writer, entry)
		if err != nil {
			file.Close()
			return nil, err
		}
		newOffset := offset + uint64(n)
		if newOffset < offset {
			file.Close()
			return nil, fmt.Errorf("sstable offset overflow: file too large")
		}
		offset = newOffset
	}

	header.IndexOffset = offset
	if err := writeIndex(writer, index); err != nil {
		file.Close()
		return nil, err
	}

	createdAt := time.Now()
	footer := footerFields{
		minKey:    entries[0].Key,
		maxKey:    entries[len(entries)-1].Key,
		level:     int32(level),
		seqno:     seqno,
		createdAt: createdAt.UnixNano(),
		bloom:     bloom.MarshalBinary(),
	}
	if err := writeFooter(writer, footer); err != nil {
		file.Close()
		return nil, err
	}

	if err := writer.Flush(); err != nil {
		file.Close()
		return nil, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, err
	}
	if err := binary.Write(file, binary.LittleEndian, &header); err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		file.Close()
		return nil, err
	}

	return &SSTable{
		path: path, file: file, header: header, index: index, bloom: bloom,
		entryCount: len(entries),
		MinKey:     footer.minKey, MaxKey: footer.maxKey,
		Level: level, SeqNo: seqno, CreatedAt: createdAt,
	}, nil
}

type footerFields struct {
	minKey, maxKey []byte
	level          int32
	seqno          uint64
	createdAt      int64
	bloom          []byte
}

func writeFooter(w *bufio.Writer, f footerFields) error {
	if err := writeLenPrefixed(w, f.minKey); err != nil {
		return err
	}
	if err := writeLenPrefixed(w, f.maxKey); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, f.level); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, f.seqno); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, f.createdAt); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(f.bloom))); err != nil {
		return err
	}
	if _, err := w.Write(f.bloom); err != nil {
		return err
	}
	crc := crc32.ChecksumIEEE(f.bloom)
	return binary.Write(w, binary.LittleEndian, crc)
}

func readFooter(r io.Reader) (footerFields, *BloomFilter, error) {
	var f footerFields
	var err error
	if f.minKey, err = readLenPrefixed(r); err != nil {
		return f, nil, err
	}
	if f.maxKey, err = readLenPrefixed(r); err != nil {
		return f, nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.level); err != nil {
		return f, nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.seqno); err != nil {
		return f, nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.createdAt); err != nil {
		return f, nil, err
	}
	var bloomLen uint32
	if err := binary.Read(r, binary.LittleEndian, &bloomLen); err != nil {
		return f, nil, err
	}
	bloomData := make([]byte, bloomLen)
	if _, err := io.ReadFull(r, bloomData); err != nil {
		return f, nil, err
	}
	var storedCRC uint32
	if err := binary.Read(r, binary.LittleEndian, &storedCRC); err != nil {
		return f, nil, err
	}
	if crc32.ChecksumIEEE(bloomData) != storedCRC {
		return f, nil, storageerr.ErrCorruptRecord
	}
	f.bloom = bloomData

	return f, nil, nil
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	_, err := io.ReadFull(r, b)
	return b, err
}

// OpenSSTable opens an existing SSTable file and loads its index and
// bloom filter into memory.
func OpenSSTable(path string) (*SSTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var header SSTableHeader
	if err := binary.Read(file, binary.LittleEndian, &header); err != nil {
		file.Close()
		return nil, err
	}
	if header.Magic != SSTableMagic {
		file.Close()
		return nil, fmt.Errorf("sstable %s: bad magic %x", path, header.Magic)
	}

	if _, err := file.Seek(int64(header.IndexOffset), io.SeekStart); err != nil {
		file.Close()
		return nil, err
	}
	index, err := readIndex(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	footer, _, err := readFooter(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	bloom := NewBloomFilter(int(header.EntryCount), 0.01)
	if err := bloom.UnmarshalBinary(footer.bloom); err != nil {
		file.Close()
		return nil, err
	}

	return &SSTable{
		path: path, file: file, header: header, index: index, bloom: bloom,
		entryCount: int(header.EntryCount),
		MinKey:     footer.minKey, MaxKey: footer.maxKey,
		Level: int(footer.level), SeqNo: footer.seqno,
		CreatedAt: time.Unix(0, footer.createdAt),
	}, nil
}

// Get looks up key, consulting the bloom filter before touching disk.
func (sst *SSTable) Get(key []byte) (*Entry, bool) {
	if sst.bloom != nil && !sst.bloom.MayContain(key) {
		return nil, false
	}

	file, err := os.Open(sst.path)
	if err != nil {
		return nil, false
	}
	defer file.Close()

	idx := sort.Search(len(sst.index), func(i int) bool {
		return string(sst.index[i].Key) >= string(key)
	})
	startOffset := uint64(binary.Size(sst.header))
	maxEntries := sst.entryCount
	if idx > 0 {
		startOffset = sst.index[idx-1].Offset
		maxEntries = IndexInterval * 2
	}

	if _, err := file.Seek(int64(startOffset), io.SeekStart); err != nil {
		return nil, false
	}
	reader := bufio.NewReader(file)

	for i := 0; i < maxEntries; i++ {
		entry, err := readDataEntry(reader)
		if err != nil {
			return nil, false
		}
		cmp := string(entry.Key)
		if cmp == string(key) {
			if entry.Deleted {
				return nil, false
			}
			return entry, true
		}
		if cmp > string(key) {
			return nil, false
		}
	}
	return nil, false
}

// Scan returns every live entry with key in [start, end).
func (sst *SSTable) Scan(start, end []byte) ([]*Entry, error) {
	file, err := os.Open(sst.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	idx := sort.Search(len(sst.index), func(i int) bool {
		return string(sst.index[i].Key) >= string(start)
	})
	startOffset := uint64(binary.Size(sst.header))
	if idx > 0 {
		startOffset = sst.index[idx-1].Offset
	}
	if _, err := file.Seek(int64(startOffset), io.SeekStart); err != nil {
		return nil, err
	}

	reader := bufio.NewReader(file)
	var results []*Entry
	for {
		entry, err := readDataEntry(reader)
		if err != nil {
			break
		}
		keyStr := string(entry.Key)
		if keyStr >= string(start) && (end == nil || keyStr < string(end)) {
			if !entry.Deleted {
				results = append(results, entry)
			}
		}
		if end != nil && keyStr >= string(end) {
			break
		}
	}
	return results, nil
}

// AllEntries returns every entry in the table, including tombstones, used
// by compaction.
func (sst *SSTable) AllEntries() ([]*Entry, error) {
	file, err := os.Open(sst.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if _, err := file.Seek(int64(binary.Size(sst.header)), io.SeekStart); err != nil {
		return nil, err
	}
	reader := bufio.NewReader(file)
	entries := make([]*Entry, 0, sst.entryCount)
	for i := 0; i < sst.entryCount; i++ {
		entry, err := readDataEntry(reader)
		if err != nil {
			break
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (sst *SSTable) Close() error {
	if sst.file != nil {
		return sst.file.Close()
	}
	return nil
}

func (sst *SSTable) Delete() error {
	sst.Close()
	return os.Remove(sst.path)
}

// writeDataEntry frames one entry: keyLen(4) | key | valueLen(4) | value |
// lsn(8) | deleted(1).
func writeDataEntry(w *bufio.Writer, entry *Entry) (int, error) {
	size := 0
	if err := binary.Write(w, binary.LittleEndian, uint32(len(entry.Key))); err != nil {
		return 0, err
	}
	size += 4
	n, err := w.Write(entry.Key)
	if err != nil {
		return 0, err
	}
	size += n

	if err := binary.Write(w, binary.LittleEndian, uint32(len(entry.Value))); err != nil {
		return 0, err
	}
	size += 4
	n, err = w.Write(entry.Value)
	if err != nil {
		return 0, err
	}
	size += n

	if err := binary.Write(w, binary.LittleEndian, entry.LSN); err != nil {
		return 0, err
	}
	size += 8

	deleted := byte(0)
	if entry.Deleted {
		deleted = 1
	}
	if err := w.WriteByte(deleted); err != nil {
		return 0, err
	}
	size++

	return size, nil
}

func readDataEntry(r *bufio.Reader) (*Entry, error) {
	var keyLen uint32
	if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
		return nil, err
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}

	var valueLen uint32
	if err := binary.Read(r, binary.LittleEndian, &valueLen); err != nil {
		return nil, err
	}
	value := make([]byte, valueLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return nil, err
	}

	var lsn uint64
	if err := binary.Read(r, binary.LittleEndian, &lsn); err != nil {
		return nil, err
	}

	deletedByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	return &Entry{Key: key, Value: value, LSN: lsn, Deleted: deletedByte == 1}, nil
}

func writeIndex(w *bufio.Writer, index []IndexEntry) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(index))); err != nil {
		return err
	}
	for _, e := range index {
		if err := writeLenPrefixed(w, e.Key); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, e.Offset); err != nil {
			return err
		}
	}
	return nil
}

func readIndex(r io.Reader) ([]IndexEntry, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	index := make([]IndexEntry, count)
	for i := uint32(0); i < count; i++ {
		key, err := readLenPrefixed(r)
		if err != nil {
			return nil, err
		}
		var offset uint64
		if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
			return nil, err
		}
		index[i] = IndexEntry{Key: key, Offset: offset}
	}
	return index, nil
}

// SSTablePath names a level/seqno pair the way the on-disk layout requires.
func SSTablePath(dir string, level int, seqno uint64) string {
	return filepath.Join(dir, fmt.Sprintf("L%d-%06d.sst", level, seqno))
}
