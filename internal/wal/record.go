package wal

import (
	"encoding/binary"
	"fmt"
)

// OpType names the mutation a WAL record replays.
type OpType uint8

const (
	OpPut OpType = iota
	OpDelete
)

// Record is the logical payload of a WAL entry: a single mutation against
// one row of one table, addressable by (db, table, row-id) for the LSN
// ordering invariant.
type Record struct {
	DB    string
	Table string
	RowID string
	Op    OpType
	Doc   []byte // encoded document body; empty for OpDelete
}

// EncodeRecord serializes a Record to the byte slice that becomes a WAL
// entry's Data field: [DB][Table][RowID] as length-prefixed strings,
// followed by Op and the length-prefixed Doc.
func EncodeRecord(r Record) []byte {
	size := 3*4 + len(r.DB) + len(r.Table) + len(r.RowID) + 1 + 4 + len(r.Doc)
	buf := make([]byte, size)
	off := 0

	off = putString(buf, off, r.DB)
	off = putString(buf, off, r.Table)
	off = putString(buf, off, r.RowID)
	buf[off] = byte(r.Op)
	off++
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Doc)))
	off += 4
	copy(buf[off:], r.Doc)

	return buf
}

func putString(buf []byte, off int, s string) int {
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(s)))
	off += 4
	copy(buf[off:], s)
	return off + len(s)
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	off := 0

	var err error
	r.DB, off, err = getString(data, off)
	if err != nil {
		return r, err
	}
	r.Table, off, err = getString(data, off)
	if err != nil {
		return r, err
	}
	r.RowID, off, err = getString(data, off)
	if err != nil {
		return r, err
	}
	if off >= len(data) {
		return r, fmt.Errorf("wal: truncated record, missing op byte")
	}
	r.Op = OpType(data[off])
	off++

	if off+4 > len(data) {
		return r, fmt.Errorf("wal: truncated record, missing doc length")
	}
	docLen := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	if off+docLen > len(data) {
		return r, fmt.Errorf("wal: truncated record, doc shorter than declared")
	}
	r.Doc = data[off : off+docLen]

	return r, nil
}

func getString(data []byte, off int) (string, int, error) {
	if off+4 > len(data) {
		return "", off, fmt.Errorf("wal: truncated record, missing string length")
	}
	n := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	if off+n > len(data) {
		return "", off, fmt.Errorf("wal: truncated record, string shorter than declared")
	}
	return string(data[off : off+n]), off + n, nil
}
