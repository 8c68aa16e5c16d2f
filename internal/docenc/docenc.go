// Package docenc implements the compact binary row encoding the LSM
// engine stores on the write path, so that a row read out of a memtable
// or SSTable does not round-trip through JSON on every access. Documents
// still cross the HTTP surface and replication wire as JSON; docenc sits
// only between the catalog and the engine.
package docenc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// fieldType tags how a field's value is packed, matching the subset of
// JSON types a row document can hold at the top level.
type fieldType uint8

const (
	typeNull fieldType = iota
	typeString
	typeFloat64
	typeBool
	typeRaw // nested object/array, carried as its original JSON bytes
)

// Encode packs doc's top-level fields into the wire format the LSM
// engine's values hold: [fieldCount:u16] then, per field, [nameLen:u16]
// [name][type:u8][valueLen:u32][value].
func Encode(doc map[string]any) ([]byte, error) {
	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic encoding for identical documents

	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(len(names)))

	for _, name := range names {
		fieldBuf, err := encodeField(name, doc[name])
		if err != nil {
			return nil, fmt.Errorf("docenc: encode field %q: %w", name, err)
		}
		buf = append(buf, fieldBuf...)
	}
	return buf, nil
}

func encodeField(name string, value any) ([]byte, error) {
	nameBytes := []byte(name)
	header := make([]byte, 2+len(nameBytes)+1)
	binary.LittleEndian.PutUint16(header, uint16(len(nameBytes)))
	copy(header[2:], nameBytes)

	var typ fieldType
	var valueBytes []byte

	switch v := value.(type) {
	case nil:
		typ = typeNull
	case string:
		typ = typeString
		valueBytes = []byte(v)
	case bool:
		typ = typeBool
		if v {
			valueBytes = []byte{1}
		} else {
			valueBytes = []byte{0}
		}
	case float64:
		typ = typeFloat64
		valueBytes = make([]byte, 8)
		binary.LittleEndian.PutUint64(valueBytes, math.Float64bits(v))
	default:
		typ = typeRaw
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		valueBytes = raw
	}
	header[2+len(nameBytes)] = byte(typ)

	lenBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBytes, uint32(len(valueBytes)))

	return append(append(header, lenBytes...), valueBytes...), nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (map[string]any, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("docenc: truncated document, missing field count")
	}
	count := int(binary.LittleEndian.Uint16(data))
	off := 2

	doc := make(map[string]any, count)
	for i := 0; i < count; i++ {
		name, typ, value, next, err := decodeField(data, off)
		if err != nil {
			return nil, err
		}
		off = next

		decoded, err := decodeValue(typ, value)
		if err != nil {
			return nil, fmt.Errorf("docenc: decode field %q: %w", name, err)
		}
		doc[name] = decoded
	}
	return doc, nil
}

func decodeField(data []byte, off int) (name string, typ fieldType, value []byte, next int, err error) {
	if off+2 > len(data) {
		return "", 0, nil, off, fmt.Errorf("docenc: truncated field name length")
	}
	nameLen := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2

	if off+nameLen+1 > len(data) {
		return "", 0, nil, off, fmt.Errorf("docenc: truncated field name or type")
	}
	name = string(data[off : off+nameLen])
	off += nameLen
	typ = fieldType(data[off])
	off++

	if off+4 > len(data) {
		return "", 0, nil, off, fmt.Errorf("docenc: truncated value length")
	}
	valueLen := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4

	if off+valueLen > len(data) {
		return "", 0, nil, off, fmt.Errorf("docenc: value shorter than declared")
	}
	value = data[off : off+valueLen]
	off += valueLen

	return name, typ, value, off, nil
}

func decodeValue(typ fieldType, value []byte) (any, error) {
	switch typ {
	case typeNull:
		return nil, nil
	case typeString:
		return string(value), nil
	case typeBool:
		return len(value) > 0 && value[0] != 0, nil
	case typeFloat64:
		if len(value) != 8 {
			return nil, fmt.Errorf("malformed float64 field")
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(value)), nil
	case typeRaw:
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown field type %d", typ)
	}
}

// EncodeJSON re-encodes a JSON document into the binary wire format.
func EncodeJSON(raw []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("docenc: invalid json document: %w", err)
	}
	return Encode(doc)
}

// DecodeJSON decodes the binary wire format back into JSON bytes.
func DecodeJSON(data []byte) ([]byte, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
