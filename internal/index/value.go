package index

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// ValueType names the field types a secondary index can be built over.
type ValueType uint8

const (
	TypeString ValueType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeBytes
	TypeTimestamp
)

// Value is a typed field value pulled out of a row document for indexing.
type Value struct {
	Type ValueType
	Data []byte
}

func StringValue(s string) Value { return Value{Type: TypeString, Data: []byte(s)} }

func IntValue(i int64) Value {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(i))
	return Value{Type: TypeInt, Data: data}
}

func FloatValue(f float64) Value {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, math.Float64bits(f))
	return Value{Type: TypeFloat, Data: data}
}

func BoolValue(b bool) Value {
	data := []byte{0}
	if b {
		data[0] = 1
	}
	return Value{Type: TypeBool, Data: data}
}

func BytesValue(b []byte) Value { return Value{Type: TypeBytes, Data: b} }

func TimestampValue(t time.Time) Value {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(t.UnixNano()))
	return Value{Type: TypeTimestamp, Data: data}
}

func (v Value) AsString() (string, error) {
	if v.Type != TypeString {
		return "", fmt.Errorf("index: value is not a string")
	}
	return string(v.Data), nil
}

func (v Value) AsInt() (int64, error) {
	if v.Type != TypeInt || len(v.Data) != 8 {
		return 0, fmt.Errorf("index: value is not an int")
	}
	return int64(binary.LittleEndian.Uint64(v.Data)), nil
}

func (v Value) AsFloat() (float64, error) {
	if v.Type != TypeFloat || len(v.Data) != 8 {
		return 0, fmt.Errorf("index: value is not a float")
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(v.Data)), nil
}

// sortableKey maps a Value onto a string that sorts lexicographically in
// the same order as the value itself, so a plain sorted-slice index can
// serve range lookups without decoding every candidate.
func sortableKey(v Value) string {
	switch v.Type {
	case TypeString:
		return string(v.Data)
	case TypeInt:
		i, _ := v.AsInt()
		biased := uint64(i) + (1 << 63)
		return fmt.Sprintf("%020d", biased)
	case TypeFloat:
		f, _ := v.AsFloat()
		bits := math.Float64bits(f)
		if f < 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		return fmt.Sprintf("%020d", bits)
	case TypeBool:
		if len(v.Data) > 0 && v.Data[0] != 0 {
			return "1"
		}
		return "0"
	case TypeTimestamp:
		if len(v.Data) != 8 {
			return ""
		}
		return fmt.Sprintf("%020d", binary.LittleEndian.Uint64(v.Data))
	default:
		return string(v.Data)
	}
}
