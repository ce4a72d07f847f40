package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// tag identifies a leaf value's wire representation inside the compact,
// self-describing value encoding used for KV leaf entries (spec §4.2: "any
// encoding that round-trips, provided the same encoding is used by all
// backends").
type tag byte

const (
	tagNull tag = iota
	tagBool
	tagInt64
	tagDouble
	tagString
	tagBytes
)

// EncodeLeaf encodes a scalar leaf value (never a Map/Table/Set/List, which
// are never written whole to a single KV entry) into a tagged byte string.
func EncodeLeaf(v *Value) []byte {
	switch v.Kind {
	case KindNull:
		return []byte{byte(tagNull)}
	case KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return []byte{byte(tagBool), b}
	case KindInt64:
		buf := make([]byte, 9)
		buf[0] = byte(tagInt64)
		binary.BigEndian.PutUint64(buf[1:], uint64(v.Int64))
		return buf
	case KindDouble:
		buf := make([]byte, 9)
		buf[0] = byte(tagDouble)
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v.Double))
		return buf
	case KindString:
		return append([]byte{byte(tagString)}, []byte(v.String)...)
	case KindBytes:
		return append([]byte{byte(tagBytes)}, v.Bytes...)
	default:
		panic(fmt.Sprintf("codec: %s is not a leaf-encodable kind", v.Kind))
	}
}

// DecodeLeaf is the inverse of EncodeLeaf. staticType is used to populate a
// decoded Null's StaticType (the tag alone cannot carry it).
func DecodeLeaf(b []byte, staticType string) (*Value, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("codec: empty leaf encoding")
	}
	switch tag(b[0]) {
	case tagNull:
		return Null(staticType), nil
	case tagBool:
		if len(b) < 2 {
			return nil, fmt.Errorf("codec: truncated bool leaf")
		}
		return Bool_(b[1] != 0), nil
	case tagInt64:
		if len(b) < 9 {
			return nil, fmt.Errorf("codec: truncated int64 leaf")
		}
		return Int64(int64(binary.BigEndian.Uint64(b[1:9]))), nil
	case tagDouble:
		if len(b) < 9 {
			return nil, fmt.Errorf("codec: truncated double leaf")
		}
		return Double(math.Float64frombits(binary.BigEndian.Uint64(b[1:9]))), nil
	case tagString:
		return String(string(b[1:])), nil
	case tagBytes:
		return Bytes(append([]byte(nil), b[1:]...)), nil
	default:
		return nil, fmt.Errorf("codec: unknown leaf tag %d", b[0])
	}
}
