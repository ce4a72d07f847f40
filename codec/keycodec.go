package codec

import (
	"bytes"
	"encoding/binary"
	"math"
)

// EncodeKeyPart encodes a single primitive value as an order-preserving key
// component (spec §4.2), so that range scans over a set of encoded keys
// yield elements in the same order as the underlying values.
func EncodeKeyPart(v *Value) []byte {
	switch v.Kind {
	case KindInt64:
		return encodeInt64Key(v.Int64)
	case KindString:
		return encodeStringKey(v.String)
	case KindBytes:
		return encodeBytesKey(v.Bytes)
	case KindBool:
		if v.Bool {
			return []byte{0x01}
		}
		return []byte{0x00}
	default:
		panic("codec: type " + v.Kind.String() + " is not key-encodable")
	}
}

// encodeInt64Key flips the sign bit of a big-endian 8-byte representation so
// that unsigned byte-wise ordering of the encoded bytes matches signed
// integer ordering.
func encodeInt64Key(i int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(i)^(1<<63))
	return buf
}

func DecodeInt64Key(b []byte) int64 {
	u := binary.BigEndian.Uint64(b) ^ (1 << 63)
	return int64(u)
}

// encodeStringKey escapes embedded 0x00 bytes as 0x00 0xFF and appends a
// terminating 0x00, so concatenation of successive key components remains
// unambiguous and order-preserving.
func encodeStringKey(s string) []byte {
	raw := []byte(s)
	var out []byte
	for _, b := range raw {
		if b == 0x00 {
			out = append(out, 0x00, 0xff)
		} else {
			out = append(out, b)
		}
	}
	out = append(out, 0x00)
	return out
}

func DecodeStringKey(b []byte) (string, int) {
	var out []byte
	i := 0
	for i < len(b) {
		if b[i] == 0x00 {
			if i+1 < len(b) && b[i+1] == 0xff {
				out = append(out, 0x00)
				i += 2
				continue
			}
			// bare terminator
			i++
			break
		}
		out = append(out, b[i])
		i++
	}
	return string(out), i
}

// encodeBytesKey length-prefixes (varint) the raw bytes; within a set key
// range this keeps shorter byte strings sorting before any longer string
// that shares their prefix (their declared length differs first).
func encodeBytesKey(b []byte) []byte {
	var buf bytes.Buffer
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
	buf.Write(lenBuf[:n])
	buf.Write(b)
	return buf.Bytes()
}

func DecodeBytesKey(b []byte) ([]byte, int) {
	n, consumed := binary.Uvarint(b)
	start := consumed
	end := start + int(n)
	return b[start:end], end
}

// EncodeCompositeKey concatenates already-encoded key components, as used to
// build a full structural KV key from a plan-node key prefix plus an
// encoded primary key plus a child plan-node key.
func EncodeCompositeKey(parts ...[]byte) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(p)
	}
	return buf.Bytes()
}

// encodeDoubleKey is provided for completeness of the key-encodable scalar
// set even though spec §8's Non-goals exclude cross-backend float ordering
// guarantees: IEEE-754 bit flipping here only promises intra-backend byte
// ordering, not a portable guarantee.
func encodeDoubleKey(f float64) []byte {
	bits := math.Float64bits(f)
	if f >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}
