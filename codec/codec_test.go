package codec

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeafRoundTrip(t *testing.T) {
	cases := []*Value{
		Null("int64"),
		Bool_(true),
		Bool_(false),
		Int64(-42),
		Int64(1 << 40),
		Double(3.14159),
		String("hello"),
		Bytes([]byte{1, 2, 3}),
	}
	for _, v := range cases {
		enc := EncodeLeaf(v)
		dec, err := DecodeLeaf(enc, v.StaticType)
		require.NoError(t, err)
		require.Equal(t, v.Kind, dec.Kind)
		switch v.Kind {
		case KindBool:
			require.Equal(t, v.Bool, dec.Bool)
		case KindInt64:
			require.Equal(t, v.Int64, dec.Int64)
		case KindDouble:
			require.Equal(t, v.Double, dec.Double)
		case KindString:
			require.Equal(t, v.String, dec.String)
		case KindBytes:
			require.Equal(t, v.Bytes, dec.Bytes)
		}
	}
}

func TestInt64KeyOrderPreserving(t *testing.T) {
	values := []int64{-1000, -1, 0, 1, 1000, 1 << 40, -(1 << 40)}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		encoded[i] = encodeInt64Key(v)
	}
	sortedIdx := append([]int{}, 0, 1, 2, 3, 4, 5, 6)
	sort.Slice(sortedIdx, func(i, j int) bool { return values[sortedIdx[i]] < values[sortedIdx[j]] })

	byteSorted := append([][]byte{}, encoded...)
	sort.Slice(byteSorted, func(i, j int) bool {
		return string(byteSorted[i]) < string(byteSorted[j])
	})

	for i, idx := range sortedIdx {
		require.Equal(t, encoded[idx], byteSorted[i], "int64 key encoding must preserve numeric order")
		require.Equal(t, values[idx], DecodeInt64Key(byteSorted[i]))
	}
}

func TestStringKeyEscapingRoundTrip(t *testing.T) {
	cases := []string{"", "plain", "with\x00embedded", "trailing\x00"}
	for _, s := range cases {
		enc := encodeStringKey(s)
		dec, n := DecodeStringKey(enc)
		require.Equal(t, s, dec)
		require.Equal(t, len(enc), n)
	}
}

func TestStringKeyOrderPreserving(t *testing.T) {
	values := []string{"a", "aa", "ab", "b", "ba"}
	encoded := make([]string, len(values))
	for i, v := range values {
		encoded[i] = string(encodeStringKey(v))
	}
	sorted := append([]string{}, encoded...)
	sort.Strings(sorted)
	require.Equal(t, sorted, encoded, "values were already in sorted order")
}

func TestBytesKeyRoundTrip(t *testing.T) {
	cases := [][]byte{{}, {1}, {1, 2, 3, 4, 5}}
	for _, b := range cases {
		enc := encodeBytesKey(b)
		dec, n := DecodeBytesKey(enc)
		require.Equal(t, b, dec)
		require.Equal(t, len(enc), n)
	}
}
