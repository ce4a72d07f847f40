// Package codec implements RefineDB's in-memory value model (C2) and its
// canonical byte encodings: an order-preserving key codec used for every KV
// key component, and a compact self-describing value codec used for leaf KV
// entries.
package codec

import (
	"fmt"

	"refinedb/plan"
)

// Kind discriminates the tagged Value variant.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindDouble
	KindString
	KindBytes
	KindMap
	KindTable
	KindSet
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindMap:
		return "map"
	case KindTable:
		return "table"
	case KindSet:
		return "set"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// TableHandle is a live reference to a stored or in-transit record. It
// carries the table's type name and the materialised field values; once a
// transaction ends, handles referencing persisted data are no longer valid
// to dereference against the backend (they remain valid as plain data).
type TableHandle struct {
	TypeName string
	Fields   map[string]*Value
}

// SetHandle is a live reference to a set value. A set backed by storage
// (reached via an export or a point_get/field traversal) carries Prefix and
// ElementNode so its elements can be found in the KV backend; a set built
// purely in memory by build_set (never yet anchored to a plan position)
// carries its elements directly in Elements instead.
type SetHandle struct {
	ElementType string
	Prefix      []byte     // absolute KV key prefix for this set's own position; nil if in-memory
	ElementNode *plan.Node // the flattened element sub-node; nil if in-memory
	Elements    []*Value   // populated only when Prefix is nil
}

// Value is RefineDB's tagged discriminated runtime value (spec §3.4).
type Value struct {
	Kind Kind

	// StaticType names the declared type for KindNull (e.g. "int64",
	// "Account?"), since a null value still carries a static type.
	StaticType string

	Bool   bool
	Int64  int64
	Double float64
	String string
	Bytes  []byte

	Map   map[string]*Value
	Table *TableHandle
	Set   *SetHandle

	ListElemType string
	List         []*Value
}

func Null(staticType string) *Value   { return &Value{Kind: KindNull, StaticType: staticType} }
func Bool_(b bool) *Value             { return &Value{Kind: KindBool, Bool: b} }
func Int64(i int64) *Value            { return &Value{Kind: KindInt64, Int64: i} }
func Double(f float64) *Value         { return &Value{Kind: KindDouble, Double: f} }
func String(s string) *Value          { return &Value{Kind: KindString, String: s} }
func Bytes(b []byte) *Value           { return &Value{Kind: KindBytes, Bytes: b} }
func EmptyMap() *Value                { return &Value{Kind: KindMap, Map: map[string]*Value{}} }
func EmptyList(elemType string) *Value {
	return &Value{Kind: KindList, ListElemType: elemType, List: nil}
}

// IsNull reports whether v is the Null variant (as opposed to a non-null
// value of optional type wrapping something present).
func (v *Value) IsNull() bool { return v != nil && v.Kind == KindNull }

// Clone performs a deep-enough copy for functional update operators
// (m_insert, m_delete, t_insert) which must not mutate the base value.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	out := *v
	if v.Map != nil {
		out.Map = make(map[string]*Value, len(v.Map))
		for k, mv := range v.Map {
			out.Map[k] = mv
		}
	}
	if v.List != nil {
		out.List = make([]*Value, len(v.List))
		copy(out.List, v.List)
	}
	if v.Table != nil {
		fields := make(map[string]*Value, len(v.Table.Fields))
		for k, fv := range v.Table.Fields {
			fields[k] = fv
		}
		out.Table = &TableHandle{TypeName: v.Table.TypeName, Fields: fields}
	}
	return &out
}

func (v *Value) String_() string {
	if v == nil {
		return "<nil>"
	}
	switch v.Kind {
	case KindNull:
		return fmt.Sprintf("null<%s>", v.StaticType)
	case KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case KindInt64:
		return fmt.Sprintf("%d", v.Int64)
	case KindDouble:
		return fmt.Sprintf("%g", v.Double)
	case KindString:
		return fmt.Sprintf("%q", v.String)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.Bytes))
	case KindMap:
		return fmt.Sprintf("map(%d fields)", len(v.Map))
	case KindTable:
		return fmt.Sprintf("%s{...}", v.Table.TypeName)
	case KindSet:
		return fmt.Sprintf("set<%s>", v.Set.ElementType)
	case KindList:
		return fmt.Sprintf("list<%s>(%d)", v.ListElemType, len(v.List))
	default:
		return "?"
	}
}
