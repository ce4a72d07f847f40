package vm

import (
	"bytes"
	"context"

	"refinedb/codec"
	"refinedb/errs"
	"refinedb/kv"
	"refinedb/plan"
	"refinedb/schema"
)

// nodePrefix appends node's own key bytes to prefix, unless node is
// flattened (in which case it contributes no bytes of its own).
func nodePrefix(prefix []byte, node *plan.Node) []byte {
	if node.Flattened {
		return prefix
	}
	out := make([]byte, 0, len(prefix)+16)
	out = append(out, prefix...)
	out = append(out, node.Key[:]...)
	return out
}

// writeValue persists val at the KV position rooted at node under prefix,
// recursing through table fields (spec §4.8 `s_insert`/`t_insert`
// persistence). Set-typed positions need no writes of their own content:
// a set exists implicitly as a key range, not as buffered data.
func writeValue(ctx context.Context, txn kv.Txn, prefix []byte, node *plan.Node, index map[plan.Key]*plan.Node, val *codec.Value) error {
	own := nodePrefix(prefix, node)
	shape := plan.Shape(node, index)

	if shape.Set != nil {
		return nil
	}
	if len(shape.Children) == 0 {
		if val == nil || val.Kind == codec.KindNull {
			return txn.Delete(ctx, own)
		}
		return txn.Put(ctx, own, codec.EncodeLeaf(val))
	}
	if val == nil || val.Kind == codec.KindNull {
		return nil
	}
	if val.Kind != codec.KindTable {
		return errs.New(errs.TypeError, "writeValue: expected table value, got %s", val.Kind)
	}
	for _, name := range shape.ChildOrder() {
		child := shape.Children[name]
		if err := writeValue(ctx, txn, own, child, index, val.Table.Fields[name]); err != nil {
			return err
		}
	}
	return nil
}

// readValue reconstructs a value of static type t rooted at node from KV
// state under prefix.
func readValue(ctx context.Context, txn kv.Txn, prefix []byte, node *plan.Node, index map[plan.Key]*plan.Node, t *schema.Type) (*codec.Value, error) {
	actual, _ := t.Unfold()
	own := nodePrefix(prefix, node)

	if actual.Kind == schema.KindSet {
		return &codec.Value{Kind: codec.KindSet, Set: &codec.SetHandle{
			ElementType: actual.Elem.Table.Name,
			Prefix:      own,
			ElementNode: node.Set,
		}}, nil
	}

	shape := plan.Shape(node, index)
	if len(shape.Children) == 0 {
		v, ok, err := txn.Get(ctx, own)
		if err != nil {
			return nil, errs.Wrap(errs.BackendError, err, "reading value")
		}
		if !ok {
			// A migration can add a field after entries already exist under
			// the old plan; such an entry reads back with the new field
			// absent rather than failing, optional or not.
			return codec.Null(t.String()), nil
		}
		return codec.DecodeLeaf(v, actual.String())
	}

	present, err := rangeNonEmpty(ctx, txn, own)
	if err != nil {
		return nil, err
	}
	if !present {
		return codec.Null(t.String()), nil
	}

	fields := map[string]*codec.Value{}
	for _, name := range shape.ChildOrder() {
		child := shape.Children[name]
		fieldDef := actual.Table.FieldByName(name)
		if fieldDef == nil {
			continue
		}
		fv, err := readValue(ctx, txn, own, child, index, fieldDef.Type)
		if err != nil {
			return nil, err
		}
		fields[name] = fv
	}
	return &codec.Value{Kind: codec.KindTable, Table: &codec.TableHandle{TypeName: actual.Table.Name, Fields: fields}}, nil
}

func rangeNonEmpty(ctx context.Context, txn kv.Txn, prefix []byte) (bool, error) {
	it, err := txn.RangeScan(ctx, prefix)
	if err != nil {
		return false, errs.Wrap(errs.BackendError, err, "checking existence")
	}
	defer it.Close()
	ok := it.Next()
	if err := it.Err(); err != nil {
		return false, errs.Wrap(errs.BackendError, err, "checking existence")
	}
	return ok, nil
}

// deleteRange deletes every key currently present under prefix (spec §4.8
// `s_delete`: "range-deletes the primary-key sub-range").
func deleteRange(ctx context.Context, txn kv.Txn, prefix []byte) error {
	it, err := txn.RangeScan(ctx, prefix)
	if err != nil {
		return errs.Wrap(errs.BackendError, err, "scanning for delete")
	}
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Pair().Key...))
	}
	err = it.Err()
	it.Close()
	if err != nil {
		return errs.Wrap(errs.BackendError, err, "scanning for delete")
	}
	for _, k := range keys {
		if err := txn.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// primaryKeyEncodedLen reports how many bytes of suffix the encoded primary
// key value occupies, so elements sharing a set's key prefix can be told
// apart without decoding the rest of their structure.
func primaryKeyEncodedLen(suffix []byte, t *schema.Type) int {
	switch t.Primitive {
	case schema.Int64:
		return 8
	case schema.String:
		_, n := codec.DecodeStringKey(suffix)
		return n
	case schema.Bytes:
		_, n := codec.DecodeBytesKey(suffix)
		return n
	default:
		return 0
	}
}

// iterateSetElements enumerates a set's elements in ascending primary-key
// order (spec §5: "reduce over a set visits elements in ascending primary
// key byte order"). An in-memory set (Prefix == nil, built by build_set)
// yields its Elements slice directly.
func iterateSetElements(ctx context.Context, txn kv.Txn, set *codec.SetHandle, sch *schema.Schema, index map[plan.Key]*plan.Node) ([]*codec.Value, error) {
	if set.Prefix == nil {
		return set.Elements, nil
	}
	def := sch.DefByName(set.ElementType)
	if def == nil || def.PrimaryKey == nil {
		return nil, errs.New(errs.TypeError, "set element type %q has no primary key", set.ElementType)
	}

	it, err := txn.RangeScan(ctx, set.Prefix)
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "scanning set")
	}
	defer it.Close()

	var elems []*codec.Value
	var lastPK []byte
	havePK := false
	for it.Next() {
		key := it.Pair().Key
		suffix := key[len(set.Prefix):]
		n := primaryKeyEncodedLen(suffix, def.PrimaryKey.Type)
		pk := suffix[:n]
		if havePK && bytes.Equal(pk, lastPK) {
			continue
		}
		havePK = true
		lastPK = append([]byte(nil), pk...)

		elemPrefix := append(append([]byte(nil), set.Prefix...), pk...)
		v, err := readValue(ctx, txn, elemPrefix, set.ElementNode, index, schema.TableRef(def))
		if err != nil {
			return nil, err
		}
		elems = append(elems, v)
	}
	if err := it.Err(); err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "scanning set")
	}
	return elems, nil
}

// primaryKeyValue returns the encoded primary key bytes of a table element,
// and their source value, for a set whose element type is def.
func primaryKeyValue(elem *codec.Value, def *schema.TableDef) (*codec.Value, []byte, error) {
	if def.PrimaryKey == nil {
		return nil, nil, errs.New(errs.TypeError, "table %q has no primary key", def.Name)
	}
	pv, ok := elem.Table.Fields[def.PrimaryKey.Name]
	if !ok {
		return nil, nil, errs.New(errs.MissingField, "element missing primary key field %q", def.PrimaryKey.Name)
	}
	return pv, codec.EncodeKeyPart(pv), nil
}

func scalarEqual(a, b *codec.Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	return bytes.Equal(codec.EncodeKeyPart(a), codec.EncodeKeyPart(b))
}
