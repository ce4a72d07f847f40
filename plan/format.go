package plan

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// wireNode is the on-disk shape of a Node (spec §6 "Storage plan format"):
// key as base64, flattened/packed flags, an optional subspace reference,
// an optional set element, and a name-ordered children map. The
// serialisation format is informational per spec; semantics live in Node.
type wireNode struct {
	Key               string               `toml:"key"`
	Flattened         bool                 `toml:"flattened"`
	SubspaceReference string               `toml:"subspace_reference,omitempty"`
	Packed            bool                 `toml:"packed"`
	TableType         string               `toml:"table_type,omitempty"`
	SetElementType    string               `toml:"set_element_type,omitempty"`
	Set               *wireNode            `toml:"set,omitempty"`
	ChildOrder        []string             `toml:"child_order,omitempty"`
	Children          map[string]*wireNode `toml:"children,omitempty"`
}

type wireRoot struct {
	Order   []string             `toml:"order"`
	Exports map[string]*wireNode `toml:"exports"`
}

func toWire(n *Node) *wireNode {
	w := &wireNode{
		Key:            base64.StdEncoding.EncodeToString(n.Key[:]),
		Flattened:      n.Flattened,
		Packed:         n.Packed,
		TableType:      n.TableType,
		SetElementType: n.SetElementType,
		ChildOrder:     n.ChildOrder(),
	}
	if !n.SubspaceReference.IsZero() {
		w.SubspaceReference = base64.StdEncoding.EncodeToString(n.SubspaceReference[:])
	}
	if n.Set != nil {
		w.Set = toWire(n.Set)
	}
	if len(n.Children) > 0 {
		w.Children = make(map[string]*wireNode, len(n.Children))
		for name, c := range n.Children {
			w.Children[name] = toWire(c)
		}
	}
	return w
}

func fromWire(w *wireNode) (*Node, error) {
	key, err := decodeKey(w.Key)
	if err != nil {
		return nil, err
	}
	n := newNode(key)
	n.Flattened = w.Flattened
	n.Packed = w.Packed
	n.TableType = w.TableType
	n.SetElementType = w.SetElementType
	if w.SubspaceReference != "" {
		ref, err := decodeKey(w.SubspaceReference)
		if err != nil {
			return nil, err
		}
		n.SubspaceReference = ref
	}
	if w.Set != nil {
		set, err := fromWire(w.Set)
		if err != nil {
			return nil, err
		}
		n.Set = set
	}
	for _, name := range w.ChildOrder {
		c, ok := w.Children[name]
		if !ok {
			continue
		}
		child, err := fromWire(c)
		if err != nil {
			return nil, err
		}
		n.setChild(name, child)
	}
	return n, nil
}

func decodeKey(s string) (Key, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("plan: invalid key %q: %w", s, err)
	}
	if len(b) != 16 {
		return Key{}, fmt.Errorf("plan: key %q is not 16 bytes", s)
	}
	var k Key
	copy(k[:], b)
	return k, nil
}

// MarshalTOML renders r in the spec §6 on-disk plan format.
func MarshalTOML(r *Root) ([]byte, error) {
	w := &wireRoot{Order: r.Order, Exports: map[string]*wireNode{}}
	for name, n := range r.Exports {
		w.Exports[name] = toWire(n)
	}
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(w); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// UnmarshalTOML parses the spec §6 on-disk plan format.
func UnmarshalTOML(data []byte) (*Root, error) {
	var w wireRoot
	if err := toml.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	r := &Root{Exports: map[string]*Node{}, Order: w.Order}
	for name, wn := range w.Exports {
		n, err := fromWire(wn)
		if err != nil {
			return nil, err
		}
		r.Exports[name] = n
	}
	return r, nil
}

// Pretty renders a human-readable dump of r: field path, key, and
// structural flags, mirroring the role the teacher's output package plays
// for schema diffs.
func Pretty(r *Root) string {
	var b strings.Builder
	names := append([]string(nil), r.Order...)
	sort.Strings(names)
	for _, name := range names {
		prettyNode(&b, name, r.Exports[name], 0)
	}
	return b.String()
}

func prettyNode(b *strings.Builder, name string, n *Node, depth int) {
	indent := strings.Repeat("  ", depth)
	flags := []string{}
	if n.Flattened {
		flags = append(flags, "flattened")
	}
	if !n.SubspaceReference.IsZero() {
		flags = append(flags, fmt.Sprintf("subspace_reference=%s", base64.StdEncoding.EncodeToString(n.SubspaceReference[:])))
	}
	fmt.Fprintf(b, "%s%s  key=%s %s\n", indent, name,
		base64.StdEncoding.EncodeToString(n.Key[:]), strings.Join(flags, " "))
	if n.Set != nil {
		prettyNode(b, name+"[element]", n.Set, depth+1)
	}
	for _, childName := range n.ChildOrder() {
		prettyNode(b, childName, n.Children[childName], depth+1)
	}
}
