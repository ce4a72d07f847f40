// Package plan builds and migrates RefineDB's storage plan (C5, C6): the
// stable mapping from schema field paths to KV key prefixes. It is grounded
// on the teacher's internal/diff and internal/migration packages, which
// solve the analogous problem of reconciling two structural descriptions
// (SQL schemas) while preserving identity (column/constraint names) across
// versions; here identity is a 16-byte opaque key instead of a name.
package plan

import (
	"github.com/google/uuid"

	"refinedb/errs"
)

// Key is a plan node's 16-byte opaque, stable identifier (spec §3.3).
type Key [16]byte

// ZeroKey is the key of no node; used to mean "no subspace reference".
var ZeroKey Key

func (k Key) IsZero() bool { return k == ZeroKey }

// KeySource produces fresh plan-node keys. The default implementation draws
// UUIDv7s: a monotonic, time-salted 16-byte generator, a direct fit for
// spec §4.4 step 5 ("monotonic, time-salted generator (ULID-like)").
type KeySource interface {
	NextKey() (Key, error)
}

// UUIDv7KeySource is the default KeySource.
type UUIDv7KeySource struct{}

func (UUIDv7KeySource) NextKey() (Key, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Key{}, errs.Wrap(errs.BackendError, err, "generating plan node key")
	}
	return Key(id), nil
}

// Node is one position in the storage plan tree (spec §3.3).
type Node struct {
	Key Key

	// Flattened means this node contributes no key bytes of its own; its
	// children's key components are prepended directly at the parent's
	// level. Set element root nodes are always Flattened=true.
	Flattened bool

	// SubspaceReference is non-zero only when this node is a recursive
	// back-edge; it names the ancestor node whose subspace is reused.
	SubspaceReference Key

	// Packed is reserved per spec §9 Open Questions: no operator in the
	// surveyed assembly surface toggles it, so it is always false.
	Packed bool

	// Set holds the element sub-plan for a set-typed position; nil
	// otherwise.
	Set *Node

	// SetElementType names the element table for a Set node. It is recorded
	// by the builder and migrator and kept in the serialised plan; no code
	// in this module reads it back.
	SetElementType string

	// TableType names the table type this node was built from, when the
	// node denotes a table position. It is recorded and serialised only;
	// subspace references are not checked against it.
	TableType string

	Children map[string]*Node
	// childOrder preserves field declaration order for deterministic
	// pretty-printing and serialisation.
	childOrder []string
}

func newNode(key Key) *Node {
	return &Node{Key: key, Children: map[string]*Node{}}
}

// setChild attaches a named child node, recording its name in declaration
// order the first time it is attached.
func (n *Node) setChild(name string, child *Node) {
	if _, exists := n.Children[name]; !exists {
		n.childOrder = append(n.childOrder, name)
	}
	n.Children[name] = child
}

// ChildOrder returns field names in the order children were attached.
func (n *Node) ChildOrder() []string {
	return append([]string(nil), n.childOrder...)
}

// LeafKeys returns the set of terminal key sequences reachable from n,
// expressed as the concatenation of Key bytes down each root-to-leaf path
// that does not cross a Set or SubspaceReference boundary (those introduce
// their own independent key namespace at runtime). Used by the builder to
// verify flattening never collides two sibling paths (spec §3.3, §4.4 step
// 3).
func (n *Node) LeafKeys(prefix []byte) ([][]byte, error) {
	own := prefix
	if !n.Flattened {
		b := make([]byte, 0, len(prefix)+16)
		b = append(b, prefix...)
		b = append(b, n.Key[:]...)
		own = b
	}

	if len(n.Children) == 0 {
		return [][]byte{own}, nil
	}

	var out [][]byte
	for _, name := range n.childOrder {
		child := n.Children[name]
		leaves, err := child.LeafKeys(own)
		if err != nil {
			return nil, err
		}
		out = append(out, leaves...)
	}
	return out, nil
}
