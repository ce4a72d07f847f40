package plan

import (
	"refinedb/errs"
	"refinedb/schema"
)

// Root is the root of a storage plan: one child per export (spec §4.4 step
// 1), keyed by export name.
type Root struct {
	Exports map[string]*Node
	Order   []string
}

// Builder assigns stable keys to every reachable field path of a checked
// schema (C5). One Builder is used per build; ancestor bookkeeping during
// recursion and subspace-reference flattening state live here, not on Node.
type Builder struct {
	keys KeySource

	// ancestorStack maps a *schema.TableDef currently on the recursion
	// path to the Node it was built into, so a recursive back-edge can
	// point its SubspaceReference at the right ancestor (spec §4.4 step 4).
	ancestorStack []ancestorFrame
}

type ancestorFrame struct {
	def  *schema.TableDef
	node *Node
}

// NewBuilder creates a Builder drawing fresh keys from src.
func NewBuilder(src KeySource) *Builder {
	if src == nil {
		src = UUIDv7KeySource{}
	}
	return &Builder{keys: src}
}

// Build produces a storage plan root for sch (already checked by
// schema/check.Check).
func (b *Builder) Build(sch *schema.Schema) (*Root, error) {
	root := &Root{Exports: map[string]*Node{}}
	for _, exp := range sch.Exports {
		key, err := b.keys.NextKey()
		if err != nil {
			return nil, err
		}
		node, err := b.buildType(exp.Type, key)
		if err != nil {
			return nil, errs.New(errs.TypeError, "building plan for export %q: %v", exp.Name, err)
		}
		root.Exports[exp.Name] = node
		root.Order = append(root.Order, exp.Name)
	}
	return root, nil
}

// buildType builds the plan subtree for t, rooted at a node that owns key
// (flattening of the node is decided by its caller: buildTable for each
// *child* field, or the set case below for a set's element).
func (b *Builder) buildType(t *schema.Type, key Key) (*Node, error) {
	switch t.Kind {
	case schema.KindPrimitive, schema.KindOptional:
		// Optionals contribute no structure of their own beyond their
		// element's; presence is represented at runtime by the KV entry's
		// absence, not by a distinct plan node. Build straight through.
		if t.Kind == schema.KindOptional {
			return b.buildType(t.Elem, key)
		}
		return newNode(key), nil
	case schema.KindSet:
		n := newNode(key)
		elemKey, err := b.keys.NextKey()
		if err != nil {
			return nil, err
		}
		elem, err := b.buildType(t.Elem, elemKey)
		if err != nil {
			return nil, err
		}
		// The set element's table root is always flattened: set membership
		// is expressed as [parent_key][primary_key_bytes][child_key]
		// (spec §4.4 step 2), so the element itself owns no key byte.
		elem.Flattened = true
		n.Set = elem
		n.SetElementType = t.Elem.Table.Name
		return n, nil
	case schema.KindTable:
		return b.buildTable(t.Table, key)
	default:
		return nil, errs.New(errs.TypeError, "plan builder: unhandled type kind %d", t.Kind)
	}
}

// buildTable builds the plan subtree for a table position, detecting
// recursive back-edges against the current ancestor stack (spec §4.4 step
// 4) before recursing into fields.
func (b *Builder) buildTable(def *schema.TableDef, key Key) (*Node, error) {
	if anc := b.findAncestor(def); anc != nil {
		n := newNode(key)
		n.SubspaceReference = anc.Key
		n.TableType = def.Name
		return n, nil
	}

	n := newNode(key)
	n.TableType = def.Name
	b.ancestorStack = append(b.ancestorStack, ancestorFrame{def: def, node: n})
	defer func() { b.ancestorStack = b.ancestorStack[:len(b.ancestorStack)-1] }()

	type builtChild struct {
		name string
		node *Node
	}
	built := make([]builtChild, 0, len(def.Fields))
	for _, f := range def.Fields {
		childKey, err := b.keys.NextKey()
		if err != nil {
			return nil, err
		}
		child, err := b.buildType(f.Type, childKey)
		if err != nil {
			return nil, errs.New(errs.TypeError, "field %q of %s: %v", f.Name, def.Name, err)
		}
		if isFlattenable(f.Type, child) {
			child.Flattened = true
		}
		built = append(built, builtChild{f.Name, child})
	}

	// Collision check (spec §4.4 step 3, §3.3 invariants): after tentative
	// flattening, no two sibling leaf paths may share a final key
	// sequence. If they would, un-flatten children one at a time starting
	// from the last until the collision disappears; a node's own key byte
	// always disambiguates it from any sibling.
	for {
		seen := map[string]bool{}
		collided := false
		for _, c := range built {
			leaves, err := c.node.LeafKeys(nil)
			if err != nil {
				return nil, err
			}
			for _, l := range leaves {
				if seen[string(l)] {
					collided = true
				}
				seen[string(l)] = true
			}
		}
		if !collided {
			break
		}
		unflattenedAny := false
		for i := len(built) - 1; i >= 0; i-- {
			if built[i].node.Flattened {
				built[i].node.Flattened = false
				unflattenedAny = true
				break
			}
		}
		if !unflattenedAny {
			return nil, errs.New(errs.TypeError, "flattening collision in %s could not be resolved", def.Name)
		}
	}

	for _, c := range built {
		n.setChild(c.name, c.node)
	}
	return n, nil
}

// isFlattenable reports whether a field's built child node is a candidate
// for flattening (spec §4.4 step 3): it must be a plain table position —
// not a set, and not a recursive back-edge (subspace reference).
func isFlattenable(t *schema.Type, child *Node) bool {
	actual, _ := t.Unfold()
	if actual.Kind != schema.KindTable {
		return false
	}
	if !child.SubspaceReference.IsZero() {
		return false
	}
	return true
}

func (b *Builder) findAncestor(def *schema.TableDef) *Node {
	for i := len(b.ancestorStack) - 1; i >= 0; i-- {
		if b.ancestorStack[i].def == def {
			return b.ancestorStack[i].node
		}
	}
	return nil
}
