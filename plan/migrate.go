package plan

import (
	"fmt"

	"refinedb/errs"
	"refinedb/schema"
)

// Migrator merges an existing plan with a new schema, preserving keys for
// every path present in both (C6, spec §4.5). It is grounded on the
// teacher's internal/diff + internal/migration two-pass design (diff
// structure, then emit operations) generalised to plan nodes: here the
// "operation" is either "reuse this key" or "allocate a fresh one", and a
// structural mismatch is a hard failure rather than a generated ALTER.
type Migrator struct {
	keys          KeySource
	ancestorStack []ancestorFrame
}

// NewMigrator creates a Migrator drawing fresh keys (for newly introduced
// paths) from keys.
func NewMigrator(keys KeySource) *Migrator {
	if keys == nil {
		keys = UUIDv7KeySource{}
	}
	return &Migrator{keys: keys}
}

// Result is the outcome of a successful migration.
type Result struct {
	Root *Root
	// RemovedNotes documents export paths present in the old plan but not
	// the new schema: their keys are not reused and their data is not
	// deleted (spec §4.5, §1 Non-goals: no orphan-key GC).
	RemovedNotes []string
}

// Migrate merges old with the freshly checked newSchema.
func Migrate(old *Root, newSchema *schema.Schema, keys KeySource) (*Result, error) {
	return NewMigrator(keys).Migrate(old, newSchema)
}

func (m *Migrator) Migrate(old *Root, newSchema *schema.Schema) (*Result, error) {
	newRoot := &Root{Exports: map[string]*Node{}}
	seen := map[string]bool{}

	for _, exp := range newSchema.Exports {
		var oldNode *Node
		if old != nil {
			oldNode = old.Exports[exp.Name]
		}
		m.ancestorStack = nil
		node, err := m.migrateType(exp.Type, oldNode, exp.Name)
		if err != nil {
			return nil, err
		}
		newRoot.Exports[exp.Name] = node
		newRoot.Order = append(newRoot.Order, exp.Name)
		seen[exp.Name] = true
	}

	var notes []string
	if old != nil {
		for _, name := range old.Order {
			if !seen[name] {
				notes = append(notes, fmt.Sprintf(
					"export %q removed; its keys remain allocated and its stored data is not deleted", name))
			}
		}
	}

	return &Result{Root: newRoot, RemovedNotes: notes}, nil
}

func (m *Migrator) migrateType(t *schema.Type, old *Node, path string) (*Node, error) {
	switch t.Kind {
	case schema.KindOptional:
		return m.migrateType(t.Elem, old, path)
	case schema.KindPrimitive:
		if old != nil && (old.Set != nil || !old.SubspaceReference.IsZero() || len(old.Children) > 0) {
			return nil, conflict(path, "was a structured position, now a scalar")
		}
		key, err := m.keyFor(old)
		if err != nil {
			return nil, err
		}
		return newNode(key), nil
	case schema.KindSet:
		if old != nil && old.Set == nil {
			return nil, conflict(path, "was not a set, now is")
		}
		key, err := m.keyFor(old)
		if err != nil {
			return nil, err
		}
		n := newNode(key)
		var oldElem *Node
		if old != nil {
			oldElem = old.Set
		}
		elem, err := m.migrateType(t.Elem, oldElem, path+"[element]")
		if err != nil {
			return nil, err
		}
		elem.Flattened = true
		n.Set = elem
		n.SetElementType = t.Elem.Table.Name
		return n, nil
	case schema.KindTable:
		if old != nil && old.Set != nil {
			return nil, conflict(path, "was a set, now a plain table")
		}
		return m.migrateTable(t.Table, old, path)
	default:
		return nil, errs.New(errs.TypeError, "migrator: unhandled type kind %d", t.Kind)
	}
}

func (m *Migrator) migrateTable(def *schema.TableDef, old *Node, path string) (*Node, error) {
	if anc := m.findAncestor(def); anc != nil {
		if old != nil && old.SubspaceReference.IsZero() {
			return nil, conflict(path, "field type changed from non-recursive to recursive")
		}
		key, err := m.keyFor(old)
		if err != nil {
			return nil, err
		}
		n := newNode(key)
		n.SubspaceReference = anc.Key
		n.TableType = def.Name
		return n, nil
	}
	if old != nil && !old.SubspaceReference.IsZero() {
		return nil, conflict(path, "field type changed from recursive to non-recursive")
	}

	key, err := m.keyFor(old)
	if err != nil {
		return nil, err
	}
	n := newNode(key)
	n.TableType = def.Name
	m.ancestorStack = append(m.ancestorStack, ancestorFrame{def: def, node: n})
	defer func() { m.ancestorStack = m.ancestorStack[:len(m.ancestorStack)-1] }()

	for _, f := range def.Fields {
		var oldChild *Node
		if old != nil {
			oldChild = old.Children[f.Name]
		}
		childPath := path + "." + f.Name
		child, err := m.migrateType(f.Type, oldChild, childPath)
		if err != nil {
			return nil, err
		}
		wantFlat := isFlattenable(f.Type, child)
		if oldChild != nil && oldChild.Flattened != wantFlat {
			return nil, conflict(childPath, "flattening of this position changed")
		}
		child.Flattened = wantFlat
		n.setChild(f.Name, child)
	}
	return n, nil
}

// keyFor returns old's key when old is non-nil (reusing it), else draws a
// fresh one.
func (m *Migrator) keyFor(old *Node) (Key, error) {
	if old != nil {
		return old.Key, nil
	}
	return m.keys.NextKey()
}

func (m *Migrator) findAncestor(def *schema.TableDef) *Node {
	for i := len(m.ancestorStack) - 1; i >= 0; i-- {
		if m.ancestorStack[i].def == def {
			return m.ancestorStack[i].node
		}
	}
	return nil
}

func conflict(path, reason string) error {
	return errs.New(errs.PlanMigrationConflict, "path %q: %s", path, reason)
}
