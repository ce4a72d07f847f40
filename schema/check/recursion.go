package check

import (
	"refinedb/errs"
	"refinedb/schema"
)

// checkRecursion walks a resolved type reachable from an export, and for
// every distinct table it finds, verifies that table has no illegal cycle:
// a dependency graph built from direct (non-optional, non-set) field edges
// must be acyclic (spec §4.3 step 4, §4.1 types). Cycles that pass entirely
// through `set<...>` or `...?` are permitted ("finite unfolding").
func (c *Checker) checkRecursion(t *schema.Type) error {
	switch t.Kind {
	case schema.KindOptional:
		return c.checkRecursion(t.Elem)
	case schema.KindSet:
		return c.checkRecursion(t.Elem)
	case schema.KindTable:
		if c.visited[t.Table] {
			return nil
		}
		c.visited[t.Table] = true
		if err := hardEdgeCycleCheck(t.Table, map[*schema.TableDef]bool{}); err != nil {
			return err
		}
		for _, f := range t.Table.Fields {
			if err := c.checkRecursion(f.Type); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// hardEdgeCycleCheck runs a DFS over direct table-to-table field edges
// (neither wrapped in `?` nor `set<...>`), failing if def is reachable from
// itself along such edges only.
func hardEdgeCycleCheck(def *schema.TableDef, stack map[*schema.TableDef]bool) error {
	if stack[def] {
		return errs.New(errs.RecursionError,
			"illegal recursion: %s is reachable from itself without passing through set<> or ?", def.Name)
	}
	stack[def] = true
	for _, f := range def.Fields {
		if f.Type.Kind == schema.KindTable {
			if err := hardEdgeCycleCheck(f.Type.Table, stack); err != nil {
				return err
			}
		}
	}
	delete(stack, def)
	return nil
}
