// Package check implements RefineDB's type checker and specialiser (C4): it
// resolves type references, specialises generics, validates annotations,
// detects illegal recursion, and type-checks exports. It is grounded on the
// teacher's internal/core validation passes (core.Database.Validate,
// validate_table.go et al.), generalised from "is this SQL table well
// formed" to "is this schema type graph well formed".
package check

import (
	"fmt"

	"go.uber.org/multierr"

	"refinedb/errs"
	"refinedb/schema"
)

// Checker holds the memoisation state for one compilation. Results are
// aggregated via go.uber.org/multierr so that a schema with several
// unrelated problems reports all of them, the way the teacher's validators
// are structured to keep checking other tables after one fails.
type Checker struct {
	src *schema.Schema

	specialised map[string]*schema.TableDef // memoised by "DefName<arg,arg,...>"
	visited     map[*schema.TableDef]bool  // tables already passed through recursion-checking
	errs        error
}

// New creates a Checker for src.
func New(src *schema.Schema) *Checker {
	return &Checker{
		src:         src,
		specialised: make(map[string]*schema.TableDef),
		visited:     make(map[*schema.TableDef]bool),
	}
}

// Check runs resolution, specialisation, annotation validation, recursion
// detection, and export type-checking, returning the specialised schema on
// success or an aggregated error otherwise.
func Check(src *schema.Schema) (*schema.Schema, error) {
	c := New(src)

	out := &schema.Schema{Exports: make([]*schema.Export, 0, len(src.Exports))}
	for _, exp := range src.Exports {
		resolved, err := c.resolveType(exp.Type, nil)
		if err != nil {
			c.errs = multierr.Append(c.errs, err)
			continue
		}
		if err := c.checkRecursion(resolved); err != nil {
			c.errs = multierr.Append(c.errs, err)
			continue
		}
		out.Exports = append(out.Exports, &schema.Export{Name: exp.Name, Type: resolved})
	}

	for _, def := range c.specialised {
		out.Defs = append(out.Defs, def)
	}

	if c.errs != nil {
		return nil, c.errs
	}
	return out, nil
}

// resolveType resolves a possibly-generic type expression against the
// current generic-parameter binding (bindings), specialising any table
// reference it finds along the way.
func (c *Checker) resolveType(t *schema.Type, bindings map[string]*schema.Type) (*schema.Type, error) {
	if t == nil {
		return nil, errs.New(errs.TypeError, "nil type expression")
	}
	switch t.Kind {
	case schema.KindPrimitive:
		return t, nil
	case schema.KindGenericParam:
		bound, ok := bindings[t.ParamName]
		if !ok {
			return nil, errs.New(errs.TypeError, "unbound generic parameter %q", t.ParamName)
		}
		return bound, nil
	case schema.KindOptional:
		elem, err := c.resolveType(t.Elem, bindings)
		if err != nil {
			return nil, err
		}
		return schema.Optional(elem), nil
	case schema.KindSet:
		elem, err := c.resolveType(t.Elem, bindings)
		if err != nil {
			return nil, err
		}
		if elem.Kind != schema.KindTable {
			return nil, errs.New(errs.TypeError, "set element must be a table, got %s", elem.String())
		}
		if elem.Table.PrimaryKey == nil {
			return nil, errs.New(errs.TypeError, "set element table %q has no @primary field", elem.Table.Name)
		}
		return schema.SetOf(elem), nil
	case schema.KindTable:
		if len(t.Table.Params) == 0 {
			return c.specialise(t.Table, nil)
		}
		resolvedArgs := make([]*schema.Type, len(t.Args))
		for i, a := range t.Args {
			ra, err := c.resolveType(a, bindings)
			if err != nil {
				return nil, err
			}
			resolvedArgs[i] = ra
		}
		childBindings := make(map[string]*schema.Type, len(t.Table.Params))
		for i, p := range t.Table.Params {
			childBindings[p] = resolvedArgs[i]
		}
		return c.specialise(t.Table, childBindings)
	default:
		return nil, errs.New(errs.TypeError, "unknown type kind %d", t.Kind)
	}
}

// specialise resolves def's field types under an argument binding, or
// returns a memoised result for the same (def, args) pair (spec §4.3 step
// 2). def here may itself already be the argument-bearing node produced by
// a previous resolveType call (table references embed their own args via
// bindings at the call site, constructed by the schema builder/parser).
func (c *Checker) specialise(def *schema.TableDef, bindings map[string]*schema.Type) (*schema.Type, error) {
	args := make([]*schema.Type, 0, len(def.Params))
	for _, p := range def.Params {
		bound, ok := bindings[p]
		if !ok {
			return nil, errs.New(errs.TypeError, "missing generic argument %q for %s", p, def.Name)
		}
		args = append(args, bound)
	}

	key := fmt.Sprintf("%s<%s>", def.Name, schema.ArgKey(args))
	if existing, ok := c.specialised[key]; ok {
		return schema.TableRef(existing), nil
	}

	// Register a placeholder before recursing into fields so that
	// self-referential tables (the common recursive case) terminate: a
	// second visit to the same (def,args) pair during field resolution
	// reuses this exact node rather than specialising forever.
	spec := &schema.TableDef{Name: schema.SpecialisedName(def.Name, args)}
	c.specialised[key] = spec

	childBindings := make(map[string]*schema.Type, len(def.Params))
	for i, p := range def.Params {
		childBindings[p] = args[i]
	}

	fields := make([]*schema.Field, 0, len(def.Fields))
	var primary *schema.Field
	for _, f := range def.Fields {
		ft, err := c.resolveType(f.Type, childBindings)
		if err != nil {
			return nil, errs.New(errs.TypeError, "field %q of %s: %v", f.Name, spec.Name, err)
		}
		nf := &schema.Field{Name: f.Name, Type: ft, Annotations: f.Annotations}
		if nf.HasAnnotation(schema.AnnotationPrimary) {
			if primary != nil {
				return nil, errs.New(errs.TypeError, "table %s has more than one @primary field", spec.Name)
			}
			if ft.Kind != schema.KindPrimitive || !ft.Primitive.KeyEncodable() {
				return nil, errs.New(errs.TypeError, "@primary field %q of %s must be int64, string, or bytes", f.Name, spec.Name)
			}
			primary = nf
		}
		fields = append(fields, nf)
	}
	spec.Fields = fields
	spec.PrimaryKey = primary

	return schema.TableRef(spec), nil
}
