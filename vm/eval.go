package vm

import (
	"context"

	"refinedb/codec"
	"refinedb/errs"
	"refinedb/kv"
	"refinedb/plan"
	"refinedb/schema"
)

// Evaluator is the TreeWalker evaluator (C9, spec §4.8): it reduces one
// graph of a Program against a schema, a storage plan, and an open KV
// transaction.
type Evaluator struct {
	program *Program
	schema  *schema.Schema
	root    *plan.Root
	index   map[plan.Key]*plan.Node
	txn     kv.Txn
}

// NewEvaluator builds an Evaluator. root must have been produced against
// sch, and txn is the single transaction this execution will read and
// write through (spec §5: "the KV transaction is exclusive to one
// execution").
func NewEvaluator(program *Program, sch *schema.Schema, root *plan.Root, txn kv.Txn) *Evaluator {
	return &Evaluator{program: program, schema: sch, root: root, index: root.Index(), txn: txn}
}

// Run executes the named graph with the given arguments to completion,
// returning its return value. A thrown value surfaces as an *errs.Error of
// Kind UserThrow.
func (ev *Evaluator) Run(ctx context.Context, graphName string, args []*codec.Value) (*codec.Value, error) {
	g := ev.program.GraphByName(graphName)
	if g == nil {
		return nil, errs.New(errs.TypeError, "unknown graph %q", graphName)
	}
	if len(args) != len(g.Params) {
		return nil, errs.New(errs.TypeError, "graph %q expects %d arguments, got %d", graphName, len(g.Params), len(args))
	}

	env := map[string]*codec.Value{}
	for _, exp := range ev.schema.Exports {
		node, ok := ev.root.Exports[exp.Name]
		if !ok {
			continue
		}
		v, err := readValue(ctx, ev.txn, nil, node, ev.index, exp.Type)
		if err != nil {
			return nil, err
		}
		env[exp.Name] = v
	}
	for i, p := range g.Params {
		env[p.Name] = args[i]
	}

	ret, _, err := ev.execStmts(ctx, g.Body, env)
	return ret, err
}

func (ev *Evaluator) execStmts(ctx context.Context, stmts []*Stmt, env map[string]*codec.Value) (*codec.Value, bool, error) {
	for _, st := range stmts {
		if err := ctx.Err(); err != nil {
			return nil, false, errs.Wrap(errs.BackendError, err, "execution cancelled")
		}
		switch st.Kind {
		case StmtNodeDef:
			v, err := ev.eval(ctx, st.Expr, env)
			if err != nil {
				return nil, false, err
			}
			env[st.NodeName] = v
		case StmtExpr:
			if _, err := ev.eval(ctx, st.Expr, env); err != nil {
				return nil, false, err
			}
		case StmtReturn:
			v, err := ev.eval(ctx, st.Expr, env)
			if err != nil {
				return nil, false, err
			}
			return v, true, nil
		case StmtThrow:
			v, err := ev.eval(ctx, st.Expr, env)
			if err != nil {
				return nil, false, err
			}
			return nil, false, errs.Throw(v, "graph threw")
		case StmtIf:
			cond, err := ev.eval(ctx, st.Cond, env)
			if err != nil {
				return nil, false, err
			}
			branch := st.Else
			if cond.Bool {
				branch = st.Then
			}
			v, returned, err := ev.execStmts(ctx, branch, env)
			if err != nil {
				return nil, false, err
			}
			for _, name := range collectDefs(st.Then) {
				if _, ok := env[name]; !ok {
					env[name] = codec.Null("")
				}
			}
			for _, name := range collectDefs(st.Else) {
				if _, ok := env[name]; !ok {
					env[name] = codec.Null("")
				}
			}
			if returned {
				return v, true, nil
			}
		}
	}
	return nil, false, nil
}

// collectDefs gathers every node name bound anywhere within stmts,
// including inside nested if/else branches, so an untaken branch's
// bindings can be filled in as null (spec §4.8).
func collectDefs(stmts []*Stmt) []string {
	var out []string
	for _, st := range stmts {
		switch st.Kind {
		case StmtNodeDef:
			out = append(out, st.NodeName)
		case StmtIf:
			out = append(out, collectDefs(st.Then)...)
			out = append(out, collectDefs(st.Else)...)
		}
	}
	return out
}

func (ev *Evaluator) eval(ctx context.Context, e *Expr, env map[string]*codec.Value) (*codec.Value, error) {
	switch e.Kind {
	case ExprConst:
		return e.Lit, nil
	case ExprParam, ExprNodeRef:
		v, ok := env[e.Name]
		if !ok {
			return nil, errs.At(errs.TypeError, e.Loc, "unbound name %q", e.Name)
		}
		return v, nil
	case ExprField:
		base, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		if base.Kind != codec.KindTable {
			return nil, errs.At(errs.TypeError, e.Loc, ".%s: not a table", e.Name)
		}
		fv, ok := base.Table.Fields[e.Name]
		if !ok {
			return nil, errs.At(errs.MissingField, e.Loc, "table %s has no field %q", base.Table.TypeName, e.Name)
		}
		return fv, nil
	case ExprCreateMap:
		return codec.EmptyMap(), nil
	case ExprCreateList:
		return codec.EmptyList(e.Name), nil
	case ExprMInsert:
		v, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		base, err := ev.eval(ctx, e.B, env)
		if err != nil {
			return nil, err
		}
		out := base.Clone()
		out.Map[e.Name] = v
		return out, nil
	case ExprMDelete:
		base, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		out := base.Clone()
		delete(out.Map, e.Name)
		return out, nil
	case ExprTInsert:
		v, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		base, err := ev.eval(ctx, e.B, env)
		if err != nil {
			return nil, err
		}
		out := base.Clone()
		out.Table.Fields[e.Name] = v
		return out, nil
	case ExprBuildTable:
		m, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		def := ev.schema.DefByName(e.Name)
		if def == nil {
			return nil, errs.At(errs.TypeError, e.Loc, "build_table: unknown table type %q", e.Name)
		}
		fields := map[string]*codec.Value{}
		for k, v := range m.Map {
			fields[k] = v
		}
		for _, f := range def.Fields {
			if _, ok := fields[f.Name]; !ok && !f.Type.IsOptional() {
				return nil, errs.At(errs.MissingField, e.Loc, "build_table(%s): missing required field %q", e.Name, f.Name)
			}
		}
		return &codec.Value{Kind: codec.KindTable, Table: &codec.TableHandle{TypeName: e.Name, Fields: fields}}, nil
	case ExprBuildSet:
		elem, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		return &codec.Value{Kind: codec.KindSet, Set: &codec.SetHandle{
			ElementType: elem.Table.TypeName,
			Elements:    []*codec.Value{elem},
		}}, nil
	case ExprPointGet:
		set, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		key, err := ev.eval(ctx, e.B, env)
		if err != nil {
			return nil, err
		}
		return ev.pointGet(ctx, set.Set, key)
	case ExprSInsert:
		set, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		elem, err := ev.eval(ctx, e.B, env)
		if err != nil {
			return nil, err
		}
		if err := ev.sInsert(ctx, set.Set, elem); err != nil {
			return nil, err
		}
		return set, nil
	case ExprSDelete:
		set, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		key, err := ev.eval(ctx, e.B, env)
		if err != nil {
			return nil, err
		}
		if err := ev.sDelete(ctx, set.Set, key); err != nil {
			return nil, err
		}
		return set, nil
	case ExprSelect:
		a, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		b, err := ev.eval(ctx, e.B, env)
		if err != nil {
			return nil, err
		}
		aPresent, bPresent := !a.IsNull(), !b.IsNull()
		switch {
		case aPresent && !bPresent:
			return a, nil
		case bPresent && !aPresent:
			return b, nil
		default:
			return nil, errs.At(errs.InvalidSelect, e.Loc, "select: exactly one operand must be present")
		}
	case ExprIsPresent:
		a, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		return codec.Bool_(!a.IsNull()), nil
	case ExprIsNull:
		a, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		return codec.Bool_(a.IsNull()), nil
	case ExprEq, ExprNe:
		a, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		b, err := ev.eval(ctx, e.B, env)
		if err != nil {
			return nil, err
		}
		eq := scalarEqual(a, b)
		if e.Kind == ExprNe {
			eq = !eq
		}
		return codec.Bool_(eq), nil
	case ExprAnd:
		a, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		if !a.Bool {
			return codec.Bool_(false), nil
		}
		b, err := ev.eval(ctx, e.B, env)
		if err != nil {
			return nil, err
		}
		return codec.Bool_(b.Bool), nil
	case ExprOr:
		a, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		if a.Bool {
			return codec.Bool_(true), nil
		}
		b, err := ev.eval(ctx, e.B, env)
		if err != nil {
			return nil, err
		}
		return codec.Bool_(b.Bool), nil
	case ExprNot:
		a, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		return codec.Bool_(!a.Bool), nil
	case ExprAdd, ExprSub:
		a, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		b, err := ev.eval(ctx, e.B, env)
		if err != nil {
			return nil, err
		}
		return evalArith(e.Kind, a, b), nil
	case ExprOrElse:
		a, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		if !a.IsNull() {
			return a, nil
		}
		return ev.eval(ctx, e.B, env)
	case ExprPrepend:
		elem, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		list, err := ev.eval(ctx, e.B, env)
		if err != nil {
			return nil, err
		}
		out := make([]*codec.Value, 0, len(list.List)+1)
		out = append(out, elem)
		out = append(out, list.List...)
		return &codec.Value{Kind: codec.KindList, ListElemType: list.ListElemType, List: out}, nil
	case ExprPop:
		list, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		if len(list.List) == 0 {
			return nil, errs.At(errs.TypeError, e.Loc, "pop: empty list")
		}
		return &codec.Value{Kind: codec.KindList, ListElemType: list.ListElemType, List: list.List[1:]}, nil
	case ExprHead:
		list, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		if len(list.List) == 0 {
			return nil, errs.At(errs.TypeError, e.Loc, "head: empty list")
		}
		return list.List[0], nil
	case ExprUnwrapOptional:
		a, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		if a.IsNull() {
			return nil, errs.At(errs.NullUnwrap, e.Loc, "unwrap_optional: value is null")
		}
		return a, nil
	case ExprCall:
		args := make([]*codec.Value, len(e.Args))
		for i, a := range e.Args {
			v, err := ev.eval(ctx, a, env)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return ev.callGraph(ctx, e.Name, args, env)
	case ExprReduce:
		init, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		coll, err := ev.eval(ctx, e.B, env)
		if err != nil {
			return nil, err
		}
		var elems []*codec.Value
		switch coll.Kind {
		case codec.KindList:
			elems = coll.List
		case codec.KindSet:
			elems, err = iterateSetElements(ctx, ev.txn, coll.Set, ev.schema, ev.index)
			if err != nil {
				return nil, err
			}
		default:
			return nil, errs.At(errs.TypeError, e.Loc, "reduce: expected a list or set")
		}
		acc := init
		for _, el := range elems {
			acc, err = ev.callGraph(ctx, e.Name, []*codec.Value{codec.Null(""), acc, el}, env)
			if err != nil {
				return nil, err
			}
		}
		return acc, nil
	case ExprRangeReduce:
		from, err := ev.eval(ctx, e.A, env)
		if err != nil {
			return nil, err
		}
		to, err := ev.eval(ctx, e.B, env)
		if err != nil {
			return nil, err
		}
		acc, err := ev.eval(ctx, e.C, env)
		if err != nil {
			return nil, err
		}
		for i := from.Int64; i < to.Int64; i++ {
			acc, err = ev.callGraph(ctx, e.Name, []*codec.Value{codec.Null(""), acc, codec.Int64(i)}, env)
			if err != nil {
				return nil, err
			}
		}
		return acc, nil
	default:
		return nil, errs.At(errs.TypeError, e.Loc, "unhandled expression kind %v", e.Kind)
	}
}

func evalArith(kind ExprKind, a, b *codec.Value) *codec.Value {
	if a.Kind == codec.KindDouble || b.Kind == codec.KindDouble {
		if kind == ExprAdd {
			return codec.Double(a.Double + b.Double)
		}
		return codec.Double(a.Double - b.Double)
	}
	if kind == ExprAdd {
		return codec.Int64(a.Int64 + b.Int64)
	}
	return codec.Int64(a.Int64 - b.Int64)
}

// callGraph invokes a graph by name with args, reusing the caller's root
// export bindings (exports are visible to every graph in the program).
func (ev *Evaluator) callGraph(ctx context.Context, name string, args []*codec.Value, callerEnv map[string]*codec.Value) (*codec.Value, error) {
	g := ev.program.GraphByName(name)
	if g == nil {
		return nil, errs.New(errs.TypeError, "call: unknown graph %q", name)
	}
	if len(args) != len(g.Params) {
		return nil, errs.New(errs.TypeError, "call %q: expected %d arguments, got %d", name, len(g.Params), len(args))
	}
	env := map[string]*codec.Value{}
	for _, exp := range ev.schema.Exports {
		if v, ok := callerEnv[exp.Name]; ok {
			env[exp.Name] = v
		}
	}
	for i, p := range g.Params {
		env[p.Name] = args[i]
	}
	v, _, err := ev.execStmts(ctx, g.Body, env)
	return v, err
}

func (ev *Evaluator) pointGet(ctx context.Context, set *codec.SetHandle, key *codec.Value) (*codec.Value, error) {
	def := ev.schema.DefByName(set.ElementType)
	if def == nil {
		return nil, errs.New(errs.TypeError, "point_get: unknown element type %q", set.ElementType)
	}
	if set.Prefix == nil {
		for _, el := range set.Elements {
			pv, _, err := primaryKeyValue(el, def)
			if err != nil {
				return nil, err
			}
			if scalarEqual(pv, key) {
				return el, nil
			}
		}
		return codec.Null(set.ElementType + "?"), nil
	}

	pkBytes := codec.EncodeKeyPart(key)
	elemPrefix := append(append([]byte(nil), set.Prefix...), pkBytes...)
	return readValue(ctx, ev.txn, elemPrefix, set.ElementNode, ev.index, schema.Optional(schema.TableRef(def)))
}

func (ev *Evaluator) sInsert(ctx context.Context, set *codec.SetHandle, elem *codec.Value) error {
	def := ev.schema.DefByName(set.ElementType)
	if def == nil {
		return errs.New(errs.TypeError, "s_insert: unknown element type %q", set.ElementType)
	}
	pv, pkBytes, err := primaryKeyValue(elem, def)
	if err != nil {
		return err
	}

	if set.Prefix == nil {
		for i, el := range set.Elements {
			epv, _, err := primaryKeyValue(el, def)
			if err != nil {
				return err
			}
			if scalarEqual(epv, pv) {
				set.Elements[i] = elem
				return nil
			}
		}
		set.Elements = append(set.Elements, elem)
		return nil
	}

	elemPrefix := append(append([]byte(nil), set.Prefix...), pkBytes...)
	return writeValue(ctx, ev.txn, elemPrefix, set.ElementNode, ev.index, elem)
}

func (ev *Evaluator) sDelete(ctx context.Context, set *codec.SetHandle, key *codec.Value) error {
	if set.Prefix == nil {
		def := ev.schema.DefByName(set.ElementType)
		if def == nil {
			return errs.New(errs.TypeError, "s_delete: unknown element type %q", set.ElementType)
		}
		out := set.Elements[:0]
		for _, el := range set.Elements {
			pv, _, err := primaryKeyValue(el, def)
			if err != nil {
				return err
			}
			if !scalarEqual(pv, key) {
				out = append(out, el)
			}
		}
		set.Elements = out
		return nil
	}

	pkBytes := codec.EncodeKeyPart(key)
	elemPrefix := append(append([]byte(nil), set.Prefix...), pkBytes...)
	return deleteRange(ctx, ev.txn, elemPrefix)
}
