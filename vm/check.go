package vm

import (
	"refinedb/errs"
	"refinedb/schema"
)

// vtype is the checker's internal notion of a value's static type: either a
// concrete schema type (primitive, optional, table, or set) or one of the
// two transient shapes (map, list) that only exist mid-graph before being
// reified by build_table/build_set. schema.Type has no Map/List kind of its
// own since those never appear in a stored field — only as graph-local
// staging values (spec §4.6).
type vtype struct {
	schema *schema.Type // non-nil iff this is a concrete schema type
	isMap  bool
	list   *schema.Type // non-nil element type iff this is a list
}

func tSchema(t *schema.Type) vtype { return vtype{schema: t} }
func tMap() vtype                  { return vtype{isMap: true} }
func tList(elem *schema.Type) vtype { return vtype{list: elem} }

func (t vtype) String() string {
	switch {
	case t.isMap:
		return "map"
	case t.list != nil:
		return "list<" + t.list.String() + ">"
	case t.schema != nil:
		return t.schema.String()
	default:
		return "<invalid>"
	}
}

func (t vtype) equal(o vtype) bool {
	if t.isMap != o.isMap {
		return false
	}
	if (t.list == nil) != (o.list == nil) {
		return false
	}
	if t.list != nil {
		return t.list.String() == o.list.String()
	}
	if (t.schema == nil) != (o.schema == nil) {
		return false
	}
	if t.schema == nil {
		return true
	}
	return t.schema.String() == o.schema.String()
}

// Checker is the TreeWalker static type checker (C8, spec §4.7).
type Checker struct {
	program *Program
	schema  *schema.Schema
}

// NewChecker builds a Checker for program against sch.
func NewChecker(program *Program, sch *schema.Schema) *Checker {
	return &Checker{program: program, schema: sch}
}

// Check verifies every graph in the program.
func (c *Checker) Check() error {
	for _, name := range c.program.Order {
		if err := c.checkGraph(c.program.Graphs[name]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) checkGraph(g *Graph) error {
	env := map[string]vtype{}
	for _, exp := range c.schema.Exports {
		env[exp.Name] = tSchema(exp.Type)
	}
	for _, p := range g.Params {
		env[p.Name] = tSchema(p.Type)
	}
	returns, err := c.checkStmts(g.Body, env, g)
	if err != nil {
		return err
	}
	if g.Return == nil {
		return nil
	}
	want := tSchema(g.Return)
	for _, r := range returns {
		if !assignable(r, want) {
			return errs.New(errs.TypeError, "graph %q: return type %s does not match declared return type %s", g.Name, r, want)
		}
	}
	return nil
}

// collectionElem reports the element type of a set or list vtype, for
// reduce's collection operand.
func collectionElem(t vtype) (*schema.Type, bool) {
	if t.list != nil {
		return t.list, true
	}
	if t.schema != nil && t.schema.Kind == schema.KindSet {
		return t.schema.Elem, true
	}
	return nil, false
}

// checkReducerArity verifies a reduce/range_reduce subgraph takes exactly
// the three parameters a reducer body expects (`_unused, acc, elem`), with
// the third assignable from elem.
func checkReducerArity(sub *Graph, elem *schema.Type, loc errs.Location) error {
	if len(sub.Params) != 3 {
		return errs.At(errs.TypeError, loc, "reducer subgraph %q must take exactly 3 parameters, got %d", sub.Name, len(sub.Params))
	}
	if !assignable(tSchema(elem), tSchema(sub.Params[2].Type)) {
		return errs.At(errs.TypeError, loc, "reducer subgraph %q: element parameter type %s does not match collection element type %s", sub.Name, sub.Params[2].Type, elem)
	}
	return nil
}

// assignable reports whether a value of type got may be used where want is
// expected: exact match, or got is the bare element of an optional want.
func assignable(got, want vtype) bool {
	if got.equal(want) {
		return true
	}
	if want.schema != nil && want.schema.IsOptional() && got.schema != nil {
		return tSchema(want.schema.Elem).equal(got)
	}
	return false
}

func (c *Checker) checkStmts(stmts []*Stmt, env map[string]vtype, g *Graph) ([]vtype, error) {
	var returns []vtype
	for _, st := range stmts {
		switch st.Kind {
		case StmtNodeDef:
			t, err := c.checkExpr(st.Expr, env)
			if err != nil {
				return nil, err
			}
			env[st.NodeName] = t
		case StmtExpr:
			if _, err := c.checkExpr(st.Expr, env); err != nil {
				return nil, err
			}
		case StmtReturn:
			t, err := c.checkExpr(st.Expr, env)
			if err != nil {
				return nil, err
			}
			returns = append(returns, t)
		case StmtThrow:
			if _, err := c.checkExpr(st.Expr, env); err != nil {
				return nil, err
			}
		case StmtIf:
			condT, err := c.checkExpr(st.Cond, env)
			if err != nil {
				return nil, err
			}
			if condT.schema == nil || condT.schema.Kind != schema.KindPrimitive || condT.schema.Primitive != schema.Bool {
				return nil, errs.At(errs.TypeError, st.Loc, "if condition must be bool, got %s", condT)
			}

			thenEnv := cloneEnv(env)
			thenReturns, err := c.checkStmts(st.Then, thenEnv, g)
			if err != nil {
				return nil, err
			}
			elseEnv := cloneEnv(env)
			var elseReturns []vtype
			if st.Else != nil {
				elseReturns, err = c.checkStmts(st.Else, elseEnv, g)
				if err != nil {
					return nil, err
				}
			}

			if err := mergeBranches(env, thenEnv, elseEnv); err != nil {
				return nil, errs.At(errs.TypeError, st.Loc, "%v", err)
			}
			returns = append(returns, thenReturns...)
			returns = append(returns, elseReturns...)
		}
	}
	return returns, nil
}

func cloneEnv(env map[string]vtype) map[string]vtype {
	out := make(map[string]vtype, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// mergeBranches folds bindings introduced by an if/else's two branches back
// into the outer environment. A node bound in both branches keeps its type
// if the branches agree; a node bound in only one branch is promoted to
// optional, since at runtime the untaken branch leaves it null (spec §4.8).
func mergeBranches(env, thenEnv, elseEnv map[string]vtype) error {
	seen := map[string]bool{}
	for name := range thenEnv {
		if _, already := env[name]; !already {
			seen[name] = true
		}
	}
	for name := range elseEnv {
		if _, already := env[name]; !already {
			seen[name] = true
		}
	}
	for name := range seen {
		tThen, okThen := thenEnv[name]
		tElse, okElse := elseEnv[name]
		switch {
		case okThen && okElse:
			if !tThen.equal(tElse) {
				return errs.New(errs.TypeError, "node %q bound to incompatible types in if/else branches: %s vs %s", name, tThen, tElse)
			}
			env[name] = tThen
		case okThen:
			env[name] = optionalOf(tThen)
		case okElse:
			env[name] = optionalOf(tElse)
		}
	}
	return nil
}

func optionalOf(t vtype) vtype {
	if t.schema != nil {
		if t.schema.IsOptional() {
			return t
		}
		return tSchema(schema.Optional(t.schema))
	}
	return t
}

func (c *Checker) checkExpr(e *Expr, env map[string]vtype) (vtype, error) {
	switch e.Kind {
	case ExprConst:
		return c.checkConst(e)
	case ExprParam, ExprNodeRef:
		t, ok := env[e.Name]
		if !ok {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "unbound name %q", e.Name)
		}
		return t, nil
	case ExprField:
		base, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		tbl := base.schema
		if tbl == nil || tbl.Kind != schema.KindTable {
			return vtype{}, errs.At(errs.TypeError, e.Loc, ".%s requires a table, got %s", e.Name, base)
		}
		f := tbl.Table.FieldByName(e.Name)
		if f == nil {
			return vtype{}, errs.At(errs.MissingField, e.Loc, "table %s has no field %q", tbl.Table.Name, e.Name)
		}
		return tSchema(f.Type), nil
	case ExprCreateMap:
		return tMap(), nil
	case ExprCreateList:
		return tList(nil), nil
	case ExprMInsert:
		if _, err := c.checkExpr(e.A, env); err != nil {
			return vtype{}, err
		}
		base, err := c.checkExpr(e.B, env)
		if err != nil {
			return vtype{}, err
		}
		if !base.isMap {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "m_insert base must be a map, got %s", base)
		}
		return tMap(), nil
	case ExprMDelete:
		base, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		if !base.isMap {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "m_delete base must be a map, got %s", base)
		}
		return tMap(), nil
	case ExprTInsert:
		if _, err := c.checkExpr(e.A, env); err != nil {
			return vtype{}, err
		}
		base, err := c.checkExpr(e.B, env)
		if err != nil {
			return vtype{}, err
		}
		if base.schema == nil || base.schema.Kind != schema.KindTable {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "t_insert base must be a table, got %s", base)
		}
		return base, nil
	case ExprBuildTable:
		m, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		if !m.isMap {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "build_table(%s) requires a map argument, got %s", e.Name, m)
		}
		def := c.schema.DefByName(e.Name)
		if def == nil {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "build_table: unknown table type %q", e.Name)
		}
		return tSchema(&schema.Type{Kind: schema.KindTable, Table: def}), nil
	case ExprBuildSet:
		elem, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		if elem.schema == nil || elem.schema.Kind != schema.KindTable {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "build_set requires a table element, got %s", elem)
		}
		return tSchema(schema.SetOf(elem.schema)), nil
	case ExprPointGet:
		set, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		if set.schema == nil || set.schema.Kind != schema.KindSet {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "point_get requires a set, got %s", set)
		}
		if _, err := c.checkExpr(e.B, env); err != nil {
			return vtype{}, err
		}
		return tSchema(schema.Optional(set.schema.Elem)), nil
	case ExprSInsert:
		set, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		elem, err := c.checkExpr(e.B, env)
		if err != nil {
			return vtype{}, err
		}
		if set.schema == nil || set.schema.Kind != schema.KindSet {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "s_insert requires a set, got %s", set)
		}
		if elem.schema == nil || elem.schema.String() != set.schema.Elem.String() {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "s_insert element type %s does not match set element type %s", elem, set.schema.Elem)
		}
		return set, nil
	case ExprSDelete:
		set, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		if set.schema == nil || set.schema.Kind != schema.KindSet {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "s_delete requires a set, got %s", set)
		}
		if _, err := c.checkExpr(e.B, env); err != nil {
			return vtype{}, err
		}
		return set, nil
	case ExprSelect:
		a, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		b, err := c.checkExpr(e.B, env)
		if err != nil {
			return vtype{}, err
		}
		if a.schema == nil || !a.schema.IsOptional() || b.schema == nil || !b.schema.IsOptional() {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "select requires two optionals, got %s and %s", a, b)
		}
		if a.schema.Elem.String() != b.schema.Elem.String() {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "select operands have different element types: %s vs %s", a.schema.Elem, b.schema.Elem)
		}
		return a, nil
	case ExprIsPresent, ExprIsNull:
		a, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		if a.schema == nil || !a.schema.IsOptional() {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "%v requires an optional, got %s", e.Kind, a)
		}
		return tSchema(schema.Primitive_(schema.Bool)), nil
	case ExprEq, ExprNe:
		a, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		b, err := c.checkExpr(e.B, env)
		if err != nil {
			return vtype{}, err
		}
		if !a.equal(b) {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "comparison between incompatible types %s and %s", a, b)
		}
		return tSchema(schema.Primitive_(schema.Bool)), nil
	case ExprAnd, ExprOr:
		a, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		b, err := c.checkExpr(e.B, env)
		if err != nil {
			return vtype{}, err
		}
		if !isBool(a) || !isBool(b) {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "and/or require bool operands, got %s and %s", a, b)
		}
		return tSchema(schema.Primitive_(schema.Bool)), nil
	case ExprNot:
		a, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		if !isBool(a) {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "not requires a bool operand, got %s", a)
		}
		return tSchema(schema.Primitive_(schema.Bool)), nil
	case ExprAdd, ExprSub:
		a, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		b, err := c.checkExpr(e.B, env)
		if err != nil {
			return vtype{}, err
		}
		if !isNumeric(a) || !a.equal(b) {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "arithmetic requires matching numeric operands, got %s and %s", a, b)
		}
		return a, nil
	case ExprOrElse:
		a, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		b, err := c.checkExpr(e.B, env)
		if err != nil {
			return vtype{}, err
		}
		if a.schema == nil || !a.schema.IsOptional() {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "?? requires an optional left operand, got %s", a)
		}
		if !tSchema(a.schema.Elem).equal(b) {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "?? fallback type %s does not match element type %s", b, a.schema.Elem)
		}
		return b, nil
	case ExprPrepend:
		elem, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		list, err := c.checkExpr(e.B, env)
		if err != nil {
			return vtype{}, err
		}
		if list.list != nil && elem.schema != nil && list.list.String() != elem.schema.String() {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "prepend element type %s does not match list element type %s", elem, list.list)
		}
		return tList(elem.schema), nil
	case ExprPop, ExprHead:
		list, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		if list.list == nil {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "%v requires a list, got %s", e.Kind, list)
		}
		if e.Kind == ExprHead {
			return tSchema(list.list), nil
		}
		return list, nil
	case ExprUnwrapOptional:
		a, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		if a.schema == nil || !a.schema.IsOptional() {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "unwrap_optional requires an optional, got %s", a)
		}
		return tSchema(a.schema.Elem), nil
	case ExprCall:
		callee := c.program.GraphByName(e.Name)
		if callee == nil {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "call: unknown graph %q", e.Name)
		}
		if len(e.Args) != len(callee.Params) {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "call %q: expected %d arguments, got %d", e.Name, len(callee.Params), len(e.Args))
		}
		for i, a := range e.Args {
			at, err := c.checkExpr(a, env)
			if err != nil {
				return vtype{}, err
			}
			if !assignable(at, tSchema(callee.Params[i].Type)) {
				return vtype{}, errs.At(errs.TypeError, e.Loc, "call %q: argument %d type %s does not match parameter type %s", e.Name, i, at, callee.Params[i].Type)
			}
		}
		if callee.Return == nil {
			return vtype{}, nil
		}
		return tSchema(callee.Return), nil
	case ExprReduce:
		sub := c.program.GraphByName(e.Name)
		if sub == nil {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "reduce: unknown subgraph %q", e.Name)
		}
		init, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		coll, err := c.checkExpr(e.B, env)
		if err != nil {
			return vtype{}, err
		}
		elem, ok := collectionElem(coll)
		if !ok {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "reduce: expected a set or list, got %s", coll)
		}
		if sub.Return == nil {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "reduce subgraph %q must return a value", e.Name)
		}
		if err := checkReducerArity(sub, elem, e.Loc); err != nil {
			return vtype{}, err
		}
		if !assignable(init, tSchema(sub.Return)) {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "reduce: initial value type %s does not match subgraph return type %s", init, sub.Return)
		}
		return tSchema(sub.Return), nil
	case ExprRangeReduce:
		sub := c.program.GraphByName(e.Name)
		if sub == nil {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "range_reduce: unknown subgraph %q", e.Name)
		}
		from, err := c.checkExpr(e.A, env)
		if err != nil {
			return vtype{}, err
		}
		to, err := c.checkExpr(e.B, env)
		if err != nil {
			return vtype{}, err
		}
		tInt64 := tSchema(schema.Primitive_(schema.Int64))
		if !from.equal(tInt64) || !to.equal(tInt64) {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "range_reduce: bounds must be int64, got %s and %s", from, to)
		}
		init, err := c.checkExpr(e.C, env)
		if err != nil {
			return vtype{}, err
		}
		if sub.Return == nil || !assignable(init, tSchema(sub.Return)) {
			return vtype{}, errs.At(errs.TypeError, e.Loc, "range_reduce: initial value type %s does not match subgraph return type", init)
		}
		if err := checkReducerArity(sub, schema.Primitive_(schema.Int64), e.Loc); err != nil {
			return vtype{}, err
		}
		return tSchema(sub.Return), nil
	default:
		return vtype{}, errs.At(errs.TypeError, e.Loc, "unhandled expression kind %d", e.Kind)
	}
}

func (c *Checker) checkConst(e *Expr) (vtype, error) {
	if e.Lit == nil {
		return vtype{}, errs.At(errs.TypeError, e.Loc, "const with no literal value")
	}
	return tSchema(literalType(e.Lit)), nil
}

func isBool(t vtype) bool {
	return t.schema != nil && t.schema.Kind == schema.KindPrimitive && t.schema.Primitive == schema.Bool
}

func isNumeric(t vtype) bool {
	if t.schema == nil || t.schema.Kind != schema.KindPrimitive {
		return false
	}
	return t.schema.Primitive == schema.Int64 || t.schema.Primitive == schema.Double
}
