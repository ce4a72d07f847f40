// Package vm is RefineDB's TreeWalker data-flow VM: the graph IR (C7), its
// static type checker (C8), and its evaluator (C9). A graph is a named
// procedure over typed parameters whose statements thread values through a
// fixed operator set (spec §4.6) and whose suspension points are exactly
// the operators that touch the KV transaction.
package vm

import (
	"refinedb/codec"
	"refinedb/errs"
	"refinedb/schema"
)

// ExprKind discriminates an Expr's operator.
type ExprKind int

const (
	ExprConst ExprKind = iota
	ExprParam
	ExprNodeRef
	ExprField
	ExprCreateMap
	ExprCreateList
	ExprMInsert
	ExprSInsert
	ExprSDelete
	ExprMDelete
	ExprTInsert
	ExprBuildTable
	ExprBuildSet
	ExprPointGet
	ExprSelect
	ExprIsPresent
	ExprIsNull
	ExprEq
	ExprNe
	ExprAnd
	ExprOr
	ExprNot
	ExprAdd
	ExprSub
	ExprOrElse
	ExprPrepend
	ExprPop
	ExprHead
	ExprCall
	ExprReduce
	ExprRangeReduce
	ExprUnwrapOptional
)

var exprKindNames = map[ExprKind]string{
	ExprConst: "const", ExprParam: "param", ExprNodeRef: "node", ExprField: ".field",
	ExprCreateMap: "create_map", ExprCreateList: "create_list", ExprMInsert: "m_insert",
	ExprSInsert: "s_insert", ExprSDelete: "s_delete", ExprMDelete: "m_delete",
	ExprTInsert: "t_insert", ExprBuildTable: "build_table", ExprBuildSet: "build_set",
	ExprPointGet: "point_get", ExprSelect: "select", ExprIsPresent: "is_present",
	ExprIsNull: "is_null", ExprEq: "eq", ExprNe: "ne", ExprAnd: "and", ExprOr: "or",
	ExprNot: "not", ExprAdd: "add", ExprSub: "sub", ExprOrElse: "or_else",
	ExprPrepend: "prepend", ExprPop: "pop", ExprHead: "head", ExprCall: "call",
	ExprReduce: "reduce", ExprRangeReduce: "range_reduce", ExprUnwrapOptional: "unwrap_optional",
}

func (k ExprKind) String() string {
	if n, ok := exprKindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Expr is one node of the TreeWalker operator IR (spec §4.6). Fields are
// shared across operators; which ones are meaningful depends on Kind — see
// the comment on each ExprKind constant's usage below.
//
//	ExprConst:          Lit
//	ExprParam:          Name (parameter name)
//	ExprNodeRef:        Name (previously bound node name)
//	ExprField:          A (record), Name (field name)
//	ExprCreateMap:      (none)
//	ExprCreateList:     Name (element type name)
//	ExprMInsert:        Name (static key), A (value expr), B (base map)
//	ExprSInsert:        A (set), B (element)
//	ExprSDelete:        A (set), B (key expr)
//	ExprMDelete:        Name (static key), A (base map)
//	ExprTInsert:        Name (static field name), A (value expr), B (base table)
//	ExprBuildTable:     Name (table type), A (map)
//	ExprBuildSet:       A (element)
//	ExprPointGet:       A (set), B (key expr)
//	ExprSelect:         A, B (two optionals)
//	ExprIsPresent:      A (optional)
//	ExprIsNull:         A (optional)
//	ExprEq/ExprNe:      A, B (scalars)
//	ExprAnd/ExprOr:     A, B (bools, short-circuit)
//	ExprNot:            A (bool)
//	ExprAdd/ExprSub:    A, B (numerics)
//	ExprOrElse:         A (optional), B (fallback)
//	ExprPrepend:        A (element), B (list)
//	ExprPop/ExprHead:   A (list)
//	ExprCall:           Name (graph name), Args
//	ExprReduce:         Name (subgraph name), A (init), B (collection)
//	ExprRangeReduce:    Name (subgraph name), A (from), B (to), C (init)
//	ExprUnwrapOptional: A (optional)
//
// m_insert/m_delete/t_insert take their key or field name as a static,
// compile-time argument (the "(k)" in the spec's operator table), unlike
// s_delete/point_get whose key is an ordinary runtime sub-expression.
type Expr struct {
	Kind ExprKind
	Loc  errs.Location

	Lit  *codec.Value
	Name string

	A, B, C *Expr
	Args    []*Expr
}

// StmtKind discriminates a graph statement.
type StmtKind int

const (
	StmtNodeDef StmtKind = iota
	StmtExpr
	StmtReturn
	StmtThrow
	StmtIf
)

// Stmt is one statement in a graph's body (spec §4.6).
type Stmt struct {
	Kind StmtKind
	Loc  errs.Location

	NodeName string // StmtNodeDef
	Expr     *Expr   // StmtNodeDef / StmtExpr / StmtReturn / StmtThrow

	Cond *Expr   // StmtIf
	Then []*Stmt // StmtIf
	Else []*Stmt // StmtIf, nil if no else clause
}

// Param is one typed, ordered formal parameter of a graph.
type Param struct {
	Name string
	Type *schema.Type
}

// Graph is a named data-flow procedure (spec §4.6).
type Graph struct {
	Name     string
	Exported bool
	Params   []Param
	Return   *schema.Type // nil if the graph returns nothing
	Body     []*Stmt
}

// ParamByName returns the parameter named n, or nil.
func (g *Graph) ParamByName(n string) *Param {
	for i := range g.Params {
		if g.Params[i].Name == n {
			return &g.Params[i]
		}
	}
	return nil
}

// Program is the full set of graphs compiled together; `call` resolves
// across it by name (spec §4.7).
type Program struct {
	Graphs map[string]*Graph
	Order  []string
}

// GraphByName returns the graph named n, or nil.
func (p *Program) GraphByName(n string) *Graph {
	return p.Graphs[n]
}
