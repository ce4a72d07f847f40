package vm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"refinedb/codec"
	"refinedb/errs"
	"refinedb/kv/memkv"
	"refinedb/plan"
	"refinedb/schema"
	"refinedb/schema/check"
	"refinedb/vm"
)

type sequentialKeys struct{ n byte }

func (s *sequentialKeys) NextKey() (plan.Key, error) {
	s.n++
	var k plan.Key
	k[15] = s.n
	return k, nil
}

func accountSchema(t *testing.T) (*schema.Schema, *schema.TableDef) {
	t.Helper()
	account := &schema.TableDef{
		Name: "Account",
		Fields: []*schema.Field{
			{Name: "id", Type: schema.Primitive_(schema.String), Annotations: []schema.Annotation{schema.AnnotationPrimary}},
			{Name: "balance", Type: schema.Primitive_(schema.Int64)},
		},
	}
	s := &schema.Schema{
		Defs:    []*schema.TableDef{account},
		Exports: []*schema.Export{{Name: "accounts", Type: schema.SetOf(schema.TableRef(account))}},
	}
	checked, err := check.Check(s)
	require.NoError(t, err)
	return checked, checked.DefByName("Account")
}

// node builds a bare identifier reference expression (param or previously
// bound node name — both resolve the same way at runtime).
func node(name string) *vm.Expr { return &vm.Expr{Kind: vm.ExprNodeRef, Name: name} }

func openAccountGraph() *vm.Graph {
	return &vm.Graph{
		Name:     "open_account",
		Exported: true,
		Params: []vm.Param{
			{Name: "id", Type: schema.Primitive_(schema.String)},
			{Name: "balance", Type: schema.Primitive_(schema.Int64)},
		},
		Body: []*vm.Stmt{
			{Kind: vm.StmtNodeDef, NodeName: "m0", Expr: &vm.Expr{Kind: vm.ExprCreateMap}},
			{Kind: vm.StmtNodeDef, NodeName: "m1", Expr: &vm.Expr{Kind: vm.ExprMInsert, Name: "id", A: node("id"), B: node("m0")}},
			{Kind: vm.StmtNodeDef, NodeName: "m2", Expr: &vm.Expr{Kind: vm.ExprMInsert, Name: "balance", A: node("balance"), B: node("m1")}},
			{Kind: vm.StmtNodeDef, NodeName: "acc", Expr: &vm.Expr{Kind: vm.ExprBuildTable, Name: "Account", A: node("m2")}},
			{Kind: vm.StmtExpr, Expr: &vm.Expr{Kind: vm.ExprSInsert, A: node("accounts"), B: node("acc")}},
		},
	}
}

func getBalanceGraph() *vm.Graph {
	return &vm.Graph{
		Name:     "get_balance",
		Exported: true,
		Params:   []vm.Param{{Name: "id", Type: schema.Primitive_(schema.String)}},
		Return:   schema.Optional(schema.Primitive_(schema.Int64)),
		Body: []*vm.Stmt{
			{Kind: vm.StmtNodeDef, NodeName: "found", Expr: &vm.Expr{Kind: vm.ExprPointGet, A: node("accounts"), B: node("id")}},
			{
				Kind: vm.StmtIf,
				Cond: &vm.Expr{Kind: vm.ExprIsPresent, A: node("found")},
				Then: []*vm.Stmt{
					{Kind: vm.StmtNodeDef, NodeName: "unwrapped", Expr: &vm.Expr{Kind: vm.ExprUnwrapOptional, A: node("found")}},
					{Kind: vm.StmtNodeDef, NodeName: "bal", Expr: &vm.Expr{Kind: vm.ExprField, A: node("unwrapped"), Name: "balance"}},
				},
			},
			{Kind: vm.StmtReturn, Expr: node("bal")},
		},
	}
}

func closeAccountGraph() *vm.Graph {
	return &vm.Graph{
		Name:     "close_account",
		Exported: true,
		Params:   []vm.Param{{Name: "id", Type: schema.Primitive_(schema.String)}},
		Body: []*vm.Stmt{
			{Kind: vm.StmtExpr, Expr: &vm.Expr{Kind: vm.ExprSDelete, A: node("accounts"), B: node("id")}},
		},
	}
}

func buildProgram() *vm.Program {
	g1, g2, g3 := openAccountGraph(), getBalanceGraph(), closeAccountGraph()
	return &vm.Program{
		Graphs: map[string]*vm.Graph{g1.Name: g1, g2.Name: g2, g3.Name: g3},
		Order:  []string{g1.Name, g2.Name, g3.Name},
	}
}

func TestVMOpenAndReadAccount(t *testing.T) {
	ctx := context.Background()
	sch, _ := accountSchema(t)
	root, err := plan.NewBuilder(&sequentialKeys{}).Build(sch)
	require.NoError(t, err)
	program := buildProgram()

	require.NoError(t, vm.NewChecker(program, sch).Check())

	store := memkv.New()
	txn, err := store.Begin(ctx)
	require.NoError(t, err)

	ev := vm.NewEvaluator(program, sch, root, txn)
	_, err = ev.Run(ctx, "open_account", []*codec.Value{codec.String("a1"), codec.Int64(100)})
	require.NoError(t, err)

	status, err := txn.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, int(status))

	readTxn, err := store.Begin(ctx)
	require.NoError(t, err)
	ev2 := vm.NewEvaluator(program, sch, root, readTxn)
	bal, err := ev2.Run(ctx, "get_balance", []*codec.Value{codec.String("a1")})
	require.NoError(t, err)
	require.False(t, bal.IsNull())
	require.Equal(t, int64(100), bal.Int64)

	missing, err := ev2.Run(ctx, "get_balance", []*codec.Value{codec.String("nope")})
	require.NoError(t, err)
	require.True(t, missing.IsNull())
}

func TestVMCloseAccountRemovesIt(t *testing.T) {
	ctx := context.Background()
	sch, _ := accountSchema(t)
	root, err := plan.NewBuilder(&sequentialKeys{}).Build(sch)
	require.NoError(t, err)
	program := buildProgram()

	store := memkv.New()
	txn, _ := store.Begin(ctx)
	ev := vm.NewEvaluator(program, sch, root, txn)
	_, err = ev.Run(ctx, "open_account", []*codec.Value{codec.String("a1"), codec.Int64(50)})
	require.NoError(t, err)
	_, err = ev.Run(ctx, "close_account", []*codec.Value{codec.String("a1")})
	require.NoError(t, err)
	_, err = txn.Commit(ctx)
	require.NoError(t, err)

	readTxn, _ := store.Begin(ctx)
	ev2 := vm.NewEvaluator(program, sch, root, readTxn)
	bal, err := ev2.Run(ctx, "get_balance", []*codec.Value{codec.String("a1")})
	require.NoError(t, err)
	require.True(t, bal.IsNull())
}

func TestVMSelectRequiresExactlyOnePresent(t *testing.T) {
	g := &vm.Graph{
		Name: "bad_select",
		Return: schema.Optional(schema.Primitive_(schema.Int64)),
		Body: []*vm.Stmt{
			{Kind: vm.StmtReturn, Expr: &vm.Expr{
				Kind: vm.ExprSelect,
				A:    &vm.Expr{Kind: vm.ExprConst, Lit: codec.Null("int64")},
				B:    &vm.Expr{Kind: vm.ExprConst, Lit: codec.Null("int64")},
			}},
		},
	}
	program := &vm.Program{Graphs: map[string]*vm.Graph{g.Name: g}, Order: []string{g.Name}}
	sch, _ := accountSchema(t)
	root, err := plan.NewBuilder(&sequentialKeys{}).Build(sch)
	require.NoError(t, err)

	store := memkv.New()
	txn, _ := store.Begin(context.Background())
	ev := vm.NewEvaluator(program, sch, root, txn)
	_, err = ev.Run(context.Background(), "bad_select", nil)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.InvalidSelect))
}
