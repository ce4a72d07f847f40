package lang_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"refinedb/codec"
	"refinedb/errs"
	"refinedb/kv/memkv"
	"refinedb/lang"
	"refinedb/plan"
	"refinedb/schema/check"
	"refinedb/vm"
)

const accountSrc = `
type T { @primary id: string, n: int64 }
export set<T> s;

graph insert(id: string, n: int64) {
	_ = s_insert root.s $ build_table(T) $ m_insert(id) id $ m_insert(n) n create_map;
}

graph get_n(id: string): int64 {
	found = point_get root.s id;
	return (unwrap_optional found).n;
}

graph is_in(id: string): bool {
	return is_present $ point_get root.s id;
}

graph remove(id: string) {
	s_delete root.s id;
}

graph add_n(ignored: bool, acc: int64, elem: T): int64 {
	return acc + elem.n;
}

graph sum_n(): int64 {
	return reduce(add_n) 0 root.s;
}
`

func TestScenarioRoundTripAndIdempotentInsert(t *testing.T) {
	ctx := context.Background()
	rawSchema, program, err := lang.ParseProgram("account.rdb", accountSrc)
	require.NoError(t, err)
	checkedSchema, err := check.Check(rawSchema)
	require.NoError(t, err)
	require.NoError(t, vm.NewChecker(program, checkedSchema).Check())
	root, err := plan.NewBuilder(nil).Build(checkedSchema)
	require.NoError(t, err)
	store := memkv.New()

	txn, err := store.Begin(ctx)
	require.NoError(t, err)
	ev := vm.NewEvaluator(program, checkedSchema, root, txn)

	// Scenario 1: insert ("a", 1), point_get.n == 1.
	_, err = ev.Run(ctx, "insert", []*codec.Value{codec.String("a"), codec.Int64(1)})
	require.NoError(t, err)
	n, err := ev.Run(ctx, "get_n", []*codec.Value{codec.String("a")})
	require.NoError(t, err)
	require.Equal(t, int64(1), n.Int64)

	// Scenario 2: inserting ("a", 2) overwrites by primary key.
	_, err = ev.Run(ctx, "insert", []*codec.Value{codec.String("a"), codec.Int64(2)})
	require.NoError(t, err)
	n, err = ev.Run(ctx, "get_n", []*codec.Value{codec.String("a")})
	require.NoError(t, err)
	require.Equal(t, int64(2), n.Int64)

	_, err = txn.Commit(ctx)
	require.NoError(t, err)
}

func TestScenarioDeleteThenAbsent(t *testing.T) {
	ctx := context.Background()
	rawSchema, program, err := lang.ParseProgram("account.rdb", accountSrc)
	require.NoError(t, err)
	checkedSchema, err := check.Check(rawSchema)
	require.NoError(t, err)
	require.NoError(t, vm.NewChecker(program, checkedSchema).Check())
	root, err := plan.NewBuilder(nil).Build(checkedSchema)
	require.NoError(t, err)
	store := memkv.New()

	txn, err := store.Begin(ctx)
	require.NoError(t, err)
	ev := vm.NewEvaluator(program, checkedSchema, root, txn)

	_, err = ev.Run(ctx, "insert", []*codec.Value{codec.String("a"), codec.Int64(1)})
	require.NoError(t, err)

	present, err := ev.Run(ctx, "is_in", []*codec.Value{codec.String("a")})
	require.NoError(t, err)
	require.True(t, present.Bool)

	// Scenario 3: after s_delete, is_present over point_get is false.
	_, err = ev.Run(ctx, "remove", []*codec.Value{codec.String("a")})
	require.NoError(t, err)
	present, err = ev.Run(ctx, "is_in", []*codec.Value{codec.String("a")})
	require.NoError(t, err)
	require.False(t, present.Bool)
}

func TestScenarioReduceSumsInAscendingKeyOrder(t *testing.T) {
	ctx := context.Background()
	rawSchema, program, err := lang.ParseProgram("account.rdb", accountSrc)
	require.NoError(t, err)
	checkedSchema, err := check.Check(rawSchema)
	require.NoError(t, err)
	require.NoError(t, vm.NewChecker(program, checkedSchema).Check())
	root, err := plan.NewBuilder(nil).Build(checkedSchema)
	require.NoError(t, err)
	store := memkv.New()

	txn, err := store.Begin(ctx)
	require.NoError(t, err)
	ev := vm.NewEvaluator(program, checkedSchema, root, txn)

	// Scenario 4: inserts ("a",1),("b",2),("c",3); reduce sums to 6.
	for _, pair := range []struct {
		id string
		n  int64
	}{{"c", 3}, {"a", 1}, {"b", 2}} {
		_, err = ev.Run(ctx, "insert", []*codec.Value{codec.String(pair.id), codec.Int64(pair.n)})
		require.NoError(t, err)
	}

	sum, err := ev.Run(ctx, "sum_n", nil)
	require.NoError(t, err)
	require.Equal(t, int64(6), sum.Int64)
}

func TestScenarioMigrationAddsFieldWithoutLosingKeys(t *testing.T) {
	rawSchema, program, err := lang.ParseProgram("account.rdb", accountSrc)
	require.NoError(t, err)
	checkedSchema, err := check.Check(rawSchema)
	require.NoError(t, err)
	require.NoError(t, vm.NewChecker(program, checkedSchema).Check())
	oldRoot, err := plan.NewBuilder(nil).Build(checkedSchema)
	require.NoError(t, err)

	const migratedSrc = `
type T { @primary id: string, n: int64, m: int64 }
export set<T> s;

graph get_n(id: string): int64 {
	found = point_get root.s id;
	return (unwrap_optional found).n;
}

graph get_m(id: string): int64 {
	found = point_get root.s id;
	return (unwrap_optional found).m;
}
`
	newRawSchema, newProgram, err := lang.ParseProgram("account2.rdb", migratedSrc)
	require.NoError(t, err)
	newSchema, err := check.Check(newRawSchema)
	require.NoError(t, err)
	require.NoError(t, vm.NewChecker(newProgram, newSchema).Check())

	// Scenario 5: migrating by adding a field preserves every prior key.
	result, err := plan.Migrate(oldRoot, newSchema, nil)
	require.NoError(t, err)
	require.Equal(t, oldRoot.Exports["s"].Key, result.Root.Exports["s"].Key)
	require.Equal(t, oldRoot.Exports["s"].Set.Children["id"].Key, result.Root.Exports["s"].Set.Children["id"].Key)
	require.Equal(t, oldRoot.Exports["s"].Set.Children["n"].Key, result.Root.Exports["s"].Set.Children["n"].Key)

	// An entry written under the old plan stays readable after migrating:
	// n round-trips and the newly-added m reads back as absent, not an error.
	ctx := context.Background()
	store := memkv.New()
	oldTxn, err := store.Begin(ctx)
	require.NoError(t, err)
	oldEv := vm.NewEvaluator(program, checkedSchema, oldRoot, oldTxn)
	_, err = oldEv.Run(ctx, "insert", []*codec.Value{codec.String("a"), codec.Int64(1)})
	require.NoError(t, err)
	_, err = oldTxn.Commit(ctx)
	require.NoError(t, err)

	newTxn, err := store.Begin(ctx)
	require.NoError(t, err)
	newEv := vm.NewEvaluator(newProgram, newSchema, result.Root, newTxn)
	n, err := newEv.Run(ctx, "get_n", []*codec.Value{codec.String("a")})
	require.NoError(t, err)
	require.Equal(t, int64(1), n.Int64)
	m, err := newEv.Run(ctx, "get_m", []*codec.Value{codec.String("a")})
	require.NoError(t, err)
	require.True(t, m.IsNull())
}

func TestScenarioUnwrapOptionalNullThrows(t *testing.T) {
	const src = `
type T { @primary id: string, n: int64 }
export set<T> s;

graph bad(id: string): int64 {
	found = point_get root.s id;
	return (unwrap_optional found).n;
}

graph safe(id: string): int64 {
	found = point_get root.s id;
	if (is_present found) {
		v = (unwrap_optional found).n;
	} else {
		v = 0;
	}
	return v;
}
`
	ctx := context.Background()
	rawSchema, program, err := lang.ParseProgram("optional.rdb", src)
	require.NoError(t, err)
	checkedSchema, err := check.Check(rawSchema)
	require.NoError(t, err)
	require.NoError(t, vm.NewChecker(program, checkedSchema).Check())
	root, err := plan.NewBuilder(nil).Build(checkedSchema)
	require.NoError(t, err)
	store := memkv.New()
	txn, err := store.Begin(ctx)
	require.NoError(t, err)
	ev := vm.NewEvaluator(program, checkedSchema, root, txn)

	// Scenario 6: unwrap_optional on a missing entry throws NullUnwrap...
	_, err = ev.Run(ctx, "bad", []*codec.Value{codec.String("missing")})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.NullUnwrap))

	// ...guarding with is_present avoids the throw.
	v, err := ev.Run(ctx, "safe", []*codec.Value{codec.String("missing")})
	require.NoError(t, err)
	require.Equal(t, int64(0), v.Int64)
}
