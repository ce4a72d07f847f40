package memkv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"refinedb/kv"
	"refinedb/kv/memkv"
)

func TestReadYourOwnWrites(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	txn, err := store.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, txn.Put(ctx, []byte("a"), []byte("1")))
	v, ok, err := txn.Get(ctx, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	it, err := txn.RangeScan(ctx, []byte("a"))
	require.NoError(t, err)
	require.True(t, it.Next())
	require.Equal(t, []byte("a"), it.Pair().Key)
	require.False(t, it.Next())
}

func TestSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()

	setup, _ := store.Begin(ctx)
	require.NoError(t, setup.Put(ctx, []byte("k"), []byte("old")))
	_, err := setup.Commit(ctx)
	require.NoError(t, err)

	reader, _ := store.Begin(ctx)
	writer, _ := store.Begin(ctx)
	require.NoError(t, writer.Put(ctx, []byte("k"), []byte("new")))
	status, err := writer.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, kv.CommitOK, status)

	v, ok, err := reader.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("old"), v, "a transaction begun before a commit must not observe it")
}

func TestCommitConflict(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()

	t1, _ := store.Begin(ctx)
	t2, _ := store.Begin(ctx)

	require.NoError(t, t1.Put(ctx, []byte("x"), []byte("1")))
	status, err := t1.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, kv.CommitOK, status)

	require.NoError(t, t2.Put(ctx, []byte("x"), []byte("2")))
	status, err = t2.Commit(ctx)
	require.ErrorIs(t, err, kv.ErrConflict)
	require.Equal(t, kv.CommitConflict, status)
}

func TestRangeScanOrdering(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	txn, _ := store.Begin(ctx)
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, txn.Put(ctx, []byte("set/"+k), []byte(k)))
	}
	it, err := txn.RangeScan(ctx, []byte("set/"))
	require.NoError(t, err)

	var order []string
	for it.Next() {
		order = append(order, string(it.Pair().Value))
	}
	require.Equal(t, []string{"a", "b", "c"}, order)
}
