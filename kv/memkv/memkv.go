// Package memkv is RefineDB's in-memory KV backend: the reference
// implementation of kv.Store used by unit tests and as a development
// fallback. It provides snapshot-isolated reads and first-committer-wins
// conflict detection using a monotonic version counter, grounded on the
// teacher's use of go.uber.org/atomic for lightweight shared counters.
package memkv

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"go.uber.org/atomic"

	"refinedb/kv"
)

// Store is an in-memory kv.Store. Zero value is not usable; use New.
type Store struct {
	mu      sync.RWMutex
	data    map[string][]byte
	version atomic.Uint64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Begin(_ context.Context) (kv.Txn, error) {
	s.mu.RLock()
	snapshot := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	baseVersion := s.version.Load()
	s.mu.RUnlock()

	return &txn{
		store:       s,
		snapshot:    snapshot,
		baseVersion: baseVersion,
		writes:      make(map[string][]byte),
		deletes:     make(map[string]bool),
	}, nil
}

func (s *Store) Close() error { return nil }

type txn struct {
	store       *Store
	snapshot    map[string][]byte
	baseVersion uint64
	writes      map[string][]byte
	deletes     map[string]bool
	done        bool
}

func (t *txn) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	k := string(key)
	if t.deletes[k] {
		return nil, false, nil
	}
	if v, ok := t.writes[k]; ok {
		return v, true, nil
	}
	if v, ok := t.snapshot[k]; ok {
		return v, true, nil
	}
	return nil, false, nil
}

func (t *txn) Put(_ context.Context, key, value []byte) error {
	k := string(key)
	delete(t.deletes, k)
	t.writes[k] = append([]byte(nil), value...)
	return nil
}

func (t *txn) Delete(_ context.Context, key []byte) error {
	k := string(key)
	delete(t.writes, k)
	t.deletes[k] = true
	return nil
}

func (t *txn) RangeScan(_ context.Context, prefix []byte) (kv.Iterator, error) {
	merged := make(map[string][]byte)
	for k, v := range t.snapshot {
		if hasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	for k := range t.deletes {
		delete(merged, k)
	}
	for k, v := range t.writes {
		if hasPrefix(k, prefix) {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]kv.Pair, len(keys))
	for i, k := range keys {
		pairs[i] = kv.Pair{Key: []byte(k), Value: merged[k]}
	}
	return &sliceIterator{pairs: pairs, idx: -1}, nil
}

func hasPrefix(k string, prefix []byte) bool {
	return bytes.HasPrefix([]byte(k), prefix)
}

// Commit applies this transaction's writes iff the store's version counter
// has not advanced since Begin (first-committer-wins). On success it
// atomically applies writes and bumps the version.
func (t *txn) Commit(_ context.Context) (kv.CommitStatus, error) {
	if t.done {
		return kv.CommitIOError, nil
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.store.version.Load() != t.baseVersion {
		return kv.CommitConflict, kv.ErrConflict
	}
	for k := range t.deletes {
		delete(t.store.data, k)
	}
	for k, v := range t.writes {
		t.store.data[k] = v
	}
	t.store.version.Add(1)
	return kv.CommitOK, nil
}

func (t *txn) Abort(_ context.Context) error {
	t.done = true
	return nil
}

type sliceIterator struct {
	pairs []kv.Pair
	idx   int
}

func (it *sliceIterator) Next() bool {
	it.idx++
	return it.idx < len(it.pairs)
}

func (it *sliceIterator) Pair() kv.Pair { return it.pairs[it.idx] }
func (it *sliceIterator) Err() error    { return nil }
func (it *sliceIterator) Close() error  { return nil }
