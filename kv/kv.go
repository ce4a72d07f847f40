// Package kv defines RefineDB's abstract ordered key-value transaction
// interface (C1, spec §4.1): the contract every backend (in-memory, MySQL,
// and — beyond this module's scope — FoundationDB/SQLite) must satisfy so
// the TreeWalker evaluator never depends on a concrete store.
package kv

import (
	"context"
	"errors"
)

// CommitStatus is the three-way result of Commit (spec §4.1).
type CommitStatus int

const (
	CommitOK CommitStatus = iota
	CommitConflict
	CommitIOError
)

// ErrConflict is returned by Commit when a serialisable conflict is
// detected; callers decide whether to retry (spec §5 "Multi-writer
// contention").
var ErrConflict = errors.New("kv: transaction conflict")

// Pair is one (key, value) result of a range scan.
type Pair struct {
	Key   []byte
	Value []byte
}

// Iterator lazily yields range-scan results in ascending key order. It may
// be iterated to completion or abandoned without a Close call succeeding
// being required for correctness (spec §4.1: "no assumption of streaming
// cancellation").
type Iterator interface {
	// Next advances the iterator, returning false at end-of-range or on
	// error (check Err after Next returns false).
	Next() bool
	Pair() Pair
	Err() error
	Close() error
}

// Txn is one logical, serialisable KV transaction: snapshot-isolated
// reads, "read your own writes" range scans, and a commit that may report
// a conflict instead of succeeding (spec §4.1).
type Txn interface {
	// Get returns (value, true, nil) if key is present, (nil, false, nil)
	// if absent, or (nil, false, err) on backend failure.
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	// RangeScan returns an iterator over all keys with the given prefix,
	// in ascending byte order, reflecting prior writes in this same
	// transaction.
	RangeScan(ctx context.Context, prefix []byte) (Iterator, error)
	// Commit attempts to make this transaction's writes durable. status is
	// CommitConflict iff err wraps ErrConflict.
	Commit(ctx context.Context) (status CommitStatus, err error)
	Abort(ctx context.Context) error
}

// Store opens transactions against one logical database. Keys are stored
// as given: neither backend in this module prepends a namespace prefix,
// so callers sharing one store share one key space.
type Store interface {
	Begin(ctx context.Context) (Txn, error)
	Close() error
}
