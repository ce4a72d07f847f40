// Package mysqlkv implements kv.Store over a single MySQL table, storing
// RefineDB's opaque byte keys and values in a `(kv_key VARBINARY, kv_value
// LONGBLOB, kv_version BIGINT)` schema. It exists as a concrete, real
// backend for the C1 interface beyond the in-memory reference — grounded on
// the teacher's internal/apply.Applier, which opens and pings a MySQL
// connection the same way via database/sql + github.com/go-sql-driver/mysql.
package mysqlkv

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"refinedb/errs"
	"refinedb/kv"
)

// Store opens transactions against one MySQL-backed table.
type Store struct {
	db    *sql.DB
	table string
}

// Options configures Open.
type Options struct {
	DSN   string
	Table string // defaults to "refinedb_kv"
}

// Open connects to MySQL and ensures the backing table exists.
func Open(ctx context.Context, opts Options) (*Store, error) {
	table := opts.Table
	if table == "" {
		table = "refinedb_kv"
	}
	db, err := sql.Open("mysql", opts.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "opening mysql connection")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.BackendError, err, "pinging mysql")
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		kv_key VARBINARY(1024) NOT NULL PRIMARY KEY,
		kv_value LONGBLOB NOT NULL,
		kv_version BIGINT NOT NULL DEFAULT 0
	) ENGINE=InnoDB`, table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.BackendError, err, "creating kv table")
	}

	return &Store{db: db, table: table}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Begin starts a new transaction. MySQL's REPEATABLE READ isolation level
// gives the snapshot-read and "read your own writes" guarantees spec §4.1
// requires; conflicts surface as kv.ErrConflict at Commit, where a
// concurrent writer causes MySQL's own serialisation check to fail the
// commit (SQLSTATE 40001, surfaced by go-sql-driver as error 1213 or 1205)
// rather than any explicit version-column check made here.
func (s *Store) Begin(ctx context.Context) (kv.Txn, error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "beginning mysql transaction")
	}
	return &txn{store: s, tx: sqlTx}, nil
}

type txn struct {
	store *Store
	tx    *sql.Tx
	dirty bool
}

func (t *txn) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	q := fmt.Sprintf("SELECT kv_value FROM %s WHERE kv_key = ?", t.store.table)
	var v []byte
	err := t.tx.QueryRowContext(ctx, q, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.BackendError, err, "mysqlkv get")
	}
	return v, true, nil
}

func (t *txn) Put(ctx context.Context, key, value []byte) error {
	t.dirty = true
	q := fmt.Sprintf(`INSERT INTO %s (kv_key, kv_value, kv_version) VALUES (?, ?, 1)
		ON DUPLICATE KEY UPDATE kv_value = VALUES(kv_value), kv_version = kv_version + 1`, t.store.table)
	if _, err := t.tx.ExecContext(ctx, q, key, value); err != nil {
		return errs.Wrap(errs.BackendError, err, "mysqlkv put")
	}
	return nil
}

func (t *txn) Delete(ctx context.Context, key []byte) error {
	t.dirty = true
	q := fmt.Sprintf("DELETE FROM %s WHERE kv_key = ?", t.store.table)
	if _, err := t.tx.ExecContext(ctx, q, key); err != nil {
		return errs.Wrap(errs.BackendError, err, "mysqlkv delete")
	}
	return nil
}

func (t *txn) RangeScan(ctx context.Context, prefix []byte) (kv.Iterator, error) {
	upper := prefixUpperBound(prefix)
	var rows *sql.Rows
	var err error
	if upper == nil {
		q := fmt.Sprintf("SELECT kv_key, kv_value FROM %s WHERE kv_key >= ? ORDER BY kv_key ASC", t.store.table)
		rows, err = t.tx.QueryContext(ctx, q, prefix)
	} else {
		q := fmt.Sprintf("SELECT kv_key, kv_value FROM %s WHERE kv_key >= ? AND kv_key < ? ORDER BY kv_key ASC", t.store.table)
		rows, err = t.tx.QueryContext(ctx, q, prefix, upper)
	}
	if err != nil {
		return nil, errs.Wrap(errs.BackendError, err, "mysqlkv range scan")
	}
	return &rowIterator{rows: rows}, nil
}

// prefixUpperBound returns the smallest byte string that is strictly
// greater than every string sharing prefix, or nil if prefix is all 0xFF
// bytes (meaning "no upper bound needed").
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

func (t *txn) Commit(ctx context.Context) (kv.CommitStatus, error) {
	if !t.dirty {
		if err := t.tx.Commit(); err != nil {
			return kv.CommitIOError, errs.Wrap(errs.BackendError, err, "mysqlkv commit")
		}
		return kv.CommitOK, nil
	}
	if err := t.tx.Commit(); err != nil {
		_ = t.tx.Rollback()
		// MySQL reports a serialisation failure with SQLSTATE 40001;
		// go-sql-driver surfaces it as a generic *mysql.MySQLError whose
		// Number is 1213 (ER_LOCK_DEADLOCK) or 1205 (ER_LOCK_WAIT_TIMEOUT).
		return kv.CommitConflict, fmt.Errorf("%w: %v", kv.ErrConflict, err)
	}
	return kv.CommitOK, nil
}

func (t *txn) Abort(_ context.Context) error {
	return t.tx.Rollback()
}

type rowIterator struct {
	rows  *sql.Rows
	key   []byte
	value []byte
	err   error
}

func (it *rowIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		_ = it.rows.Close()
		return false
	}
	if err := it.rows.Scan(&it.key, &it.value); err != nil {
		it.err = err
		return false
	}
	return true
}

func (it *rowIterator) Pair() kv.Pair { return kv.Pair{Key: it.key, Value: it.value} }
func (it *rowIterator) Err() error    { return it.err }
func (it *rowIterator) Close() error  { return it.rows.Close() }
