package kv

import (
	"os"

	"github.com/erigontech/mdbx-go/mdbx"
	"github.com/pkg/errors"
)

// Store is a thin wrapper over an mdbx environment holding the tables in
// Tables. It mirrors the transaction-closure style erigon-lib/kv exposes
// (View/Update taking a function rather than handing out a raw cursor),
// so call sites never forget to commit or abort a transaction.
type Store struct {
	env  *mdbx.Env
	dbis map[string]mdbx.DBI
}

// Open creates dir if necessary and opens (or creates) the mdbx
// environment rooted there with one DBI per entry in Tables.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "kv: create env dir %s", dir)
	}

	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, errors.Wrap(err, "kv: new env")
	}
	if err := env.SetOption(mdbx.OptMaxDB, uint64(len(Tables))); err != nil {
		return nil, errors.Wrap(err, "kv: set max dbs")
	}
	if err := env.SetGeometry(-1, -1, 64*1024*1024*1024, -1, -1, 4096); err != nil {
		return nil, errors.Wrap(err, "kv: set geometry")
	}
	if err := env.Open(dir, mdbx.NoSubdir|mdbx.Coalesce|mdbx.LifoReclaim, 0o644); err != nil {
		return nil, errors.Wrapf(err, "kv: open env at %s", dir)
	}

	s := &Store{env: env, dbis: make(map[string]mdbx.DBI, len(Tables))}
	if err := env.Update(func(txn *mdbx.Txn) error {
		for _, name := range Tables {
			dbi, err := txn.OpenDBISimple(name, mdbx.Create)
			if err != nil {
				return errors.Wrapf(err, "kv: open table %s", name)
			}
			s.dbis[name] = dbi
		}
		return nil
	}); err != nil {
		_ = env.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.env.Close() }

// View runs fn inside a read-only transaction.
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.env.View(func(txn *mdbx.Txn) error {
		return fn(&Tx{txn: txn, dbis: s.dbis})
	})
}

// Update runs fn inside a read-write transaction, committing on success
// and rolling back on any returned error (mdbx's env.Update semantics).
func (s *Store) Update(fn func(tx *Tx) error) error {
	return s.env.Update(func(txn *mdbx.Txn) error {
		return fn(&Tx{txn: txn, dbis: s.dbis})
	})
}

// Tx is a single table-qualified transaction handle.
type Tx struct {
	txn  *mdbx.Txn
	dbis map[string]mdbx.DBI
}

func (t *Tx) Get(table string, key []byte) ([]byte, bool, error) {
	dbi, ok := t.dbis[table]
	if !ok {
		return nil, false, errors.Errorf("kv: unknown table %q", table)
	}
	val, err := t.txn.Get(dbi, key)
	if mdbx.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "kv: get from %s", table)
	}
	// mdbx hands back a view into its own mmap; copy it out since the
	// value must outlive the transaction.
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

func (t *Tx) Put(table string, key, value []byte) error {
	dbi, ok := t.dbis[table]
	if !ok {
		return errors.Errorf("kv: unknown table %q", table)
	}
	return t.txn.Put(dbi, key, value, 0)
}

func (t *Tx) Delete(table string, key []byte) error {
	dbi, ok := t.dbis[table]
	if !ok {
		return errors.Errorf("kv: unknown table %q", table)
	}
	err := t.txn.Del(dbi, key, nil)
	if mdbx.IsNotFound(err) {
		return nil
	}
	return err
}

// ForEach iterates every key/value pair of a table in key order.
func (t *Tx) ForEach(table string, fn func(key, value []byte) error) error {
	dbi, ok := t.dbis[table]
	if !ok {
		return errors.Errorf("kv: unknown table %q", table)
	}
	cur, err := t.txn.OpenCursor(dbi)
	if err != nil {
		return errors.Wrapf(err, "kv: open cursor on %s", table)
	}
	defer cur.Close()

	for k, v, err := cur.Get(nil, nil, mdbx.First); err == nil; k, v, err = cur.Get(nil, nil, mdbx.Next) {
		if ferr := fn(k, v); ferr != nil {
			return ferr
		}
	}
	return nil
}
