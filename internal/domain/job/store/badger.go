// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// badgerConflictRetries bounds optimistic transaction retries.
const badgerConflictRetries = 8

// OpenBadgerStore opens a badger database in dir. An empty dir keeps the
// database in memory.
func OpenBadgerStore(dir string) (Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &kvStore{db: badgerDB{db: db}}, nil
}

type badgerDB struct{ db *badger.DB }

// Update retries on ErrConflict, which badger returns when a concurrent
// transaction committed a key this one read.
func (b badgerDB) Update(fn func(kvTx) error) error {
	var err error
	for i := 0; i < badgerConflictRetries; i++ {
		err = b.db.Update(func(txn *badger.Txn) error { return fn(badgerTx{txn}) })
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (b badgerDB) View(fn func(kvTx) error) error {
	return b.db.View(func(txn *badger.Txn) error { return fn(badgerTx{txn}) })
}

func (b badgerDB) Close() error { return b.db.Close() }

type badgerTx struct{ txn *badger.Txn }

func badgerKey(ns, key string) []byte { return []byte(ns + ":" + key) }

func (t badgerTx) Get(ns, key string) ([]byte, error) {
	item, err := t.txn.Get(badgerKey(ns, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t badgerTx) Put(ns, key string, val []byte) error {
	return t.txn.Set(badgerKey(ns, key), val)
}

func (t badgerTx) ForEach(ns string, fn func(string, []byte) error) error {
	prefix := []byte(ns + ":")
	it := t.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(string(item.Key()[len(prefix):]), val); err != nil {
			return err
		}
	}
	return nil
}
