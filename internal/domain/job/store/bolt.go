// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// OpenBoltStore opens (or creates) a bbolt database. path may name the file
// or an existing directory, in which case jobs.db is used inside it.
func OpenBoltStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("bolt store path required")
	}
	dbPath := path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		dbPath = filepath.Join(path, "jobs.db")
	} else if os.IsNotExist(err) && filepath.Ext(path) == "" {
		return nil, fmt.Errorf("store directory does not exist: %s", path)
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, ns := range []string{nsJobs, nsIndex} {
			if _, err := tx.CreateBucketIfNotExists([]byte(ns)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init buckets: %w", err)
	}
	return &kvStore{db: boltDB{db: db}}, nil
}

type boltDB struct{ db *bolt.DB }

func (b boltDB) Update(fn func(kvTx) error) error {
	return b.db.Update(func(tx *bolt.Tx) error { return fn(boltTx{tx}) })
}

func (b boltDB) View(fn func(kvTx) error) error {
	return b.db.View(func(tx *bolt.Tx) error { return fn(boltTx{tx}) })
}

func (b boltDB) Close() error { return b.db.Close() }

type boltTx struct{ tx *bolt.Tx }

func (t boltTx) Get(ns, key string) ([]byte, error) {
	v := t.tx.Bucket([]byte(ns)).Get([]byte(key))
	if v == nil {
		return nil, nil
	}
	// bolt values are only valid for the life of the transaction
	return append([]byte(nil), v...), nil
}

func (t boltTx) Put(ns, key string, val []byte) error {
	return t.tx.Bucket([]byte(ns)).Put([]byte(key), val)
}

func (t boltTx) ForEach(ns string, fn func(string, []byte) error) error {
	return t.tx.Bucket([]byte(ns)).ForEach(func(k, v []byte) error {
		return fn(string(k), v)
	})
}
