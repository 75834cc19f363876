// Package kvstore is the embedded storage.Store on Badger. Records are JSON
// values under typed key prefixes; secondary lookups use empty marker keys.
package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"docflow/internal/util"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

const maxConflictRetries = 5

type Config struct {
	Path     string
	InMemory bool
	Logger   *logrus.Logger
}

type Store struct {
	db *badger.DB
}

func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(logrus.WarnLevel)
	}
	opts := badger.DefaultOptions(cfg.Path).WithLogger(cfg.Logger)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(cfg.Logger)
	} else if err := util.EnsureDir(cfg.Path); err != nil {
		return nil, err
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory is the store used by tests and throwaway single-binary runs.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) view(fn func(txn *badger.Txn) error) error {
	return s.db.View(fn)
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return util.Transient(err)
}

func getJSON[T any](txn *badger.Txn, key string) (T, error) {
	var out T
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return out, util.ErrNotFound
	}
	if err != nil {
		return out, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &out)
	})
	if err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

func putJSON(txn *badger.Txn, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), b)
}

func exists(txn *badger.Txn, key string) (bool, error) {
	_, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func scanJSON[T any](txn *badger.Txn, prefix string) ([]T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	out := make([]T, 0)
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		var v T
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// scanKeys returns the key suffixes after prefix.
func scanKeys(txn *badger.Txn, prefix string) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	out := make([]string, 0)
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		out = append(out, string(it.Item().Key()[len(prefix):]))
	}
	return out, nil
}

func deletePrefix(txn *badger.Txn, prefix string) error {
	keys, err := scanKeys(txn, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := txn.Delete([]byte(prefix + k)); err != nil {
			return err
		}
	}
	return nil
}
