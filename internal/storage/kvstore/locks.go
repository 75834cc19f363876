package kvstore

import (
	"context"
	"time"

	"docflow/internal/util"

	"github.com/dgraph-io/badger/v4"
)

const prefixLock = "l/"

type lockRow struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	TTL       int64     `json:"ttl_ms"`
}

func (r lockRow) live(now time.Time) bool {
	return r.CreatedAt.Add(time.Duration(r.TTL) * time.Millisecond).After(now)
}

func (s *Store) AcquireLockRow(ctx context.Context, name, token string, ttl time.Duration, now time.Time) (bool, error) {
	acquired := false
	err := s.update(func(txn *badger.Txn) error {
		acquired = false
		cur, err := getJSON[lockRow](txn, prefixLock+name)
		if err == nil && cur.live(now) {
			return nil
		}
		if err != nil && err != util.ErrNotFound {
			return err
		}
		acquired = true
		return putJSON(txn, prefixLock+name, lockRow{Token: token, CreatedAt: now, TTL: ttl.Milliseconds()})
	})
	if err != nil {
		return false, util.Transient(err)
	}
	return acquired, nil
}

func (s *Store) ReleaseLockRow(ctx context.Context, name, token string) error {
	err := s.update(func(txn *badger.Txn) error {
		cur, err := getJSON[lockRow](txn, prefixLock+name)
		if err == util.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if cur.Token != token {
			return nil
		}
		return txn.Delete([]byte(prefixLock + name))
	})
	if err != nil {
		return util.Transient(err)
	}
	return nil
}

func (s *Store) PurgeLockRows(ctx context.Context) error {
	return s.update(func(txn *badger.Txn) error {
		return deletePrefix(txn, prefixLock)
	})
}
