package storage

import (
	"context"
	"time"

	"docflow/internal/util"
)

type LockRepo struct {
	db *DB
}

func NewLockRepo(db *DB) *LockRepo {
	return &LockRepo{db: db}
}

// AcquireLockRow inserts the row or steals it when created+timeout has
// passed. Zero rows affected means a live holder exists.
func (r *LockRepo) AcquireLockRow(ctx context.Context, name, token string, ttl time.Duration, now time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
INSERT INTO locks (name, token, created_at, timeout_ms)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO UPDATE SET token = EXCLUDED.token, created_at = EXCLUDED.created_at, timeout_ms = EXCLUDED.timeout_ms
WHERE locks.created_at + locks.timeout_ms * INTERVAL '1 millisecond' <= EXCLUDED.created_at`,
		name, token, now, ttl.Milliseconds(),
	)
	if err != nil {
		return false, util.Transient(wrapErr("acquire lock row", err))
	}
	return tag.RowsAffected() == 1, nil
}

func (r *LockRepo) ReleaseLockRow(ctx context.Context, name, token string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM locks WHERE name=$1 AND token=$2`, name, token)
	if err != nil {
		return util.Transient(wrapErr("release lock row", err))
	}
	return nil
}

func (r *LockRepo) PurgeLockRows(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM locks`)
	return wrapErr("purge locks", err)
}
