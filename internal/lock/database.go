package lock

import (
	"context"
	"time"

	"docflow/internal/storage"

	"github.com/google/uuid"
)

// DatabaseManager keeps one row per lock name in the active store.
type DatabaseManager struct {
	store storage.LockStore
	now   func() time.Time
}

func NewDatabaseManager(store storage.LockStore) *DatabaseManager {
	return &DatabaseManager{store: store, now: time.Now}
}

func (m *DatabaseManager) WithClock(now func() time.Time) *DatabaseManager {
	m.now = now
	return m
}

func (m *DatabaseManager) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	l := &Lock{Name: name, Token: uuid.NewString(), Created: m.now(), TTL: ttl}
	ok, err := m.store.AcquireLockRow(ctx, name, l.Token, ttl, l.Created)
	if err != nil {
		return nil, backendErr("acquire lock "+name, err)
	}
	if !ok {
		return nil, unavailable(name)
	}
	return l, nil
}

func (m *DatabaseManager) Release(ctx context.Context, l *Lock) error {
	if l == nil {
		return nil
	}
	if err := m.store.ReleaseLockRow(ctx, l.Name, l.Token); err != nil {
		return backendErr("release lock "+l.Name, err)
	}
	return nil
}

func (m *DatabaseManager) PurgeAll(ctx context.Context) error {
	if err := m.store.PurgeLockRows(ctx); err != nil {
		return backendErr("purge locks", err)
	}
	return nil
}
