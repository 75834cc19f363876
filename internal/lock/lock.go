// Package lock provides named, timeout-bounded mutual exclusion shared by
// every worker of a deployment.
//
// A lock is live while created+ttl is in the future. Acquire never blocks:
// a live holder yields util.ErrLockUnavailable, an expired one is stolen.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docflow/internal/util"
)

type Lock struct {
	Name    string
	Token   string
	Created time.Time
	TTL     time.Duration
}

func (l *Lock) ExpiresAt() time.Time { return l.Created.Add(l.TTL) }

type Manager interface {
	// Acquire fails fast with util.ErrLockUnavailable while a live lock
	// named name exists.
	Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error)
	// Release is idempotent and ignores locks that expired and were taken
	// by someone else.
	Release(ctx context.Context, l *Lock) error
	PurgeAll(ctx context.Context) error
}

func unavailable(name string) error {
	return fmt.Errorf("lock %q: %w", name, util.ErrLockUnavailable)
}

func backendErr(op string, err error) error {
	if errors.Is(err, util.ErrLockError) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, util.ErrLockError, err)
}

// With runs fn while holding name. The lock is released even when ctx is
// cancelled during fn.
func With(ctx context.Context, m Manager, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	l, err := m.Acquire(ctx, name, ttl)
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Release(context.WithoutCancel(ctx), l)
	}()
	return fn(ctx)
}

// Wait retries Acquire while the lock is held by someone else, for at most
// wait.
func Wait(ctx context.Context, m Manager, name string, ttl, wait time.Duration) (*Lock, error) {
	deadline := time.Now().Add(wait)
	delay := 10 * time.Millisecond
	for {
		l, err := m.Acquire(ctx, name, ttl)
		if err == nil || !errors.Is(err, util.ErrLockUnavailable) || !time.Now().Before(deadline) {
			return l, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, 200*time.Millisecond)
	}
}

// WithWait is With on top of Wait.
func WithWait(ctx context.Context, m Manager, name string, ttl, wait time.Duration, fn func(ctx context.Context) error) error {
	l, err := Wait(ctx, m, name, ttl, wait)
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Release(context.WithoutCancel(ctx), l)
	}()
	return fn(ctx)
}
