package lock

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docflow/internal/storage/kvstore"
	"docflow/internal/util"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type managerCase struct {
	name  string
	build func(t *testing.T, clock *fakeClock) Manager
}

func managers() []managerCase {
	return []managerCase{
		{name: "file", build: func(t *testing.T, clock *fakeClock) Manager {
			return NewFileManager(filepath.Join(t.TempDir(), "locks.json"), nil).WithClock(clock.Now)
		}},
		{name: "database", build: func(t *testing.T, clock *fakeClock) Manager {
			s, err := kvstore.OpenInMemory()
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return NewDatabaseManager(s).WithClock(clock.Now)
		}},
	}
}

func TestAcquireFailsFastWhileLive(t *testing.T) {
	for _, tc := range managers() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			m := tc.build(t, clock)

			l, err := m.Acquire(ctx, "extract:ocr:v1", time.Minute)
			require.NoError(t, err)
			require.Equal(t, "extract:ocr:v1", l.Name)

			_, err = m.Acquire(ctx, "extract:ocr:v1", time.Minute)
			require.ErrorIs(t, err, util.ErrLockUnavailable)

			other, err := m.Acquire(ctx, "extract:ocr:v2", time.Minute)
			require.NoError(t, err)
			require.NoError(t, m.Release(ctx, other))

			require.NoError(t, m.Release(ctx, l))
			again, err := m.Acquire(ctx, "extract:ocr:v1", time.Minute)
			require.NoError(t, err)
			require.NoError(t, m.Release(ctx, again))
		})
	}
}

func TestExpiredLockIsStolenAndStaleReleaseIgnored(t *testing.T) {
	for _, tc := range managers() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			m := tc.build(t, clock)

			first, err := m.Acquire(ctx, "upload-lock:d1", 10*time.Second)
			require.NoError(t, err)

			clock.Advance(11 * time.Second)
			second, err := m.Acquire(ctx, "upload-lock:d1", 10*time.Second)
			require.NoError(t, err)
			require.NotEqual(t, first.Token, second.Token)

			// the first holder expired; its release must not free the new holder
			require.NoError(t, m.Release(ctx, first))
			_, err = m.Acquire(ctx, "upload-lock:d1", 10*time.Second)
			require.ErrorIs(t, err, util.ErrLockUnavailable)

			require.NoError(t, m.Release(ctx, second))
			require.NoError(t, m.Release(ctx, second))
			require.NoError(t, m.Release(ctx, nil))
		})
	}
}

func TestPurgeAllDropsLiveLocks(t *testing.T) {
	for _, tc := range managers() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			m := tc.build(t, clock)

			_, err := m.Acquire(ctx, "a", time.Hour)
			require.NoError(t, err)
			_, err = m.Acquire(ctx, "b", time.Hour)
			require.NoError(t, err)

			require.NoError(t, m.PurgeAll(ctx))

			_, err = m.Acquire(ctx, "a", time.Hour)
			require.NoError(t, err)
		})
	}
}

func TestConcurrentAcquireHasOneWinner(t *testing.T) {
	for _, tc := range managers() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			m := tc.build(t, clock)

			var wins, busy atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := m.Acquire(ctx, "index:t1:d1", time.Minute)
					switch {
					case err == nil:
						wins.Add(1)
					case errors.Is(err, util.ErrLockUnavailable):
						busy.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()
			require.Equal(t, int32(1), wins.Load())
			require.Equal(t, int32(15), busy.Load())
		})
	}
}

func TestFileLockLayoutOnDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "locks.json")
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := NewFileManager(path, nil).WithClock(clock.Now)

	l, err := m.Acquire(ctx, "source:imap-1", 30*time.Second)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var entries map[string]fileEntry
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, 1)
	require.Equal(t, l.Token, entries["source:imap-1"].UUID)
	require.InDelta(t, 1_700_000_030.0, entries["source:imap-1"].ExpiresAt, 0.001)

	holders, err := m.Holders(ctx)
	require.NoError(t, err)
	require.Contains(t, holders, "source:imap-1")
}

func TestFileManagersShareOneFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "locks.json")
	a := NewFileManager(path, nil)
	b := NewFileManager(path, nil)

	l, err := a.Acquire(ctx, "periodic:trash", time.Minute)
	require.NoError(t, err)
	_, err = b.Acquire(ctx, "periodic:trash", time.Minute)
	require.ErrorIs(t, err, util.ErrLockUnavailable)

	require.NoError(t, a.Release(ctx, l))
	_, err = b.Acquire(ctx, "periodic:trash", time.Minute)
	require.NoError(t, err)
}

func TestCorruptLockFileStartsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "locks.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	m := NewFileManager(path, nil)
	_, err := m.Acquire(ctx, "a", time.Minute)
	require.NoError(t, err)
}

func TestWithReleasesAfterError(t *testing.T) {
	ctx := context.Background()
	m := NewFileManager(filepath.Join(t.TempDir(), "locks.json"), nil)

	boom := errors.New("boom")
	err := With(ctx, m, "job", time.Minute, func(ctx context.Context) error {
		_, err := m.Acquire(ctx, "job", time.Minute)
		require.ErrorIs(t, err, util.ErrLockUnavailable)
		return boom
	})
	require.ErrorIs(t, err, boom)

	l, err := m.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, l))
}

func TestFileBackendErrorIsLockError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	// a directory where the file should be cannot be opened read-write
	path := filepath.Join(dir, "locks.json")
	require.NoError(t, os.Mkdir(path, 0o755))

	m := NewFileManager(path, nil)
	_, err := m.Acquire(ctx, "a", time.Minute)
	require.ErrorIs(t, err, util.ErrLockError)
	require.True(t, util.IsTransient(err))
}

func TestWaitPicksUpReleasedLock(t *testing.T) {
	ctx := context.Background()
	m := NewFileManager(filepath.Join(t.TempDir(), "locks.json"), nil)

	held, err := m.Acquire(ctx, "index:t:d", time.Minute)
	require.NoError(t, err)
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = m.Release(ctx, held)
	}()

	ran := false
	err = WithWait(ctx, m, "index:t:d", time.Minute, 5*time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestWaitGivesUp(t *testing.T) {
	ctx := context.Background()
	m := NewFileManager(filepath.Join(t.TempDir(), "locks.json"), nil)

	_, err := m.Acquire(ctx, "busy", time.Minute)
	require.NoError(t, err)

	start := time.Now()
	_, err = Wait(ctx, m, "busy", time.Minute, 50*time.Millisecond)
	require.ErrorIs(t, err, util.ErrLockUnavailable)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
