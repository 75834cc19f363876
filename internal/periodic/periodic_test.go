package periodic

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"docflow/internal/documents"
	"docflow/internal/lock"
	"docflow/internal/models"
	"docflow/internal/sources"
	"docflow/internal/util"

	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	trash, deleted, orphans atomic.Int32
	lastNow                 atomic.Value
	fail                    error
}

func (f *fakeSweeper) SweepTrash(_ context.Context, now time.Time) (int, error) {
	f.trash.Add(1)
	f.lastNow.Store(now)
	return 2, nil
}

func (f *fakeSweeper) SweepDeleted(_ context.Context, now time.Time) (int, error) {
	f.deleted.Add(1)
	return 0, f.fail
}

func (f *fakeSweeper) CollectOrphanBlobs(context.Context) (int, error) {
	f.orphans.Add(1)
	return 1, nil
}

func newLocks(t *testing.T) lock.Manager {
	t.Helper()
	return lock.NewFileManager(filepath.Join(t.TempDir(), "locks.json"), nil)
}

func TestDocumentJobsRunOnce(t *testing.T) {
	sw := &fakeSweeper{fail: errors.New("store down")}
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := New(newLocks(t), nil)
	for _, j := range DocumentJobs(sw, Intervals{Trash: time.Hour, Delete: time.Hour, Orphans: time.Hour}, func() time.Time { return fixed }, nil) {
		require.NoError(t, s.Add(j))
	}
	require.Equal(t, []string{JobDeleteSweep, JobOrphanBlobs, JobTrashSweep}, s.Jobs())

	ctx := context.Background()
	require.NoError(t, s.RunOnce(ctx, JobTrashSweep))
	require.NoError(t, s.RunOnce(ctx, JobOrphanBlobs))
	require.ErrorContains(t, s.RunOnce(ctx, JobDeleteSweep), "store down")
	require.Equal(t, int32(1), sw.trash.Load())
	require.Equal(t, int32(1), sw.deleted.Load())
	require.Equal(t, int32(1), sw.orphans.Load())
	require.Equal(t, fixed, sw.lastNow.Load())

	require.ErrorIs(t, s.RunOnce(ctx, "nope"), util.ErrNotFound)
}

func TestRunSkippedWhileLockHeld(t *testing.T) {
	locks := newLocks(t)
	s := New(locks, nil)
	var runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "job", Every: time.Minute, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	held, err := locks.Acquire(context.Background(), "periodic:job", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.RunOnce(context.Background(), "job"))
	require.Zero(t, runs.Load())

	require.NoError(t, locks.Release(context.Background(), held))
	require.NoError(t, s.RunOnce(context.Background(), "job"))
	require.Equal(t, int32(1), runs.Load())
}

func TestAddValidates(t *testing.T) {
	s := New(newLocks(t), nil)
	noop := func(context.Context) error { return nil }
	require.ErrorIs(t, s.Add(Job{Every: time.Minute, Run: noop}), util.ErrValidation)
	require.ErrorIs(t, s.Add(Job{Name: "fast", Every: time.Millisecond, Run: noop}), util.ErrValidation)
	require.ErrorIs(t, s.Add(Job{Name: "empty", Every: time.Minute}), util.ErrValidation)
	require.NoError(t, s.Add(Job{Name: "ok", Every: time.Minute, Run: noop}))
	require.ErrorIs(t, s.Add(Job{Name: "ok", Every: time.Minute, Run: noop}), util.ErrConflict)
}

func TestStartRunsOnSchedule(t *testing.T) {
	s := New(newLocks(t), nil)
	var runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "tick", Every: time.Second, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))
	s.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(1500 * time.Millisecond)
	require.Equal(t, after, runs.Load())
}

type countingUploader struct{ n atomic.Int32 }

func (c *countingUploader) Upload(ctx context.Context, req documents.UploadRequest) ([]models.Document, error) {
	c.n.Add(1)
	return []models.Document{{ID: req.Label}}, nil
}

func TestSourceJobUsesSourceLock(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	locks := newLocks(t)
	up := &countingUploader{}
	src := sources.NewWatch(sources.Config{ID: "scans", Kind: sources.KindWatch, TypeID: "t", Path: dir, Interval: time.Minute})
	job := SourceJob(sources.NewIngestor(up, locks, nil), src)
	require.Equal(t, "source:scans", job.lockName())

	s := New(locks, nil)
	require.NoError(t, s.Add(job))

	held, err := locks.Acquire(context.Background(), sources.LockName("scans"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.RunOnce(context.Background(), job.Name))
	require.Zero(t, up.n.Load())

	require.NoError(t, locks.Release(context.Background(), held))
	require.NoError(t, s.RunOnce(context.Background(), job.Name))
	require.Equal(t, int32(1), up.n.Load())
	_, err = os.Stat(filepath.Join(dir, "a.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
