// Package periodic runs housekeeping jobs on fixed intervals. Every run
// holds a lock so that only one worker of a deployment executes a job at a
// time; a run that finds the lock taken is skipped.
package periodic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"docflow/internal/lock"
	"docflow/internal/sources"
	"docflow/internal/util"

	"github.com/robfig/cron"
)

type Job struct {
	Name  string
	Every time.Duration
	// Lock overrides the default periodic:{name} lock.
	Lock string
	Run  func(ctx context.Context) error
}

func (j Job) lockName() string {
	if j.Lock != "" {
		return j.Lock
	}
	return "periodic:" + j.Name
}

type Scheduler struct {
	locks lock.Manager
	log   *slog.Logger
	cron  *cron.Cron

	mu      sync.Mutex
	jobs    map[string]Job
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

func New(locks lock.Manager, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		locks: locks,
		log:   logger.With("component", "periodic"),
		cron:  cron.New(),
		jobs:  map[string]Job{},
	}
}

func (s *Scheduler) Add(j Job) error {
	if j.Name == "" {
		return util.NewValidationError("name", "required")
	}
	if j.Every < time.Second {
		return util.NewValidationError("every", "job %s: interval must be at least 1s", j.Name)
	}
	if j.Run == nil {
		return util.NewValidationError("run", "job %s: required", j.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[j.Name]; dup {
		return fmt.Errorf("job %s: %w", j.Name, util.ErrConflict)
	}
	s.jobs[j.Name] = j
	return nil
}

func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RunOnce executes a job now under its lock. The run is bounded by the
// job interval.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s: %w", name, util.ErrNotFound)
	}
	return s.run(ctx, j)
}

func (s *Scheduler) run(ctx context.Context, j Job) error {
	ctx, cancel := context.WithTimeout(ctx, j.Every)
	defer cancel()
	start := time.Now()
	err := lock.With(ctx, s.locks, j.lockName(), j.Every, j.Run)
	switch {
	case errors.Is(err, util.ErrLockUnavailable):
		s.log.Debug("job already running elsewhere", "job", j.Name)
		return nil
	case err != nil:
		s.log.Error("job failed", "job", j.Name, "error", err, "elapsed", time.Since(start))
		return err
	}
	s.log.Debug("job done", "job", j.Name, "elapsed", time.Since(start))
	return nil
}

// Start schedules every registered job until ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		j := j
		s.cron.Schedule(cron.Every(j.Every), cron.FuncJob(func() {
			s.mu.Lock()
			if s.stopped {
				s.mu.Unlock()
				return
			}
			s.wg.Add(1)
			runCtx := s.ctx
			s.mu.Unlock()
			defer s.wg.Done()
			_ = s.run(runCtx, j)
		}))
	}
	s.cron.Start()
	s.log.Info("periodic jobs started", "jobs", len(s.jobs))
}

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.mu.Lock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

type Sweeper interface {
	SweepTrash(ctx context.Context, now time.Time) (int, error)
	SweepDeleted(ctx context.Context, now time.Time) (int, error)
	CollectOrphanBlobs(ctx context.Context) (int, error)
}

type Intervals struct {
	Trash   time.Duration
	Delete  time.Duration
	Orphans time.Duration
}

const (
	JobTrashSweep  = "trash-sweep"
	JobDeleteSweep = "delete-sweep"
	JobOrphanBlobs = "orphan-blobs"
)

// DocumentJobs are the lifecycle sweeps of the document model.
func DocumentJobs(sw Sweeper, iv Intervals, now func() time.Time, logger *slog.Logger) []Job {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	counted := func(name string, fn func(ctx context.Context) (int, error)) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			n, err := fn(ctx)
			if n > 0 {
				logger.Info("sweep", "job", name, "count", n)
			}
			return err
		}
	}
	return []Job{
		{Name: JobTrashSweep, Every: iv.Trash, Run: counted(JobTrashSweep, func(ctx context.Context) (int, error) {
			return sw.SweepTrash(ctx, now())
		})},
		{Name: JobDeleteSweep, Every: iv.Delete, Run: counted(JobDeleteSweep, func(ctx context.Context) (int, error) {
			return sw.SweepDeleted(ctx, now())
		})},
		{Name: JobOrphanBlobs, Every: iv.Orphans, Run: counted(JobOrphanBlobs, sw.CollectOrphanBlobs)},
	}
}

// SourceJob polls one source. It is guarded by the source lock so that a
// manual ingestion and the schedule never overlap.
func SourceJob(in *sources.Ingestor, src sources.Source) Job {
	cfg := src.Config()
	return Job{
		Name:  "source-" + cfg.ID,
		Every: cfg.Interval,
		Lock:  sources.LockName(cfg.ID),
		Run: func(ctx context.Context) error {
			_, err := in.Ingest(ctx, src)
			return err
		},
	}
}
