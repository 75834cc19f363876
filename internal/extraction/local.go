package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docflow/internal/events"
	"docflow/internal/models"
)

// Scheduler queues extraction jobs. Submit returns once the job is queued.
type Scheduler interface {
	Submit(ctx context.Context, family, versionID string) error
}

type job struct {
	family    string
	versionID string
}

// Local drains one in-process FIFO queue per family with a fixed pool of
// workers. A job already waiting in its queue absorbs later submissions of
// the same version.
type Local struct {
	runner  *Runner
	events  events.Publisher
	delay   time.Duration
	workers int
	log     *slog.Logger

	mu       sync.Mutex
	queues   map[string]chan job
	waiting  map[job]struct{}
	inflight int
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type LocalOptions struct {
	// Delay lets the submitting transaction become visible before a
	// worker picks the job up.
	Delay     time.Duration
	Workers   int
	QueueSize int
}

func NewLocal(runner *Runner, pub events.Publisher, opts LocalOptions, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	l := &Local{
		runner:  runner,
		events:  pub,
		delay:   opts.Delay,
		workers: opts.Workers,
		log:     logger.With("scheduler", "local"),
		queues:  map[string]chan job{},
		waiting: map[job]struct{}{},
	}
	for _, f := range runner.Families() {
		l.queues[f] = make(chan job, opts.QueueSize)
	}
	return l
}

// Start launches the workers. They stop when ctx is cancelled or Stop is
// called.
func (l *Local) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	l.ctx, l.cancel = context.WithCancel(ctx)
	for family, q := range l.queues {
		for i := 0; i < l.workers; i++ {
			l.wg.Add(1)
			go l.work(family, q)
		}
	}
	l.log.Info("extraction workers started", "families", len(l.queues), "workers", l.workers)
}

func (l *Local) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

func (l *Local) Submit(ctx context.Context, family, versionID string) error {
	q, ok := l.queues[family]
	if !ok {
		return fmt.Errorf("unknown extraction family %q", family)
	}
	j := job{family: family, versionID: versionID}

	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return fmt.Errorf("submit %s: scheduler not started", family)
	}
	_, dup := l.waiting[j]
	if !dup {
		l.waiting[j] = struct{}{}
		l.inflight++
	}
	runCtx := l.ctx
	l.mu.Unlock()

	l.events.Publish(ctx, events.Event{Kind: models.SubmitEvent(family), Actor: events.ActorFrom(ctx), Target: versionID})
	if dup {
		l.log.Debug("job already queued", "family", family, "version_id", versionID)
		return nil
	}

	enqueue := func() {
		select {
		case q <- j:
		case <-runCtx.Done():
			l.finish(j, true)
		}
	}
	if l.delay <= 0 {
		go enqueue()
		return nil
	}
	time.AfterFunc(l.delay, enqueue)
	return nil
}

func (l *Local) work(family string, q chan job) {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case j := <-q:
			l.mu.Lock()
			delete(l.waiting, j)
			l.mu.Unlock()
			out, err := l.runner.Run(l.ctx, j.family, j.versionID)
			if err != nil {
				l.log.Error("extraction job failed", "family", family, "version_id", j.versionID, "outcome", out, "error", err)
			}
			l.finish(j, false)
		}
	}
}

func (l *Local) finish(j job, dropped bool) {
	l.mu.Lock()
	if dropped {
		delete(l.waiting, j)
	}
	l.inflight--
	l.mu.Unlock()
}

// Drain waits until every submitted job has run.
func (l *Local) Drain(ctx context.Context) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		l.mu.Lock()
		n := l.inflight
		l.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
