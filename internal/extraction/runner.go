// Package extraction runs parse and OCR jobs per document version. A job
// holds the lock extract:{family}:{version} for its whole run, so two
// submissions of one version collapse into a single backend invocation.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docflow/internal/events"
	"docflow/internal/lock"
	"docflow/internal/models"
	"docflow/internal/parsing"
	"docflow/internal/util"

	"github.com/google/uuid"
)

// Store is the part of the document model a job reads and records into.
type Store interface {
	GetVersion(ctx context.Context, id string) (models.DocumentVersion, error)
	GetDocument(ctx context.Context, id string) (models.Document, error)
	AddExtractionError(ctx context.Context, e models.VersionExtractionError) error
	ClearExtractionErrors(ctx context.Context, versionID, family string) error
}

// Dispatcher is a per-family backend registry.
type Dispatcher interface {
	Dispatch(ctx context.Context, job parsing.Job) error
}

type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeLocked  Outcome = "locked"
	OutcomeMissing Outcome = "missing"
	OutcomeFailed  Outcome = "failed"
)

// TimeoutResult is recorded when a job outlives its queue timeout.
const TimeoutResult = "timeout"

func LockName(family, versionID string) string {
	return "extract:" + family + ":" + versionID
}

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.InitialInterval
	for i := 1; i < attempt && d < p.MaxInterval; i++ {
		d *= 2
	}
	return min(d, p.MaxInterval)
}

var DefaultRetry = RetryPolicy{InitialInterval: time.Second, MaxInterval: 30 * time.Second, MaxAttempts: 5}

type Runner struct {
	store    Store
	dispatch map[string]Dispatcher
	locks    lock.Manager
	events   events.Publisher
	lockTTL  time.Duration
	timeout  time.Duration
	retry    RetryPolicy
	log      *slog.Logger
	Now      func() time.Time
}

type RunnerOptions struct {
	LockTTL time.Duration
	// Timeout bounds one job including its retries. Zero means no limit.
	Timeout time.Duration
	Retry   RetryPolicy
}

func NewRunner(store Store, registries parsing.Registries, locks lock.Manager, pub events.Publisher, opts RunnerOptions, logger *slog.Logger) *Runner {
	d := make(map[string]Dispatcher, len(registries))
	for family, r := range registries {
		d[family] = r
	}
	return newRunner(store, d, locks, pub, opts, logger)
}

func newRunner(store Store, d map[string]Dispatcher, locks lock.Manager, pub events.Publisher, opts RunnerOptions, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetry
	}
	return &Runner{
		store:    store,
		dispatch: d,
		locks:    locks,
		events:   pub,
		lockTTL:  opts.LockTTL,
		timeout:  opts.Timeout,
		retry:    opts.Retry,
		log:      logger,
		Now:      time.Now,
	}
}

func (r *Runner) Families() []string {
	out := make([]string, 0, len(r.dispatch))
	for _, f := range models.Families() {
		if _, ok := r.dispatch[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Attempt runs one try of a job. A lock held by another worker and a
// version deleted while queued both end the job without error. A failure
// is recorded against the version and returned.
func (r *Runner) Attempt(ctx context.Context, family, versionID string) (Outcome, error) {
	d, ok := r.dispatch[family]
	if !ok {
		return OutcomeFailed, fmt.Errorf("unknown extraction family %q", family)
	}
	log := r.log.With("family", family, "version_id", versionID)

	l, err := r.locks.Acquire(ctx, LockName(family, versionID), r.lockTTL)
	if errors.Is(err, util.ErrLockUnavailable) {
		log.Info("extraction already running elsewhere")
		return OutcomeLocked, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}
	defer func() {
		if err := r.locks.Release(context.WithoutCancel(ctx), l); err != nil {
			log.Warn("release extraction lock", "error", err)
		}
	}()

	v, err := r.store.GetVersion(ctx, versionID)
	if errors.Is(err, util.ErrNotFound) {
		log.Info("version deleted before extraction")
		return OutcomeMissing, nil
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load version: %w", err)
	}
	lang := ""
	if doc, err := r.store.GetDocument(ctx, v.DocumentID); err == nil {
		lang = doc.Language
	}

	if err := d.Dispatch(ctx, parsing.Job{Version: v, Language: lang}); err != nil {
		log.Warn("extraction failed", "error", err)
		// the scheduler that owns the deadline records timeouts
		if !util.IsTimeout(ctx, err) {
			r.RecordError(context.WithoutCancel(ctx), family, versionID, err.Error())
		}
		return OutcomeFailed, err
	}
	// a version that extracted cleanly carries no error rows of any family
	if err := r.store.ClearExtractionErrors(ctx, versionID, ""); err != nil {
		return OutcomeFailed, fmt.Errorf("clear extraction errors: %w", err)
	}
	r.events.Publish(ctx, events.Event{
		Kind:   models.FinishEvent(family),
		Target: versionID,
		At:     r.Now().UTC(),
	})
	return OutcomeDone, nil
}

// RecordError appends one VersionExtractionError row.
func (r *Runner) RecordError(ctx context.Context, family, versionID, result string) {
	err := r.store.AddExtractionError(ctx, models.VersionExtractionError{
		ID:          uuid.NewString(),
		VersionID:   versionID,
		Family:      family,
		SubmittedAt: r.Now().UTC(),
		Result:      result,
	})
	if err != nil && !errors.Is(err, util.ErrNotFound) {
		r.log.Error("record extraction error", "family", family, "version_id", versionID, "error", err)
	}
}

// Run attempts a job until it succeeds, fails terminally or runs out of
// attempts, backing off between transient failures.
func (r *Runner) Run(ctx context.Context, family, versionID string) (Outcome, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	for attempt := 1; ; attempt++ {
		out, err := r.Attempt(ctx, family, versionID)
		if err != nil && util.IsTimeout(ctx, err) {
			r.RecordError(context.WithoutCancel(ctx), family, versionID, TimeoutResult)
			return out, err
		}
		if err == nil || !util.IsTransient(err) || attempt >= r.retry.MaxAttempts {
			return out, err
		}
		wait := r.retry.backoff(attempt)
		r.log.Info("retrying extraction", "family", family, "version_id", versionID, "attempt", attempt, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			if util.IsTimeout(ctx, ctx.Err()) {
				r.RecordError(context.WithoutCancel(ctx), family, versionID, TimeoutResult)
			}
			return OutcomeFailed, ctx.Err()
		case <-time.After(wait):
		}
	}
}
