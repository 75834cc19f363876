// Package app assembles the services of one docflow process from its
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"docflow/internal/activities"
	"docflow/internal/blob"
	"docflow/internal/config"
	"docflow/internal/documents"
	"docflow/internal/events"
	"docflow/internal/extraction"
	"docflow/internal/indexing"
	"docflow/internal/lock"
	"docflow/internal/parsing"
	"docflow/internal/periodic"
	"docflow/internal/search"
	"docflow/internal/sources"
	"docflow/internal/storage"
	"docflow/internal/storage/kvstore"
	"docflow/internal/util"
	"docflow/internal/workflows"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
)

type App struct {
	Config config.Config
	Log    *slog.Logger

	Store     storage.Store
	Blobs     blob.Store
	Locks     lock.Manager
	Bus       *events.Bus
	Documents *documents.Service
	Indexes   *indexing.Engine
	Search    *search.Searcher
	Runner    *extraction.Runner
	Ingestor  *sources.Ingestor
	Sources   []sources.Config
	Periodic  *periodic.Scheduler

	// Exactly one of Local and Temporal is set, following cfg.Scheduler.
	Local    *extraction.Local
	Temporal client.Client

	closers []func() error
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (a *App, err error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = config.NewLogger(cfg)
	}
	a = &App{Config: cfg, Log: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var pg *storage.Postgres
	if a.Store, pg, err = openStore(ctx, cfg, logger); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)

	if a.Blobs, err = blob.New(ctx, cfg, logger); err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}
	if a.Locks, err = lock.New(cfg, a.Store, logger); err != nil {
		return nil, err
	}

	a.Bus = events.NewBus(logger)
	if cfg.EventsRedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.EventsRedisAddr})
		a.closers = append(a.closers, rdb.Close)
		a.Bus.Subscribe(events.NewRedisRelay(rdb, cfg.EventsTopicPrefix, logger).Handle)
	}

	registries, err := parsing.NewRegistries(cfg, a.Store, a.Blobs, logger)
	if err != nil {
		return nil, err
	}
	a.Runner = extraction.NewRunner(a.Store, registries, a.Locks, a.Bus, extraction.RunnerOptions{
		LockTTL: cfg.ExtractionLockTimeout,
		Timeout: cfg.ExtractionTimeout,
		Retry: extraction.RetryPolicy{
			InitialInterval: extraction.DefaultRetry.InitialInterval,
			MaxInterval:     extraction.DefaultRetry.MaxInterval,
			MaxAttempts:     cfg.ExtractionMaxAttempts,
		},
	}, logger)

	var submitter documents.Submitter
	switch cfg.Scheduler {
	case "temporal":
		if a.Temporal, err = dialTemporal(cfg, logger); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { a.Temporal.Close(); return nil })
		submitter = workflows.NewScheduler(a.Temporal, a.Bus, workflows.SchedulerOptions{
			QueuePrefix: cfg.TemporalTaskQueue,
			Families:    a.Runner.Families(),
			Delay:       cfg.DBSyncTaskDelay,
			Timeout:     cfg.ExtractionTimeout,
			MaxAttempts: cfg.ExtractionMaxAttempts,
		}, logger)
	default:
		a.Local = extraction.NewLocal(a.Runner, a.Bus, extraction.LocalOptions{
			Delay:   cfg.DBSyncTaskDelay,
			Workers: cfg.ExtractionWorkers,
		}, logger)
		submitter = a.Local
	}

	a.Indexes = indexing.NewEngine(a.Store, a.Locks, indexing.Options{LockTTL: cfg.LockDefaultTimeout}, logger)
	a.Documents = documents.NewService(documents.Deps{
		Store:     a.Store,
		Blobs:     a.Blobs,
		Locks:     a.Locks,
		Events:    a.Bus,
		Indexer:   a.Indexes,
		Submitter: submitter,
		Logger:    logger,
	}, documents.Options{
		UploadLockTimeout: cfg.UploadLockTimeout,
		DefaultLanguage:   cfg.DefaultLanguage,
		AutoOCR:           cfg.AutoOCR,
	})

	var matcher search.Matcher
	if pg != nil {
		matcher = search.NewPostgresMatcher(pg.DB())
	} else {
		scan, ok := a.Store.(search.ScanStore)
		if !ok {
			return nil, errors.New("store supports neither SQL nor scan search")
		}
		matcher = search.NewScanMatcher(scan)
	}
	a.Search = search.NewSearcher(search.NewDefaultRegistry(), matcher, a.Store, cfg.SearchLimit)

	a.Ingestor = sources.NewIngestor(a.Documents, a.Locks, logger)
	if cfg.SourcesFile != "" {
		if a.Sources, err = sources.LoadFile(cfg.SourcesFile); err != nil {
			return nil, err
		}
	}
	for i := range a.Sources {
		if a.Sources[i].Uncompress == "" {
			a.Sources[i].Uncompress = cfg.ArchivePolicy
		}
	}

	a.Periodic = periodic.New(a.Locks, logger)
	jobs := periodic.DocumentJobs(a.Documents, periodic.Intervals{
		Trash:   cfg.TrashSweepInterval,
		Delete:  cfg.DeleteSweepInterval,
		Orphans: cfg.OrphanSweepInterval,
	}, nil, logger)
	for _, j := range jobs {
		if err := a.Periodic.Add(j); err != nil {
			return nil, err
		}
	}
	for _, c := range a.Sources {
		if !c.Enabled || !c.Polled() {
			continue
		}
		src, err := a.Source(c.ID)
		if err != nil {
			return nil, err
		}
		if err := a.Periodic.Add(periodic.SourceJob(a.Ingestor, src)); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, *storage.Postgres, error) {
	switch cfg.DatabaseBackend {
	case "badger":
		bl := logrus.New()
		bl.SetLevel(logrus.WarnLevel)
		s, err := kvstore.Open(kvstore.Config{Path: cfg.BadgerPath, Logger: bl})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	default:
		db, err := storage.NewDB(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("postgres schema ready")
		pg := storage.NewPostgres(db)
		return pg, pg, nil
	}
}

func dialTemporal(cfg config.Config, logger *slog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		Logger:    tlog.NewStructuredLogger(logger.With("component", "temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", cfg.TemporalAddress, err)
	}
	return c, nil
}

// Source builds a configured staging or polled source by id.
func (a *App) Source(id string) (sources.Source, error) {
	for _, c := range a.Sources {
		if c.ID != id {
			continue
		}
		src, err := sources.New(c)
		if err != nil {
			return nil, err
		}
		if m, ok := src.(*sources.MailSource); ok {
			m.WithLogger(a.Log.With("source", c.ID))
		}
		return src, nil
	}
	return nil, fmt.Errorf("source %s: %w", id, util.ErrNotFound)
}

// Start runs the in-process background work: the local extraction queue
// and the periodic jobs.
func (a *App) Start(ctx context.Context) {
	if a.Local != nil {
		a.Local.Start(ctx)
	}
	a.Periodic.Start(ctx)
}

func (a *App) Stop() {
	a.Periodic.Stop()
	if a.Local != nil {
		a.Local.Stop()
	}
}

// Workers builds one Temporal worker per extraction family.
func (a *App) Workers() ([]worker.Worker, error) {
	if a.Temporal == nil {
		return nil, errors.New("workers need the temporal scheduler")
	}
	acts := activities.New(a.Runner, a.Log)
	return workflows.NewWorkers(a.Temporal, a.Config.TemporalTaskQueue, a.Runner.Families(), acts, worker.Options{}), nil
}

// Close releases what New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
