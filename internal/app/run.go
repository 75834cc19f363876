package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"docflow/internal/api"
)

const shutdownGrace = 15 * time.Second

func (a *App) Handler() http.Handler {
	return api.NewServer(api.Deps{
		Documents: a.Documents,
		Indexes:   a.Indexes,
		Search:    a.Search,
		Ingestor:  a.Ingestor,
		Sources:   a.Sources,
		Logger:    a.Log,
	}).Routes()
}

// Serve runs the HTTP API together with the background work until ctx
// ends.
func Serve(ctx context.Context, a *App) error {
	srv := &http.Server{
		Addr:              a.Config.APIAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.Start(ctx)
	defer a.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.Log.Info("docflow api listening", "addr", a.Config.APIAddr, "scheduler", a.Config.Scheduler, "database", a.Config.DatabaseBackend)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	return nil
}

// RunWorkers serves the Temporal extraction queues, when that scheduler is
// configured, and the periodic jobs until ctx ends.
func RunWorkers(ctx context.Context, a *App) error {
	if a.Temporal != nil {
		ws, err := a.Workers()
		if err != nil {
			return err
		}
		for _, w := range ws {
			if err := w.Start(); err != nil {
				return fmt.Errorf("start worker: %w", err)
			}
			defer w.Stop()
		}
		a.Log.Info("docflow workers polling", "address", a.Config.TemporalAddress, "queue_prefix", a.Config.TemporalTaskQueue, "families", a.Runner.Families())
	} else {
		a.Log.Info("local scheduler: extraction runs in the process that accepts uploads")
	}
	a.Start(ctx)
	defer a.Stop()
	<-ctx.Done()
	return nil
}
