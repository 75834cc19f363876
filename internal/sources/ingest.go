package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"docflow/internal/documents"
	"docflow/internal/events"
	"docflow/internal/lock"
	"docflow/internal/models"
	"docflow/internal/util"
)

type Uploader interface {
	Upload(ctx context.Context, req documents.UploadRequest) ([]models.Document, error)
}

// Report summarizes one ingestion run.
type Report struct {
	Items     int
	Documents []models.Document
	Failed    int
	// Skipped is set when another worker held the source lock.
	Skipped bool
}

type Ingestor struct {
	uploader Uploader
	locks    lock.Manager
	log      *slog.Logger
}

func NewIngestor(u Uploader, locks lock.Manager, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{uploader: u, locks: locks, log: logger.With("component", "sources")}
}

func LockName(sourceID string) string { return "source:" + sourceID }

// Poll runs one pass of a polled source under its lock, with the interval
// as the lock timeout. A pass already running elsewhere is skipped.
func (in *Ingestor) Poll(ctx context.Context, src Source) (Report, error) {
	cfg := src.Config()
	var rep Report
	err := lock.With(ctx, in.locks, LockName(cfg.ID), cfg.Interval, func(ctx context.Context) error {
		var err error
		rep, err = in.Ingest(ctx, src)
		return err
	})
	if errors.Is(err, util.ErrLockUnavailable) {
		in.log.Debug("source busy", "source", cfg.ID)
		return Report{Skipped: true}, nil
	}
	return rep, err
}

// Ingest uploads every item the source offers. An item that fails is
// logged and left with its source for the next pass.
func (in *Ingestor) Ingest(ctx context.Context, src Source) (Report, error) {
	cfg := src.Config()
	if events.ActorFrom(ctx) == "" {
		ctx = events.WithActor(ctx, LockName(cfg.ID))
	}
	items, err := src.Items(ctx)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Items: len(items)}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		docs, err := in.upload(ctx, cfg, item)
		if err != nil {
			rep.Failed++
			in.log.Warn("ingest failed", "source", cfg.ID, "item", item.Ref, "error", err)
			continue
		}
		rep.Documents = append(rep.Documents, docs...)
		if err := src.Done(ctx, item); err != nil {
			in.log.Warn("source cleanup failed", "source", cfg.ID, "item", item.Ref, "error", err)
		}
	}
	if f, ok := src.(Finisher); ok {
		if err := f.Finish(ctx); err != nil {
			return rep, err
		}
	}
	if len(items) > 0 {
		in.log.Info("source ingested", "source", cfg.ID, "items", rep.Items, "documents", len(rep.Documents), "failed", rep.Failed)
	}
	return rep, nil
}

func (in *Ingestor) upload(ctx context.Context, cfg Config, item Item) ([]models.Document, error) {
	rc, err := item.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", item.Ref, err)
	}
	defer rc.Close()
	return in.uploader.Upload(ctx, documents.UploadRequest{
		TypeID:   cfg.TypeID,
		Label:    item.Label,
		Metadata: item.Metadata,
		Policy:   cfg.Policy(),
		Expand:   item.Expand,
		Comment:  "source " + cfg.ID,
		// the item stays with its source and comes back next poll
		DropFailedStub: true,
		Body:           rc,
	})
}
