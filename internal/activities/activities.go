package activities

import (
	"context"
	"log/slog"

	"docflow/internal/extraction"
	"docflow/internal/util"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// ErrTypeExtractionFailed marks a failure no retry can fix.
const ErrTypeExtractionFailed = "ExtractionFailed"

type Activities struct {
	runner *extraction.Runner
	log    *slog.Logger
}

func New(runner *extraction.Runner, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{runner: runner, log: logger}
}

// ExtractVersionActivity is one attempt of a job. Transient failures are
// returned as they are so Temporal retries them; anything else is
// non-retryable.
func (a *Activities) ExtractVersionActivity(ctx context.Context, in ExtractVersionInput) (ExtractVersionOutput, error) {
	info := activity.GetInfo(ctx)
	out, err := a.runner.Attempt(ctx, in.Family, in.VersionID)
	if err == nil {
		return ExtractVersionOutput{Outcome: string(out), Attempt: info.Attempt}, nil
	}
	if util.IsTransient(err) || util.IsTimeout(ctx, err) {
		a.log.Info("extraction attempt failed, will retry", "family", in.Family, "version_id", in.VersionID, "attempt", info.Attempt, "error", err)
		return ExtractVersionOutput{}, err
	}
	return ExtractVersionOutput{}, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeExtractionFailed, err)
}

func (a *Activities) RecordExtractionErrorActivity(ctx context.Context, in RecordExtractionErrorInput) error {
	a.runner.RecordError(ctx, in.Family, in.VersionID, in.Result)
	return nil
}
