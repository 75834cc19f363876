package workflows

import (
	"time"

	"docflow/internal/activities"
	"docflow/internal/extraction"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const QueryGetExtractionStatus = "GetExtractionStatus"

const (
	defaultTimeout     = 10 * time.Minute
	defaultMaxAttempts = 5
)

// ExtractVersionWorkflow runs one extraction job. The activity retries
// transient failures under the retry policy; the schedule-to-close timeout
// is the queue-level timeout of the job.
func ExtractVersionWorkflow(ctx workflow.Context, input ExtractVersionInput) (string, error) {
	status := ExtractionStatus{
		Family:    input.Family,
		VersionID: input.VersionID,
		State:     "running",
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetExtractionStatus, func() (ExtractionStatus, error) {
		return status, nil
	}); err != nil {
		return "", err
	}
	logger := workflow.GetLogger(ctx)

	timeout := durationOrDefault(input.TimeoutSeconds, defaultTimeout)
	ao := workflow.ActivityOptions{
		ScheduleToCloseTimeout: timeout,
		StartToCloseTimeout:    timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        int32(defaultCount(input.MaxAttempts, defaultMaxAttempts)),
			NonRetryableErrorTypes: []string{activities.ErrTypeExtractionFailed},
		},
	}
	actx := workflow.WithActivityOptions(ctx, ao)

	var out activities.ExtractVersionOutput
	err := workflow.ExecuteActivity(actx, "ExtractVersionActivity", activities.ExtractVersionInput{
		Family:    input.Family,
		VersionID: input.VersionID,
	}).Get(actx, &out)
	switch {
	case err == nil:
		status.State = out.Outcome
		status.Attempts = out.Attempt
		return out.Outcome, nil
	case temporal.IsTimeoutError(err):
		status.State = extraction.TimeoutResult
		rctx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: 30 * time.Second,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
		})
		if rerr := workflow.ExecuteActivity(rctx, "RecordExtractionErrorActivity", activities.RecordExtractionErrorInput{
			Family:    input.Family,
			VersionID: input.VersionID,
			Result:    extraction.TimeoutResult,
		}).Get(rctx, nil); rerr != nil {
			logger.Error("record extraction timeout failed", "version_id", input.VersionID, "error", rerr)
		}
		return extraction.TimeoutResult, nil
	default:
		// the activity has already recorded the failure on the version
		status.State = string(extraction.OutcomeFailed)
		status.FailReason = err.Error()
		logger.Warn("extraction failed", "family", input.Family, "version_id", input.VersionID, "error", err)
		return string(extraction.OutcomeFailed), nil
	}
}

// WorkflowID is stable per (family, version), so a second submission of a
// job that has not finished attaches to the running one.
func WorkflowID(family, versionID string) string {
	return "extract-" + family + "-" + versionID
}

// TaskQueue gives every family its own queue so OCR never starves parsing.
func TaskQueue(prefix, family string) string {
	return prefix + "-" + family
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func defaultCount(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}
