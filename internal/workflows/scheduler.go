package workflows

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"docflow/internal/activities"
	"docflow/internal/events"
	"docflow/internal/models"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Starter is the part of client.Client the scheduler needs.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

type SchedulerOptions struct {
	QueuePrefix string
	Families    []string
	Delay       time.Duration
	Timeout     time.Duration
	MaxAttempts int
}

// Scheduler submits extraction jobs as Temporal workflows, one task queue
// per family.
type Scheduler struct {
	client Starter
	opts   SchedulerOptions
	events events.Publisher
	log    *slog.Logger
}

func NewScheduler(c Starter, pub events.Publisher, opts SchedulerOptions, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueuePrefix == "" {
		opts.QueuePrefix = "docflow"
	}
	if len(opts.Families) == 0 {
		opts.Families = models.Families()
	}
	return &Scheduler{client: c, opts: opts, events: pub, log: logger.With("scheduler", "temporal")}
}

func (s *Scheduler) Submit(ctx context.Context, family, versionID string) error {
	if !slices.Contains(s.opts.Families, family) {
		return fmt.Errorf("unknown extraction family %q", family)
	}
	opts := client.StartWorkflowOptions{
		ID:                       WorkflowID(family, versionID),
		TaskQueue:                TaskQueue(s.opts.QueuePrefix, family),
		StartDelay:               s.opts.Delay,
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}
	in := ExtractVersionInput{
		Family:         family,
		VersionID:      versionID,
		TimeoutSeconds: int(s.opts.Timeout / time.Second),
		MaxAttempts:    s.opts.MaxAttempts,
	}
	if _, err := s.client.ExecuteWorkflow(ctx, opts, ExtractVersionWorkflow, in); err != nil {
		return fmt.Errorf("start %s: %w", opts.ID, err)
	}
	s.events.Publish(ctx, events.Event{Kind: models.SubmitEvent(family), Actor: events.ActorFrom(ctx), Target: versionID})
	s.log.Debug("extraction submitted", "workflow_id", opts.ID, "task_queue", opts.TaskQueue)
	return nil
}

// NewWorkers builds one worker per family queue, each carrying the
// extraction workflow and its activities.
func NewWorkers(c client.Client, prefix string, families []string, a *activities.Activities, opts worker.Options) []worker.Worker {
	out := make([]worker.Worker, 0, len(families))
	for _, f := range families {
		w := worker.New(c, TaskQueue(prefix, f), opts)
		Register(w)
		activities.Register(w, a)
		out = append(out, w)
	}
	return out
}
