// Package events carries the notifications the core publishes after its
// transactions commit.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"docflow/internal/models"
)

// Event names its target by kind and id. ActionObject is optional, e.g. the
// version that was uploaded to a document.
type Event struct {
	Kind         string    `json:"kind"`
	Actor        string    `json:"actor,omitempty"`
	ActionObject string    `json:"action_object,omitempty"`
	Target       string    `json:"target"`
	At           time.Time `json:"at"`
}

// Kinds lists every event the core emits.
func Kinds() []string {
	out := []string{
		models.EventDocumentCreate,
		models.EventVersionUpload,
		models.EventDocumentTypeChange,
		models.EventDocumentTrash,
		models.EventDocumentRestore,
		models.EventDocumentDelete,
	}
	for _, f := range models.Families() {
		out = append(out, models.SubmitEvent(f), models.FinishEvent(f))
	}
	return out
}

type Handler func(ctx context.Context, e Event)

type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Bus fans events out to handlers synchronously, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	log      *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{log: logger}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	b.log.Debug("event", "kind", e.Kind, "target", e.Target, "action_object", e.ActionObject)
	for _, h := range hs {
		h(ctx, e)
	}
}

// Recorder keeps every event it sees. Tests subscribe one to a Bus.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Handle(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the recorded kinds, optionally only those naming target.
func (r *Recorder) Kinds(target string) []string {
	out := []string{}
	for _, e := range r.Events() {
		if target == "" || e.Target == target {
			out = append(out, e.Kind)
		}
	}
	return out
}

func (r *Recorder) Count(kind string) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type actorKey struct{}

// WithActor tags ctx with the user on whose behalf events are emitted.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) string {
	a, _ := ctx.Value(actorKey{}).(string)
	return a
}
