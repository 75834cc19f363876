package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type envelope struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Event
}

// RedisRelay forwards events to Redis channels named {prefix}.{kind}.
// Failures are logged; a relay never fails the operation that emitted.
type RedisRelay struct {
	rdb    redis.UniversalClient
	prefix string
	log    *slog.Logger
}

func NewRedisRelay(rdb redis.UniversalClient, prefix string, logger *slog.Logger) *RedisRelay {
	if prefix == "" {
		prefix = "docflow"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{rdb: rdb, prefix: prefix, log: logger}
}

func (r *RedisRelay) Channel(kind string) string {
	return r.prefix + "." + kind
}

func (r *RedisRelay) Handle(ctx context.Context, e Event) {
	payload, err := json.Marshal(envelope{ID: uuid.NewString(), Source: "docflow", Event: e})
	if err != nil {
		r.log.Error("marshal event failed", "kind", e.Kind, "error", err)
		return
	}
	channel := r.Channel(e.Kind)
	if err := r.rdb.Publish(context.WithoutCancel(ctx), channel, payload).Err(); err != nil {
		r.log.Warn("publish event failed", "channel", channel, "error", err)
		return
	}
}
