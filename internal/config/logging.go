package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger builds the process logger: tint on a console, JSON otherwise.
func NewLogger(c Config) *slog.Logger {
	return NewLoggerTo(os.Stderr, c)
}

func NewLoggerTo(w io.Writer, c Config) *slog.Logger {
	level := ParseLevel(c.LogLevel)
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		AddSource:  level == slog.LevelDebug,
		NoColor:    w != os.Stderr,
	}))
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogWithLogger logs the resolved settings, masking secrets.
func LogWithLogger(c Config, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: storage", "backend", c.StorageBackend, "compression", c.StorageCompression)
	switch c.StorageBackend {
	case "s3":
		logger.InfoContext(ctx, "Config: storage.s3", "endpoint", c.S3Endpoint, "bucket", c.S3Bucket, "access_key", mask(c.S3AccessKey), "secret_key", mask(c.S3SecretKey))
	default:
		logger.InfoContext(ctx, "Config: storage.location", "value", c.StorageLocation)
	}
	switch c.DatabaseBackend {
	case "badger":
		logger.InfoContext(ctx, "Config: database", "backend", c.DatabaseBackend, "path", c.BadgerPath)
	default:
		logger.InfoContext(ctx, "Config: database", "backend", c.DatabaseBackend)
	}
	logger.InfoContext(ctx, "Config: lock", "backend", c.LockBackend, "default_timeout", c.LockDefaultTimeout)
	logger.InfoContext(ctx, "Config: scheduler", "value", c.Scheduler, "workers", c.ExtractionWorkers, "delay", c.DBSyncTaskDelay)
	if c.Scheduler == "temporal" {
		logger.InfoContext(ctx, "Config: temporal", "address", c.TemporalAddress, "namespace", c.TemporalNamespace, "task_queue", c.TemporalTaskQueue)
	}
	logger.InfoContext(ctx, "Config: extraction", "parsers", c.ParserNames(), "ocr_backend", c.OCRBackend, "auto_ocr", c.AutoOCR)
	if c.EventsRedisAddr != "" {
		logger.InfoContext(ctx, "Config: events.redis", "addr", c.EventsRedisAddr, "prefix", c.EventsTopicPrefix)
	}
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
