// Package blob stores version payloads keyed by the lowercase hex SHA-256 of
// their uncompressed bytes. Writes are idempotent: the key is a function of
// the content, so two writers of one checksum store identical bytes.
package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"docflow/internal/config"
	"docflow/internal/util"
)

type Store interface {
	Put(ctx context.Context, r io.Reader) (checksum string, size int64, err error)
	Open(ctx context.Context, checksum string) (io.ReadCloser, error)
	Exists(ctx context.Context, checksum string) (bool, error)
	// Delete is a no-op for a missing checksum.
	Delete(ctx context.Context, checksum string) error
	List(ctx context.Context) ([]string, error)
}

func checkKey(checksum string) error {
	if !util.IsSHA256Hex(checksum) {
		return fmt.Errorf("blob key %q: %w", checksum, util.NewValidationError("checksum", "not a sha256 hex digest"))
	}
	return nil
}

// New builds the store selected by cfg.StorageBackend wrapped in the codec
// named by cfg.StorageCompression.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error) {
	c, err := codecFor(cfg.StorageCompression)
	if err != nil {
		return nil, err
	}
	switch cfg.StorageBackend {
	case "file":
		return NewFileStore(cfg.StorageLocation, c)
	case "s3":
		return NewS3Store(ctx, S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		}, c, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
