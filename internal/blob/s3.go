package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"docflow/internal/util"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// S3Store keeps blobs as objects named by checksum in one bucket.
type S3Store struct {
	client *minio.Client
	bucket string
	codec  Codec
	log    *slog.Logger
}

func NewS3Store(ctx context.Context, cfg S3Config, c Codec, logger *slog.Logger) (*S3Store, error) {
	if c == nil {
		c = Plain{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		logger.Warn("s3 bucket check failed", "bucket", cfg.Bucket, "error", err)
	} else if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("created s3 bucket", "bucket", cfg.Bucket)
	}
	return &S3Store{client: client, bucket: cfg.Bucket, codec: c, log: logger}, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// Put spools to a local temp file because the object key is only known
// once the stream has been hashed.
func (s *S3Store) Put(ctx context.Context, r io.Reader) (string, int64, error) {
	tmp, checksum, size, err := stage(os.TempDir(), s.codec, r)
	if err != nil {
		return "", 0, err
	}
	defer os.Remove(tmp)

	if ok, err := s.Exists(ctx, checksum); err == nil && ok {
		return checksum, size, nil
	}
	_, err = s.client.FPutObject(ctx, s.bucket, checksum, tmp, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{"codec": s.codec.Name()},
	})
	if err != nil {
		return "", 0, fmt.Errorf("upload blob %s: %w", checksum, err)
	}
	return checksum, size, nil
}

type s3Blob struct {
	io.ReadCloser
	obj *minio.Object
}

func (b *s3Blob) Close() error {
	err := b.ReadCloser.Close()
	if cerr := b.obj.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *S3Store) Open(ctx context.Context, checksum string) (io.ReadCloser, error) {
	if err := checkKey(checksum); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, checksum, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", checksum, err)
	}
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("blob %s: %w", checksum, util.ErrNotFound)
		}
		return nil, fmt.Errorf("stat blob %s: %w", checksum, err)
	}
	rc, err := s.codec.Decode(obj, st.Size)
	if err != nil {
		_ = obj.Close()
		return nil, err
	}
	return &s3Blob{ReadCloser: rc, obj: obj}, nil
}

func (s *S3Store) Exists(ctx context.Context, checksum string) (bool, error) {
	if err := checkKey(checksum); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, checksum, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob %s: %w", checksum, err)
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, checksum string) error {
	if err := checkKey(checksum); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, checksum, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete blob %s: %w", checksum, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context) ([]string, error) {
	out := make([]string, 0)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list blobs: %w", obj.Err)
		}
		if util.IsSHA256Hex(obj.Key) {
			out = append(out, obj.Key)
		}
	}
	return out, nil
}
