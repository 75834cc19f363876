package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"docflow/internal/util"
)

// FileStore keeps blobs as files named by checksum directly under root.
type FileStore struct {
	root  string
	codec Codec
}

func NewFileStore(root string, c Codec) (*FileStore, error) {
	if c == nil {
		c = Plain{}
	}
	if err := util.EnsureDir(root); err != nil {
		return nil, err
	}
	return &FileStore{root: root, codec: c}, nil
}

func (s *FileStore) path(checksum string) string {
	return filepath.Join(s.root, checksum)
}

// stage encodes r into a temp file under root while hashing the plain
// bytes. The caller owns the returned temp path.
func stage(dir string, c Codec, r io.Reader) (tmpPath, checksum string, size int64, err error) {
	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return "", "", 0, fmt.Errorf("create temp blob: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	enc, err := c.Encode(tmp)
	if err != nil {
		return "", "", 0, err
	}
	h := sha256.New()
	size, err = io.Copy(enc, io.TeeReader(r, h))
	if err != nil {
		return "", "", 0, fmt.Errorf("write temp blob: %w", err)
	}
	if err = enc.Close(); err != nil {
		return "", "", 0, fmt.Errorf("finish %s blob: %w", c.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return "", "", 0, fmt.Errorf("sync temp blob: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", "", 0, fmt.Errorf("close temp blob: %w", err)
	}
	return tmp.Name(), hex.EncodeToString(h.Sum(nil)), size, nil
}

func (s *FileStore) Put(ctx context.Context, r io.Reader) (string, int64, error) {
	tmp, checksum, size, err := stage(s.root, s.codec, r)
	if err != nil {
		return "", 0, err
	}
	if _, err := os.Stat(s.path(checksum)); err == nil {
		_ = os.Remove(tmp)
		return checksum, size, nil
	}
	if err := os.Rename(tmp, s.path(checksum)); err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("commit blob %s: %w", checksum, err)
	}
	return checksum, size, nil
}

type fileBlob struct {
	io.ReadCloser
	f *os.File
}

func (b *fileBlob) Close() error {
	err := b.ReadCloser.Close()
	if cerr := b.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *FileStore) Open(ctx context.Context, checksum string) (io.ReadCloser, error) {
	if err := checkKey(checksum); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(checksum))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", checksum, util.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", checksum, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat blob %s: %w", checksum, err)
	}
	rc, err := s.codec.Decode(f, st.Size())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &fileBlob{ReadCloser: rc, f: f}, nil
}

func (s *FileStore) Exists(ctx context.Context, checksum string) (bool, error) {
	if err := checkKey(checksum); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(checksum))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob %s: %w", checksum, err)
	}
	return true, nil
}

func (s *FileStore) Delete(ctx context.Context, checksum string) error {
	if err := checkKey(checksum); err != nil {
		return err
	}
	err := os.Remove(s.path(checksum))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", checksum, err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !util.IsSHA256Hex(name) {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}
