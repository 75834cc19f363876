package blob

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docflow/internal/config"
	"docflow/internal/util"

	"github.com/stretchr/testify/require"
)

func codecs() []Codec { return []Codec{Plain{}, Zip{}, Zstd{}} }

func readAll(t *testing.T, s Store, checksum string) []byte {
	t.Helper()
	rc, err := s.Open(context.Background(), checksum)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}

func TestFileStoreRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("docflow blob payload\n"), 500)
	for _, c := range codecs() {
		t.Run(c.Name(), func(t *testing.T) {
			ctx := context.Background()
			s, err := NewFileStore(t.TempDir(), c)
			require.NoError(t, err)

			sum, size, err := s.Put(ctx, bytes.NewReader(payload))
			require.NoError(t, err)
			require.Equal(t, util.SHA256Hex(payload), sum)
			require.Equal(t, int64(len(payload)), size)

			ok, err := s.Exists(ctx, sum)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, payload, readAll(t, s, sum))

			// idempotent put
			again, _, err := s.Put(ctx, bytes.NewReader(payload))
			require.NoError(t, err)
			require.Equal(t, sum, again)

			listed, err := s.List(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{sum}, listed)

			require.NoError(t, s.Delete(ctx, sum))
			require.NoError(t, s.Delete(ctx, sum))
			ok, err = s.Exists(ctx, sum)
			require.NoError(t, err)
			require.False(t, ok)

			_, err = s.Open(ctx, sum)
			require.ErrorIs(t, err, util.ErrNotFound)
		})
	}
}

func TestCompressedBlobsAreSmallerOnDisk(t *testing.T) {
	ctx := context.Background()
	payload := []byte(strings.Repeat("aaaaaaaaaaaaaaaa", 4096))
	for _, c := range []Codec{Zip{}, Zstd{}} {
		root := t.TempDir()
		s, err := NewFileStore(root, c)
		require.NoError(t, err)
		sum, _, err := s.Put(ctx, bytes.NewReader(payload))
		require.NoError(t, err)

		st, err := os.Stat(filepath.Join(root, sum))
		require.NoError(t, err)
		require.Less(t, st.Size(), int64(len(payload)), c.Name())
	}
}

func TestZipBlobHoldsSingleEntry(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFileStore(root, Zip{})
	require.NoError(t, err)
	sum, _, err := s.Put(ctx, strings.NewReader("hello"))
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(root, sum))
	require.NoError(t, err)
	defer f.Close()
	st, err := f.Stat()
	require.NoError(t, err)

	rc, err := Zip{}.Decode(f, st.Size())
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "hello", string(b))
}

func TestRejectsMalformedKeys(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = s.Open(ctx, "../etc/passwd")
	require.ErrorIs(t, err, util.ErrValidation)
	_, err = s.Exists(ctx, "ABC")
	require.ErrorIs(t, err, util.ErrValidation)
}

func TestListSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFileStore(root, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, ".put-123"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	listed, err := s.List(ctx)
	require.NoError(t, err)
	require.Empty(t, listed)
}

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{StorageBackend: "file", StorageLocation: t.TempDir(), StorageCompression: "zstd"}
	s, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	fs, ok := s.(*FileStore)
	require.True(t, ok)
	require.Equal(t, "zstd", fs.codec.Name())

	cfg.StorageCompression = "lz4"
	_, err = New(ctx, cfg, nil)
	require.Error(t, err)
}
