package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docflow/internal/config"
	"docflow/internal/documents"
	"docflow/internal/periodic"
	"docflow/internal/util"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	chdir(t, t.TempDir())
	cfg, err := config.Load()
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.DatabaseBackend = "badger"
	cfg.BadgerPath = filepath.Join(dir, "badger")
	cfg.StorageLocation = filepath.Join(dir, "blobs")
	cfg.LockFilePath = filepath.Join(dir, "locks.json")
	cfg.OCRBackend = "noop"
	cfg.Parsers = "text"
	cfg.DBSyncTaskDelay = 0
	return cfg
}

func TestSingleBinaryPipeline(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	require.NotNil(t, a.Local)
	require.Nil(t, a.Temporal)
	_, err = a.Workers()
	require.Error(t, err)

	a.Start(ctx)
	t.Cleanup(a.Stop)

	typ, err := a.Documents.CreateType(ctx, documents.TypeInput{Label: "Notes", AutoExtract: true})
	require.NoError(t, err)
	docs, err := a.Documents.Upload(ctx, documents.UploadRequest{
		TypeID: typ.ID,
		Label:  "shopping.txt",
		Body:   strings.NewReader("buy oat milk and lentils"),
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	drain, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, a.Local.Drain(drain))

	hits, err := a.Search.Simple(ctx, "lentils")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, docs[0].ID, hits[0].ID)
	require.Contains(t, hits[0].Snippet, "lentils")

	require.Equal(t, []string{periodic.JobDeleteSweep, periodic.JobOrphanBlobs, periodic.JobTrashSweep}, a.Periodic.Jobs())
	require.NoError(t, a.Periodic.RunOnce(ctx, periodic.JobOrphanBlobs))
}

func TestPolledSourcesBecomeJobs(t *testing.T) {
	cfg := testConfig(t)
	inbox := t.TempDir()
	cfg.SourcesFile = filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(cfg.SourcesFile, []byte(`
sources:
  - id: scans
    kind: watch
    enabled: true
    document_type: invoices
    path: `+inbox+`
    interval: 1m
  - id: paused
    kind: watch
    document_type: invoices
    path: `+inbox+`
    interval: 1m
  - id: desk
    kind: staging
    enabled: true
    document_type: invoices
    path: `+inbox+`
`), 0o644))

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.Contains(t, a.Periodic.Jobs(), "source-scans")
	require.NotContains(t, a.Periodic.Jobs(), "source-paused")
	require.Equal(t, config.ArchiveAsk, a.Sources[0].Uncompress)

	_, err = a.Source("desk")
	require.NoError(t, err)
	_, err = a.Source("nope")
	require.ErrorIs(t, err, util.ErrNotFound)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.LockBackend = "carrier-pigeon"
	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "lock_backend")
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})
}
