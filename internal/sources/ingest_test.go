package sources

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"docflow/internal/documents"
	"docflow/internal/events"
	"docflow/internal/lock"
	"docflow/internal/models"
	"docflow/internal/util"

	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	mu   sync.Mutex
	fail map[string]bool
	reqs []documents.UploadRequest
	body []string
}

func (f *fakeUploader) Upload(ctx context.Context, req documents.UploadRequest) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[req.Label] {
		return nil, util.NewValidationError("label", "rejected")
	}
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	f.reqs = append(f.reqs, req)
	f.body = append(f.body, string(b))
	return []models.Document{{ID: req.Label, Label: req.Label, TypeID: req.TypeID}}, nil
}

func (f *fakeUploader) labels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.reqs))
	for i, r := range f.reqs {
		out[i] = r.Label
	}
	return out
}

func newLocks(t *testing.T) lock.Manager {
	t.Helper()
	return lock.NewFileManager(filepath.Join(t.TempDir(), "locks.json"), nil)
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644))
	}
}

func TestWatchFolderUploadsAndRemoves(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"b.txt": "bee", "a.txt": "ay", ".hidden": "x"})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	cfg := Config{ID: "scans", Kind: KindWatch, TypeID: "t", Path: dir, Interval: time.Minute, Uncompress: "always"}
	up := &fakeUploader{}
	in := NewIngestor(up, newLocks(t), nil)

	rep, err := in.Poll(context.Background(), NewWatch(cfg))
	require.NoError(t, err)
	require.False(t, rep.Skipped)
	require.Equal(t, 2, rep.Items)
	require.Len(t, rep.Documents, 2)
	require.Equal(t, []string{"a.txt", "b.txt"}, up.labels())
	require.Equal(t, []string{"ay", "bee"}, up.body)
	require.Equal(t, documents.ArchiveAlways, up.reqs[0].Policy)
	require.Equal(t, "t", up.reqs[0].TypeID)
	require.True(t, up.reqs[0].DropFailedStub)

	left, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range left {
		names = append(names, e.Name())
	}
	require.Equal(t, []string{".hidden", "sub"}, names)
}

func TestWatchFolderKeepsFailedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"ok.txt": "fine", "bad.txt": "nope"})
	cfg := Config{ID: "scans", Kind: KindWatch, TypeID: "t", Path: dir, Interval: time.Minute}
	in := NewIngestor(&fakeUploader{fail: map[string]bool{"bad.txt": true}}, newLocks(t), nil)

	rep, err := in.Poll(context.Background(), NewWatch(cfg))
	require.NoError(t, err)
	require.Equal(t, 1, rep.Failed)
	_, err = os.Stat(filepath.Join(dir, "bad.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "ok.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestStagingFolderKeepsFilesUnlessAsked(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"doc.txt": "hello world"})
	cfg := Config{ID: "staging", Kind: KindStaging, TypeID: "t", Path: dir}
	staging := NewStaging(cfg)

	preview, err := staging.Preview("doc.txt", 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(preview))

	_, err = staging.Item("../doc.txt")
	require.Error(t, err)
	_, err = staging.Item("missing.txt")
	require.ErrorIs(t, err, os.ErrNotExist)

	in := NewIngestor(&fakeUploader{}, newLocks(t), nil)
	_, err = in.Ingest(context.Background(), staging)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "doc.txt"))
	require.NoError(t, err)

	cfg.DeleteAfterUpload = true
	_, err = in.Ingest(context.Background(), NewStaging(cfg))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "doc.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestPollSkipsWhileSourceLocked(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.txt": "a"})
	locks := newLocks(t)
	cfg := Config{ID: "scans", Kind: KindWatch, TypeID: "t", Path: dir, Interval: time.Minute}

	held, err := locks.Acquire(context.Background(), LockName(cfg.ID), time.Minute)
	require.NoError(t, err)

	up := &fakeUploader{}
	in := NewIngestor(up, locks, nil)
	rep, err := in.Poll(context.Background(), NewWatch(cfg))
	require.NoError(t, err)
	require.True(t, rep.Skipped)
	require.Empty(t, up.labels())

	require.NoError(t, locks.Release(context.Background(), held))
	rep, err = in.Poll(context.Background(), NewWatch(cfg))
	require.NoError(t, err)
	require.False(t, rep.Skipped)
	require.Equal(t, []string{"a.txt"}, up.labels())
}

type actorUploader struct{ actor string }

func (a *actorUploader) Upload(ctx context.Context, req documents.UploadRequest) ([]models.Document, error) {
	a.actor = events.ActorFrom(ctx)
	return nil, nil
}

func TestIngestNamesTheSourceAsActor(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.txt": "a"})
	cfg := Config{ID: "scans", Kind: KindStaging, TypeID: "t", Path: dir}

	up := &actorUploader{}
	_, err := NewIngestor(up, newLocks(t), nil).Ingest(context.Background(), NewStaging(cfg))
	require.NoError(t, err)
	require.Equal(t, "source:scans", up.actor)

	ctx := events.WithActor(context.Background(), "alice")
	_, err = NewIngestor(up, newLocks(t), nil).Ingest(ctx, NewStaging(cfg))
	require.NoError(t, err)
	require.Equal(t, "alice", up.actor)
}

func TestListingErrorIsReturned(t *testing.T) {
	cfg := Config{ID: "gone", Kind: KindWatch, TypeID: "t", Path: filepath.Join(t.TempDir(), "missing"), Interval: time.Minute}
	_, err := NewIngestor(&fakeUploader{}, newLocks(t), nil).Poll(context.Background(), NewWatch(cfg))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func multipartForm(t *testing.T, values map[string]string, files map[string]string) *multipart.Form {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range values {
		require.NoError(t, w.WriteField(k, v))
	}
	for name, data := range files {
		fw, err := w.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(data))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form
}

func TestWebFormItems(t *testing.T) {
	cfg := Config{ID: "web", Kind: KindWebForm, TypeID: "t", Uncompress: "ask"}
	form := multipartForm(t,
		map[string]string{"label": "Contract", "expand": "true", "metadata.year": "2024"},
		map[string]string{"scan.pdf": "%PDF"},
	)
	up := &fakeUploader{}
	rep, err := NewIngestor(up, newLocks(t), nil).Ingest(context.Background(), NewWebForm(cfg, form))
	require.NoError(t, err)
	require.Equal(t, 1, rep.Items)
	require.Equal(t, []string{"Contract"}, up.labels())
	require.Equal(t, []string{"%PDF"}, up.body)
	req := up.reqs[0]
	require.True(t, req.Expand)
	require.Equal(t, documents.ArchiveAsk, req.Policy)
	require.Equal(t, map[string]string{"year": "2024"}, req.Metadata)
}

func TestWebFormLabelOnlyAppliesToSingleFile(t *testing.T) {
	form := multipartForm(t,
		map[string]string{"label": "ignored"},
		map[string]string{"a.txt": "a", "b.txt": "b"},
	)
	items, err := NewWebForm(Config{ID: "web", Kind: KindWebForm, TypeID: "t"}, form).Items(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt", "b.txt"}, labels(items))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - id: scans
    kind: watch
    document_type: invoices
    path: /srv/scans
    interval: 5m
    uncompress: always
  - id: inbox
    kind: imap
    document_type: mail
    host: imap.example.com
    ssl: true
    username: docs
    password: secret
    interval: 10m
    metadata_attachment: true
    from_metadata: sender
`), 0o644))

	cfgs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	require.Equal(t, 5*time.Minute, cfgs[0].Interval)
	require.Equal(t, documents.ArchiveAlways, cfgs[0].Policy())
	require.True(t, cfgs[1].Polled())
	require.True(t, cfgs[1].MetadataAttachment)
	require.Equal(t, "sender", cfgs[1].FromMetadata)

	src, err := New(cfgs[1])
	require.NoError(t, err)
	require.IsType(t, &MailSource{}, src)
}

func TestLoadFileRejectsBadDefinitions(t *testing.T) {
	write := func(body string) string {
		path := filepath.Join(t.TempDir(), "sources.yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	_, err := LoadFile(write(`
sources:
  - {id: a, kind: staging, document_type: t, path: /x}
  - {id: a, kind: staging, document_type: t, path: /y}
`))
	require.ErrorIs(t, err, util.ErrConflict)

	_, err = LoadFile(write(`
sources:
  - {id: a, kind: fax, document_type: t}
`))
	var verr *util.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "kind", verr.Field)

	_, err = LoadFile(write(`
sources:
  - {id: a, kind: watch, document_type: t, path: /x}
`))
	require.ErrorIs(t, err, util.ErrValidation)

	_, err = New(Config{ID: "w", Kind: KindWebForm, TypeID: "t"})
	require.ErrorIs(t, err, util.ErrValidation)
}
