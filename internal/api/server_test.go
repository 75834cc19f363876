package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"docflow/internal/blob"
	"docflow/internal/documents"
	"docflow/internal/events"
	"docflow/internal/indexing"
	"docflow/internal/lock"
	"docflow/internal/models"
	"docflow/internal/search"
	"docflow/internal/sources"
	"docflow/internal/storage"
	"docflow/internal/storage/kvstore"

	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv     *httptest.Server
	docs    *documents.Service
	engine  *indexing.Engine
	typ     models.DocumentType
	staging string
	events  *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := kvstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	blobs, err := blob.NewFileStore(filepath.Join(t.TempDir(), "blobs"), blob.Plain{})
	require.NoError(t, err)
	locks := lock.NewFileManager(filepath.Join(t.TempDir(), "locks.json"), nil)

	rec := &events.Recorder{}
	bus := events.NewBus(nil)
	bus.Subscribe(rec.Handle)

	engine := indexing.NewEngine(store, locks, indexing.Options{}, nil)
	docs := documents.NewService(documents.Deps{
		Store:   store,
		Blobs:   blobs,
		Locks:   locks,
		Events:  bus,
		Indexer: engine,
	}, documents.Options{})
	typ, err := docs.CreateType(ctx, documents.TypeInput{Label: "Letters"})
	require.NoError(t, err)

	staging := t.TempDir()
	server := NewServer(Deps{
		Documents: docs,
		Indexes:   engine,
		Search:    search.NewSearcher(search.NewDefaultRegistry(), search.NewScanMatcher(store), store, 10),
		Ingestor:  sources.NewIngestor(docs, locks, nil),
		Sources: []sources.Config{
			{ID: "web", Kind: sources.KindWebForm, TypeID: typ.ID, Enabled: true, Uncompress: "ask"},
			{ID: "desk", Kind: sources.KindStaging, TypeID: typ.ID, Enabled: true, Path: staging},
			{ID: "off", Kind: sources.KindWebForm, TypeID: typ.ID},
		},
	})
	srv := httptest.NewServer(server.Routes())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, docs: docs, engine: engine, typ: typ, staging: staging, events: rec}
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	require.NoError(t, err)
	for k, vs := range header {
		req.Header[k] = vs
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, b
}

func (f *fixture) upload(t *testing.T, source string, files map[string]string, values map[string]string) (*http.Response, []byte) {
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
	h := http.Header{}
	h.Set("Content-Type", w.FormDataContentType())
	h.Set(actorHeader, "alice")
	return f.do(t, http.MethodPost, "/sources/"+source+"/upload", &buf, h)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

func TestWebFormUploadThenSearch(t *testing.T) {
	f := newFixture(t)

	res, body := f.upload(t, "web", map[string]string{"note.txt": "quarterly invoice from acme"}, map[string]string{"label": "Acme invoice"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	created := decode[struct {
		Documents []models.Document `json:"documents"`
	}](t, body)
	require.Len(t, created.Documents, 1)
	doc := created.Documents[0]
	require.Equal(t, "Acme invoice", doc.Label)
	require.Equal(t, f.typ.ID, doc.TypeID)

	created0 := f.events.Events()[0]
	require.Equal(t, "alice", created0.Actor)

	res, body = f.do(t, http.MethodGet, "/search?q=acme+invoice", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	hits := decode[struct {
		Results []search.Hit `json:"results"`
	}](t, body)
	require.Len(t, hits.Results, 1)
	require.Equal(t, doc.ID, hits.Results[0].ID)

	res, body = f.do(t, http.MethodGet, "/search/document?label=acme&_match_all=true", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	hits = decode[struct {
		Results []search.Hit `json:"results"`
	}](t, body)
	require.Len(t, hits.Results, 1)

	res, body = f.do(t, http.MethodGet, "/search/document?colour=red", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, "DF-API-4001", decode[errorBody](t, body).Error.Code)

	res, body = f.do(t, http.MethodGet, "/documents/"+doc.ID+"/file", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "quarterly invoice from acme", string(body))
}

func TestUploadRejections(t *testing.T) {
	f := newFixture(t)

	res, _ := f.upload(t, "off", map[string]string{"a.txt": "a"}, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res, body := f.upload(t, "web", nil, map[string]string{"label": "nothing"})
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, "No files were provided.", decode[errorBody](t, body).Error.Message)

	res, _ = f.upload(t, "web", map[string]string{"empty.txt": ""}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = f.do(t, http.MethodGet, "/sources/web/upload", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestStagingFolderEndpoints(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.staging, "scan.txt"), []byte("staged letter body"), 0o644))

	res, body := f.do(t, http.MethodGet, "/sources/desk/files", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.JSONEq(t, `{"files":["scan.txt"]}`, string(body))

	res, body = f.do(t, http.MethodGet, "/sources/desk/files/scan.txt/preview", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "staged letter body", string(body))

	res, _ = f.do(t, http.MethodGet, "/sources/desk/files/missing.txt/preview", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res, body = f.do(t, http.MethodPost, "/sources/desk/files/scan.txt/upload", nil, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	docs, err := f.docs.ListDocuments(context.Background(), storage.DocumentFilter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "scan.txt", docs[0].Label)

	// staging keeps the file unless configured otherwise
	_, err = os.Stat(filepath.Join(f.staging, "scan.txt"))
	require.NoError(t, err)
}

func TestDocumentLifecycleEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.docs.CreateDocument(ctx, documents.DocumentInput{TypeID: f.typ.ID, Label: "Memo"})
	require.NoError(t, err)

	res, body := f.do(t, http.MethodPost, "/documents/"+d.ID+"/versions?comment=first", bytes.NewReader([]byte("memo text")), nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	v := decode[models.DocumentVersion](t, body)
	require.Equal(t, "first", v.Comment)

	res, body = f.do(t, http.MethodGet, "/documents/"+d.ID+"/versions", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, decode[struct {
		Versions []models.DocumentVersion `json:"versions"`
	}](t, body).Versions, 1)

	res, _ = f.do(t, http.MethodPost, "/documents/"+d.ID+"/versions", bytes.NewReader(nil), nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body = f.do(t, http.MethodPost, "/documents/"+d.ID+"/trash", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, decode[models.Document](t, body).InTrash)

	res, body = f.do(t, http.MethodGet, "/documents?trash=true", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, decode[struct {
		Documents []models.Document `json:"documents"`
	}](t, body).Documents, 1)

	res, _ = f.do(t, http.MethodGet, "/documents?trash=maybe", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body = f.do(t, http.MethodPost, "/documents/"+d.ID+"/restore", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.False(t, decode[models.Document](t, body).InTrash)

	res, _ = f.do(t, http.MethodDelete, "/documents/"+d.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, body = f.do(t, http.MethodGet, "/documents/"+d.ID, nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	require.Equal(t, "DF-API-4004", decode[errorBody](t, body).Error.Code)
}

func TestIndexEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tmpl, err := f.engine.CreateTemplate(ctx, indexing.TemplateInput{Label: "By label", Enabled: true, TypeIDs: []string{f.typ.ID}})
	require.NoError(t, err)
	node, err := f.engine.AddNode(ctx, tmpl.ID, indexing.NodeInput{Expression: "{{ .Label }}", LinkDocuments: true, Enabled: true})
	require.NoError(t, err)
	require.NotEmpty(t, node.ID)
	d, err := f.docs.CreateDocument(ctx, documents.DocumentInput{TypeID: f.typ.ID, Label: "Report"})
	require.NoError(t, err)

	res, body := f.do(t, http.MethodGet, "/indexes", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, decode[struct {
		Indexes []models.IndexTemplate `json:"indexes"`
	}](t, body).Indexes, 1)

	res, body = f.do(t, http.MethodGet, "/indexes/"+tmpl.ID+"/nodes", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	nodes := decode[struct {
		Nodes []models.IndexInstanceNode `json:"nodes"`
	}](t, body).Nodes
	require.Len(t, nodes, 2)
	require.Equal(t, "Report", nodes[1].Value)

	res, body = f.do(t, http.MethodGet, "/indexes/"+tmpl.ID+"/nodes/"+nodes[0].ID+"/documents", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.JSONEq(t, `{"documents":["`+d.ID+`"]}`, string(body))

	res, _ = f.do(t, http.MethodPost, "/indexes/"+tmpl.ID+"/rebuild", nil, nil)
	require.Equal(t, http.StatusAccepted, res.StatusCode)

	res, _ = f.do(t, http.MethodPost, "/indexes/unknown/rebuild", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHealthzAndCORS(t *testing.T) {
	f := newFixture(t)
	res, body := f.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.JSONEq(t, `{"ok":true}`, string(body))

	res, _ = f.do(t, http.MethodOptions, "/documents", nil, nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	require.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}
