package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"docflow/internal/documents"
	"docflow/internal/events"
	"docflow/internal/indexing"
	"docflow/internal/search"
	"docflow/internal/sources"
	"docflow/internal/storage"
	"docflow/internal/util"
)

const (
	defaultMaxUpload = 512 << 20
	previewBytes     = 4096
	actorHeader      = "X-Docflow-User"
)

type Deps struct {
	Documents *documents.Service
	Indexes   *indexing.Engine
	Search    *search.Searcher
	Ingestor  *sources.Ingestor
	// Sources are the webform and staging definitions served here.
	Sources        []sources.Config
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type Server struct {
	docs      *documents.Service
	indexes   *indexing.Engine
	searcher  *search.Searcher
	ingestor  *sources.Ingestor
	sources   map[string]sources.Config
	maxUpload int64
	log       *slog.Logger
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = defaultMaxUpload
	}
	byID := make(map[string]sources.Config, len(d.Sources))
	for _, c := range d.Sources {
		if c.Kind == sources.KindWebForm || c.Kind == sources.KindStaging {
			byID[c.ID] = c
		}
	}
	return &Server{
		docs:      d.Documents,
		indexes:   d.Indexes,
		searcher:  d.Search,
		ingestor:  d.Ingestor,
		sources:   byID,
		maxUpload: d.MaxUploadBytes,
		log:       d.Logger.With("component", "api"),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/search/", s.handleAdvancedSearch)
	mux.HandleFunc("/documents", s.handleDocuments)
	mux.HandleFunc("/documents/", s.handleDocumentScoped)
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/sources/", s.handleSourceScoped)
	mux.HandleFunc("/indexes", s.handleIndexes)
	mux.HandleFunc("/indexes/", s.handleIndexScoped)
	return withActor(withCORS(mux))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	hits, err := s.searcher.Simple(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

// handleAdvancedSearch serves /search/{entity}?field=terms..., with
// _match_all=true to AND the fields.
func (s *Server) handleAdvancedSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	entity := strings.Trim(strings.TrimPrefix(r.URL.Path, "/search/"), "/")
	if entity == "" || strings.Contains(entity, "/") {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	q := r.URL.Query()
	matchAll, _ := strconv.ParseBool(q.Get("_match_all"))
	inputs := map[string]string{}
	for k, vs := range q {
		if k == "_match_all" || len(vs) == 0 {
			continue
		}
		inputs[k] = vs[0]
	}
	hits, err := s.searcher.Advanced(r.Context(), entity, inputs, matchAll)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	f := storage.DocumentFilter{TypeID: r.URL.Query().Get("type")}
	if v := r.URL.Query().Get("trash"); v != "" {
		trash, err := strconv.ParseBool(v)
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid trash flag: %w", err))
			return
		}
		f.InTrash = &trash
	}
	docs, err := s.docs.ListDocuments(r.Context(), f)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleDocumentScoped(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/documents/")
	if len(parts) == 0 {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	ctx := r.Context()
	id := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		d, err := s.docs.GetDocument(ctx, id)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.docs.Delete(ctx, id); err != nil {
			s.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 2 && parts[1] == "trash" && r.Method == http.MethodPost:
		d, err := s.docs.Trash(ctx, id)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	case len(parts) == 2 && parts[1] == "restore" && r.Method == http.MethodPost:
		d, err := s.docs.Restore(ctx, id)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	case len(parts) == 2 && parts[1] == "metadata" && r.Method == http.MethodPut:
		var values map[string]string
		if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		d, err := s.docs.SetMetadata(ctx, id, values)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	case len(parts) == 2 && parts[1] == "versions" && r.Method == http.MethodGet:
		vs, err := s.docs.ListVersions(ctx, id)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": vs})
	case len(parts) == 2 && parts[1] == "versions" && r.Method == http.MethodPost:
		s.handleNewVersion(w, r, id)
	case len(parts) == 2 && parts[1] == "file" && r.Method == http.MethodGet:
		s.handleDownload(w, r, id)
	case len(parts) <= 2:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

// handleNewVersion takes the raw request body as the new file.
func (s *Server) handleNewVersion(w http.ResponseWriter, r *http.Request, id string) {
	body := http.MaxBytesReader(w, r.Body, s.maxUpload)
	v, err := s.docs.NewVersion(r.Context(), id, body, documents.VersionOptions{
		Comment:  r.URL.Query().Get("comment"),
		Language: r.URL.Query().Get("language"),
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, id string) {
	v, err := s.docs.LatestVersion(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	rc, err := s.docs.OpenVersion(r.Context(), v.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", v.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(v.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.log.Warn("download interrupted", "document", id, "error", err)
	}
}

type sourceView struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Label  string `json:"label"`
	TypeID string `json:"document_type"`
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	out := make([]sourceView, 0, len(s.sources))
	for _, c := range s.sources {
		out = append(out, sourceView{ID: c.ID, Kind: c.Kind, Label: c.Label, TypeID: c.TypeID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func (s *Server) handleSourceScoped(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/sources/")
	if len(parts) < 2 {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	cfg, ok := s.sources[parts[0]]
	if !ok || !cfg.Enabled {
		writeErr(w, http.StatusNotFound, fmt.Errorf("source %s: %w", parts[0], util.ErrNotFound))
		return
	}

	switch {
	case cfg.Kind == sources.KindWebForm && len(parts) == 2 && parts[1] == "upload":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleUpload(w, r, cfg)
	case cfg.Kind == sources.KindStaging && len(parts) == 2 && parts[1] == "files":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		items, err := sources.NewStaging(cfg).Items(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		names := make([]string, 0, len(items))
		for _, it := range items {
			names = append(names, it.Label)
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": names})
	case cfg.Kind == sources.KindStaging && len(parts) == 4 && parts[1] == "files":
		s.handleStagingFile(w, r, cfg, parts[2], parts[3])
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, cfg sources.Config) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()
	if len(r.MultipartForm.File) == 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}
	rep, err := s.ingestor.Ingest(r.Context(), sources.NewWebForm(cfg, r.MultipartForm))
	if err != nil {
		s.fail(w, err)
		return
	}
	if rep.Failed > 0 && len(rep.Documents) == 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("upload rejected"))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"documents": rep.Documents, "failed": rep.Failed})
}

func (s *Server) handleStagingFile(w http.ResponseWriter, r *http.Request, cfg sources.Config, name, action string) {
	staging := sources.NewStaging(cfg)
	switch {
	case action == "preview" && r.Method == http.MethodGet:
		b, err := staging.Preview(name, previewBytes)
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(b))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	case action == "upload" && r.Method == http.MethodPost:
		item, err := staging.Item(name)
		if err != nil {
			s.fail(w, err)
			return
		}
		item.Expand, _ = strconv.ParseBool(r.URL.Query().Get("expand"))
		rep, err := s.ingestor.Ingest(r.Context(), sources.Only(staging, item))
		if err != nil {
			s.fail(w, err)
			return
		}
		if rep.Failed > 0 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("upload rejected"))
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"documents": rep.Documents})
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (s *Server) handleIndexes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	ts, err := s.indexes.ListTemplates(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"indexes": ts})
}

func (s *Server) handleIndexScoped(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/indexes/")
	if len(parts) < 2 {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	ctx := r.Context()
	id := parts[0]
	switch {
	case len(parts) == 2 && parts[1] == "nodes" && r.Method == http.MethodGet:
		nodes, err := s.indexes.Instances(ctx, id)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
	case len(parts) == 4 && parts[1] == "nodes" && parts[3] == "documents" && r.Method == http.MethodGet:
		docs, err := s.indexes.DocumentsUnder(ctx, id, parts[2])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
	case len(parts) == 2 && parts[1] == "rebuild" && r.Method == http.MethodPost:
		if _, err := s.indexes.GetTemplate(ctx, id); err != nil {
			s.fail(w, err)
			return
		}
		if err := s.indexes.Rebuild(ctx, id); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"rebuilt": id})
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code >= 500 {
		s.log.Error("request failed", "error", err)
	}
	writeErr(w, code, err)
}

func statusOf(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, util.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, util.ErrValidation), errors.Is(err, fs.ErrInvalid):
		return http.StatusBadRequest
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, util.ErrConflict), errors.Is(err, util.ErrNewVersionBlocked):
		return http.StatusConflict
	case errors.Is(err, util.ErrLockUnavailable):
		return http.StatusLocked
	}
	return http.StatusInternalServerError
}

func splitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "DF-API-4000"

	switch {
	case status >= 500:
		raw := ""
		if err != nil {
			raw = strings.ToLower(err.Error())
		}
		switch {
		case errors.Is(err, util.ErrLockError):
			return apiError{Code: "DF-LOCK-5001", Message: "Lock backend is unavailable. Retry shortly."}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{Code: "DF-DB-5002", Message: "Database connection is unavailable. Check local services and retry."}
		default:
			return apiError{Code: "DF-API-5000", Message: "Internal server error. Please retry or check service logs."}
		}
	case status == http.StatusBadRequest:
		code = "DF-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "DF-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusMethodNotAllowed:
		code = "DF-API-4005"
		msg = "This endpoint does not support the requested method."
	case status == http.StatusConflict:
		code = "DF-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusRequestEntityTooLarge:
		code = "DF-API-4013"
		msg = "Upload is too large."
	case status == http.StatusLocked:
		code = "DF-API-4023"
		msg = "Resource is busy. Retry shortly."
	}

	// Validation errors carry a user-safe field and reason.
	var verr *util.ValidationError
	if status == http.StatusBadRequest && errors.As(err, &verr) {
		msg = verr.Error()
	}
	if status >= 400 && status < 500 && err != nil {
		low := strings.ToLower(err.Error())
		switch {
		case strings.Contains(low, "no files provided"):
			msg = "No files were provided."
		case strings.Contains(low, "invalid json"):
			msg = "Malformed JSON request body."
		case errors.Is(err, util.ErrNewVersionBlocked):
			msg = "Document is checked out and blocks new versions."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+actorHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withActor names the caller in emitted events. Authentication happens in
// front of this service.
func withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get(actorHeader)); actor != "" {
			r = r.WithContext(events.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
