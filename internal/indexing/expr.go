package indexing

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"docflow/internal/models"
	"docflow/internal/util"
)

// Context is what a node expression sees, e.g. {{ .Type.Label }} or
// {{ .Metadata.year }}.
type Context struct {
	Type          models.DocumentType
	Label         string
	Description   string
	UUID          string
	DateAdded     time.Time
	Language      string
	Metadata      map[string]string
	Versions      []models.DocumentVersion
	LatestVersion *models.DocumentVersion
}

func NewContext(doc models.Document, typ models.DocumentType, versions []models.DocumentVersion) Context {
	c := Context{
		Type:        typ,
		Label:       doc.Label,
		Description: doc.Description,
		UUID:        doc.UUID,
		DateAdded:   doc.DateAdded,
		Language:    doc.Language,
		Metadata:    map[string]string{},
		Versions:    versions,
	}
	for k, v := range doc.Metadata {
		c.Metadata[k] = v
	}
	if n := len(versions); n > 0 {
		latest := versions[n-1]
		c.LatestVersion = &latest
	}
	return c
}

var funcs = template.FuncMap{
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"trim":  strings.TrimSpace,
	"split": strings.Split,
	"join":  strings.Join,
	"date": func(layout string, t time.Time) string {
		return t.Format(layout)
	},
}

// evaluator caches parsed expressions.
type evaluator struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

func newEvaluator() *evaluator {
	return &evaluator{cache: map[string]*template.Template{}}
}

func parseExpression(expr string) (*template.Template, error) {
	t, err := template.New("node").Funcs(funcs).Option("missingkey=zero").Parse(expr)
	if err != nil {
		return nil, util.NewValidationError("expression", "%v", err)
	}
	return t, nil
}

func (e *evaluator) compile(expr string) (*template.Template, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.cache[expr]; ok {
		return t, nil
	}
	t, err := parseExpression(expr)
	if err != nil {
		return nil, err
	}
	e.cache[expr] = t
	return t, nil
}

// values evaluates expr and returns one value per non-empty output line,
// trimmed and without duplicates.
func (e *evaluator) values(expr string, c Context) ([]string, error) {
	t, err := e.compile(expr)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, c); err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	var out []string
	seen := map[string]struct{}{}
	for _, line := range strings.Split(buf.String(), "\n") {
		v := strings.TrimSpace(line)
		if v == "" || v == "<no value>" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}
