package search

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"docflow/internal/models"
	"docflow/internal/util"
)

// Set is a result set of primary keys.
type Set map[string]struct{}

func (s Set) union(o Set) {
	for k := range o {
		s[k] = struct{}{}
	}
}

func (s Set) intersect(o Set) Set {
	out := Set{}
	for k := range s {
		if _, ok := o[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func (s Set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Matcher finds the rows of entity whose field at path contains every term,
// case-insensitively. Trashed documents never match.
type Matcher interface {
	Match(ctx context.Context, entity, path string, terms []string) (Set, error)
}

// Store is what hits are described from.
type Store interface {
	GetDocument(ctx context.Context, id string) (models.Document, error)
	GetType(ctx context.Context, id string) (models.DocumentType, error)
	ListVersions(ctx context.Context, documentID string) ([]models.DocumentVersion, error)
	ListPageContents(ctx context.Context, versionID string) ([]models.PageContent, error)
}

type Hit struct {
	Entity  string `json:"entity"`
	ID      string `json:"id"`
	Label   string `json:"label"`
	Snippet string `json:"snippet,omitempty"`
}

type Searcher struct {
	registry *Registry
	matcher  Matcher
	store    Store
	limit    int
}

func NewSearcher(registry *Registry, matcher Matcher, store Store, limit int) *Searcher {
	if limit <= 0 {
		limit = 100
	}
	return &Searcher{registry: registry, matcher: matcher, store: store, limit: limit}
}

func (s *Searcher) Registry() *Registry { return s.registry }

// Simple matches q against every field of every model: a row is a hit when
// one of its fields contains all the terms.
func (s *Searcher) Simple(ctx context.Context, q string) ([]Hit, error) {
	terms := Terms(q)
	if len(terms) == 0 {
		return nil, nil
	}
	var hits []Hit
	for _, m := range s.registry.Models() {
		found := Set{}
		for _, f := range m.Fields {
			ids, err := s.matcher.Match(ctx, m.Entity, f.Path, terms)
			if err != nil {
				return nil, fmt.Errorf("search %s.%s: %w", m.Entity, f.Path, err)
			}
			found.union(ids)
		}
		for _, id := range found.sorted() {
			if len(hits) == s.limit {
				return s.describe(ctx, hits, terms)
			}
			hits = append(hits, Hit{Entity: m.Entity, ID: id})
		}
	}
	return s.describe(ctx, hits, terms)
}

// Advanced matches one input per field of a single model. Terms of one
// field are AND-ed; fields combine with AND when matchAll is set and with
// OR otherwise. Fields with an empty input are ignored.
func (s *Searcher) Advanced(ctx context.Context, entity string, inputs map[string]string, matchAll bool) ([]Hit, error) {
	m, err := s.registry.Get(entity)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(inputs))
	for p := range inputs {
		if _, ok := m.Field(p); !ok {
			return nil, util.NewValidationError(p, "not a searchable field of %s", entity)
		}
		paths = append(paths, p)
	}
	slices.Sort(paths)

	var (
		result   Set
		allTerms []string
	)
	for _, p := range paths {
		terms := Terms(inputs[p])
		if len(terms) == 0 {
			continue
		}
		allTerms = append(allTerms, terms...)
		ids, err := s.matcher.Match(ctx, entity, p, terms)
		if err != nil {
			return nil, fmt.Errorf("search %s.%s: %w", entity, p, err)
		}
		switch {
		case result == nil:
			result = ids
		case matchAll:
			result = result.intersect(ids)
		default:
			result.union(ids)
		}
	}
	var hits []Hit
	for _, id := range result.sorted() {
		if len(hits) == s.limit {
			break
		}
		hits = append(hits, Hit{Entity: entity, ID: id})
	}
	return s.describe(ctx, hits, allTerms)
}

func (s *Searcher) describe(ctx context.Context, hits []Hit, terms []string) ([]Hit, error) {
	for i := range hits {
		h := &hits[i]
		switch h.Entity {
		case EntityDocument:
			d, err := s.store.GetDocument(ctx, h.ID)
			if err != nil {
				return nil, err
			}
			h.Label = d.Label
			h.Snippet = s.snippet(ctx, d.ID, terms)
		case EntityDocumentType:
			t, err := s.store.GetType(ctx, h.ID)
			if err != nil {
				return nil, err
			}
			h.Label = t.Label
		}
	}
	return hits, nil
}

const snippetRadius = 60

// snippet cuts the latest version's content around the first term found.
func (s *Searcher) snippet(ctx context.Context, documentID string, terms []string) string {
	versions, err := s.store.ListVersions(ctx, documentID)
	if err != nil || len(versions) == 0 || len(terms) == 0 {
		return ""
	}
	contents, err := s.store.ListPageContents(ctx, versions[len(versions)-1].ID)
	if err != nil {
		return ""
	}
	for _, c := range contents {
		lower := strings.ToLower(c.Content)
		for _, t := range terms {
			i := strings.Index(lower, strings.ToLower(t))
			if i < 0 {
				continue
			}
			return excerpt(c.Content, i, len(t))
		}
	}
	return ""
}

func excerpt(text string, at, n int) string {
	// at comes from the lowercased text, whose length can differ
	at = min(at, len(text))
	start := max(at-snippetRadius, 0)
	end := min(at+n+snippetRadius, len(text))
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	out := strings.Join(strings.Fields(text[start:end]), " ")
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}
