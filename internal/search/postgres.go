package search

import (
	"context"
	"fmt"
	"strings"

	"docflow/internal/storage"
	"docflow/internal/util"
)

const liveDocuments = `FROM documents d WHERE NOT d.in_trash AND `

// One query per (entity, field); $1 is the array of ILIKE patterns, so
// every term must match the same column value.
var pgQueries = map[string]map[string]string{
	EntityDocument: {
		"label":       `SELECT d.id ` + liveDocuments + `d.label ILIKE ALL($1::text[])`,
		"description": `SELECT d.id ` + liveDocuments + `d.description ILIKE ALL($1::text[])`,
		"uuid":        `SELECT d.id ` + liveDocuments + `d.uuid ILIKE ALL($1::text[])`,
		"type__label": `SELECT d.id FROM documents d JOIN document_types t ON t.id = d.type_id
WHERE NOT d.in_trash AND t.label ILIKE ALL($1::text[])`,
		"metadata__value": `SELECT d.id ` + liveDocuments + `EXISTS (
  SELECT 1 FROM jsonb_each_text(d.metadata) m WHERE m.value ILIKE ALL($1::text[]))`,
		"versions__mimetype": `SELECT DISTINCT d.id FROM documents d JOIN document_versions v ON v.document_id = d.id
WHERE NOT d.in_trash AND v.mimetype ILIKE ALL($1::text[])`,
		"versions__checksum": `SELECT DISTINCT d.id FROM documents d JOIN document_versions v ON v.document_id = d.id
WHERE NOT d.in_trash AND v.checksum ILIKE ALL($1::text[])`,
		"versions__pages__content": `SELECT DISTINCT d.id FROM documents d
JOIN document_versions v ON v.document_id = d.id
JOIN page_contents c ON c.version_id = v.id
WHERE NOT d.in_trash AND c.content ILIKE ALL($1::text[])`,
	},
	EntityDocumentType: {
		"label": `SELECT t.id FROM document_types t WHERE t.label ILIKE ALL($1::text[])`,
	},
}

// PostgresMatcher pushes each (entity, field) match down to Postgres.
type PostgresMatcher struct {
	db *storage.DB
}

func NewPostgresMatcher(db *storage.DB) *PostgresMatcher {
	return &PostgresMatcher{db: db}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePatterns(terms []string) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = "%" + likeEscaper.Replace(t) + "%"
	}
	return out
}

func (m *PostgresMatcher) Match(ctx context.Context, entity, path string, terms []string) (Set, error) {
	fields, ok := pgQueries[entity]
	if !ok {
		return nil, fmt.Errorf("search model %q: %w", entity, util.ErrNotFound)
	}
	q, ok := fields[path]
	if !ok {
		return nil, util.NewValidationError(path, "unknown %s field", entity)
	}
	rows, err := m.db.Pool.Query(ctx, q, likePatterns(terms))
	if err != nil {
		return nil, fmt.Errorf("query %s.%s: %w", entity, path, err)
	}
	defer rows.Close()
	out := Set{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", entity, err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}
