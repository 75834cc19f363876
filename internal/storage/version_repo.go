package storage

import (
	"context"
	"fmt"

	"docflow/internal/models"

	"github.com/jackc/pgx/v5"
)

type VersionRepo struct {
	db *DB
}

func NewVersionRepo(db *DB) *VersionRepo {
	return &VersionRepo{db: db}
}

// CommitVersion locks the document row so version commits of one document
// are serialised in the database as well as by the upload lock.
func (r *VersionRepo) CommitVersion(ctx context.Context, v models.DocumentVersion, pages []models.DocumentPage) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		var id string
		if err := tx.QueryRow(ctx, `SELECT id FROM documents WHERE id=$1 FOR UPDATE`, v.DocumentID).Scan(&id); err != nil {
			return wrapErr("lock document "+v.DocumentID, err)
		}
		_, err := tx.Exec(ctx, `
INSERT INTO document_versions (id, document_id, timestamp, comment, mimetype, encoding, checksum, size, blob_ref, page_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			v.ID, v.DocumentID, v.Timestamp, v.Comment, v.MimeType, v.Encoding, v.Checksum, v.Size, v.BlobRef, v.PageCount,
		)
		if err != nil {
			return wrapErr("insert version", err)
		}
		if len(pages) > 0 {
			rows := make([][]any, 0, len(pages))
			for _, p := range pages {
				rows = append(rows, []any{p.ID, p.VersionID, p.PageNumber})
			}
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"document_pages"}, []string{"id", "version_id", "page_number"}, pgx.CopyFromRows(rows)); err != nil {
				return wrapErr("insert pages", err)
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE documents SET is_stub=FALSE WHERE id=$1`, v.DocumentID); err != nil {
			return wrapErr("clear stub flag", err)
		}
		return nil
	})
}

const versionColumns = `id, document_id, timestamp, comment, mimetype, encoding, checksum, size, blob_ref, page_count`

func scanVersion(row pgx.Row) (models.DocumentVersion, error) {
	var v models.DocumentVersion
	err := row.Scan(&v.ID, &v.DocumentID, &v.Timestamp, &v.Comment, &v.MimeType, &v.Encoding, &v.Checksum, &v.Size, &v.BlobRef, &v.PageCount)
	return v, err
}

func (r *VersionRepo) GetVersion(ctx context.Context, id string) (models.DocumentVersion, error) {
	v, err := scanVersion(r.db.Pool.QueryRow(ctx, `SELECT `+versionColumns+` FROM document_versions WHERE id=$1`, id))
	if err != nil {
		return models.DocumentVersion{}, wrapErr("get version "+id, err)
	}
	return v, nil
}

func (r *VersionRepo) ListVersions(ctx context.Context, documentID string) ([]models.DocumentVersion, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+versionColumns+` FROM document_versions WHERE document_id=$1 ORDER BY timestamp, id`, documentID)
	if err != nil {
		return nil, wrapErr("list versions", err)
	}
	defer rows.Close()
	out := make([]models.DocumentVersion, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, wrapErr("iterate versions", rows.Err())
}

func (r *VersionRepo) DeleteVersion(ctx context.Context, id string) (bool, error) {
	var stub bool
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		var docID string
		err := tx.QueryRow(ctx, `
SELECT d.id FROM documents d JOIN document_versions v ON v.document_id = d.id
WHERE v.id=$1 FOR UPDATE OF d`, id).Scan(&docID)
		if err != nil {
			return wrapErr("lock version document", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM document_versions WHERE id=$1`, id); err != nil {
			return wrapErr("delete version", err)
		}
		err = tx.QueryRow(ctx, `
UPDATE documents SET is_stub = NOT EXISTS (SELECT 1 FROM document_versions WHERE document_id=$1)
WHERE id=$1 RETURNING is_stub`, docID).Scan(&stub)
		return wrapErr("update stub flag", err)
	})
	return stub, err
}

func (r *VersionRepo) ListPages(ctx context.Context, versionID string) ([]models.DocumentPage, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT id, version_id, page_number FROM document_pages WHERE version_id=$1 ORDER BY page_number`, versionID)
	if err != nil {
		return nil, wrapErr("list pages", err)
	}
	defer rows.Close()
	out := make([]models.DocumentPage, 0)
	for rows.Next() {
		var p models.DocumentPage
		if err := rows.Scan(&p.ID, &p.VersionID, &p.PageNumber); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, p)
	}
	return out, wrapErr("iterate pages", rows.Err())
}

func (r *VersionRepo) SavePageContent(ctx context.Context, c models.PageContent) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO page_contents (page_id, version_id, source, content, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (page_id, source) DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`,
		c.PageID, c.VersionID, c.Source, c.Content, c.UpdatedAt,
	)
	return wrapErr("save page content", err)
}

func (r *VersionRepo) ListPageContents(ctx context.Context, versionID string) ([]models.PageContent, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT c.page_id, c.version_id, c.source, c.content, c.updated_at
FROM page_contents c JOIN document_pages p ON p.id = c.page_id
WHERE c.version_id=$1 ORDER BY p.page_number, c.source`, versionID)
	if err != nil {
		return nil, wrapErr("list page contents", err)
	}
	defer rows.Close()
	out := make([]models.PageContent, 0)
	for rows.Next() {
		var c models.PageContent
		if err := rows.Scan(&c.PageID, &c.VersionID, &c.Source, &c.Content, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan page content: %w", err)
		}
		out = append(out, c)
	}
	return out, wrapErr("iterate page contents", rows.Err())
}

func (r *VersionRepo) AddExtractionError(ctx context.Context, e models.VersionExtractionError) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO version_extraction_errors (id, version_id, family, submitted_at, result)
VALUES ($1, $2, $3, $4, $5)`, e.ID, e.VersionID, e.Family, e.SubmittedAt, e.Result)
	return wrapErr("insert extraction error", err)
}

func (r *VersionRepo) ClearExtractionErrors(ctx context.Context, versionID, family string) error {
	_, err := r.db.Pool.Exec(ctx, `
DELETE FROM version_extraction_errors WHERE version_id=$1 AND ($2 = '' OR family=$2)`, versionID, family)
	return wrapErr("clear extraction errors", err)
}

func (r *VersionRepo) ListExtractionErrors(ctx context.Context, versionID string) ([]models.VersionExtractionError, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT id, version_id, family, submitted_at, result
FROM version_extraction_errors WHERE version_id=$1 ORDER BY submitted_at`, versionID)
	if err != nil {
		return nil, wrapErr("list extraction errors", err)
	}
	defer rows.Close()
	out := make([]models.VersionExtractionError, 0)
	for rows.Next() {
		var e models.VersionExtractionError
		if err := rows.Scan(&e.ID, &e.VersionID, &e.Family, &e.SubmittedAt, &e.Result); err != nil {
			return nil, fmt.Errorf("scan extraction error: %w", err)
		}
		out = append(out, e)
	}
	return out, wrapErr("iterate extraction errors", rows.Err())
}

func (r *VersionRepo) BlobInUse(ctx context.Context, blobRef string) (bool, error) {
	var inUse bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM document_versions WHERE blob_ref=$1)`, blobRef).Scan(&inUse)
	return inUse, wrapErr("check blob ref", err)
}

func (r *VersionRepo) ListBlobRefs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT DISTINCT blob_ref FROM document_versions`)
	if err != nil {
		return nil, wrapErr("list blob refs", err)
	}
	refs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrapErr("collect blob refs", err)
	}
	out := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		out[ref] = struct{}{}
	}
	return out, nil
}
