package storage

import (
	"context"
	"fmt"
	"time"

	"docflow/internal/models"

	"github.com/jackc/pgx/v5"
)

type TypeRepo struct {
	db *DB
}

func NewTypeRepo(db *DB) *TypeRepo {
	return &TypeRepo{db: db}
}

func durationSeconds(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	s := int64(*d / time.Second)
	return &s
}

func secondsDuration(s *int64) *time.Duration {
	if s == nil {
		return nil
	}
	d := time.Duration(*s) * time.Second
	return &d
}

func (r *TypeRepo) CreateType(ctx context.Context, t models.DocumentType) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO document_types (id, label, trash_after_seconds, delete_after_seconds, auto_extract, auto_ocr, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Label, durationSeconds(t.TrashAfter), int64(t.DeleteAfter/time.Second), t.AutoExtract, t.AutoOCR, t.CreatedAt,
	)
	return wrapErr("insert document type", err)
}

func (r *TypeRepo) UpdateType(ctx context.Context, t models.DocumentType) error {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE document_types
SET label=$2, trash_after_seconds=$3, delete_after_seconds=$4, auto_extract=$5, auto_ocr=$6
WHERE id=$1`,
		t.ID, t.Label, durationSeconds(t.TrashAfter), int64(t.DeleteAfter/time.Second), t.AutoExtract, t.AutoOCR,
	)
	if err != nil {
		return wrapErr("update document type", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapErr("update document type", pgx.ErrNoRows)
	}
	return nil
}

const typeColumns = `id, label, trash_after_seconds, delete_after_seconds, auto_extract, auto_ocr, created_at`

func scanType(row pgx.Row) (models.DocumentType, error) {
	var t models.DocumentType
	var trash *int64
	var del int64
	if err := row.Scan(&t.ID, &t.Label, &trash, &del, &t.AutoExtract, &t.AutoOCR, &t.CreatedAt); err != nil {
		return models.DocumentType{}, err
	}
	t.TrashAfter = secondsDuration(trash)
	t.DeleteAfter = time.Duration(del) * time.Second
	return t, nil
}

func (r *TypeRepo) GetType(ctx context.Context, id string) (models.DocumentType, error) {
	t, err := scanType(r.db.Pool.QueryRow(ctx, `SELECT `+typeColumns+` FROM document_types WHERE id=$1`, id))
	if err != nil {
		return models.DocumentType{}, wrapErr("get document type "+id, err)
	}
	return t, nil
}

func (r *TypeRepo) ListTypes(ctx context.Context) ([]models.DocumentType, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+typeColumns+` FROM document_types ORDER BY label`)
	if err != nil {
		return nil, wrapErr("list document types", err)
	}
	defer rows.Close()
	out := make([]models.DocumentType, 0)
	for rows.Next() {
		t, err := scanType(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document type: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate document types", err)
	}
	return out, nil
}

func (r *TypeRepo) DeleteType(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM document_types WHERE id=$1`, id)
	return wrapErr("delete document type", err)
}

func (r *TypeRepo) BindMetadata(ctx context.Context, b models.TypeMetadata) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO document_type_metadata (type_id, metadata_type_id, required)
VALUES ($1, $2, $3)
ON CONFLICT (type_id, metadata_type_id) DO UPDATE SET required = EXCLUDED.required`,
		b.TypeID, b.MetadataTypeID, b.Required,
	)
	return wrapErr("bind metadata type", err)
}

func (r *TypeRepo) TypeMetadata(ctx context.Context, typeID string) ([]models.TypeMetadata, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT type_id, metadata_type_id, required FROM document_type_metadata WHERE type_id=$1 ORDER BY metadata_type_id`, typeID)
	if err != nil {
		return nil, wrapErr("list type metadata", err)
	}
	defer rows.Close()
	out := make([]models.TypeMetadata, 0)
	for rows.Next() {
		var b models.TypeMetadata
		if err := rows.Scan(&b.TypeID, &b.MetadataTypeID, &b.Required); err != nil {
			return nil, fmt.Errorf("scan type metadata: %w", err)
		}
		out = append(out, b)
	}
	return out, wrapErr("iterate type metadata", rows.Err())
}

type MetadataRepo struct {
	db *DB
}

func NewMetadataRepo(db *DB) *MetadataRepo {
	return &MetadataRepo{db: db}
}

func (r *MetadataRepo) CreateMetadataType(ctx context.Context, m models.MetadataType) error {
	opts := m.Options
	if opts == nil {
		opts = []string{}
	}
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO metadata_types (id, name, label, default_value, pattern, options)
VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Name, m.Label, m.Default, m.Pattern, opts,
	)
	return wrapErr("insert metadata type", err)
}

func (r *MetadataRepo) GetMetadataType(ctx context.Context, id string) (models.MetadataType, error) {
	var m models.MetadataType
	err := r.db.Pool.QueryRow(ctx, `
SELECT id, name, label, default_value, pattern, options FROM metadata_types WHERE id=$1`, id,
	).Scan(&m.ID, &m.Name, &m.Label, &m.Default, &m.Pattern, &m.Options)
	if err != nil {
		return models.MetadataType{}, wrapErr("get metadata type "+id, err)
	}
	return m, nil
}

func (r *MetadataRepo) ListMetadataTypes(ctx context.Context) ([]models.MetadataType, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT id, name, label, default_value, pattern, options FROM metadata_types ORDER BY name`)
	if err != nil {
		return nil, wrapErr("list metadata types", err)
	}
	defer rows.Close()
	out := make([]models.MetadataType, 0)
	for rows.Next() {
		var m models.MetadataType
		if err := rows.Scan(&m.ID, &m.Name, &m.Label, &m.Default, &m.Pattern, &m.Options); err != nil {
			return nil, fmt.Errorf("scan metadata type: %w", err)
		}
		out = append(out, m)
	}
	return out, wrapErr("iterate metadata types", rows.Err())
}
