package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"docflow/internal/models"

	"github.com/jackc/pgx/v5"
)

type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

const documentColumns = `id, uuid, type_id, label, description, language, metadata, date_added, in_trash, trashed_at, is_stub`

func scanDocument(row pgx.Row) (models.Document, error) {
	var d models.Document
	var meta []byte
	if err := row.Scan(&d.ID, &d.UUID, &d.TypeID, &d.Label, &d.Description, &d.Language, &meta, &d.DateAdded, &d.InTrash, &d.TrashedAt, &d.IsStub); err != nil {
		return models.Document{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return models.Document{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return d, nil
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func (r *DocumentRepo) CreateDocument(ctx context.Context, d models.Document) error {
	meta, err := encodeMetadata(d.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.UUID, d.TypeID, d.Label, d.Description, d.Language, meta, d.DateAdded, d.InTrash, d.TrashedAt, d.IsStub,
	)
	return wrapErr("insert document", err)
}

func (r *DocumentRepo) UpdateDocument(ctx context.Context, d models.Document) error {
	meta, err := encodeMetadata(d.Metadata)
	if err != nil {
		return err
	}
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE documents
SET type_id=$2, label=$3, description=$4, language=$5, metadata=$6, in_trash=$7, trashed_at=$8
WHERE id=$1`,
		d.ID, d.TypeID, d.Label, d.Description, d.Language, meta, d.InTrash, d.TrashedAt,
	)
	if err != nil {
		return wrapErr("update document", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapErr("update document "+d.ID, pgx.ErrNoRows)
	}
	return nil
}

func (r *DocumentRepo) GetDocument(ctx context.Context, id string) (models.Document, error) {
	d, err := scanDocument(r.db.Pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id))
	if err != nil {
		return models.Document{}, wrapErr("get document "+id, err)
	}
	return d, nil
}

func (r *DocumentRepo) ListDocuments(ctx context.Context, f DocumentFilter) ([]models.Document, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if f.TypeID != "" {
		args = append(args, f.TypeID)
		where = append(where, fmt.Sprintf("type_id=$%d", len(args)))
	}
	if f.InTrash != nil {
		args = append(args, *f.InTrash)
		where = append(where, fmt.Sprintf("in_trash=$%d", len(args)))
	}
	q := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY date_added, id`

	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("list documents", err)
	}
	defer rows.Close()
	out := make([]models.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate documents", err)
	}
	return out, nil
}

// DeleteDocument relies on ON DELETE CASCADE for versions and their children.
func (r *DocumentRepo) DeleteDocument(ctx context.Context, id string) ([]string, error) {
	var refs []string
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		var locked string
		if err := tx.QueryRow(ctx, `SELECT id FROM documents WHERE id=$1 FOR UPDATE`, id).Scan(&locked); err != nil {
			return wrapErr("lock document "+id, err)
		}
		rows, err := tx.Query(ctx, `SELECT blob_ref FROM document_versions WHERE document_id=$1`, id)
		if err != nil {
			return wrapErr("list blob refs", err)
		}
		refs, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return wrapErr("collect blob refs", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE id=$1`, id); err != nil {
			return wrapErr("delete document", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func (r *DocumentRepo) GetCheckout(ctx context.Context, documentID string) (models.Checkout, error) {
	var c models.Checkout
	err := r.db.Pool.QueryRow(ctx, `
SELECT document_id, username, checked_out_at, expiration, block_new_version
FROM document_checkouts WHERE document_id=$1`, documentID,
	).Scan(&c.DocumentID, &c.User, &c.CheckedOutAt, &c.Expiration, &c.BlockNewVersion)
	if err != nil {
		return models.Checkout{}, wrapErr("get checkout", err)
	}
	return c, nil
}

func (r *DocumentRepo) SaveCheckout(ctx context.Context, c models.Checkout) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO document_checkouts (document_id, username, checked_out_at, expiration, block_new_version)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (document_id) DO UPDATE SET
  username = EXCLUDED.username,
  checked_out_at = EXCLUDED.checked_out_at,
  expiration = EXCLUDED.expiration,
  block_new_version = EXCLUDED.block_new_version`,
		c.DocumentID, c.User, c.CheckedOutAt, c.Expiration, c.BlockNewVersion,
	)
	return wrapErr("save checkout", err)
}

func (r *DocumentRepo) DeleteCheckout(ctx context.Context, documentID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM document_checkouts WHERE document_id=$1`, documentID)
	return wrapErr("delete checkout", err)
}
