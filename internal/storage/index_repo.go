package storage

import (
	"context"
	"fmt"

	"docflow/internal/models"

	"github.com/jackc/pgx/v5"
)

type IndexRepo struct {
	db *DB
}

func NewIndexRepo(db *DB) *IndexRepo {
	return &IndexRepo{db: db}
}

func (r *IndexRepo) CreateTemplate(ctx context.Context, t models.IndexTemplate) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO index_templates (id, label, slug, enabled, type_ids) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Label, t.Slug, t.Enabled, nonNil(t.TypeIDs))
	return wrapErr("insert index template", err)
}

func (r *IndexRepo) UpdateTemplate(ctx context.Context, t models.IndexTemplate) error {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE index_templates SET label=$2, slug=$3, enabled=$4, type_ids=$5 WHERE id=$1`,
		t.ID, t.Label, t.Slug, t.Enabled, nonNil(t.TypeIDs))
	if err != nil {
		return wrapErr("update index template", err)
	}
	if tag.RowsAffected() == 0 {
		return wrapErr("update index template "+t.ID, pgx.ErrNoRows)
	}
	return nil
}

func scanTemplate(row pgx.Row) (models.IndexTemplate, error) {
	var t models.IndexTemplate
	err := row.Scan(&t.ID, &t.Label, &t.Slug, &t.Enabled, &t.TypeIDs)
	return t, err
}

func (r *IndexRepo) GetTemplate(ctx context.Context, id string) (models.IndexTemplate, error) {
	t, err := scanTemplate(r.db.Pool.QueryRow(ctx, `SELECT id, label, slug, enabled, type_ids FROM index_templates WHERE id=$1`, id))
	if err != nil {
		return models.IndexTemplate{}, wrapErr("get index template "+id, err)
	}
	return t, nil
}

func (r *IndexRepo) ListTemplates(ctx context.Context) ([]models.IndexTemplate, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, label, slug, enabled, type_ids FROM index_templates ORDER BY label`)
	if err != nil {
		return nil, wrapErr("list index templates", err)
	}
	defer rows.Close()
	out := make([]models.IndexTemplate, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan index template: %w", err)
		}
		out = append(out, t)
	}
	return out, wrapErr("iterate index templates", rows.Err())
}

func (r *IndexRepo) DeleteTemplate(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM index_templates WHERE id=$1`, id)
	return wrapErr("delete index template", err)
}

func (r *IndexRepo) CreateTemplateNode(ctx context.Context, n models.IndexTemplateNode) error {
	var parent *string
	if n.ParentID != "" {
		parent = &n.ParentID
	}
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO index_template_nodes (id, template_id, parent_id, expression, link_documents, enabled, position)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.TemplateID, parent, n.Expression, n.LinkDocuments, n.Enabled, n.Position)
	return wrapErr("insert index template node", err)
}

func (r *IndexRepo) ListTemplateNodes(ctx context.Context, templateID string) ([]models.IndexTemplateNode, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT id, template_id, COALESCE(parent_id, ''), expression, link_documents, enabled, position
FROM index_template_nodes WHERE template_id=$1 ORDER BY position, id`, templateID)
	if err != nil {
		return nil, wrapErr("list index template nodes", err)
	}
	defer rows.Close()
	out := make([]models.IndexTemplateNode, 0)
	for rows.Next() {
		var n models.IndexTemplateNode
		if err := rows.Scan(&n.ID, &n.TemplateID, &n.ParentID, &n.Expression, &n.LinkDocuments, &n.Enabled, &n.Position); err != nil {
			return nil, fmt.Errorf("scan index template node: %w", err)
		}
		out = append(out, n)
	}
	return out, wrapErr("iterate index template nodes", rows.Err())
}

const instanceColumns = `id, template_id, template_node_id, COALESCE(parent_id, ''), value, document_ids, lft, rght, tree_id, level`

func listInstances(ctx context.Context, q interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
}, templateID string) ([]models.IndexInstanceNode, error) {
	rows, err := q.Query(ctx, `SELECT `+instanceColumns+` FROM index_instance_nodes WHERE tree_id=$1 ORDER BY lft`, templateID)
	if err != nil {
		return nil, wrapErr("list index instance nodes", err)
	}
	defer rows.Close()
	out := make([]models.IndexInstanceNode, 0)
	for rows.Next() {
		var n models.IndexInstanceNode
		if err := rows.Scan(&n.ID, &n.TemplateID, &n.TemplateNodeID, &n.ParentID, &n.Value, &n.DocumentIDs, &n.Lft, &n.Rght, &n.TreeID, &n.Level); err != nil {
			return nil, fmt.Errorf("scan index instance node: %w", err)
		}
		out = append(out, n)
	}
	return out, wrapErr("iterate index instance nodes", rows.Err())
}

func (r *IndexRepo) ListInstanceNodes(ctx context.Context, templateID string) ([]models.IndexInstanceNode, error) {
	return listInstances(ctx, r.db.Pool, templateID)
}

// UpdateInstanceTree holds the template row lock for the whole rewrite, so
// nested-set renumbering never interleaves between workers.
func (r *IndexRepo) UpdateInstanceTree(ctx context.Context, templateID string, fn TreeMutator) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		var id string
		if err := tx.QueryRow(ctx, `SELECT id FROM index_templates WHERE id=$1 FOR UPDATE`, templateID).Scan(&id); err != nil {
			return wrapErr("lock index template "+templateID, err)
		}
		cur, err := listInstances(ctx, tx, templateID)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM index_instance_nodes WHERE tree_id=$1`, templateID); err != nil {
			return wrapErr("clear index instance nodes", err)
		}
		if len(next) == 0 {
			return nil
		}
		rows := make([][]any, 0, len(next))
		for _, n := range next {
			var parent *string
			if n.ParentID != "" {
				p := n.ParentID
				parent = &p
			}
			rows = append(rows, []any{n.ID, n.TemplateID, n.TemplateNodeID, parent, n.Value, nonNil(n.DocumentIDs), n.Lft, n.Rght, n.TreeID, n.Level})
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"index_instance_nodes"},
			[]string{"id", "template_id", "template_node_id", "parent_id", "value", "document_ids", "lft", "rght", "tree_id", "level"},
			pgx.CopyFromRows(rows))
		return wrapErr("insert index instance nodes", err)
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
