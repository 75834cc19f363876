package indexing

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"docflow/internal/models"
	"docflow/internal/util"

	"github.com/google/uuid"
)

var slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

type TemplateInput struct {
	Label   string
	Slug    string
	Enabled bool
	TypeIDs []string
}

func slugify(label string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func validateTemplate(t models.IndexTemplate) error {
	if strings.TrimSpace(t.Label) == "" {
		return util.NewValidationError("label", "required")
	}
	if !slugRe.MatchString(t.Slug) {
		return util.NewValidationError("slug", "%q is not a valid slug", t.Slug)
	}
	return nil
}

// CreateTemplate stores the template together with its root node.
func (e *Engine) CreateTemplate(ctx context.Context, in TemplateInput) (models.IndexTemplate, error) {
	t := models.IndexTemplate{
		ID:      uuid.NewString(),
		Label:   strings.TrimSpace(in.Label),
		Slug:    in.Slug,
		Enabled: in.Enabled,
		TypeIDs: append([]string(nil), in.TypeIDs...),
	}
	if t.Slug == "" {
		t.Slug = slugify(t.Label)
	}
	if err := validateTemplate(t); err != nil {
		return models.IndexTemplate{}, err
	}
	if err := e.store.CreateTemplate(ctx, t); err != nil {
		return models.IndexTemplate{}, err
	}
	root := models.IndexTemplateNode{ID: uuid.NewString(), TemplateID: t.ID, Enabled: true}
	if err := e.store.CreateTemplateNode(ctx, root); err != nil {
		return models.IndexTemplate{}, fmt.Errorf("create root node: %w", err)
	}
	return t, nil
}

// UpdateTemplate saves t and rebuilds its tree, since the applicable types
// or the enabled flag may have changed.
func (e *Engine) UpdateTemplate(ctx context.Context, t models.IndexTemplate) error {
	if err := validateTemplate(t); err != nil {
		return err
	}
	if err := e.store.UpdateTemplate(ctx, t); err != nil {
		return err
	}
	return e.Rebuild(ctx, t.ID)
}

func (e *Engine) GetTemplate(ctx context.Context, id string) (models.IndexTemplate, error) {
	return e.store.GetTemplate(ctx, id)
}

func (e *Engine) ListTemplates(ctx context.Context) ([]models.IndexTemplate, error) {
	return e.store.ListTemplates(ctx)
}

func (e *Engine) DeleteTemplate(ctx context.Context, id string) error {
	return e.store.DeleteTemplate(ctx, id)
}

type NodeInput struct {
	// ParentID empty attaches the node under the template root.
	ParentID      string
	Expression    string
	LinkDocuments bool
	Enabled       bool
}

// AddNode appends a node to a template and rebuilds its tree.
func (e *Engine) AddNode(ctx context.Context, templateID string, in NodeInput) (models.IndexTemplateNode, error) {
	if strings.TrimSpace(in.Expression) == "" {
		return models.IndexTemplateNode{}, util.NewValidationError("expression", "required")
	}
	if _, err := parseExpression(in.Expression); err != nil {
		return models.IndexTemplateNode{}, err
	}
	s, err := e.shape(ctx, templateID)
	if err != nil {
		return models.IndexTemplateNode{}, err
	}
	parent := in.ParentID
	if parent == "" {
		parent = s.root.ID
	}
	n := models.IndexTemplateNode{
		ID:            uuid.NewString(),
		TemplateID:    templateID,
		ParentID:      parent,
		Expression:    in.Expression,
		LinkDocuments: in.LinkDocuments,
		Enabled:       in.Enabled,
		Position:      len(s.children[parent]),
	}
	if err := e.store.CreateTemplateNode(ctx, n); err != nil {
		return models.IndexTemplateNode{}, err
	}
	if err := e.Rebuild(ctx, templateID); err != nil {
		return n, fmt.Errorf("rebuild after node add: %w", err)
	}
	return n, nil
}

func (e *Engine) ListNodes(ctx context.Context, templateID string) ([]models.IndexTemplateNode, error) {
	return e.store.ListTemplateNodes(ctx, templateID)
}
