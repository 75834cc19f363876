// Package indexing maintains index instance trees: for every template, the
// documents sorted into a tree of values computed from their fields and
// metadata. Trees are stored as nested sets and kept in step with document
// changes one (template, document) pair at a time.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"docflow/internal/lock"
	"docflow/internal/models"
	"docflow/internal/storage"
	"docflow/internal/util"
)

type Store interface {
	storage.IndexStore
	GetDocument(ctx context.Context, id string) (models.Document, error)
	ListDocuments(ctx context.Context, f storage.DocumentFilter) ([]models.Document, error)
	GetType(ctx context.Context, id string) (models.DocumentType, error)
	ListVersions(ctx context.Context, documentID string) ([]models.DocumentVersion, error)
}

func LockName(templateID, documentID string) string {
	return "index:" + templateID + ":" + documentID
}

type Options struct {
	LockTTL time.Duration
	// LockWait is how long a change waits for another change of the same
	// (template, document) to finish.
	LockWait time.Duration
}

type Engine struct {
	store    Store
	locks    lock.Manager
	eval     *evaluator
	lockTTL  time.Duration
	lockWait time.Duration
	log      *slog.Logger
}

func NewEngine(store Store, locks lock.Manager, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Minute
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 10 * time.Second
	}
	return &Engine{
		store:    store,
		locks:    locks,
		eval:     newEvaluator(),
		lockTTL:  opts.LockTTL,
		lockWait: opts.LockWait,
		log:      logger.With("component", "indexing"),
	}
}

// shape is a template's node tree keyed by parent.
type shape struct {
	root     models.IndexTemplateNode
	children map[string][]models.IndexTemplateNode
}

func (e *Engine) shape(ctx context.Context, templateID string) (shape, error) {
	nodes, err := e.store.ListTemplateNodes(ctx, templateID)
	if err != nil {
		return shape{}, fmt.Errorf("list template nodes: %w", err)
	}
	s := shape{children: map[string][]models.IndexTemplateNode{}}
	found := false
	for _, n := range nodes {
		if n.ParentID == "" {
			s.root, found = n, true
			continue
		}
		s.children[n.ParentID] = append(s.children[n.ParentID], n)
	}
	if !found {
		return shape{}, fmt.Errorf("template %s has no root node: %w", templateID, util.ErrNotFound)
	}
	return s, nil
}

// place walks the template tree for one document, materialising the
// instance nodes its values lead to and linking it at every
// link_documents node reached.
func (e *Engine) place(t *tree, s shape, c Context, documentID string) {
	var walk func(templateNodeID string, inst *models.IndexInstanceNode)
	walk = func(templateNodeID string, inst *models.IndexInstanceNode) {
		for _, child := range s.children[templateNodeID] {
			if !child.Enabled {
				continue
			}
			values, err := e.eval.values(child.Expression, c)
			if err != nil {
				e.log.Warn("index expression failed", "template_node_id", child.ID, "document_id", documentID, "error", err)
				continue
			}
			for _, v := range values {
				n := t.ensure(inst.ID, child.ID, v)
				if child.LinkDocuments {
					t.link(n, documentID)
				}
				walk(child.ID, n)
			}
		}
	}
	walk(s.root.ID, t.nodes[t.rootID])
}

// docContext returns nil when the document belongs in no tree.
func (e *Engine) docContext(ctx context.Context, doc models.Document) (*Context, error) {
	if doc.InTrash {
		return nil, nil
	}
	typ, err := e.store.GetType(ctx, doc.TypeID)
	if err != nil {
		return nil, fmt.Errorf("get document type: %w", err)
	}
	versions, err := e.store.ListVersions(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	c := NewContext(doc, typ, versions)
	return &c, nil
}

// DocumentChanged re-evaluates every enabled template for the document.
func (e *Engine) DocumentChanged(ctx context.Context, documentID string) error {
	doc, err := e.store.GetDocument(ctx, documentID)
	if errors.Is(err, util.ErrNotFound) {
		return e.DocumentDeleted(ctx, documentID)
	}
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	c, err := e.docContext(ctx, doc)
	if err != nil {
		return err
	}
	templates, err := e.store.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("list index templates: %w", err)
	}
	var errs []error
	for _, t := range templates {
		if !t.Enabled {
			continue
		}
		var tc *Context
		if c != nil && t.AppliesTo(doc.TypeID) {
			tc = c
		}
		if err := e.maintain(ctx, t, documentID, tc); err != nil {
			errs = append(errs, fmt.Errorf("template %s: %w", t.Slug, err))
		}
	}
	return errors.Join(errs...)
}

// DocumentDeleted removes the document from every tree.
func (e *Engine) DocumentDeleted(ctx context.Context, documentID string) error {
	templates, err := e.store.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("list index templates: %w", err)
	}
	var errs []error
	for _, t := range templates {
		if err := e.maintain(ctx, t, documentID, nil); err != nil {
			errs = append(errs, fmt.Errorf("template %s: %w", t.Slug, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) maintain(ctx context.Context, t models.IndexTemplate, documentID string, c *Context) error {
	return lock.WithWait(ctx, e.locks, LockName(t.ID, documentID), e.lockTTL, e.lockWait, func(ctx context.Context) error {
		s, err := e.shape(ctx, t.ID)
		if err != nil {
			return err
		}
		mutate := func(cur []models.IndexInstanceNode) ([]models.IndexInstanceNode, error) {
			tr := loadTree(t.ID, s.root.ID, cur)
			tr.removeDocument(documentID)
			if c != nil {
				e.place(tr, s, *c, documentID)
			}
			tr.collect()
			return tr.flatten(), nil
		}
		// other documents of the template write the same tree
		for attempt := 1; ; attempt++ {
			err := e.store.UpdateInstanceTree(ctx, t.ID, mutate)
			if err == nil || !util.IsTransient(err) || attempt == treeWriteAttempts {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 5 * time.Millisecond):
			}
		}
	})
}

const treeWriteAttempts = 10

// Rebuild recomputes a template's tree from every document. The result is
// the tree incremental maintenance converges to.
func (e *Engine) Rebuild(ctx context.Context, templateID string) error {
	t, err := e.store.GetTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	s, err := e.shape(ctx, t.ID)
	if err != nil {
		return err
	}
	type placement struct {
		id string
		c  Context
	}
	var todo []placement
	if t.Enabled {
		notTrashed := false
		docs, err := e.store.ListDocuments(ctx, storage.DocumentFilter{InTrash: &notTrashed})
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
		for _, d := range docs {
			if !t.AppliesTo(d.TypeID) {
				continue
			}
			c, err := e.docContext(ctx, d)
			if err != nil {
				return err
			}
			if c != nil {
				todo = append(todo, placement{id: d.ID, c: *c})
			}
		}
	}
	err = e.store.UpdateInstanceTree(ctx, t.ID, func([]models.IndexInstanceNode) ([]models.IndexInstanceNode, error) {
		tr := loadTree(t.ID, s.root.ID, nil)
		for _, p := range todo {
			e.place(tr, s, p.c, p.id)
		}
		tr.collect()
		return tr.flatten(), nil
	})
	if err != nil {
		return err
	}
	e.log.Info("index rebuilt", "template", t.Slug, "documents", len(todo))
	return nil
}

func (e *Engine) RebuildAll(ctx context.Context) error {
	templates, err := e.store.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("list index templates: %w", err)
	}
	for _, t := range templates {
		if err := e.Rebuild(ctx, t.ID); err != nil {
			return fmt.Errorf("rebuild %s: %w", t.Slug, err)
		}
	}
	return nil
}

// Instances returns a template's instance tree in lft order.
func (e *Engine) Instances(ctx context.Context, templateID string) ([]models.IndexInstanceNode, error) {
	return e.store.ListInstanceNodes(ctx, templateID)
}

// DocumentsUnder returns the sorted IDs of the documents linked anywhere in
// the subtree rooted at nodeID.
func (e *Engine) DocumentsUnder(ctx context.Context, templateID, nodeID string) ([]string, error) {
	nodes, err := e.store.ListInstanceNodes(ctx, templateID)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.ID != nodeID {
			continue
		}
		seen := map[string]struct{}{}
		var out []string
		for _, x := range subtree(nodes, n) {
			for _, id := range x.DocumentIDs {
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					out = append(out, id)
				}
			}
		}
		slices.Sort(out)
		return out, nil
	}
	return nil, fmt.Errorf("index node %s: %w", nodeID, util.ErrNotFound)
}
