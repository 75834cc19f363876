package indexing

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"docflow/internal/blob"
	"docflow/internal/documents"
	"docflow/internal/lock"
	"docflow/internal/models"
	"docflow/internal/storage/kvstore"
	"docflow/internal/util"

	"github.com/stretchr/testify/require"
)

type env struct {
	store  *kvstore.Store
	engine *Engine
	svc    *documents.Service
	typ    models.DocumentType
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	store, err := kvstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	blobs, err := blob.NewFileStore(filepath.Join(t.TempDir(), "blobs"), blob.Plain{})
	require.NoError(t, err)
	locks := lock.NewFileManager(filepath.Join(t.TempDir(), "locks.json"), nil)

	e := &env{store: store, engine: NewEngine(store, locks, Options{}, nil)}
	e.svc = documents.NewService(documents.Deps{
		Store:   store,
		Blobs:   blobs,
		Locks:   locks,
		Indexer: e.engine,
	}, documents.Options{})

	e.typ, err = e.svc.CreateType(ctx, documents.TypeInput{Label: "T"})
	require.NoError(t, err)
	year, err := e.svc.CreateMetadataType(ctx, models.MetadataType{Name: "year"})
	require.NoError(t, err)
	require.NoError(t, e.svc.BindMetadata(ctx, e.typ.ID, year.ID, false))
	return e
}

// typeYearTemplate is root -> {{ .Type.Label }} -> {{ .Metadata.year }},
// documents linked at the year level.
func (e *env) typeYearTemplate(t *testing.T, typeIDs ...string) models.IndexTemplate {
	t.Helper()
	ctx := context.Background()
	tmpl, err := e.engine.CreateTemplate(ctx, TemplateInput{Label: "By year", Enabled: true, TypeIDs: typeIDs})
	require.NoError(t, err)
	require.Equal(t, "by-year", tmpl.Slug)
	byType, err := e.engine.AddNode(ctx, tmpl.ID, NodeInput{Expression: "{{ .Type.Label }}", Enabled: true})
	require.NoError(t, err)
	_, err = e.engine.AddNode(ctx, tmpl.ID, NodeInput{ParentID: byType.ID, Expression: "{{ .Metadata.year }}", LinkDocuments: true, Enabled: true})
	require.NoError(t, err)
	return tmpl
}

func (e *env) doc(t *testing.T, label, year string) models.Document {
	t.Helper()
	d, err := e.svc.CreateDocument(context.Background(), documents.DocumentInput{
		TypeID:   e.typ.ID,
		Label:    label,
		Metadata: map[string]string{"year": year},
	})
	require.NoError(t, err)
	return d
}

// paths maps "value/value" paths of non-root nodes to their documents.
func (e *env) paths(t *testing.T, templateID string) map[string][]string {
	t.Helper()
	nodes, err := e.engine.Instances(context.Background(), templateID)
	require.NoError(t, err)
	checkNestedSet(t, templateID, nodes)
	byID := map[string]models.IndexInstanceNode{}
	for _, n := range nodes {
		byID[n.ID] = n
	}
	out := map[string][]string{}
	for _, n := range nodes {
		if n.ParentID == "" {
			continue
		}
		parts := []string{n.Value}
		for p := byID[n.ParentID]; p.ParentID != ""; p = byID[p.ParentID] {
			parts = append([]string{p.Value}, parts...)
		}
		out[strings.Join(parts, "/")] = n.DocumentIDs
	}
	return out
}

func sorted(ids ...string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

func TestIndexMaintenanceScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tmpl := e.typeYearTemplate(t, e.typ.ID)

	d1 := e.doc(t, "one", "2020")
	d2 := e.doc(t, "two", "2020")
	d3 := e.doc(t, "three", "2021")

	require.Equal(t, map[string][]string{
		"T":      nil,
		"T/2020": sorted(d1.ID, d2.ID),
		"T/2021": {d3.ID},
	}, e.paths(t, tmpl.ID))

	_, err := e.svc.SetMetadata(ctx, d3.ID, map[string]string{"year": "2020"})
	require.NoError(t, err)
	require.Equal(t, map[string][]string{
		"T":      nil,
		"T/2020": sorted(d1.ID, d2.ID, d3.ID),
	}, e.paths(t, tmpl.ID))

	incremental, err := e.engine.Instances(ctx, tmpl.ID)
	require.NoError(t, err)
	require.NoError(t, e.engine.Rebuild(ctx, tmpl.ID))
	rebuilt, err := e.engine.Instances(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Equal(t, incremental, rebuilt)

	under, err := e.engine.DocumentsUnder(ctx, tmpl.ID, rebuilt[0].ID)
	require.NoError(t, err)
	require.Equal(t, sorted(d1.ID, d2.ID, d3.ID), under)
}

func TestTrashDeleteAndTypeChangeLeaveTree(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tmpl := e.typeYearTemplate(t, e.typ.ID)
	other, err := e.svc.CreateType(ctx, documents.TypeInput{Label: "Other"})
	require.NoError(t, err)

	d1 := e.doc(t, "one", "2020")
	d2 := e.doc(t, "two", "2021")

	_, err = e.svc.Trash(ctx, d1.ID)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"T": nil, "T/2021": {d2.ID}}, e.paths(t, tmpl.ID))

	_, err = e.svc.Restore(ctx, d1.ID)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"T": nil, "T/2020": {d1.ID}, "T/2021": {d2.ID}}, e.paths(t, tmpl.ID))

	_, err = e.svc.ChangeType(ctx, d2.ID, other.ID)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"T": nil, "T/2020": {d1.ID}}, e.paths(t, tmpl.ID))

	require.NoError(t, e.svc.Delete(ctx, d1.ID))
	require.Empty(t, e.paths(t, tmpl.ID))
	nodes, err := e.engine.Instances(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 1, "only the root remains")
}

func TestTemplateOnlyAppliesToItsTypes(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	other, err := e.svc.CreateType(ctx, documents.TypeInput{Label: "Other"})
	require.NoError(t, err)
	tmpl := e.typeYearTemplate(t, other.ID)

	e.doc(t, "one", "2020")
	require.Empty(t, e.paths(t, tmpl.ID))

	tmpl.TypeIDs = append(tmpl.TypeIDs, e.typ.ID)
	require.NoError(t, e.engine.UpdateTemplate(ctx, tmpl))
	require.Contains(t, e.paths(t, tmpl.ID), "T/2020")

	tmpl.Enabled = false
	require.NoError(t, e.engine.UpdateTemplate(ctx, tmpl))
	require.Empty(t, e.paths(t, tmpl.ID))
}

func TestAddNodeIndexesExistingDocuments(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	d := e.doc(t, "Quarterly report", "2019")

	tmpl, err := e.engine.CreateTemplate(ctx, TemplateInput{Label: "Initials", Enabled: true, TypeIDs: []string{e.typ.ID}})
	require.NoError(t, err)
	_, err = e.engine.AddNode(ctx, tmpl.ID, NodeInput{Expression: "{{ slice .Label 0 1 | upper }}", LinkDocuments: true, Enabled: true})
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"Q": {d.ID}}, e.paths(t, tmpl.ID))
}

func TestTemplateValidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.engine.CreateTemplate(ctx, TemplateInput{Label: " "})
	require.ErrorIs(t, err, util.ErrValidation)
	_, err = e.engine.CreateTemplate(ctx, TemplateInput{Label: "x", Slug: "Bad Slug"})
	require.ErrorIs(t, err, util.ErrValidation)

	tmpl, err := e.engine.CreateTemplate(ctx, TemplateInput{Label: "Fine"})
	require.NoError(t, err)
	_, err = e.engine.CreateTemplate(ctx, TemplateInput{Label: "Fine"})
	require.ErrorIs(t, err, util.ErrConflict)

	_, err = e.engine.AddNode(ctx, tmpl.ID, NodeInput{Expression: "{{ .Label "})
	require.ErrorIs(t, err, util.ErrValidation)
	_, err = e.engine.AddNode(ctx, tmpl.ID, NodeInput{Expression: ""})
	require.ErrorIs(t, err, util.ErrValidation)

	nodes, err := e.engine.ListNodes(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Empty(t, nodes[0].ParentID)
}

func TestConcurrentChangesConverge(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tmpl := e.typeYearTemplate(t, e.typ.ID)

	var ids []string
	for i := 0; i < 8; i++ {
		ids = append(ids, e.doc(t, fmt.Sprintf("d%d", i), fmt.Sprintf("%d", 2000+i%3)).ID)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.svc.SetMetadata(ctx, id, map[string]string{"year": fmt.Sprintf("%d", 2010+i%2)})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	incremental, err := e.engine.Instances(ctx, tmpl.ID)
	require.NoError(t, err)
	require.NoError(t, e.engine.Rebuild(ctx, tmpl.ID))
	rebuilt, err := e.engine.Instances(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Equal(t, rebuilt, incremental)
	require.Len(t, e.paths(t, tmpl.ID), 3)
}
