package search

import (
	"context"
	"os"
	"testing"
	"time"

	"docflow/internal/models"
	"docflow/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPostgresMatcher(t *testing.T) {
	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		t.Skip("POSTGRES_URL not set")
	}
	ctx := context.Background()
	db, err := storage.NewDB(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(ctx))
	st := storage.NewPostgres(db)
	t.Cleanup(func() { _ = st.Close() })

	// a unique marker keeps rows from other runs out of the result sets
	tag := uuid.NewString()[:8]
	now := time.Now().UTC().Truncate(time.Millisecond)
	typ := models.DocumentType{ID: uuid.NewString(), Label: "Invoice " + tag, DeleteAfter: 24 * time.Hour, CreatedAt: now}
	require.NoError(t, st.CreateType(ctx, typ))

	live := models.Document{ID: uuid.NewString(), UUID: uuid.NewString(), TypeID: typ.ID, Label: "March_report " + tag, Language: "eng", DateAdded: now}
	trashed := models.Document{ID: uuid.NewString(), UUID: uuid.NewString(), TypeID: typ.ID, Label: "March report " + tag, Language: "eng", DateAdded: now, InTrash: true, TrashedAt: &now}
	require.NoError(t, st.CreateDocument(ctx, live))
	require.NoError(t, st.CreateDocument(ctx, trashed))

	v := models.DocumentVersion{ID: uuid.NewString(), DocumentID: live.ID, Timestamp: now, MimeType: "text/plain", Encoding: "utf-8", Checksum: tag, Size: 5, BlobRef: tag, PageCount: 1}
	page := models.DocumentPage{ID: uuid.NewString(), VersionID: v.ID, PageNumber: 1}
	require.NoError(t, st.CommitVersion(ctx, v, []models.DocumentPage{page}))
	require.NoError(t, st.SavePageContent(ctx, models.PageContent{PageID: page.ID, VersionID: v.ID, Source: "parsing", Content: "total due 100% " + tag, UpdatedAt: now}))

	m := NewPostgresMatcher(db)
	match := func(entity, path string, terms ...string) Set {
		t.Helper()
		got, err := m.Match(ctx, entity, path, terms)
		require.NoError(t, err)
		return got
	}

	require.Equal(t, Set{live.ID: {}}, match(EntityDocument, "label", "march", tag))
	// terms are matched literally, so '_' is not a wildcard
	require.Equal(t, Set{live.ID: {}}, match(EntityDocument, "label", "march_", tag))
	require.Empty(t, match(EntityDocument, "label", "march", "absent", tag))
	require.Equal(t, Set{live.ID: {}}, match(EntityDocument, "versions__pages__content", "100%", tag))
	require.Empty(t, match(EntityDocument, "versions__pages__content", "200%", tag))
	require.Equal(t, Set{live.ID: {}}, match(EntityDocument, "type__label", "invoice", tag))
	require.Equal(t, Set{typ.ID: {}}, match(EntityDocumentType, "label", tag))

	_, err = m.Match(ctx, EntityDocument, "nope", []string{tag})
	require.Error(t, err)

	for _, id := range []string{live.ID, trashed.ID} {
		_, err := st.DeleteDocument(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, st.DeleteType(ctx, typ.ID))
}
