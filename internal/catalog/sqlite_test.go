package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/DbChat/internal/schema"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SeedAndList(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)

	added, err := store.Seed(ctx, sampleElements())
	require.NoError(t, err)
	assert.Equal(t, 5, added)

	added, err = store.Seed(ctx, sampleElements())
	require.NoError(t, err)
	assert.Zero(t, added, "seeding twice adds nothing")

	all, err := store.AllElements(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, schema.TableElement, all[0].Type)
	assert.Equal(t, "companies", all[0].TableName)
	assert.Equal(t, "Company facts", all[0].Description)
	assert.Equal(t, schema.ColumnElement, all[2].Type)
	assert.Equal(t, "company_id", all[2].ColumnName)
	assert.Nil(t, all[2].Embedding)
}

func TestSQLiteStore_PersistEmbedding(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)
	_, err := store.Seed(ctx, sampleElements())
	require.NoError(t, err)

	missing, err := store.MissingEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, missing, 5)

	vec := []float32{0.25, -1.5, 3}
	require.NoError(t, store.PersistEmbedding(ctx, missing[0], vec))
	require.NoError(t, store.PersistEmbedding(ctx, missing[3], vec))

	missing, err = store.MissingEmbeddings(ctx)
	require.NoError(t, err)
	assert.Len(t, missing, 3)

	all, err := store.AllElements(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(vec, all[0].Embedding); diff != "" {
		t.Errorf("embedding mismatch (-want +got):\n%s", diff)
	}

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Tables: 2, Columns: 3, EmbeddedTables: 1, EmbeddedCols: 1}, counts)
}

func TestSQLiteStore_PersistUnknown(t *testing.T) {
	store := openTestSQLite(t)
	err := store.PersistEmbedding(context.Background(), schema.Element{ID: 99, Type: schema.ColumnElement}, []float32{1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Populate(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)
	_, err := store.Seed(ctx, sampleElements())
	require.NoError(t, err)

	report, err := Populate(ctx, store, &stubEmbedder{}, PopulateOptions{Concurrency: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Embedded)

	emb := &stubEmbedder{}
	report, err = Populate(ctx, store, emb, PopulateOptions{Concurrency: 4})
	require.NoError(t, err)
	assert.Zero(t, report.Missing)
	assert.Zero(t, emb.calls.Load())
}

func TestVectorCodec(t *testing.T) {
	vec := []float32{1, -2.5, 0, 3.25}
	got := decodeVector(encodeVector(vec).([]byte))
	assert.Equal(t, vec, got)

	assert.Nil(t, encodeVector(nil))
	assert.Nil(t, decodeVector(nil))
}
