package indexadapter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridsearch/docengine/internal/docstore"
	"github.com/hybridsearch/docengine/internal/indexadapter"
	"github.com/hybridsearch/docengine/internal/model"
	"github.com/hybridsearch/docengine/internal/retrieve"
	"github.com/hybridsearch/docengine/internal/store"
)

type fakeBM25 struct {
	docs    map[string]string
	results []*store.BM25Result
	deleted []string
}

func newFakeBM25() *fakeBM25 { return &fakeBM25{docs: map[string]string{}} }

func (f *fakeBM25) Index(ctx context.Context, docs []*store.Document) error {
	for _, d := range docs {
		f.docs[d.ID] = d.Content
	}
	return nil
}
func (f *fakeBM25) Search(ctx context.Context, query string, limit int) ([]*store.BM25Result, error) {
	return f.results, nil
}
func (f *fakeBM25) Delete(ctx context.Context, docIDs []string) error {
	f.deleted = append(f.deleted, docIDs...)
	return nil
}
func (f *fakeBM25) AllIDs() ([]string, error)      { return nil, nil }
func (f *fakeBM25) Stats() *store.IndexStats        { return &store.IndexStats{} }
func (f *fakeBM25) Save(path string) error          { return nil }
func (f *fakeBM25) Load(path string) error           { return nil }
func (f *fakeBM25) Close() error                     { return nil }

type fakeVector struct {
	added   map[string][]float32
	results []*store.VectorResult
	deleted []string
}

func newFakeVector() *fakeVector { return &fakeVector{added: map[string][]float32{}} }

func (f *fakeVector) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	for i, id := range ids {
		f.added[id] = vectors[i]
	}
	return nil
}
func (f *fakeVector) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	return f.results, nil
}
func (f *fakeVector) Delete(ctx context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}
func (f *fakeVector) AllIDs() []string        { return nil }
func (f *fakeVector) Contains(id string) bool { return false }
func (f *fakeVector) Count() int              { return len(f.added) }
func (f *fakeVector) Save(path string) error  { return nil }
func (f *fakeVector) Load(path string) error  { return nil }
func (f *fakeVector) Close() error            { return nil }

func newTestDocstore(t *testing.T) *docstore.Store {
	t.Helper()
	s, err := docstore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLexicalSearchResolvesDocIDAndFiltersCollection(t *testing.T) {
	ctx := context.Background()
	ds := newTestDocstore(t)

	docA := model.DocId{Collection: "docs", ExternalID: "a", Version: 1}
	docB := model.DocId{Collection: "other", ExternalID: "b", Version: 1}
	require.NoError(t, ds.SaveChunks(ctx, model.Document{DocID: docA, Title: "A"},
		[]model.Chunk{{ChunkID: "c1", DocID: docA, ChunkIndex: 0, Text: "alpha"}}))
	require.NoError(t, ds.SaveChunks(ctx, model.Document{DocID: docB, Title: "B"},
		[]model.Chunk{{ChunkID: "c2", DocID: docB, ChunkIndex: 0, Text: "beta"}}))

	bm25 := newFakeBM25()
	bm25.results = []*store.BM25Result{
		{DocID: "c1", Score: 1.5, MatchedTerms: []string{"alpha"}},
		{DocID: "c2", Score: 1.2},
	}
	lex := indexadapter.NewLexical(bm25, ds)

	hits, err := lex.Search(ctx, "alpha", 10, retrieve.Filter{Collection: "docs"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, docA, hits[0].DocID)
	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.Equal(t, []string{"alpha"}, hits[0].MatchedTerms)
}

func TestLexicalSearchDropsUnresolvableChunks(t *testing.T) {
	ctx := context.Background()
	ds := newTestDocstore(t)
	bm25 := newFakeBM25()
	bm25.results = []*store.BM25Result{{DocID: "unknown", Score: 1}}
	lex := indexadapter.NewLexical(bm25, ds)

	hits, err := lex.Search(ctx, "q", 10, retrieve.Filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLexicalUpsertIndexesChunkText(t *testing.T) {
	ctx := context.Background()
	ds := newTestDocstore(t)
	bm25 := newFakeBM25()
	lex := indexadapter.NewLexical(bm25, ds)

	chunks := []model.Chunk{{ChunkID: "c1", Text: "hello world"}}
	require.NoError(t, lex.Upsert(ctx, chunks))
	assert.Equal(t, "hello world", bm25.docs["c1"])
}

func TestLexicalDeleteResolvesChunkIDsFromDocstore(t *testing.T) {
	ctx := context.Background()
	ds := newTestDocstore(t)
	docID := model.DocId{Collection: "docs", ExternalID: "a", Version: 1}
	require.NoError(t, ds.SaveChunks(ctx, model.Document{DocID: docID}, []model.Chunk{
		{ChunkID: "c1", DocID: docID, ChunkIndex: 0, Text: "x"},
		{ChunkID: "c2", DocID: docID, ChunkIndex: 1, Text: "y"},
	}))

	bm25 := newFakeBM25()
	lex := indexadapter.NewLexical(bm25, ds)
	require.NoError(t, lex.Delete(ctx, docID))
	assert.ElementsMatch(t, []string{"c1", "c2"}, bm25.deleted)
}

func TestVectorSearchResolvesDocIDAndFiltersCollection(t *testing.T) {
	ctx := context.Background()
	ds := newTestDocstore(t)

	docA := model.DocId{Collection: "docs", ExternalID: "a", Version: 1}
	require.NoError(t, ds.SaveChunks(ctx, model.Document{DocID: docA}, []model.Chunk{
		{ChunkID: "v1", DocID: docA, ChunkIndex: 0, Text: "x"},
	}))

	vec := newFakeVector()
	vec.results = []*store.VectorResult{{ID: "v1", Score: 0.9}, {ID: "missing", Score: 0.8}}
	adapter := indexadapter.NewVector(vec, ds)

	hits, err := adapter.Search(ctx, []float32{0.1, 0.2}, 5, retrieve.Filter{Collection: "docs"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, docA, hits[0].DocID)
	assert.InDelta(t, 0.9, hits[0].RawScore, 1e-9)
}

func TestVectorUpsertAddsEmbeddingsByChunkID(t *testing.T) {
	ctx := context.Background()
	ds := newTestDocstore(t)
	vec := newFakeVector()
	adapter := indexadapter.NewVector(vec, ds)

	chunks := []model.Chunk{{ChunkID: "v1"}}
	embeddings := []model.Embedding{{ChunkID: "v1", Vector: []float32{1, 2, 3}}}
	require.NoError(t, adapter.Upsert(ctx, chunks, embeddings))
	assert.Equal(t, []float32{1, 2, 3}, vec.added["v1"])
}
