package mcp

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hybridsearch/docengine/internal/cache"
	"github.com/hybridsearch/docengine/internal/coordinate"
	"github.com/hybridsearch/docengine/internal/docstore"
	"github.com/hybridsearch/docengine/internal/engine"
	"github.com/hybridsearch/docengine/internal/fuse"
	"github.com/hybridsearch/docengine/internal/model"
	"github.com/hybridsearch/docengine/internal/orchestrate"
	"github.com/hybridsearch/docengine/internal/query"
	"github.com/hybridsearch/docengine/internal/rank"
	"github.com/hybridsearch/docengine/internal/retrieve"
)

// memChunker produces one chunk per document, enough to exercise the
// round trip without pulling in the real sentence/markdown chunkers.
type memChunker struct{}

func (memChunker) Chunk(ctx context.Context, doc model.Document) ([]model.Chunk, error) {
	return []model.Chunk{{
		ChunkID:    "chunk-" + doc.DocID.ExternalID,
		DocID:      doc.DocID,
		ChunkIndex: 0,
		Text:       doc.FullText,
	}}, nil
}

// memEmbedder returns a fixed vector regardless of input, sufficient
// for exercising the vector retrieval path without a real model.
type memEmbedder struct{}

func (memEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (memEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

// memIndex is a shared in-memory lexical/vector index double.
type memIndex struct {
	mu   sync.Mutex
	hits []fuse.EngineHit
}

func newMemIndex() *memIndex { return &memIndex{} }

func (m *memIndex) Upsert(ctx context.Context, chunks []model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.hits = append(m.hits, fuse.EngineHit{ChunkID: c.ChunkID, DocID: c.DocID, RawScore: 1})
	}
	return nil
}
func (m *memIndex) UpsertVec(ctx context.Context, chunks []model.Chunk, embeddings []model.Embedding) error {
	return m.Upsert(ctx, chunks)
}
func (m *memIndex) Delete(ctx context.Context, docID model.DocId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.hits[:0]
	for _, h := range m.hits {
		if h.DocID != docID {
			kept = append(kept, h)
		}
	}
	m.hits = kept
	return nil
}
func (m *memIndex) Search(ctx context.Context, query string, k int, filter retrieve.Filter) ([]fuse.EngineHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]fuse.EngineHit{}, m.hits...), nil
}
func (m *memIndex) SearchVec(ctx context.Context, qv []float32, k int, filter retrieve.Filter) ([]fuse.EngineHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]fuse.EngineHit{}, m.hits...), nil
}

type lexAdapter struct{ *memIndex }

func (l lexAdapter) Search(ctx context.Context, q string, k int, filter retrieve.Filter) ([]fuse.EngineHit, error) {
	return l.memIndex.Search(ctx, q, k, filter)
}

type vecAdapter struct{ *memIndex }

func (v vecAdapter) Search(ctx context.Context, qv []float32, k int, filter retrieve.Filter) ([]fuse.EngineHit, error) {
	return v.memIndex.SearchVec(ctx, qv, k, filter)
}
func (v vecAdapter) Upsert(ctx context.Context, chunks []model.Chunk, embeddings []model.Embedding) error {
	return v.memIndex.UpsertVec(ctx, chunks, embeddings)
}

// newTestServer wires a full in-memory engine (coordinator + orchestrator)
// and a real on-disk-format docstore.Store (opened against an in-memory
// SQLite database) behind a Server, for exercising the MCP surface
// end-to-end without any network or filesystem dependency.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	st, err := docstore.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	lex := newMemIndex()
	vec := newMemIndex()
	coord := coordinate.New(lex, vecAdapter{vec}, memChunker{}, memEmbedder{}, st)
	coord.Chunks = st

	versions := engine.NewCollectionVersions()
	orch := orchestrate.New(orchestrate.Config{
		Enhancer:    query.New(query.Options{}),
		Retriever:   retrieve.New(lexAdapter{lex}, vecAdapter{vec}, memEmbedder{}),
		Fuser:       fuse.New(fuse.DefaultWeights(), ""),
		Ranker:      rank.New(rank.DefaultWeights(), 0),
		Chunks:      st,
		Collections: versions,
	})

	eng := engine.New(orch, coord, nil, versions)
	cacheLayer := cache.NewLayer(cache.LayerConfig{})
	info := EmbeddingInfo{Provider: "static", Model: "static-v1", Dimensions: 2, Available: true}

	srv, err := NewServer(eng, st, cacheLayer, info, nil)
	require.NoError(t, err)
	return srv
}

// indexReq builds a minimal model.IndexRequest for tests.
func indexReq(collection, title, content string) model.IndexRequest {
	return model.IndexRequest{Collection: collection, Title: title, Content: content}
}
