// Package indexadapter bridges the BM25/HNSW storage backends to the
// Retriever's LexicalSearcher/VectorSearcher and the Coordinator's
// LexicalWriter/VectorWriter. The storage backends only know chunk
// IDs; the adapters use a DocResolver (backed by docstore) to recover
// the DocId and apply collection filtering that the backends
// themselves don't implement.
package indexadapter

import (
	"context"

	"github.com/hybridsearch/docengine/internal/docstore"
	"github.com/hybridsearch/docengine/internal/fuse"
	"github.com/hybridsearch/docengine/internal/model"
	"github.com/hybridsearch/docengine/internal/retrieve"
	"github.com/hybridsearch/docengine/internal/store"
)

// DocResolver recovers DocId and chunk-listing information the
// storage backends don't carry themselves.
type DocResolver interface {
	ResolveChunks(ctx context.Context, chunkIDs []string) (map[string]docstore.ChunkRef, error)
	ChunkIDsForDoc(ctx context.Context, docID model.DocId) ([]string, error)
}

// Lexical adapts a store.BM25Index into retrieve.LexicalSearcher and
// coordinate.LexicalWriter.
type Lexical struct {
	Index    store.BM25Index
	Resolver DocResolver
}

// NewLexical constructs a Lexical adapter.
func NewLexical(index store.BM25Index, resolver DocResolver) *Lexical {
	return &Lexical{Index: index, Resolver: resolver}
}

// Search implements retrieve.LexicalSearcher. The BM25 backend has no
// native collection filter, so matches outside the requested
// collection are dropped after resolution; callers relying on tight
// recall should overfetch accordingly (the Retriever already does).
func (l *Lexical) Search(ctx context.Context, query string, k int, filter retrieve.Filter) ([]fuse.EngineHit, error) {
	results, err := l.Index.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	chunkIDs := make([]string, len(results))
	for i, r := range results {
		chunkIDs[i] = r.DocID
	}
	refs, err := l.Resolver.ResolveChunks(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}

	hits := make([]fuse.EngineHit, 0, len(results))
	for _, r := range results {
		ref, ok := refs[r.DocID]
		if !ok {
			continue
		}
		if filter.Collection != "" && ref.DocID.Collection != filter.Collection {
			continue
		}
		hits = append(hits, fuse.EngineHit{
			ChunkID:      r.DocID,
			DocID:        ref.DocID,
			RawScore:     r.Score,
			IndexedAt:    ref.IndexedAt,
			MatchedTerms: r.MatchedTerms,
		})
	}
	return hits, nil
}

// Upsert implements coordinate.LexicalWriter.
func (l *Lexical) Upsert(ctx context.Context, chunks []model.Chunk) error {
	docs := make([]*store.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = &store.Document{ID: c.ChunkID, Content: c.Text}
	}
	return l.Index.Index(ctx, docs)
}

// Delete implements coordinate.LexicalWriter. It resolves the
// document's chunk IDs first since the backend only deletes by chunk
// ID, not by DocId.
func (l *Lexical) Delete(ctx context.Context, docID model.DocId) error {
	chunkIDs, err := l.Resolver.ChunkIDsForDoc(ctx, docID)
	if err != nil {
		return err
	}
	if len(chunkIDs) == 0 {
		return nil
	}
	return l.Index.Delete(ctx, chunkIDs)
}

// Vector adapts a store.VectorStore into retrieve.VectorSearcher and
// coordinate.VectorWriter.
type Vector struct {
	Store    store.VectorStore
	Resolver DocResolver
}

// NewVector constructs a Vector adapter.
func NewVector(vs store.VectorStore, resolver DocResolver) *Vector {
	return &Vector{Store: vs, Resolver: resolver}
}

// Search implements retrieve.VectorSearcher.
func (v *Vector) Search(ctx context.Context, queryVector []float32, k int, filter retrieve.Filter) ([]fuse.EngineHit, error) {
	results, err := v.Store.Search(ctx, queryVector, k)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	chunkIDs := make([]string, len(results))
	for i, r := range results {
		chunkIDs[i] = r.ID
	}
	refs, err := v.Resolver.ResolveChunks(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}

	hits := make([]fuse.EngineHit, 0, len(results))
	for _, r := range results {
		ref, ok := refs[r.ID]
		if !ok {
			continue
		}
		if filter.Collection != "" && ref.DocID.Collection != filter.Collection {
			continue
		}
		hits = append(hits, fuse.EngineHit{
			ChunkID:   r.ID,
			DocID:     ref.DocID,
			RawScore:  float64(r.Score),
			IndexedAt: ref.IndexedAt,
		})
	}
	return hits, nil
}

// Upsert implements coordinate.VectorWriter.
func (v *Vector) Upsert(ctx context.Context, chunks []model.Chunk, embeddings []model.Embedding) error {
	ids := make([]string, len(embeddings))
	vectors := make([][]float32, len(embeddings))
	for i, e := range embeddings {
		ids[i] = e.ChunkID
		vectors[i] = e.Vector
	}
	return v.Store.Add(ctx, ids, vectors)
}

// Delete implements coordinate.VectorWriter.
func (v *Vector) Delete(ctx context.Context, docID model.DocId) error {
	chunkIDs, err := v.Resolver.ChunkIDsForDoc(ctx, docID)
	if err != nil {
		return err
	}
	if len(chunkIDs) == 0 {
		return nil
	}
	return v.Store.Delete(ctx, chunkIDs)
}
