// Package coordinate implements the IndexCoordinator: the dual-write
// protocol that keeps the LexicalIndex and VectorIndex consistent, with
// journaled idempotency and compensating deletes on partial failure.
package coordinate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hybridsearch/docengine/internal/apperrors"
	"github.com/hybridsearch/docengine/internal/model"
)

// Chunker splits a document's full text into a deterministic, ordered
// sequence of chunks: the same input must always produce the same
// chunks, since the Coordinator's idempotency and the reconciliation
// task's drift detection both depend on stable chunk counts.
type Chunker interface {
	Chunk(ctx context.Context, doc model.Document) ([]model.Chunk, error)
}

// Embedder computes vector embeddings for a batch of chunk texts in
// one call.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// LexicalWriter is the write side of a LexicalIndex.
type LexicalWriter interface {
	Upsert(ctx context.Context, chunks []model.Chunk) error
	Delete(ctx context.Context, docID model.DocId) error
}

// VectorWriter is the write side of a VectorIndex.
type VectorWriter interface {
	Upsert(ctx context.Context, chunks []model.Chunk, embeddings []model.Embedding) error
	Delete(ctx context.Context, docID model.DocId) error
}

// ChunkStore persists chunk display metadata (title, snippet, section
// path, tags) alongside the lexical and vector indices. It is the
// document store's own record of which chunks exist for a DocId, kept
// in lockstep with the two search indices by the same dual-write/
// compensation protocol.
type ChunkStore interface {
	SaveChunks(ctx context.Context, doc model.Document, chunks []model.Chunk) error
	DeleteChunks(ctx context.Context, docID model.DocId) error
}

// JournalEntry is the durable record committed after a successful
// dual-write, and the unit the reconciliation task audits.
type JournalEntry struct {
	DocID       model.DocId
	ChunkCount  int
	ContentHash string
	Stage       string
	Timestamp   time.Time
}

// Journal is the append-only write-ahead log backing idempotency and
// reconciliation. Implementations must make Find and Append safe for
// concurrent use.
type Journal interface {
	// Find looks up a previously committed entry by the idempotency key
	// (collection, external_id, content_hash, stage).
	Find(ctx context.Context, collection, externalID, contentHash, stage string) (JournalEntry, bool, error)
	Append(ctx context.Context, entry JournalEntry) error
	// Recent returns up to n of the most recently committed entries,
	// newest first, for the reconciliation task's sampled audit.
	Recent(ctx context.Context, n int) ([]JournalEntry, error)
	// LatestVersion returns the highest committed version for
	// (collection, external_id), or 0 if none exists.
	LatestVersion(ctx context.Context, collection, externalID string) (int, error)
}

// StageUpsert is the journal stage recorded for a completed upsert.
const StageUpsert = "upsert"

// Coordinator orchestrates the dual-write upsert/delete protocol
// described in the consistency core: chunk, embed, upsert both indices
// in parallel, journal on success, compensate on partial failure.
type Coordinator struct {
	Lexical  LexicalWriter
	Vector   VectorWriter
	Chunker  Chunker
	Embedder Embedder
	Journal  Journal

	// Chunks is optional: when set, it is written and compensated
	// alongside Lexical and Vector. A Coordinator with no ChunkStore
	// still implements the full consistency protocol over the two
	// search indices alone.
	Chunks ChunkStore

	// mu serializes concurrent writers to the same (collection,
	// external_id): the second writer for a key waits rather than
	// racing to assign the next version.
	mu sync.Mutex
}

// New constructs a Coordinator from its collaborators.
func New(lexical LexicalWriter, vector VectorWriter, chunker Chunker, embedder Embedder, journal Journal) *Coordinator {
	return &Coordinator{Lexical: lexical, Vector: vector, Chunker: chunker, Embedder: embedder, Journal: journal}
}

// Upsert runs the full protocol for one document: assign/accept DocId,
// check content-hash idempotency, chunk, embed, dual-write, journal.
// req.DocID.Collection and req.DocID.ExternalID must already be set;
// req.DocID.Version is assigned by Upsert and the returned DocId
// reflects it. The returned int is the chunk count produced, 0 on a
// cache-hit AlreadyIndexedError since the prior write already reported it.
func (c *Coordinator) Upsert(ctx context.Context, doc model.Document) (model.DocId, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	contentHash := model.ContentHash(doc.FullText)

	if existing, ok, err := c.Journal.Find(ctx, doc.DocID.Collection, doc.DocID.ExternalID, contentHash, StageUpsert); err != nil {
		return model.DocId{}, 0, apperrors.IndexInconsistentError("journal lookup failed", err)
	} else if ok {
		return existing.DocID, 0, apperrors.AlreadyIndexedError(existing.DocID.String())
	}

	latest, err := c.Journal.LatestVersion(ctx, doc.DocID.Collection, doc.DocID.ExternalID)
	if err != nil {
		return model.DocId{}, 0, apperrors.IndexInconsistentError("version lookup failed", err)
	}
	doc.DocID.Version = latest + 1
	doc.ContentHash = contentHash

	chunks, err := c.Chunker.Chunk(ctx, doc)
	if err != nil {
		return model.DocId{}, 0, apperrors.New(apperrors.ErrCodeChunkingFailed, "failed to chunk document", err)
	}
	for i := range chunks {
		chunks[i].DocID = doc.DocID
	}
	if len(chunks) == 0 {
		return model.DocId{}, 0, apperrors.ValidationError("document produced zero chunks", nil)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := c.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return model.DocId{}, 0, apperrors.EmbedderUnavailableError("failed to embed chunks", err)
	}
	embeddings := make([]model.Embedding, len(chunks))
	for i, ch := range chunks {
		embeddings[i] = model.Embedding{ChunkID: ch.ChunkID, Vector: vectors[i]}
	}

	if err := c.dualWrite(ctx, doc, chunks, embeddings); err != nil {
		return model.DocId{}, 0, err
	}

	entry := JournalEntry{
		DocID:       doc.DocID,
		ChunkCount:  len(chunks),
		ContentHash: contentHash,
		Stage:       StageUpsert,
		Timestamp:   doc.IndexedAt,
	}
	if err := c.Journal.Append(ctx, entry); err != nil {
		return model.DocId{}, 0, apperrors.IndexInconsistentError("upsert succeeded but journal commit failed", err)
	}

	return doc.DocID, len(chunks), nil
}

// dualWrite issues parallel upserts to both indices and waits for both
// to acknowledge. If either side fails, it issues a compensating
// delete to the side that succeeded so no partial state is left
// visible to search.
func (c *Coordinator) dualWrite(ctx context.Context, doc model.Document, chunks []model.Chunk, embeddings []model.Embedding) error {
	g, gctx := errgroup.WithContext(ctx)

	var lexOK, vecOK, chunksOK bool
	g.Go(func() error {
		if err := c.Lexical.Upsert(gctx, chunks); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeIndexFailed, err)
		}
		lexOK = true
		return nil
	})
	g.Go(func() error {
		if err := c.Vector.Upsert(gctx, chunks, embeddings); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeIndexFailed, err)
		}
		vecOK = true
		return nil
	})
	if c.Chunks != nil {
		g.Go(func() error {
			if err := c.Chunks.SaveChunks(gctx, doc, chunks); err != nil {
				return apperrors.Wrap(apperrors.ErrCodeIndexFailed, err)
			}
			chunksOK = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.compensate(doc.DocID, lexOK, vecOK, chunksOK)
		return apperrors.IndexInconsistentError("dual write failed, compensating delete issued", err)
	}
	return nil
}

// compensate rolls back whichever side succeeded when another failed,
// using a background context since the caller's context may already
// be cancelled or expired.
func (c *Coordinator) compensate(docID model.DocId, lexOK, vecOK, chunksOK bool) {
	ctx := context.Background()
	if lexOK {
		if err := c.Lexical.Delete(ctx, docID); err != nil {
			slog.Error("compensating lexical delete failed", slog.String("doc_id", docID.String()), slog.String("error", err.Error()))
		}
	}
	if vecOK {
		if err := c.Vector.Delete(ctx, docID); err != nil {
			slog.Error("compensating vector delete failed", slog.String("doc_id", docID.String()), slog.String("error", err.Error()))
		}
	}
	if chunksOK && c.Chunks != nil {
		if err := c.Chunks.DeleteChunks(ctx, docID); err != nil {
			slog.Error("compensating chunk store delete failed", slog.String("doc_id", docID.String()), slog.String("error", err.Error()))
		}
	}
}

// Delete removes a document from both indices in parallel. Partial
// failure is retried with exponential backoff up to maxDeleteAttempts;
// if the side still fails, the error is returned for the caller to
// escalate.
func (c *Coordinator) Delete(ctx context.Context, docID model.DocId) error {
	var lastErr error
	backoff := initialDeleteBackoff
	for attempt := 1; attempt <= maxDeleteAttempts; attempt++ {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return c.Lexical.Delete(gctx, docID) })
		g.Go(func() error { return c.Vector.Delete(gctx, docID) })
		if c.Chunks != nil {
			g.Go(func() error { return c.Chunks.DeleteChunks(gctx, docID) })
		}

		if err := g.Wait(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt < maxDeleteAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}
	return apperrors.IndexInconsistentError("delete failed after retries, escalating", lastErr)
}

const (
	maxDeleteAttempts   = 3
	initialDeleteBackoff = 100 * time.Millisecond
)
