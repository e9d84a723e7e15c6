// Package retrieve implements the Retriever: parallel dual-engine
// retrieval per query variant, under a per-engine timeout, with
// partial-failure degradation.
package retrieve

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hybridsearch/docengine/internal/apperrors"
	"github.com/hybridsearch/docengine/internal/fuse"
)

// DefaultEngineTimeout is the per-engine retrieval timeout.
const DefaultEngineTimeout = 200 * time.Millisecond

// DefaultOverfetchFactor means each variant asks each engine for
// overfetch * top_k results so the Fuser has material to work with.
const DefaultOverfetchFactor = 3

// Filter narrows retrieval to a collection/metadata subset. Both
// engines receive the same filter for a given request.
type Filter struct {
	Collection string
	Tags       []string
	Custom     map[string]string
}

// LexicalSearcher is the Retriever's view of a LexicalIndex.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, k int, filter Filter) ([]fuse.EngineHit, error)
}

// VectorSearcher is the Retriever's view of a VectorIndex, taking a
// pre-computed query embedding.
type VectorSearcher interface {
	Search(ctx context.Context, queryVector []float32, k int, filter Filter) ([]fuse.EngineHit, error)
}

// Embedder is the minimal embedding contract the Retriever needs to
// turn a query variant into a vector before calling VectorSearcher.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever fans a list of query variants out to both engines in
// parallel, subject to a per-engine timeout.
type Retriever struct {
	Lexical        LexicalSearcher
	Vector         VectorSearcher
	Embed          Embedder
	EngineTimeout  time.Duration
	OverfetchRatio int
}

// New constructs a Retriever, applying spec defaults for zero-valued
// fields.
func New(lexical LexicalSearcher, vector VectorSearcher, embed Embedder) *Retriever {
	return &Retriever{
		Lexical:        lexical,
		Vector:         vector,
		Embed:          embed,
		EngineTimeout:  DefaultEngineTimeout,
		OverfetchRatio: DefaultOverfetchFactor,
	}
}

// Outcome is the result of retrieving across every variant.
type Outcome struct {
	Variants []fuse.VariantHits
	Partial  bool
	Warnings []string
}

// Retrieve runs lexical and vector retrieval for every variant in
// parallel. If one engine fails or times out for a variant, retrieval
// proceeds with the surviving engine and Outcome.Partial is set. If
// both engines fail for every variant, returns apperrors.BothEnginesFailedError.
func (r *Retriever) Retrieve(ctx context.Context, variants []string, topK int, filter Filter) (Outcome, error) {
	overfetch := r.OverfetchRatio
	if overfetch <= 0 {
		overfetch = DefaultOverfetchFactor
	}
	k := topK * overfetch
	if k <= 0 {
		k = topK
	}

	hits := make([]fuse.VariantHits, len(variants))
	var mu sync.Mutex
	var anySucceeded bool
	var warnings []string

	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range variants {
		i, variant := i, variant
		g.Go(func() error {
			var bm25, vec []fuse.EngineHit
			var bm25OK, vecOK bool

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				bm25, bm25OK = r.runLexical(gctx, variant, k, filter)
			}()
			go func() {
				defer wg.Done()
				vec, vecOK = r.runVector(gctx, variant, k, filter)
			}()
			wg.Wait()

			mu.Lock()
			defer mu.Unlock()
			hits[i] = fuse.VariantHits{VariantIndex: i, BM25: bm25, Vector: vec}
			if bm25OK || vecOK {
				anySucceeded = true
			}
			if bm25OK && !vecOK {
				warnings = append(warnings, "vector_engine_timeout")
			}
			if vecOK && !bm25OK {
				warnings = append(warnings, "lexical_engine_timeout")
			}
			return nil
		})
	}
	_ = g.Wait() // per-subtask errors are swallowed; see runLexical/runVector

	if !anySucceeded {
		return Outcome{}, apperrors.BothEnginesFailedError(nil)
	}

	return Outcome{Variants: hits, Partial: len(warnings) > 0, Warnings: dedupWarnings(warnings)}, nil
}

func (r *Retriever) runLexical(ctx context.Context, query string, k int, filter Filter) ([]fuse.EngineHit, bool) {
	if r.Lexical == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, r.engineTimeout())
	defer cancel()

	hits, err := r.Lexical.Search(ctx, query, k, filter)
	if err != nil {
		slog.Debug("lexical retrieval failed", slog.String("error", err.Error()))
		return nil, false
	}
	return hits, true
}

func (r *Retriever) runVector(ctx context.Context, query string, k int, filter Filter) ([]fuse.EngineHit, bool) {
	if r.Vector == nil || r.Embed == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, r.engineTimeout())
	defer cancel()

	vector, err := r.Embed.Embed(ctx, query)
	if err != nil {
		slog.Debug("query embedding failed", slog.String("error", err.Error()))
		return nil, false
	}

	hits, err := r.Vector.Search(ctx, vector, k, filter)
	if err != nil {
		slog.Debug("vector retrieval failed", slog.String("error", err.Error()))
		return nil, false
	}
	return hits, true
}

func (r *Retriever) engineTimeout() time.Duration {
	if r.EngineTimeout <= 0 {
		return DefaultEngineTimeout
	}
	return r.EngineTimeout
}

func dedupWarnings(warnings []string) []string {
	seen := make(map[string]struct{}, len(warnings))
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		if _, ok := seen[w]; !ok {
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}
