// Package orchestrate implements the SearchOrchestrator: the request
// state machine that binds query enhancement, retrieval, fusion and
// ranking into one read path, with result caching and end-to-end
// budget enforcement.
package orchestrate

import (
	"context"
	"log/slog"
	"time"

	"github.com/hybridsearch/docengine/internal/cache"
	"github.com/hybridsearch/docengine/internal/fuse"
	"github.com/hybridsearch/docengine/internal/model"
	"github.com/hybridsearch/docengine/internal/query"
	"github.com/hybridsearch/docengine/internal/rank"
	"github.com/hybridsearch/docengine/internal/retrieve"
)

// DefaultHybridBudget is the end-to-end P95 target for hybrid search
// with no reranking.
const DefaultHybridBudget = 350 * time.Millisecond

// DefaultRerankBudget is the end-to-end P95 target when rerank_results
// is set.
const DefaultRerankBudget = 900 * time.Millisecond

// ChunkMeta is the document/chunk context the Orchestrator needs to
// hand the Ranker a Candidate: title, section path, tags and a
// display snippet.
type ChunkMeta struct {
	URI         string
	Title       string
	Snippet     string
	SectionPath []string
	Tags        []string
	Metadata    map[string]string
}

// ChunkMetadataStore batch-fetches chunk context for a set of chunk
// IDs in one round trip, mirroring the batch GetChunks pattern used
// for result enrichment.
type ChunkMetadataStore interface {
	GetChunks(ctx context.Context, chunkIDs []string) (map[string]ChunkMeta, error)
}

// CollectionVersions reports the current mutation counter for a
// collection, used both as a cache-key component and to let a bumped
// counter auto-invalidate stale Result cache entries.
type CollectionVersions interface {
	Version(collection string) uint64
}

// Config wires an Orchestrator's collaborators and policy knobs.
type Config struct {
	Enhancer     *query.Enhancer
	Retriever    *retrieve.Retriever
	Fuser        *fuse.Fuser
	Ranker       *rank.Ranker
	Cache        *cache.Layer
	Chunks       ChunkMetadataStore
	Collections  CollectionVersions
	HybridBudget time.Duration
	RerankBudget time.Duration
}

// Orchestrator runs the Received -> CacheLookup -> Enhance -> Retrieve
// -> Fuse -> Rank -> CacheStore -> Return state machine described for
// the search read path.
type Orchestrator struct {
	cfg Config
}

// New constructs an Orchestrator, applying budget defaults for
// zero-valued fields.
func New(cfg Config) *Orchestrator {
	if cfg.HybridBudget <= 0 {
		cfg.HybridBudget = DefaultHybridBudget
	}
	if cfg.RerankBudget <= 0 {
		cfg.RerankBudget = DefaultRerankBudget
	}
	return &Orchestrator{cfg: cfg}
}

// Search runs one request through the full pipeline. A cache hit
// short-circuits directly to Return; a budget breach degrades to a
// partial response rather than failing, except when both retrieval
// engines are down, which is a hard failure.
func (o *Orchestrator) Search(ctx context.Context, req model.SearchRequest) (model.SearchResponse, error) {
	start := time.Now()
	req.Normalize()
	if err := req.Validate(); err != nil {
		return model.SearchResponse{}, err
	}

	budget := o.cfg.HybridBudget
	if req.RerankResults {
		budget = o.cfg.RerankBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	collVersion := o.collectionVersion(req.Filters.CollectionName)

	var resultKey cache.ResultKey
	if o.cfg.Cache != nil {
		resultKey = cache.NewResultKey(req, collVersion)
		if cached, ok := o.cfg.Cache.Result.Get(resultKey); ok {
			cached.Debug = debugWithCacheHit(cached.Debug, true)
			return cached, nil
		}
	}

	resp, err := o.runPipeline(ctx, req)
	if err != nil {
		return model.SearchResponse{}, err
	}
	resp.TookMS = uint64(time.Since(start).Milliseconds())

	if ctx.Err() != nil && !resp.Partial {
		resp.Partial = true
		resp.Warnings = append(resp.Warnings, "budget_exceeded")
	}

	if o.cfg.Cache != nil && !resp.Partial {
		o.cfg.Cache.Result.Put(resultKey, resp)
	}
	return resp, nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, req model.SearchRequest) (model.SearchResponse, error) {
	filterKey := ""
	if o.cfg.Enhancer != nil {
		filterKey = req.Filters.CollectionName
	}

	variants := []string{req.Query}
	enhanced := model.SearchResponse{}
	if o.cfg.Enhancer != nil {
		result := o.cfg.Enhancer.Enhance(ctx, req.Query, filterKey)
		variants = result.Variants
		if result.BudgetExceeded {
			enhanced.Warnings = append(enhanced.Warnings, "paraphrase_budget_exceeded")
		}
	}

	filter := retrieve.Filter{Collection: req.Filters.CollectionName, Tags: req.Filters.Tags, Custom: req.Filters.Custom}
	outcome, err := o.cfg.Retriever.Retrieve(ctx, variants, req.TopK, filter)
	if err != nil {
		return model.SearchResponse{}, err
	}

	fused := o.cfg.Fuser.Fuse(outcome.Variants)
	candidates := o.toCandidates(ctx, fused)

	results := o.cfg.Ranker.Rank(req.Query, candidates, req.TopK, req.RerankResults, time.Now())

	resp := model.SearchResponse{
		Results:       results,
		Total:         uint64(len(fused)),
		Partial:       outcome.Partial,
		Warnings:      append(enhanced.Warnings, outcome.Warnings...),
		EnhancedQuery: secondVariant(variants),
	}
	return resp, nil
}

// toCandidates attaches chunk metadata to fused hits. A lookup failure
// degrades to empty metadata rather than dropping the hit: a search
// result missing a title is better than a missing result.
func (o *Orchestrator) toCandidates(ctx context.Context, fused []fuse.FusedHit) []rank.Candidate {
	candidates := make([]rank.Candidate, 0, len(fused))
	if o.cfg.Chunks == nil {
		for _, hit := range fused {
			candidates = append(candidates, rank.Candidate{Hit: hit})
		}
		return candidates
	}

	ids := make([]string, len(fused))
	for i, hit := range fused {
		ids[i] = hit.ChunkID
	}
	meta, err := o.cfg.Chunks.GetChunks(ctx, ids)
	if err != nil {
		slog.Warn("chunk metadata lookup failed", slog.String("error", err.Error()))
		meta = nil
	}

	for _, hit := range fused {
		m := meta[hit.ChunkID]
		candidates = append(candidates, rank.Candidate{
			Hit:         hit,
			Title:       m.Title,
			SectionPath: m.SectionPath,
			Tags:        m.Tags,
			Snippet:     m.Snippet,
		})
	}
	return candidates
}

func (o *Orchestrator) collectionVersion(collection string) uint64 {
	if o.cfg.Collections == nil {
		return 0
	}
	return o.cfg.Collections.Version(collection)
}

func secondVariant(variants []string) string {
	if len(variants) < 2 {
		return ""
	}
	return variants[1]
}

func debugWithCacheHit(d *model.SearchDebug, hit bool) *model.SearchDebug {
	if d == nil {
		d = &model.SearchDebug{}
	}
	d.CacheHit = hit
	return d
}
