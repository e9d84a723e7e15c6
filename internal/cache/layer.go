package cache

import (
	"time"

	"github.com/hybridsearch/docengine/internal/model"
)

// Layer bundles the Result and Rerank caches that sit directly in the
// search read path. The Paraphrase cache lives inside the query
// Enhancer (internal/query) since it is private to stage 2 of query
// enhancement; it is not part of Layer or its stats.
type Layer struct {
	Result  *Cache[ResultKey, model.SearchResponse]
	Rerank  *Cache[RerankKey, float64]
}

// LayerConfig configures cache sizes/TTLs. Zero values take spec
// defaults.
type LayerConfig struct {
	ResultTTL        time.Duration
	ResultMaxEntries int
	RerankTTL        time.Duration
	RerankMaxEntries int
}

// NewLayer constructs a Layer.
func NewLayer(cfg LayerConfig) *Layer {
	resultTTL := cfg.ResultTTL
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	rerankTTL := cfg.RerankTTL
	if rerankTTL <= 0 {
		rerankTTL = DefaultRerankTTL
	}
	return &Layer{
		Result: New[ResultKey, model.SearchResponse](cfg.ResultMaxEntries, resultTTL),
		Rerank: New[RerankKey, float64](cfg.RerankMaxEntries, rerankTTL),
	}
}

// CombinedStats holds the statistics of both caches side by side, used for
// the observability boundary's "cache hit rates by layer" signal.
type CombinedStats struct {
	Result Stats
	Rerank Stats
}

// Stats returns per-cache statistics.
func (l *Layer) Stats() CombinedStats {
	return CombinedStats{Result: l.Result.Stats(), Rerank: l.Rerank.Stats()}
}
