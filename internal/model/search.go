package model

import "time"

// SearchType selects which retrieval engines participate in a request.
type SearchType string

const (
	SearchTypeVector  SearchType = "vector"
	SearchTypeLexical SearchType = "lexical"
	SearchTypeHybrid  SearchType = "hybrid"
)

// NormalizationMode selects how a Fuser maps raw engine scores into
// [0,1] before combining them.
type NormalizationMode string

const (
	NormalizationMinMax  NormalizationMode = "min_max"
	NormalizationZScore  NormalizationMode = "z_score"
)

// SearchFilters narrows a search to a subset of the indexed corpus.
type SearchFilters struct {
	CollectionName string
	DocumentTypes  []string
	Tags           []string
	Language       string
	DateFrom       *time.Time
	DateTo         *time.Time
	Custom         map[string]string
}

// SearchRequest is the inbound request contract consumed by the
// SearchOrchestrator. Wire-protocol framing (REST/JSON-RPC/MCP) is
// applied outside this type.
type SearchRequest struct {
	Query               string
	TopK                int
	Filters             SearchFilters
	Collection          string
	IncludeMetadata     bool
	IncludeHighlights   bool
	IncludeEmbeddings   bool
	SimilarityThreshold *float64
	RerankResults       bool
	SearchType          SearchType
}

// Validate enforces the inbound constraints from the external
// interface contract: non-empty query up to 1024 chars, top_k in
// [1,100], and a recognized search_type.
func (r *SearchRequest) Validate() error {
	if len(r.Query) == 0 {
		return errQueryEmpty
	}
	if len(r.Query) > 1024 {
		return errQueryTooLong
	}
	if r.TopK < 0 || r.TopK > 100 {
		return errTopKOutOfRange
	}
	switch r.SearchType {
	case "", SearchTypeVector, SearchTypeLexical, SearchTypeHybrid:
	default:
		return errInvalidSearchType
	}
	return nil
}

// Normalize applies request defaults: top_k defaults to 10, search_type
// defaults to hybrid.
func (r *SearchRequest) Normalize() {
	if r.TopK == 0 {
		r.TopK = 10
	}
	if r.SearchType == "" {
		r.SearchType = SearchTypeHybrid
	}
}

// Scores carries every score a result accumulated on its way through
// the pipeline: raw and normalized per-engine scores, the fused score,
// an optional rerank score, and the final composite.
type Scores struct {
	BM25Raw    float64
	BM25Norm   float64
	VectorRaw  float64
	VectorNorm float64
	Fused      float64
	Rerank     *float64
	Final      float64

	// Signals records the per-factor ranker inputs (vector_similarity,
	// content_relevance, title_boost, recency, metadata_relevance) so
	// downstream tooling can explain a ranking decision. Nil when the
	// Ranker was bypassed (rerank_results=false).
	Signals map[string]float64
}

// FromSignals indicates which engines and which query variants
// surfaced a result, used for explainability and for cross-variant
// deduplication in the Fuser.
type FromSignals struct {
	BM25    bool
	Vector  bool
	Variants []int
}

// SearchResult is a single ranked hit returned to the caller.
type SearchResult struct {
	DocID       DocId
	ChunkID     string
	URI         string
	Title       string
	Snippet     string
	SectionPath []string
	Scores      Scores
	FromSignals FromSignals
	Metadata    map[string]string
	IndexedAt   time.Time
}

// SearchResponse is the outbound response contract.
type SearchResponse struct {
	Results       []SearchResult
	Total         uint64
	TookMS        uint64
	Partial       bool
	Warnings      []string
	EnhancedQuery string
	Debug         *SearchDebug
}

// SearchDebug carries optional diagnostic detail, populated only when
// the caller asked for it via debug-enabled configuration.
type SearchDebug struct {
	Variants []string
	CacheHit bool
	Fusion   map[string]any
}

// IndexRequest is the inbound write-path contract.
type IndexRequest struct {
	DocID      string // external_id; if empty, one is generated
	Collection string
	Title      string
	Content    string
	Metadata   map[string]string
}

// IndexResponse is the outbound write-path contract.
type IndexResponse struct {
	DocID          string
	Version        int
	ChunkCount     int
	AlreadyIndexed bool
}
