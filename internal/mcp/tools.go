package mcp

// SearchDocumentsInput defines the input schema for the search_documents tool.
type SearchDocumentsInput struct {
	Query         string   `json:"query" jsonschema:"the search query to execute"`
	TopK          int      `json:"top_k,omitempty" jsonschema:"maximum number of results, default 10, max 100"`
	Collection    string   `json:"collection,omitempty" jsonschema:"restrict results to this collection"`
	Tags          []string `json:"tags,omitempty" jsonschema:"filter by document tags (OR logic)"`
	SearchType    string   `json:"search_type,omitempty" jsonschema:"vector, lexical, or hybrid (default)"`
	RerankResults bool     `json:"rerank_results,omitempty" jsonschema:"apply the multi-factor ranker over a larger candidate pool"`
}

// SearchDocumentsOutput defines the output schema for the search_documents tool.
type SearchDocumentsOutput struct {
	Results       []SearchResultOutput `json:"results" jsonschema:"ranked search results"`
	Total         uint64               `json:"total" jsonschema:"number of fused candidates before truncation to top_k"`
	TookMS        uint64               `json:"took_ms" jsonschema:"end-to-end query latency in milliseconds"`
	Partial       bool                 `json:"partial,omitempty" jsonschema:"true if the response degraded under budget or engine failure"`
	Warnings      []string             `json:"warnings,omitempty" jsonschema:"non-fatal conditions encountered while serving the request"`
	EnhancedQuery string               `json:"enhanced_query,omitempty" jsonschema:"the deterministic query-enhancement variant, if any"`
}

// SearchResultOutput defines a single search result.
type SearchResultOutput struct {
	Collection  string            `json:"collection" jsonschema:"collection the document belongs to"`
	DocID       string            `json:"doc_id" jsonschema:"caller-facing document identifier"`
	Version     int               `json:"version" jsonschema:"document version this chunk was indexed from"`
	ChunkID     string            `json:"chunk_id" jsonschema:"identifier of the matched chunk"`
	URI         string            `json:"uri,omitempty" jsonschema:"document URI"`
	Title       string            `json:"title,omitempty" jsonschema:"document title"`
	Snippet     string            `json:"snippet" jsonschema:"matched content snippet"`
	SectionPath []string          `json:"section_path,omitempty" jsonschema:"heading breadcrumb the chunk falls under"`
	Score       float64           `json:"score" jsonschema:"final composite score"`
	BM25Score   float64           `json:"bm25_score" jsonschema:"normalized lexical score"`
	VectorScore float64           `json:"vector_score" jsonschema:"normalized vector similarity score"`
	FromBM25    bool              `json:"from_bm25" jsonschema:"true if the lexical engine surfaced this result"`
	FromVector  bool              `json:"from_vector" jsonschema:"true if the vector engine surfaced this result"`
	Metadata    map[string]string `json:"metadata,omitempty" jsonschema:"caller-supplied document metadata"`
}

// IndexDocumentInput defines the input schema for the index_document tool.
type IndexDocumentInput struct {
	DocID      string            `json:"doc_id,omitempty" jsonschema:"caller-supplied document identifier (must be a UUID); generated if omitted"`
	Collection string            `json:"collection" jsonschema:"collection to index the document into"`
	Title      string            `json:"title,omitempty" jsonschema:"document title"`
	Content    string            `json:"content" jsonschema:"full document text to chunk, embed and index"`
	Metadata   map[string]string `json:"metadata,omitempty" jsonschema:"caller-supplied key/value metadata, e.g. tags, content_type"`
}

// IndexDocumentOutput defines the output schema for the index_document tool.
type IndexDocumentOutput struct {
	DocID          string `json:"doc_id" jsonschema:"the document's caller-facing identifier"`
	Version        int    `json:"version" jsonschema:"the version assigned to this write"`
	ChunkCount     int    `json:"chunk_count" jsonschema:"number of chunks produced"`
	AlreadyIndexed bool   `json:"already_indexed" jsonschema:"true if this exact content was already indexed under this doc_id"`
}

// DeleteDocumentInput defines the input schema for the delete_document tool.
type DeleteDocumentInput struct {
	Collection string `json:"collection" jsonschema:"collection the document belongs to"`
	DocID      string `json:"doc_id" jsonschema:"the document's caller-facing identifier"`
	Version    int    `json:"version" jsonschema:"the document version to remove"`
}

// DeleteDocumentOutput defines the output schema for the delete_document tool.
type DeleteDocumentOutput struct {
	Deleted bool `json:"deleted"`
}

// IndexStatusInput defines the input schema for the index_status tool.
type IndexStatusInput struct {
	Collection string `json:"collection,omitempty" jsonschema:"report the mutation counter for this collection"`
}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	CollectionVersion uint64        `json:"collection_version,omitempty" jsonschema:"current mutation counter for the requested collection"`
	Embeddings        EmbeddingInfo `json:"embeddings"`
	Cache             CacheInfo     `json:"cache"`
}

// EmbeddingInfo contains information about the embedding configuration.
type EmbeddingInfo struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	Dimensions       int    `json:"dimensions"`
	IsFallbackActive bool   `json:"is_fallback_active"`
	Available        bool   `json:"available"`
}

// CacheInfo summarizes the result cache's hit rate, for clients
// deciding whether repeated queries will be served from cache.
type CacheInfo struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}
