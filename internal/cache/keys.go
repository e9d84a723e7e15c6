package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/hybridsearch/docengine/internal/model"
)

// ResultKey is the Result cache key from spec §4.12: normalized query,
// filters, top_k, behavior flags, and the collection version. Including
// collection_version means a write auto-invalidates cached results for
// that collection without an explicit purge.
type ResultKey struct {
	NormalizedQuery   string
	FilterFingerprint string
	TopK              int
	Flags             string // encodes include_*, rerank_results, search_type
	CollectionVersion uint64
}

// NewResultKey builds a ResultKey from a search request and the
// collection's current mutation counter.
func NewResultKey(req model.SearchRequest, collectionVersion uint64) ResultKey {
	return ResultKey{
		NormalizedQuery:   normalizeQuery(req.Query),
		FilterFingerprint: fingerprintFilters(req.Filters),
		TopK:              req.TopK,
		Flags:             encodeFlags(req),
		CollectionVersion: collectionVersion,
	}
}

// RerankKey is the Rerank cache key: (doc_id, query_hash).
type RerankKey struct {
	DocID     string
	QueryHash string
}

// NewRerankKey builds a RerankKey for a document and query.
func NewRerankKey(docID model.DocId, query string) RerankKey {
	return RerankKey{DocID: docID.String(), QueryHash: hashString(normalizeQuery(query))}
}

// ParaphraseKey is the Paraphrase cache key: (normalized_query, filters).
type ParaphraseKey struct {
	NormalizedQuery   string
	FilterFingerprint string
}

// NewParaphraseKey builds a ParaphraseKey.
func NewParaphraseKey(query string, filters model.SearchFilters) ParaphraseKey {
	return ParaphraseKey{NormalizedQuery: normalizeQuery(query), FilterFingerprint: fingerprintFilters(filters)}
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

func fingerprintFilters(f model.SearchFilters) string {
	var b strings.Builder
	b.WriteString(f.CollectionName)
	b.WriteByte('|')
	b.WriteString(strings.Join(f.DocumentTypes, ","))
	b.WriteByte('|')
	b.WriteString(strings.Join(f.Tags, ","))
	b.WriteByte('|')
	b.WriteString(f.Language)
	if f.DateFrom != nil {
		fmt.Fprintf(&b, "|%d", f.DateFrom.Unix())
	}
	if f.DateTo != nil {
		fmt.Fprintf(&b, "|%d", f.DateTo.Unix())
	}
	keys := make([]string, 0, len(f.Custom))
	for k := range f.Custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, f.Custom[k])
	}
	return hashString(b.String())
}

func encodeFlags(req model.SearchRequest) string {
	return fmt.Sprintf("%s|md=%t|hl=%t|emb=%t|rr=%t",
		req.SearchType, req.IncludeMetadata, req.IncludeHighlights, req.IncludeEmbeddings, req.RerankResults)
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
