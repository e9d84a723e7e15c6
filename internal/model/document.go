package model

import "time"

// Document is a single version of a caller-supplied document. Documents
// are never mutated in place: a new Version supersedes the old one.
type Document struct {
	DocID       DocId
	Title       string
	URI         string
	FullText    string
	Metadata    map[string]string
	ContentHash string
	IndexedAt   time.Time
}

// Chunk is an addressable sub-span of a document, the unit of indexing
// and retrieval. Chunks of a document form a gap-free ordered sequence
// starting at 0.
type Chunk struct {
	ChunkID    string
	DocID      DocId
	ChunkIndex int
	Text       string
	// SectionPath is an ordered sequence of heading strings, e.g.
	// ["Chapter 2", "Retrieval"].
	SectionPath []string
	Offsets     Range
}

// Range is a half-open [Start, End) byte offset span into a document's
// FullText.
type Range struct {
	Start int
	End   int
}

// Embedding is the vector representation of a single chunk. All
// embeddings within one VectorIndex instance share Dimensions and
// ModelID.
type Embedding struct {
	ChunkID string
	Vector  []float32
	ModelID string
}

// PostingEntry is a LexicalIndex-internal inverted-index entry.
type PostingEntry struct {
	Term           string
	ChunkID        string
	TermFrequency  int
	Positions      []int
}

// CollectionStats summarizes a collection's size and mutation counter.
// Version is bumped on every mutation and used as part of the result
// cache key so writes auto-invalidate stale cached responses.
type CollectionStats struct {
	DocCount      int
	ChunkCount    int
	Version       uint64
	SchemaVersion int
}
