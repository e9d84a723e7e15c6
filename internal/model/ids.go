// Package model defines the core data types shared across the search
// pipeline and the index coordinator: document identity, chunks,
// embeddings, search requests/responses, and the scoring records that
// flow from retrieval through fusion and ranking.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// DocId is the stable identity of a document version. All indices key
// by DocId. Two live entries never share (Collection, ExternalID) at
// the same Version.
type DocId struct {
	Collection string
	ExternalID string
	Version    int
}

// String renders a DocId as a single opaque key suitable for use as a
// map key or journal filename component.
func (d DocId) String() string {
	return fmt.Sprintf("%s/%s/v%d", d.Collection, d.ExternalID, d.Version)
}

// SupersededBy reports whether other has the same (Collection, ExternalID)
// at a strictly greater Version.
func (d DocId) SupersededBy(other DocId) bool {
	return d.Collection == other.Collection &&
		d.ExternalID == other.ExternalID &&
		other.Version > d.Version
}

// NewExternalID generates a fresh caller-facing document identifier.
// Index requests that omit doc_id get one of these; requests that
// supply one must pass ValidateExternalID first.
func NewExternalID() string {
	return uuid.NewString()
}

// ValidateExternalID rejects anything that isn't a well-formed UUID.
// Per the index-request contract, a caller-supplied doc_id must be
// preserved verbatim and invalid UUIDs are rejected, not coerced.
func ValidateExternalID(id string) error {
	_, err := uuid.Parse(id)
	return err
}

// ChunkID derives the deterministic identifier for chunk index n of doc.
// Same (doc, n) always yields the same ChunkID, which is what lets the
// coordinator and reconciliation task recompute expected chunk ids
// without consulting storage.
func ChunkID(doc DocId, chunkIndex int) string {
	h := sha256.New()
	h.Write([]byte(doc.String()))
	h.Write([]byte{0})
	h.Write([]byte(fmt.Sprintf("%d", chunkIndex)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// ContentHash computes the content-addressed hash used for idempotency:
// (collection, external_id, content_hash) identifies an already-indexed
// document regardless of version number.
func ContentHash(normalizedFullText string) string {
	sum := sha256.Sum256([]byte(normalizedFullText))
	return hex.EncodeToString(sum[:])
}
