package mcp

import (
	"github.com/hybridsearch/docengine/internal/model"
)

// ToSearchResultOutput converts a pipeline search result to the tool
// output format.
func ToSearchResultOutput(r model.SearchResult) SearchResultOutput {
	return SearchResultOutput{
		Collection:  r.DocID.Collection,
		DocID:       r.DocID.ExternalID,
		Version:     r.DocID.Version,
		ChunkID:     r.ChunkID,
		URI:         r.URI,
		Title:       r.Title,
		Snippet:     r.Snippet,
		SectionPath: r.SectionPath,
		Score:       r.Scores.Final,
		BM25Score:   r.Scores.BM25Norm,
		VectorScore: r.Scores.VectorNorm,
		FromBM25:    r.FromSignals.BM25,
		FromVector:  r.FromSignals.Vector,
		Metadata:    r.Metadata,
	}
}
