package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hybridsearch/docengine/internal/model"
)

func TestToSearchResultOutputMapsAllFields(t *testing.T) {
	r := model.SearchResult{
		DocID:       model.DocId{Collection: "docs", ExternalID: "ext-1", Version: 2},
		ChunkID:     "chunk-1",
		URI:         "https://example.com/doc",
		Title:       "Intro",
		Snippet:     "hybrid retrieval overview",
		SectionPath: []string{"Overview", "Architecture"},
		Scores:      model.Scores{Final: 0.87, BM25Norm: 0.6, VectorNorm: 0.9},
		FromSignals: model.FromSignals{BM25: true, Vector: true},
		Metadata:    map[string]string{"author": "alice"},
	}

	out := ToSearchResultOutput(r)

	assert.Equal(t, "docs", out.Collection)
	assert.Equal(t, "ext-1", out.DocID)
	assert.Equal(t, 2, out.Version)
	assert.Equal(t, "chunk-1", out.ChunkID)
	assert.Equal(t, "Intro", out.Title)
	assert.Equal(t, "hybrid retrieval overview", out.Snippet)
	assert.Equal(t, []string{"Overview", "Architecture"}, out.SectionPath)
	assert.InDelta(t, 0.87, out.Score, 1e-9)
	assert.InDelta(t, 0.6, out.BM25Score, 1e-9)
	assert.InDelta(t, 0.9, out.VectorScore, 1e-9)
	assert.True(t, out.FromBM25)
	assert.True(t, out.FromVector)
	assert.Equal(t, "alice", out.Metadata["author"])
}

func TestToSearchResultOutputZeroValueOmitsOptionalFields(t *testing.T) {
	out := ToSearchResultOutput(model.SearchResult{})
	assert.Empty(t, out.URI)
	assert.Empty(t, out.Title)
	assert.Empty(t, out.SectionPath)
	assert.False(t, out.FromBM25)
	assert.False(t, out.FromVector)
}
