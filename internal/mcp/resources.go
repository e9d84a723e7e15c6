package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MaxResourceLimit bounds how many chunks RegisterResources will advertise
// in one pass, to keep the initial resource listing bounded.
const MaxResourceLimit = 10000

// RegisterResources loads recently indexed chunks and registers them as
// MCP resources. This should be called after the server is created and
// before serving.
func (s *Server) RegisterResources(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.store.ListChunks(ctx, "", MaxResourceLimit)
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}

	for _, e := range entries {
		s.registerChunkResource(e.ChunkID, e.URI, e.Title)
	}

	s.logger.Info("registered resources", "count", len(entries))
	return nil
}

// mimeTypeForChunk derives a MIME type from a document's URI, falling
// back to text/plain when the URI carries no recognizable extension
// (e.g. documents submitted without one).
func mimeTypeForChunk(uri string) string {
	if uri == "" {
		return "text/plain"
	}
	return MimeTypeForPath(uri)
}

// registerChunkResource registers a single indexed chunk as an MCP resource.
func (s *Server) registerChunkResource(chunkID, uri, title string) {
	resourceURI := chunkResourceURI(chunkID)
	name := title
	if name == "" {
		name = chunkID
	}
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        name,
			URI:         resourceURI,
			Description: uri,
			MIMEType:    mimeTypeForChunk(uri),
		},
		s.makeChunkHandler(chunkID, uri),
	)
}

// makeChunkHandler creates a read handler for a specific chunk ID.
func (s *Server) makeChunkHandler(chunkID, uri string) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.handleReadChunkResource(ctx, chunkID, uri)
	}
}

// chunkResourceURI builds the docengine://chunk/<id> URI for a chunk.
func chunkResourceURI(chunkID string) string {
	return "docengine://chunk/" + chunkID
}

// chunkIDFromResourceURI extracts the chunk ID from a docengine://chunk/<id> URI.
func chunkIDFromResourceURI(uri string) (string, bool) {
	const prefix = "docengine://chunk/"
	if !strings.HasPrefix(uri, prefix) {
		return "", false
	}
	return strings.TrimPrefix(uri, prefix), true
}

// handleReadChunkResource reads a chunk's stored snippet and metadata.
func (s *Server) handleReadChunkResource(ctx context.Context, chunkID, uri string) (*mcp.ReadResourceResult, error) {
	chunks, err := s.store.GetChunks(ctx, []string{chunkID})
	if err != nil {
		return nil, MapError(err)
	}
	meta, ok := chunks[chunkID]
	if !ok {
		return nil, NewResourceNotFoundError(chunkResourceURI(chunkID))
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      chunkResourceURI(chunkID),
				MIMEType: mimeTypeForChunk(uri),
				Text:     meta.Snippet,
			},
		},
	}, nil
}

// QueryMetricsOutput is the JSON structure for the query_metrics resource.
type QueryMetricsOutput struct {
	Summary             QueryMetricsSummary `json:"summary"`
	QueryTypeCounts     map[string]int64    `json:"query_type_counts"`
	TopTerms            []QueryTermCount    `json:"top_terms"`
	ZeroResultQueries   []string            `json:"zero_result_queries"`
	LatencyDistribution map[string]int64    `json:"latency_distribution"`
}

// QueryMetricsSummary provides overview statistics.
type QueryMetricsSummary struct {
	TotalQueries  int64   `json:"total_queries"`
	TimePeriod    string  `json:"time_period"`
	ZeroResultPct float64 `json:"zero_result_pct"`
}

// QueryTermCount represents a term and its frequency.
type QueryTermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// registerQueryMetricsResource registers the query_metrics resource.
func (s *Server) registerQueryMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         "docengine://query_metrics",
			Description: "Query pattern telemetry for search optimization",
			MIMEType:    "application/json",
		},
		s.makeQueryMetricsHandler(),
	)
}

// makeQueryMetricsHandler creates a handler for the query_metrics resource.
func (s *Server) makeQueryMetricsHandler() mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		s.mu.RLock()
		metrics := s.metrics
		s.mu.RUnlock()

		if metrics == nil {
			return nil, NewInvalidParamsError("query metrics not available")
		}

		snapshot := metrics.Snapshot()

		output := QueryMetricsOutput{
			Summary: QueryMetricsSummary{
				TotalQueries:  snapshot.TotalQueries,
				TimePeriod:    "session",
				ZeroResultPct: snapshot.ZeroResultPercentage(),
			},
			QueryTypeCounts:     make(map[string]int64),
			TopTerms:            make([]QueryTermCount, 0, len(snapshot.TopTerms)),
			ZeroResultQueries:   snapshot.ZeroResultQueries,
			LatencyDistribution: make(map[string]int64),
		}

		for qt, count := range snapshot.QueryTypeCounts {
			output.QueryTypeCounts[string(qt)] = count
		}

		for _, tc := range snapshot.TopTerms {
			output.TopTerms = append(output.TopTerms, QueryTermCount{
				Term:  tc.Term,
				Count: tc.Count,
			})
		}

		for bucket, count := range snapshot.LatencyDistribution {
			output.LatencyDistribution[string(bucket)] = count
		}

		content, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return nil, MapError(err)
		}

		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      "docengine://query_metrics",
					MIMEType: "application/json",
					Text:     string(content),
				},
			},
		}, nil
	}
}
