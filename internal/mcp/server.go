package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hybridsearch/docengine/internal/cache"
	"github.com/hybridsearch/docengine/internal/config"
	"github.com/hybridsearch/docengine/internal/docstore"
	"github.com/hybridsearch/docengine/internal/engine"
	"github.com/hybridsearch/docengine/internal/model"
	"github.com/hybridsearch/docengine/internal/telemetry"
	"github.com/hybridsearch/docengine/pkg/version"
)

// Server is the MCP server for the hybrid search engine.
// It bridges AI clients (Claude Code, Cursor) with the Engine facade.
type Server struct {
	mcp    *mcp.Server
	engine *engine.Engine
	store  *docstore.Store
	cache  *cache.Layer
	info   EmbeddingInfo
	config *config.Config
	logger *slog.Logger

	// Query telemetry (optional, set via SetMetrics)
	metrics *telemetry.QueryMetrics

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ResourceInfo contains information about a resource.
type ResourceInfo struct {
	URI      string
	Name     string
	MIMEType string
}

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

// NewServer creates a new MCP server. embedInfo describes the
// embedding provider backing the engine's vector retrieval, so
// clients calling index_status can adjust their expectations about
// semantic recall quality. store backs resource listing/reading over
// indexed chunks; cacheLayer is optional and, when provided, backs
// the cache section of index_status.
func NewServer(eng *engine.Engine, st *docstore.Store, cacheLayer *cache.Layer, embedInfo EmbeddingInfo, cfg *config.Config) (*Server, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	if st == nil {
		return nil, errors.New("document store is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		engine: eng,
		store:  st,
		cache:  cacheLayer,
		info:   embedInfo,
		config: cfg,
		logger: slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "docengine",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools/resources
	)

	s.registerTools()

	return s, nil
}

// SetMetrics sets the query metrics collector for telemetry.
// When set, a query_metrics resource is registered.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "docengine", version.Version
}

// Capabilities returns whether tools and resources are enabled.
func (s *Server) Capabilities() (hasTools, hasResources bool) {
	return true, true
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{
			Name:        "search_documents",
			Description: "Hybrid search over indexed documents, combining lexical (BM25) and semantic (vector) retrieval with fusion and ranking. Use this for most retrieval tasks across a collection.",
		},
		{
			Name:        "index_document",
			Description: "Chunk, embed and index one document's full text under a collection and document id. Resubmitting identical content is idempotent.",
		},
		{
			Name:        "delete_document",
			Description: "Remove a specific document version from the lexical index, vector index and chunk store.",
		},
		{
			Name:        "index_status",
			Description: "Report the current collection mutation counter, active embedding provider, and result cache hit rate.",
		},
	}
}

// CallTool invokes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search_documents":
		return s.handleSearchDocumentsTool(ctx, args)
	case "index_document":
		return s.handleIndexDocumentTool(ctx, args)
	case "delete_document":
		return s.handleDeleteDocumentTool(ctx, args)
	case "index_status":
		return s.handleIndexStatusTool(ctx, args)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// handleSearchDocumentsTool handles the search_documents tool invocation
// against a raw argument map, used by CallTool's direct-dispatch path.
func (s *Server) handleSearchDocumentsTool(ctx context.Context, args map[string]any) (*SearchDocumentsOutput, error) {
	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	input := SearchDocumentsInput{Query: query}
	if v, ok := args["top_k"].(float64); ok {
		input.TopK = int(v)
	}
	if v, ok := args["collection"].(string); ok {
		input.Collection = v
	}
	if v, ok := args["search_type"].(string); ok {
		input.SearchType = v
	}
	if v, ok := args["rerank_results"].(bool); ok {
		input.RerankResults = v
	}
	if tags, ok := args["tags"].([]interface{}); ok {
		for _, t := range tags {
			if str, ok := t.(string); ok {
				input.Tags = append(input.Tags, str)
			}
		}
	}

	return s.searchDocuments(ctx, input)
}

// searchDocuments runs the shared search_documents logic used by both
// the raw CallTool dispatch and the typed MCP SDK handler.
func (s *Server) searchDocuments(ctx context.Context, input SearchDocumentsInput) (*SearchDocumentsOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	req := model.SearchRequest{
		Query:      input.Query,
		TopK:       clampLimit(input.TopK, 10, 1, 100),
		SearchType: model.SearchType(input.SearchType),
		Filters: model.SearchFilters{
			CollectionName: input.Collection,
			Tags:           input.Tags,
		},
		RerankResults: input.RerankResults,
	}

	s.logger.Info("search_documents started",
		slog.String("request_id", requestID),
		slog.String("query", req.Query),
		slog.Int("top_k", req.TopK))

	resp, err := s.engine.Search(ctx, req)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("search_documents failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("search_documents completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(resp.Results)))

	output := &SearchDocumentsOutput{
		Results:       make([]SearchResultOutput, 0, len(resp.Results)),
		Total:         resp.Total,
		TookMS:        resp.TookMS,
		Partial:       resp.Partial,
		Warnings:      resp.Warnings,
		EnhancedQuery: resp.EnhancedQuery,
	}
	for _, r := range resp.Results {
		output.Results = append(output.Results, ToSearchResultOutput(r))
	}

	return output, nil
}

// handleIndexDocumentTool handles the index_document tool invocation
// against a raw argument map.
func (s *Server) handleIndexDocumentTool(ctx context.Context, args map[string]any) (*IndexDocumentOutput, error) {
	collection, ok := args["collection"].(string)
	if !ok || collection == "" {
		return nil, NewInvalidParamsError("collection parameter is required")
	}
	content, ok := args["content"].(string)
	if !ok || content == "" {
		return nil, NewInvalidParamsError("content parameter is required")
	}

	input := IndexDocumentInput{Collection: collection, Content: content}
	if v, ok := args["doc_id"].(string); ok {
		input.DocID = v
	}
	if v, ok := args["title"].(string); ok {
		input.Title = v
	}
	if meta, ok := args["metadata"].(map[string]interface{}); ok {
		input.Metadata = make(map[string]string, len(meta))
		for k, v := range meta {
			if str, ok := v.(string); ok {
				input.Metadata[k] = str
			}
		}
	}

	return s.indexDocument(ctx, input)
}

// indexDocument runs the shared index_document logic.
func (s *Server) indexDocument(ctx context.Context, input IndexDocumentInput) (*IndexDocumentOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("index_document started",
		slog.String("request_id", requestID),
		slog.String("collection", input.Collection))

	resp, err := s.engine.Index(ctx, model.IndexRequest{
		DocID:      input.DocID,
		Collection: input.Collection,
		Title:      input.Title,
		Content:    input.Content,
		Metadata:   input.Metadata,
	})
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("index_document failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("index_document completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Bool("already_indexed", resp.AlreadyIndexed))

	return &IndexDocumentOutput{
		DocID:          resp.DocID,
		Version:        resp.Version,
		ChunkCount:     resp.ChunkCount,
		AlreadyIndexed: resp.AlreadyIndexed,
	}, nil
}

// handleDeleteDocumentTool handles the delete_document tool invocation.
func (s *Server) handleDeleteDocumentTool(ctx context.Context, args map[string]any) (*DeleteDocumentOutput, error) {
	collection, _ := args["collection"].(string)
	docID, _ := args["doc_id"].(string)
	if collection == "" || docID == "" {
		return nil, NewInvalidParamsError("collection and doc_id parameters are required")
	}
	version := 0
	if v, ok := args["version"].(float64); ok {
		version = int(v)
	}

	return s.deleteDocument(ctx, DeleteDocumentInput{Collection: collection, DocID: docID, Version: version})
}

// deleteDocument runs the shared delete_document logic.
func (s *Server) deleteDocument(ctx context.Context, input DeleteDocumentInput) (*DeleteDocumentOutput, error) {
	requestID := generateRequestID()
	s.logger.Info("delete_document started",
		slog.String("request_id", requestID),
		slog.String("collection", input.Collection),
		slog.String("doc_id", input.DocID))

	err := s.engine.Delete(ctx, model.DocId{
		Collection: input.Collection,
		ExternalID: input.DocID,
		Version:    input.Version,
	})
	if err != nil {
		s.logger.Error("delete_document failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return &DeleteDocumentOutput{Deleted: true}, nil
}

// handleIndexStatusTool handles the index_status tool invocation.
// Returns collection mutation counter, active embedder capability info
// and result cache hit rate so clients can adjust retrieval strategy.
func (s *Server) handleIndexStatusTool(ctx context.Context, args map[string]any) (*IndexStatusOutput, error) {
	collection, _ := args["collection"].(string)

	output := &IndexStatusOutput{
		Embeddings: s.info,
	}
	if collection != "" {
		output.CollectionVersion = s.engine.Versions.Version(collection)
	}

	if s.cache != nil {
		stats := s.cache.Stats()
		output.Cache = CacheInfo{
			Hits:    stats.Result.Hits,
			Misses:  stats.Result.Misses,
			HitRate: stats.Result.HitRate(),
		}
	}

	return output, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_documents",
		Description: "Hybrid search over indexed documents, combining lexical (BM25) and semantic (vector) retrieval with fusion and ranking.",
	}, s.mcpSearchDocumentsHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_document",
		Description: "Chunk, embed and index one document's full text under a collection and document id.",
	}, s.mcpIndexDocumentHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_document",
		Description: "Remove a specific document version from the lexical index, vector index and chunk store.",
	}, s.mcpDeleteDocumentHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Report the collection mutation counter, embedding provider, and result cache hit rate.",
	}, s.mcpIndexStatusHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 4))
}

// mcpSearchDocumentsHandler is the MCP SDK handler for search_documents.
func (s *Server) mcpSearchDocumentsHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchDocumentsInput) (
	*mcp.CallToolResult,
	SearchDocumentsOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchDocumentsOutput{}, NewInvalidParamsError("query parameter is required")
	}
	output, err := s.searchDocuments(ctx, input)
	if err != nil {
		return nil, SearchDocumentsOutput{}, err
	}
	return nil, *output, nil
}

// mcpIndexDocumentHandler is the MCP SDK handler for index_document.
func (s *Server) mcpIndexDocumentHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexDocumentInput) (
	*mcp.CallToolResult,
	IndexDocumentOutput,
	error,
) {
	if input.Collection == "" {
		return nil, IndexDocumentOutput{}, NewInvalidParamsError("collection parameter is required")
	}
	if input.Content == "" {
		return nil, IndexDocumentOutput{}, NewInvalidParamsError("content parameter is required")
	}
	output, err := s.indexDocument(ctx, input)
	if err != nil {
		return nil, IndexDocumentOutput{}, err
	}
	return nil, *output, nil
}

// mcpDeleteDocumentHandler is the MCP SDK handler for delete_document.
func (s *Server) mcpDeleteDocumentHandler(ctx context.Context, _ *mcp.CallToolRequest, input DeleteDocumentInput) (
	*mcp.CallToolResult,
	DeleteDocumentOutput,
	error,
) {
	if input.Collection == "" || input.DocID == "" {
		return nil, DeleteDocumentOutput{}, NewInvalidParamsError("collection and doc_id parameters are required")
	}
	output, err := s.deleteDocument(ctx, input)
	if err != nil {
		return nil, DeleteDocumentOutput{}, err
	}
	return nil, *output, nil
}

// mcpIndexStatusHandler is the MCP SDK handler for index_status.
func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	args := map[string]any{}
	if input.Collection != "" {
		args["collection"] = input.Collection
	}
	output, err := s.handleIndexStatusTool(ctx, args)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// ListResources returns all available resources.
func (s *Server) ListResources(ctx context.Context, cursor string) ([]ResourceInfo, string, error) {
	entries, err := s.store.ListChunks(ctx, "", MaxResourceLimit)
	if err != nil {
		return nil, "", err
	}

	resources := make([]ResourceInfo, 0, len(entries))
	for _, e := range entries {
		name := e.Title
		if name == "" {
			name = e.ChunkID
		}
		resources = append(resources, ResourceInfo{
			URI:      chunkResourceURI(e.ChunkID),
			Name:     name,
			MIMEType: mimeTypeForChunk(e.URI),
		})
	}

	return resources, "", nil // No pagination for now
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	chunkID, ok := chunkIDFromResourceURI(uri)
	if !ok {
		return nil, NewResourceNotFoundError(uri)
	}

	chunks, err := s.store.GetChunks(ctx, []string{chunkID})
	if err != nil {
		return nil, err
	}
	meta, ok := chunks[chunkID]
	if !ok {
		return nil, NewResourceNotFoundError(uri)
	}

	return &ResourceContent{
		URI:      uri,
		Content:  meta.Snippet,
		MIMEType: mimeTypeForChunk(meta.URI),
	}, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio":
		s.logger.Debug("using stdio transport for JSON-RPC")
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	case "sse":
		return fmt.Errorf("SSE transport not yet implemented")
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
