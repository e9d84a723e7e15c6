package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hybridsearch/docengine/internal/cache"
	"github.com/hybridsearch/docengine/internal/config"
	"github.com/hybridsearch/docengine/internal/coordinate"
	"github.com/hybridsearch/docengine/internal/docchunk"
	"github.com/hybridsearch/docengine/internal/docstore"
	"github.com/hybridsearch/docengine/internal/embed"
	"github.com/hybridsearch/docengine/internal/engine"
	"github.com/hybridsearch/docengine/internal/fuse"
	"github.com/hybridsearch/docengine/internal/indexadapter"
	"github.com/hybridsearch/docengine/internal/logging"
	"github.com/hybridsearch/docengine/internal/mcp"
	"github.com/hybridsearch/docengine/internal/orchestrate"
	"github.com/hybridsearch/docengine/internal/query"
	"github.com/hybridsearch/docengine/internal/rank"
	"github.com/hybridsearch/docengine/internal/retrieve"
	"github.com/hybridsearch/docengine/internal/store"
)

var serveDebug bool

func newServeCmd() *cobra.Command {
	var transport string
	var port int
	var session string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server, exposing search_documents, index_document,
delete_document and index_status over the given transport.

MCP requires stdio to carry JSON-RPC exclusively: nothing else may be
written to stdout once the server has started.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = session // reserved for a future multi-tenant front door; accepted so clients that always pass it don't break
			return runServe(cmd.Context(), transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport to serve over: stdio (sse is not implemented and returns an error)")
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (sse transport only)")
	cmd.Flags().StringVar(&session, "session", "", "Accepted for compatibility; the value is not used")
	cmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable verbose MCP server logging")

	return cmd
}

// runServe wires an Engine out of the on-disk indices under
// <root>/.docengine and serves it over MCP. transport selects the wire
// transport; a non-zero port becomes the listen address ":<port>",
// and port 0 leaves the address empty.
func runServe(ctx context.Context, transport string, port int) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = transport != "stdio"
	if serveDebug {
		logCfg = logging.DebugConfig()
		logCfg.WriteToStderr = transport != "stdio"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err == nil {
		defer cleanup()
		slog.SetDefault(logger)
	}

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	dataDir := filepath.Join(root, ".docengine")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	eng, st, cacheLayer, embedInfo, closeFn, err := buildEngine(ctx, dataDir, cfg, false)
	if err != nil {
		return fmt.Errorf("failed to build search engine: %w", err)
	}
	defer closeFn()

	srv, err := mcp.NewServer(eng, st, cacheLayer, embedInfo, cfg)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	if err := srv.RegisterResources(ctx); err != nil {
		slog.Warn("failed to register chunk resources", slog.String("error", err.Error()))
	}

	addr := ""
	if port != 0 {
		addr = fmt.Sprintf(":%d", port)
	}
	return srv.Serve(ctx, transport, addr)
}

// buildEngine opens the on-disk lexical/vector/document stores under
// dataDir and assembles the Engine facade plus the pieces an MCP
// server or CLI command needs alongside it. Callers must invoke the
// returned close func when done.
func buildEngine(ctx context.Context, dataDir string, cfg *config.Config, offline bool) (*engine.Engine, *docstore.Store, *cache.Layer, mcp.EmbeddingInfo, func(), error) {
	st, err := docstore.Open(filepath.Join(dataDir, "docstore.db"))
	if err != nil {
		return nil, nil, nil, mcp.EmbeddingInfo{}, nil, fmt.Errorf("failed to open document store: %w", err)
	}
	closers := []func(){func() { _ = st.Close() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		closeAll()
		return nil, nil, nil, mcp.EmbeddingInfo{}, nil, fmt.Errorf("failed to open BM25 index: %w", err)
	}
	closers = append(closers, func() { _ = bm25.Close() })

	var embedder embed.Embedder
	if offline || cfg.Embeddings.Provider == "static" {
		embedder = embed.NewStaticEmbedder768()
	} else {
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedder, err = embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
		if err != nil {
			slog.Warn("falling back to static embeddings", slog.String("error", err.Error()))
			embedder = embed.NewStaticEmbedder768()
		}
	}
	closers = append(closers, func() { _ = embedder.Close() })

	dimensions := embedder.Dimensions()
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dimensions))
	if err != nil {
		closeAll()
		return nil, nil, nil, mcp.EmbeddingInfo{}, nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Debug("vector_load_failed", slog.String("error", loadErr.Error()))
		}
	}
	closers = append(closers, func() {
		if saveErr := vector.Save(vectorPath); saveErr != nil {
			slog.Warn("failed to persist vector store", slog.String("error", saveErr.Error()))
		}
		_ = vector.Close()
	})

	lexAdapter := indexadapter.NewLexical(bm25, st)
	vecAdapter := indexadapter.NewVector(vector, st)
	chunker := docchunk.New()
	closers = append(closers, chunker.Close)

	coord := coordinate.New(lexAdapter, vecAdapter, chunker, embedder, st)
	coord.Chunks = st

	versions := engine.NewCollectionVersions()
	retriever := retrieve.New(lexAdapter, vecAdapter, embedder)
	fuser := fuse.New(weightsFromConfig(cfg), "")
	ranker := rank.New(rank.DefaultWeights(), 0)

	orch := orchestrate.New(orchestrate.Config{
		Enhancer:    query.New(query.Options{}),
		Retriever:   retriever,
		Fuser:       fuser,
		Ranker:      ranker,
		Chunks:      st,
		Collections: versions,
	})

	eng := engine.New(orch, coord, nil, versions)
	cacheLayer := cache.NewLayer(cache.LayerConfig{})

	embedInfo := mcp.EmbeddingInfo{
		Provider:   string(embed.ParseProvider(cfg.Embeddings.Provider)),
		Model:      embedder.ModelName(),
		Dimensions: dimensions,
		Available:  embedder.Available(ctx),
	}
	if offline {
		embedInfo.Provider = "static"
	}

	return eng, st, cacheLayer, embedInfo, closeAll, nil
}

func weightsFromConfig(cfg *config.Config) fuse.Weights {
	w := fuse.DefaultWeights()
	if cfg.Search.BM25Weight > 0 || cfg.Search.SemanticWeight > 0 {
		w = fuse.Weights{BM25: cfg.Search.BM25Weight, Vector: cfg.Search.SemanticWeight}
	}
	return w
}

// verifyStdinForMCP checks that stdin is a pipe rather than an
// interactive terminal, since the stdio transport expects a JSON-RPC
// byte stream and a terminal produces neither EOF nor valid frames.
func verifyStdinForMCP() error {
	info, err := os.Stdin.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat stdin: %w", err)
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return fmt.Errorf("stdin is a terminal, not a pipe: docengine serve expects an MCP client on the other end of stdin/stdout")
	}
	return nil
}
