package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hybridsearch/docengine/internal/config"
	"github.com/hybridsearch/docengine/internal/docstore"
	"github.com/hybridsearch/docengine/internal/embed"
	"github.com/hybridsearch/docengine/internal/store"
)

// DebugInfo summarizes the state of the on-disk indices for a data
// directory, surfaced by 'docengine debug' for support/bug-report use.
type DebugInfo struct {
	IndexPath        string    `json:"index_path"`
	ProjectRoot      string    `json:"project_root"`
	ChunkCount       int       `json:"chunk_count"`
	BM25DocCount     int       `json:"bm25_doc_count"`
	VectorCount      int       `json:"vector_count"`
	VectorDimensions int       `json:"vector_dimensions"`
	EmbedderProvider string    `json:"embedder_provider"`
	EmbedderModel    string    `json:"embedder_model"`
	BM25Backend      string    `json:"bm25_backend"`
	GeneratedAt      time.Time `json:"generated_at"`
}

func newDebugCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Print diagnostic information about the local index",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := config.FindProjectRoot(".")
			if err != nil {
				root, _ = os.Getwd()
			}
			dataDir := filepath.Join(root, ".docengine")
			if _, statErr := os.Stat(dataDir); os.IsNotExist(statErr) {
				return fmt.Errorf("no index found at %s", dataDir)
			}

			info, err := collectDebugInfo(cmd.Context(), root, dataDir)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			printDebugInfo(cmd, info)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func collectDebugInfo(ctx context.Context, root, dataDir string) (DebugInfo, error) {
	info := DebugInfo{
		IndexPath:   dataDir,
		ProjectRoot: root,
		GeneratedAt: time.Now(),
	}

	st, err := docstore.Open(filepath.Join(dataDir, "docstore.db"))
	if err != nil {
		return info, fmt.Errorf("failed to open document store: %w", err)
	}
	defer func() { _ = st.Close() }()

	entries, err := st.ListChunks(ctx, "", 0)
	if err != nil {
		return info, fmt.Errorf("failed to count chunks: %w", err)
	}
	info.ChunkCount = len(entries)

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}
	info.BM25Backend = cfg.Search.BM25Backend

	if bm25, bErr := store.NewBM25IndexWithBackend(filepath.Join(dataDir, "bm25"), store.DefaultBM25Config(), cfg.Search.BM25Backend); bErr == nil {
		defer func() { _ = bm25.Close() }()
		if stats := bm25.Stats(); stats != nil {
			info.BM25DocCount = stats.DocCount
		}
	}

	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	info.EmbedderProvider = string(provider)
	info.EmbedderModel = cfg.Embeddings.Model
	if dims, dErr := store.ReadHNSWStoreDimensions(filepath.Join(dataDir, "vectors.hnsw")); dErr == nil {
		info.VectorDimensions = dims
	}
	info.VectorCount = info.ChunkCount

	return info, nil
}

func printDebugInfo(cmd *cobra.Command, info DebugInfo) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "DocEngine Debug Info")
	fmt.Fprintln(out, "====================")
	fmt.Fprintf(out, "Project root: %s\n", info.ProjectRoot)
	fmt.Fprintf(out, "Index path:   %s\n", info.IndexPath)
	fmt.Fprintf(out, "Generated:    %s\n\n", info.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintln(out, "CHUNKS")
	fmt.Fprintf(out, "  Total chunks: %s\n\n", formatNumber(info.ChunkCount))

	fmt.Fprintln(out, "BM25 INDEX")
	fmt.Fprintf(out, "  Backend:   %s\n", info.BM25Backend)
	fmt.Fprintf(out, "  Documents: %s\n\n", formatNumber(info.BM25DocCount))

	fmt.Fprintln(out, "VECTOR STORE")
	fmt.Fprintf(out, "  Vectors:    %s\n", formatNumber(info.VectorCount))
	fmt.Fprintf(out, "  Dimensions: %d\n\n", info.VectorDimensions)

	fmt.Fprintln(out, "EMBEDDER")
	fmt.Fprintf(out, "  Provider: %s\n", info.EmbedderProvider)
	fmt.Fprintf(out, "  Model:    %s\n\n", info.EmbedderModel)

	fmt.Fprintln(out, "STORAGE")
	fmt.Fprintf(out, "  Data directory: %s\n", info.IndexPath)
}

// formatAge renders a human-readable relative age, used by debug and
// status reporting.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

// formatNumber adds thousands separators, used by debug and status
// reporting.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if n < 1000 {
		return s
	}
	digits := []byte(s)
	var out []byte
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, d)
	}
	return string(out)
}
