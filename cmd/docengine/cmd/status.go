package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hybridsearch/docengine/internal/config"
	"github.com/hybridsearch/docengine/internal/docstore"
	"github.com/hybridsearch/docengine/internal/store"
	"github.com/hybridsearch/docengine/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Display information about the current index including:
  - Number of indexed documents and chunks
  - Last indexing time
  - Storage sizes (document store, BM25, vectors)
  - Embedder status (type, model, availability)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		cwd, _ := os.Getwd()
		root = cwd
	}

	dataDir := filepath.Join(root, ".docengine")
	docstorePath := filepath.Join(dataDir, "docstore.db")
	if !fileExists(docstorePath) {
		return fmt.Errorf("no index found in %s\nRun 'docengine index' to create one", root)
	}

	info, err := collectStatus(ctx, root, dataDir, docstorePath)
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}

	noColor := ui.DetectNoColor()
	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)

	if jsonOutput {
		return renderer.RenderJSON(info)
	}

	return renderer.Render(info)
}

func collectStatus(ctx context.Context, root, dataDir, docstorePath string) (ui.StatusInfo, error) {
	info := ui.StatusInfo{
		ProjectName: filepath.Base(root),
	}

	ds, err := docstore.Open(docstorePath)
	if err != nil {
		return info, fmt.Errorf("failed to open document store: %w", err)
	}
	defer func() { _ = ds.Close() }()

	docs, chunks, lastIndexed, err := ds.Stats(ctx)
	if err != nil {
		return info, fmt.Errorf("failed to read document store stats: %w", err)
	}
	info.TotalFiles = docs
	info.TotalChunks = chunks
	info.LastIndexed = lastIndexed

	info.MetadataSize = getFileSize(docstorePath)

	bm25SQLitePath := filepath.Join(dataDir, "bm25.db")
	bm25BlevePath := filepath.Join(dataDir, "bm25.bleve")
	if size := getFileSize(bm25SQLitePath); size > 0 {
		info.BM25Size = size
	} else {
		info.BM25Size = getDirSize(bm25BlevePath)
	}

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	info.VectorSize = getFileSize(vectorPath)

	info.TotalSize = info.MetadataSize + info.BM25Size + info.VectorSize

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	info.EmbedderType = cfg.Embeddings.Provider
	if info.EmbedderType == "" {
		info.EmbedderType = "auto"
	}
	info.EmbedderModel = cfg.Embeddings.Model

	if dims, dimErr := store.ReadHNSWStoreDimensions(vectorPath); dimErr == nil {
		info.EmbedderStatus = fmt.Sprintf("ready (%d dims)", dims)
	} else {
		info.EmbedderStatus = "unknown"
	}

	info.WatcherStatus = "n/a"

	return info, nil
}

// getFileSize returns the size of a file in bytes.
func getFileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// getDirSize returns the total size of all files in a directory.
func getDirSize(path string) int64 {
	var size int64

	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})

	return size
}
