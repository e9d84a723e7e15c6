package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hybridsearch/docengine/internal/config"
	"github.com/hybridsearch/docengine/internal/logging"
	"github.com/hybridsearch/docengine/internal/output"
	"github.com/hybridsearch/docengine/internal/store"
)

func newCompactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact [path]",
		Short: "Report orphaned nodes in the vector index",
		Long: `Reports how many nodes the HNSW vector index is carrying that are no
longer reachable: deletes are lazy (internal/store.HNSWStore.Delete
drops the ID mapping but leaves the graph node in place), so a heavily
edited collection accumulates orphaned nodes over time.

The pure-Go HNSW graph has no in-place compaction path, since rebuilding
it requires every live vector, and vectors live only inside the graph
itself, not in the document store. Reclaiming the space means a full
rebuild: 'docengine index --force'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runCompact(cmd, path)
		},
	}

	return cmd
}

func runCompact(cmd *cobra.Command, path string) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	out := output.New(cmd.OutOrStdout())

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("failed to access path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}
	dataDir := filepath.Join(root, ".docengine")

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if _, err := os.Stat(vectorPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found at %s - run 'docengine index' first", dataDir)
	}

	dims, err := store.ReadHNSWStoreDimensions(vectorPath)
	if err != nil {
		return fmt.Errorf("failed to read vector index: %w", err)
	}

	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()

	if err := vector.Load(vectorPath); err != nil {
		return fmt.Errorf("failed to load vector index: %w", err)
	}

	stats := vector.Stats()
	out.Statusf("", "Live vectors:  %d", stats.ValidIDs)
	out.Statusf("", "Graph nodes:   %d", stats.GraphNodes)
	out.Statusf("", "Orphaned:      %d", stats.Orphans)

	if stats.Orphans == 0 {
		out.Status("", "No orphaned nodes; nothing to reclaim")
		return nil
	}

	out.Statusf("", "Run 'docengine index --force' to rebuild without the %d orphaned nodes", stats.Orphans)
	return nil
}
