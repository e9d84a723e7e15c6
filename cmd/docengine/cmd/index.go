package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hybridsearch/docengine/internal/async"
	"github.com/hybridsearch/docengine/internal/config"
	"github.com/hybridsearch/docengine/internal/model"
	"github.com/hybridsearch/docengine/internal/output"
	"github.com/hybridsearch/docengine/internal/scanner"
	"github.com/hybridsearch/docengine/internal/ui"
)

// backgroundWorkerFlag marks a re-exec'd child process as the one
// actually doing the indexing for 'index --background'; it is not
// meant to be set directly by a user.
const backgroundWorkerFlag = "background-worker"

func newIndexCmd() *cobra.Command {
	var (
		collection string
		force      bool
		backend    string
		background bool
		isWorker   bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Bulk-index a directory of documents",
		Long: `Walk a directory, respecting .gitignore and the configured exclude
patterns, and index every discovered file as a document through the
hybrid search pipeline: chunking, embedding, and the dual BM25/vector
write protocol.

Backend Selection:
  (default)          Auto-detect: MLX on Apple Silicon, Ollama otherwise
  --backend=mlx      Use MLX (Apple Silicon)
  --backend=ollama   Use Ollama (cross-platform)
  --backend=static   Use static embeddings (no network calls)

Use --force to discard the existing on-disk indices before rebuilding.

Use --background to detach indexing into a child process and return
immediately; poll progress with 'docengine index-status'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			if backend != "" {
				_ = os.Setenv("DOCENGINE_EMBEDDER", backend)
			}

			if background && !isWorker {
				return runIndexDetached(cmd, path, collection, force)
			}
			if isWorker {
				return runIndexWorker(ctx, cmd, path, collection, force)
			}
			return runIndex(ctx, cmd, path, collection, force, nil)
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection name for indexed documents (default: directory name)")
	cmd.Flags().BoolVar(&force, "force", false, "Discard the existing index before rebuilding")
	cmd.Flags().StringVar(&backend, "backend", "", "Embedding backend: auto-detect (default), mlx, ollama, or static")
	cmd.Flags().BoolVar(&background, "background", false, "Run indexing in a detached background process")
	cmd.Flags().BoolVar(&isWorker, backgroundWorkerFlag, false, "Internal: this process is the detached indexing worker")
	_ = cmd.Flags().MarkHidden(backgroundWorkerFlag)

	return cmd
}

// runIndexDetached re-execs the current binary with --background-worker
// set, detaches it from the controlling terminal, and returns once the
// worker has either started (lock file present) or exited with an error.
func runIndexDetached(cmd *cobra.Command, path, collection string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	root, err := config.FindProjectRoot(path)
	if err != nil {
		root, _ = filepath.Abs(path)
	}
	dataDir := filepath.Join(root, ".docengine")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	logPath := filepath.Join(dataDir, "index.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open worker log: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	childArgs := []string{"index", path, "--" + backgroundWorkerFlag}
	if collection != "" {
		childArgs = append(childArgs, "--collection", collection)
	}
	if force {
		childArgs = append(childArgs, "--force")
	}

	bgCmd := exec.Command(execPath, childArgs...)
	bgCmd.Stdout = logFile
	bgCmd.Stderr = logFile
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start background indexer: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 50; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("background indexer exited immediately: %w (see %s)", err, logPath)
			}
			out.Status("", "Indexing completed before this check returned")
			return nil
		default:
		}
		if async.HasIncompleteLock(dataDir) {
			out.Success(fmt.Sprintf("Indexing started in background (pid %d)", bgCmd.Process.Pid))
			out.Status("", "Run 'docengine index-status' to check progress")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("background indexer did not report as running within timeout; see %s", logPath)
}

// runIndexWorker runs the actual indexing through async.BackgroundIndexer,
// persisting progress snapshots to disk so a separate 'index-status'
// invocation (a new process) can observe them.
func runIndexWorker(ctx context.Context, cmd *cobra.Command, path, collection string, force bool) error {
	root, err := config.FindProjectRoot(path)
	if err != nil {
		root, _ = filepath.Abs(path)
	}
	dataDir := filepath.Join(root, ".docengine")

	indexer := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: dataDir})
	progressPath := filepath.Join(dataDir, "index_progress.json")

	indexer.IndexFunc = func(ctx context.Context, progress *async.IndexProgress) error {
		_, _, _, err := runIndexCore(ctx, output.New(cmd.OutOrStdout()), path, collection, force, progress)
		writeProgressSnapshot(progressPath, progress)
		return err
	}

	stopSnapshots := make(chan struct{})
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopSnapshots:
				return
			case <-ticker.C:
				writeProgressSnapshot(progressPath, indexer.Progress())
			}
		}
	}()

	indexer.Start(ctx)
	err = indexer.Wait()
	close(stopSnapshots)
	writeProgressSnapshot(progressPath, indexer.Progress())
	return err
}

func writeProgressSnapshot(path string, progress *async.IndexProgress) {
	data, err := json.Marshal(progress.Snapshot())
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}

func runIndex(ctx context.Context, cmd *cobra.Command, path, collection string, force bool, progress *async.IndexProgress) error {
	out := output.New(cmd.OutOrStdout())
	indexed, unchanged, failed, err := runIndexCore(ctx, out, path, collection, force, progress)
	if err != nil {
		return err
	}

	out.Statusf("", "Indexed %d documents (%d unchanged, %d failed)", indexed, unchanged, failed)
	if failed > 0 {
		out.Warningf("%d files failed to index; see logs for details", failed)
	}
	return nil
}

// runIndexCore walks path and indexes every discovered file. When
// progress is non-nil its stage and file counters are kept current, for
// callers running this in the background (see runIndexWorker).
func runIndexCore(ctx context.Context, out *output.Writer, path, collection string, force bool, progress *async.IndexProgress) (indexed, unchanged, failed int, err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to access path: %w", err)
	}
	if !info.IsDir() {
		return 0, 0, 0, fmt.Errorf("path is not a directory: %s", absPath)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}
	if collection == "" {
		collection = filepath.Base(absPath)
	}

	dataDir := filepath.Join(root, ".docengine")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to create data directory: %w", err)
	}

	if force {
		if err := clearIndexData(dataDir); err != nil {
			return 0, 0, 0, fmt.Errorf("failed to clear index data: %w", err)
		}
		out.Status("", "Discarded existing index, rebuilding from scratch")
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	eng, _, _, embedInfo, closeFn, err := buildEngine(ctx, dataDir, cfg, false)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to build search engine: %w", err)
	}
	defer closeFn()

	out.Statusf("", "Indexing %s into collection %q (%s embeddings)", absPath, collection, embedInfo.Provider)

	sc, err := scanner.New()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to create scanner: %w", err)
	}

	if progress != nil {
		progress.SetStage(async.StageScanning, 0)
	}

	results, err := sc.Scan(ctx, &scanner.ScanOptions{
		RootDir:          absPath,
		ExcludePatterns:  cfg.Paths.Exclude,
		RespectGitignore: true,
	})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to scan %s: %w", absPath, err)
	}

	tracker := ui.NewProgressTracker()
	tracker.SetStage(ui.StageIndexing, 0)
	if progress != nil {
		progress.SetStage(async.StageIndexing, 0)
	}

	for res := range results {
		select {
		case <-ctx.Done():
			return indexed, unchanged, failed, ctx.Err()
		default:
		}

		if res.Error != nil {
			slog.Warn("scan_error", slog.String("error", res.Error.Error()))
			failed++
			continue
		}

		content, readErr := os.ReadFile(res.File.AbsPath)
		if readErr != nil {
			slog.Warn("read_failed", slog.String("path", res.File.Path), slog.String("error", readErr.Error()))
			failed++
			continue
		}

		resp, indexErr := eng.Index(ctx, model.IndexRequest{
			Collection: collection,
			Title:      res.File.Path,
			Content:    string(content),
			Metadata: map[string]string{
				"language":     res.File.Language,
				"content_type": string(res.File.ContentType),
			},
		})
		if indexErr != nil {
			slog.Warn("index_failed", slog.String("path", res.File.Path), slog.String("error", indexErr.Error()))
			failed++
			continue
		}

		if resp.AlreadyIndexed {
			unchanged++
		} else {
			indexed++
		}
		tracker.Update(indexed+unchanged+failed, res.File.Path)
		if progress != nil {
			progress.UpdateFiles(indexed + unchanged + failed)
		}
	}

	return indexed, unchanged, failed, nil
}

// clearIndexData removes all on-disk index state from the data directory.
func clearIndexData(dataDir string) error {
	paths := []string{
		filepath.Join(dataDir, "docstore.db"),
		filepath.Join(dataDir, "docstore.db-wal"),
		filepath.Join(dataDir, "docstore.db-shm"),
		filepath.Join(dataDir, "bm25.db"),
		filepath.Join(dataDir, "bm25.db-wal"),
		filepath.Join(dataDir, "bm25.db-shm"),
		filepath.Join(dataDir, "vectors.hnsw"),
	}

	for _, path := range paths {
		if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
	}

	return nil
}
