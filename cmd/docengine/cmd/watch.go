package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hybridsearch/docengine/internal/config"
	"github.com/hybridsearch/docengine/internal/model"
	"github.com/hybridsearch/docengine/internal/output"
	"github.com/hybridsearch/docengine/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Watch a directory and keep its index in sync",
		Long: `Watch a directory for file changes and feed each create, modify or
delete event into the index as it happens, instead of requiring a
repeated 'docengine index' run.

Runs in the foreground until interrupted (Ctrl-C) or the context is
cancelled.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runWatch(ctx, cmd, path, collection)
		},
	}

	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection name for indexed documents (default: directory name)")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, path, collection string) error {
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
	if collection == "" {
		collection = filepath.Base(absPath)
	}

	dataDir := filepath.Join(root, ".docengine")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	eng, _, _, embedInfo, closeFn, err := buildEngine(ctx, dataDir, cfg, false)
	if err != nil {
		return fmt.Errorf("failed to build search engine: %w", err)
	}
	defer closeFn()

	w, err := watcher.NewHybridWatcher(watcher.Options{IgnorePatterns: cfg.Paths.Exclude}.WithDefaults())
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Stop() }()

	if err := w.Start(ctx, absPath); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	out.Statusf("", "Watching %s (collection %q, %s embeddings); press Ctrl-C to stop", absPath, collection, embedInfo.Provider)

	docIDs := map[string]string{} // relative path -> external doc id, so a later delete can target it

	for {
		select {
		case <-ctx.Done():
			out.Status("", "Stopped watching")
			return nil
		case watchErr, ok := <-w.Errors():
			if !ok {
				return nil
			}
			slog.Warn("watch_error", slog.String("error", watchErr.Error()))
		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			for _, ev := range batch {
				if ev.IsDir {
					continue
				}
				handleWatchEvent(ctx, eng, out, absPath, collection, docIDs, ev)
			}
		}
	}
}

func handleWatchEvent(ctx context.Context, eng enginer, out *output.Writer, root, collection string, docIDs map[string]string, ev watcher.FileEvent) {
	switch ev.Operation {
	case watcher.OpDelete:
		docID, known := docIDs[ev.Path]
		if !known {
			return
		}
		if err := eng.Delete(ctx, model.DocId{Collection: collection, ExternalID: docID}); err != nil {
			slog.Warn("watch_delete_failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
			return
		}
		delete(docIDs, ev.Path)
		out.Statusf("", "Removed %s", ev.Path)
	case watcher.OpCreate, watcher.OpModify, watcher.OpRename:
		content, err := os.ReadFile(filepath.Join(root, ev.Path))
		if err != nil {
			slog.Warn("watch_read_failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
			return
		}
		req := model.IndexRequest{Collection: collection, Title: ev.Path, Content: string(content)}
		if existing, known := docIDs[ev.Path]; known {
			req.DocID = existing
		}
		resp, err := eng.Index(ctx, req)
		if err != nil {
			slog.Warn("watch_index_failed", slog.String("path", ev.Path), slog.String("error", err.Error()))
			return
		}
		docIDs[ev.Path] = resp.DocID
		if !resp.AlreadyIndexed {
			out.Statusf("", "Indexed %s", ev.Path)
		}
	}
}

// enginer is the subset of *engine.Engine handleWatchEvent needs; it
// exists so tests can substitute a fake without building a full store.
type enginer interface {
	Index(ctx context.Context, req model.IndexRequest) (model.IndexResponse, error)
	Delete(ctx context.Context, docID model.DocId) error
}
