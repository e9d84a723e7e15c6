package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hybridsearch/docengine/internal/async"
	"github.com/hybridsearch/docengine/internal/config"
	"github.com/hybridsearch/docengine/internal/output"
)

func newIndexStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "index-status [path]",
		Short: "Show progress of a background 'index --background' run",
		Long: `Reports the progress snapshot most recently written by a
'docengine index --background' worker: current stage, files processed
and whether it finished or failed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndexStatus(cmd, path, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runIndexStatus(cmd *cobra.Command, path string, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}
	dataDir := filepath.Join(root, ".docengine")

	progressPath := filepath.Join(dataDir, "index_progress.json")
	data, err := os.ReadFile(progressPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no background indexing run recorded in %s\nRun 'docengine index --background' to start one", root)
		}
		return fmt.Errorf("failed to read progress snapshot: %w", err)
	}

	var snapshot async.IndexProgressSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to parse progress snapshot: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	}

	out.Statusf("", "Status:   %s", snapshot.Status)
	out.Statusf("", "Stage:    %s", snapshot.Stage)
	out.Statusf("", "Files:    %d/%d (%.1f%%)", snapshot.FilesProcessed, snapshot.FilesTotal, snapshot.ProgressPct)
	out.Statusf("", "Elapsed:  %ds", snapshot.ElapsedSeconds)
	if snapshot.ErrorMessage != "" {
		out.Warningf("Error: %s", snapshot.ErrorMessage)
	}
	return nil
}
