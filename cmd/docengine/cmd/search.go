package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hybridsearch/docengine/internal/config"
	"github.com/hybridsearch/docengine/internal/logging"
	"github.com/hybridsearch/docengine/internal/mcp"
	"github.com/hybridsearch/docengine/internal/model"
	"github.com/hybridsearch/docengine/internal/output"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit      int
	collection string
	format     string // "text", "json"
	rerank     bool
	tags       []string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents",
		Long: `Search documents previously indexed with 'docengine index' or the
index_document MCP tool, running the same pipeline the MCP server's
search_documents tool uses: query enhancement, parallel BM25/vector
retrieval, fusion and ranking.

Examples:
  docengine search "authentication middleware"
  docengine search "setup instructions" --collection docs
  docengine search "error handling" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.collection, "collection", "c", "", "Restrict search to a collection")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Apply the reranking pass to results")
	cmd.Flags().StringSliceVarP(&opts.tags, "tag", "t", nil, "Filter by tag (repeatable)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	dataDir := filepath.Join(root, ".docengine")
	if _, err := os.Stat(filepath.Join(dataDir, "docstore.db")); os.IsNotExist(err) {
		return fmt.Errorf("no index found. Run 'docengine index' first")
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	eng, _, _, _, closeFn, err := buildEngine(ctx, dataDir, cfg, false)
	if err != nil {
		return fmt.Errorf("failed to build search engine: %w", err)
	}
	defer closeFn()

	req := model.SearchRequest{
		Query:         query,
		TopK:          opts.limit,
		RerankResults: opts.rerank,
		Filters: model.SearchFilters{
			CollectionName: opts.collection,
			Tags:           opts.tags,
		},
	}

	slog.Info("search_started", slog.String("query", query), slog.Int("limit", opts.limit))
	resp, err := eng.Search(ctx, req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	slog.Info("search_complete", slog.Int("results", len(resp.Results)))

	results := make([]mcp.SearchResultOutput, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, mcp.ToSearchResultOutput(r))
	}

	if opts.format == "json" {
		return formatSearchJSON(cmd, resp, results)
	}
	return formatSearchText(out, query, resp, results)
}

func formatSearchText(out *output.Writer, query string, resp model.SearchResponse, results []mcp.SearchResultOutput) error {
	if len(results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	if resp.Partial {
		out.Warningf("degraded results (%s)", strings.Join(resp.Warnings, ", "))
	}

	out.Statusf("", "Found %d results for %q (%dms):", resp.Total, query, resp.TookMS)
	out.Newline()

	for i, r := range results {
		location := r.Title
		if r.Collection != "" {
			location = fmt.Sprintf("%s/%s", r.Collection, r.Title)
		}
		out.Statusf("", "%d. %s (score: %.3f)", i+1, location, r.Score)
		for _, line := range snippetLines(r.Snippet, 3) {
			out.Status("", "   "+line)
		}
		out.Newline()
	}

	return nil
}

func formatSearchJSON(cmd *cobra.Command, resp model.SearchResponse, results []mcp.SearchResultOutput) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Results  []mcp.SearchResultOutput `json:"results"`
		Total    int                      `json:"total"`
		TookMS   int64                    `json:"took_ms"`
		Partial  bool                     `json:"partial,omitempty"`
		Warnings []string                 `json:"warnings,omitempty"`
	}{results, resp.Total, resp.TookMS, resp.Partial, resp.Warnings})
}

// snippetLines returns the first n non-empty lines of a snippet.
func snippetLines(snippet string, n int) []string {
	lines := strings.Split(snippet, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
