package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hybridsearch/docengine/internal/config"
	"github.com/hybridsearch/docengine/internal/eval"
	"github.com/hybridsearch/docengine/internal/model"
	"github.com/hybridsearch/docengine/internal/output"
)

// evalDataset is the on-disk shape of a labeled evaluation set: one
// entry per query, judgments keyed by a doc_id.String() value
// ("collection/external_id/vN") the way Search results render it.
type evalDataset struct {
	Queries []struct {
		Query     string         `yaml:"query"`
		Judgments map[string]int `yaml:"judgments"`
	} `yaml:"queries"`
}

// evalBaseline is the regression gate's stored reference score.
type evalBaseline struct {
	NDCG10    float64   `json:"ndcg10"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newEvalCmd() *cobra.Command {
	var (
		datasetPath  string
		baselinePath string
		updateBase   bool
		threshold    float64
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run the offline search quality gate against a labeled dataset",
		Long: `Score the current index against a labeled dataset of queries and
graded relevance judgments, reporting NDCG@10, Hit@5 and Precision@10
averaged across queries.

With --baseline, also runs a regression gate: the current NDCG@10 must
not fall more than --threshold (default 3%) below the stored baseline,
the same check a CI pipeline would run before merging a ranking change.
Pass --update-baseline to write the current score as the new baseline
instead of gating against it.`,
		Example: `  docengine eval --dataset testdata/eval.yaml
  docengine eval --dataset testdata/eval.yaml --baseline .docengine/eval_baseline.json
  docengine eval --dataset testdata/eval.yaml --baseline .docengine/eval_baseline.json --update-baseline`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd.Context(), cmd, datasetPath, baselinePath, updateBase, threshold)
		},
	}

	cmd.Flags().StringVar(&datasetPath, "dataset", "", "Path to a YAML labeled query dataset (required)")
	cmd.Flags().StringVar(&baselinePath, "baseline", "", "Path to a stored baseline NDCG@10 score")
	cmd.Flags().BoolVar(&updateBase, "update-baseline", false, "Write the current score as the new baseline")
	cmd.Flags().Float64Var(&threshold, "threshold", eval.DefaultRegressionThreshold, "Maximum fractional NDCG@10 regression before failing")
	_ = cmd.MarkFlagRequired("dataset")

	return cmd
}

func runEval(ctx context.Context, cmd *cobra.Command, datasetPath, baselinePath string, updateBase bool, threshold float64) error {
	out := output.New(cmd.OutOrStdout())

	raw, err := os.ReadFile(datasetPath)
	if err != nil {
		return fmt.Errorf("failed to read dataset: %w", err)
	}
	var ds evalDataset
	if err := yaml.Unmarshal(raw, &ds); err != nil {
		return fmt.Errorf("failed to parse dataset: %w", err)
	}
	if len(ds.Queries) == 0 {
		return fmt.Errorf("dataset %s has no queries", datasetPath)
	}

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	dataDir := filepath.Join(root, ".docengine")
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	eng, _, _, _, closeFn, err := buildEngine(ctx, dataDir, cfg, false)
	if err != nil {
		return fmt.Errorf("failed to build search engine: %w", err)
	}
	defer closeFn()

	searchFn := func(ctx context.Context, query string, topK int) ([]model.DocId, error) {
		resp, err := eng.Search(ctx, model.SearchRequest{Query: query, TopK: topK})
		if err != nil {
			return nil, err
		}
		ids := make([]model.DocId, len(resp.Results))
		for i, r := range resp.Results {
			ids[i] = r.DocID
		}
		return ids, nil
	}

	dataset := make([]eval.LabeledQuery, len(ds.Queries))
	for i, q := range ds.Queries {
		dataset[i] = eval.LabeledQuery{Query: q.Query, Judgments: q.Judgments}
	}

	metrics, err := eval.Evaluate(ctx, dataset, searchFn)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	var ndcgSum, hitSum, precSum float64
	for _, m := range metrics {
		ndcgSum += m.NDCG10
		hitSum += m.Hit5
		precSum += m.Precision10
	}
	n := float64(len(metrics))
	meanNDCG := ndcgSum / n

	out.Statusf("", "Evaluated %d queries", len(metrics))
	out.Statusf("", "NDCG@10:      %.4f", meanNDCG)
	out.Statusf("", "Hit@5:        %.4f", hitSum/n)
	out.Statusf("", "Precision@10: %.4f", precSum/n)

	if baselinePath == "" {
		return nil
	}

	if updateBase {
		baseline := evalBaseline{NDCG10: meanNDCG, UpdatedAt: time.Now()}
		encoded, err := json.MarshalIndent(baseline, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode baseline: %w", err)
		}
		if err := os.WriteFile(baselinePath, encoded, 0o644); err != nil {
			return fmt.Errorf("failed to write baseline: %w", err)
		}
		out.Statusf("", "Wrote new baseline (NDCG@10: %.4f) to %s", meanNDCG, baselinePath)
		return nil
	}

	raw, err = os.ReadFile(baselinePath)
	if err != nil {
		return fmt.Errorf("failed to read baseline: %w", err)
	}
	var baseline evalBaseline
	if err := json.Unmarshal(raw, &baseline); err != nil {
		return fmt.Errorf("failed to parse baseline: %w", err)
	}

	gate := eval.NewRegressionGate(threshold)
	pass, regression := gate.Check(baseline.NDCG10, meanNDCG)
	out.Statusf("", "Baseline NDCG@10: %.4f, regression: %.2f%%", baseline.NDCG10, regression*100)
	if !pass {
		return fmt.Errorf("regression gate failed: NDCG@10 dropped %.2f%%, threshold is %.2f%%", regression*100, threshold*100)
	}
	out.Status("", "Regression gate passed")
	return nil
}
