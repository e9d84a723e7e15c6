// Package eval implements the offline/CI quality gate: NDCG@10,
// Hit@5 and Precision@10 over a labeled dataset, an A/B permutation
// test with effect-size reporting, and a regression gate against a
// stored baseline.
package eval

import (
	"context"
	"math"
	"sort"

	"github.com/hybridsearch/docengine/internal/model"
)

// LabeledQuery is one entry of a golden evaluation dataset: a query
// and graded relevance judgments {0,1,2} over known documents.
type LabeledQuery struct {
	Query      string
	Judgments  map[string]int // doc_id.String() -> grade
}

// SearchFunc is the system under test: given a query, returns ranked
// doc IDs. Kept as a function type so both a live Orchestrator and a
// fixture can be evaluated with the same harness.
type SearchFunc func(ctx context.Context, query string, topK int) ([]model.DocId, error)

// QueryMetrics holds the three per-query metrics the Evaluator reports.
type QueryMetrics struct {
	Query       string
	NDCG10      float64
	Hit5        float64
	Precision10 float64
}

// Evaluate runs search against every labeled query and scores the
// result against its judgments.
func Evaluate(ctx context.Context, dataset []LabeledQuery, search SearchFunc) ([]QueryMetrics, error) {
	out := make([]QueryMetrics, 0, len(dataset))
	for _, lq := range dataset {
		ranked, err := search(ctx, lq.Query, 10)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(ranked))
		for i, id := range ranked {
			ids[i] = id.String()
		}
		out = append(out, QueryMetrics{
			Query:       lq.Query,
			NDCG10:      ndcgAtK(ids, lq.Judgments, 10),
			Hit5:        hitAtK(ids, lq.Judgments, 5),
			Precision10: precisionAtK(ids, lq.Judgments, 10),
		})
	}
	return out, nil
}

// ndcgAtK computes normalized discounted cumulative gain over the top
// k ranked doc IDs against graded judgments. Ungraded docs score 0.
func ndcgAtK(ranked []string, judgments map[string]int, k int) float64 {
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	var dcg float64
	for i, id := range ranked {
		grade := judgments[id]
		if grade == 0 {
			continue
		}
		dcg += (math.Pow(2, float64(grade)) - 1) / math.Log2(float64(i+2))
	}

	grades := make([]int, 0, len(judgments))
	for _, g := range judgments {
		grades = append(grades, g)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(grades)))
	if len(grades) > k {
		grades = grades[:k]
	}
	var idcg float64
	for i, g := range grades {
		if g == 0 {
			continue
		}
		idcg += (math.Pow(2, float64(g)) - 1) / math.Log2(float64(i+2))
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

// hitAtK reports 1 if any of the top k ranked docs has a positive
// grade, else 0.
func hitAtK(ranked []string, judgments map[string]int, k int) float64 {
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	for _, id := range ranked {
		if judgments[id] > 0 {
			return 1
		}
	}
	return 0
}

// precisionAtK is the fraction of the top k ranked docs with a
// positive grade.
func precisionAtK(ranked []string, judgments map[string]int, k int) float64 {
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	if len(ranked) == 0 {
		return 0
	}
	relevant := 0
	for _, id := range ranked {
		if judgments[id] > 0 {
			relevant++
		}
	}
	return float64(relevant) / float64(len(ranked))
}
