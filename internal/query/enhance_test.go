package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridsearch/docengine/internal/query"
)

func TestEnhanceStage1Only(t *testing.T) {
	e := query.New(query.Options{})
	result := e.Enhance(context.Background(), "install the cli", "")
	require.NotEmpty(t, result.Variants)
	assert.Equal(t, "install the cli", result.Variants[0])
	assert.False(t, result.BudgetExceeded)
}

func TestEnhanceTutorialIntent(t *testing.T) {
	e := query.New(query.Options{})
	result := e.Enhance(context.Background(), "How to configure auth", "")
	require.Len(t, result.Variants, 2)
	assert.Contains(t, result.Variants[1], "tutorial")
}

type fakeParaphraser struct {
	delay   time.Duration
	results []string
	err     error
}

func (f *fakeParaphraser) Paraphrase(ctx context.Context, query string, n int) ([]string, error) {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.results, f.err
}

func TestEnhanceParaphraseWithinBudget(t *testing.T) {
	e := query.New(query.Options{
		Paraphraser:      &fakeParaphraser{delay: time.Millisecond, results: []string{"variant a", "variant b"}},
		ParaphraseBudget: 50 * time.Millisecond,
	})
	result := e.Enhance(context.Background(), "search docs", "")
	assert.False(t, result.BudgetExceeded)
	assert.Contains(t, result.Variants, "variant a")
}

func TestEnhanceParaphraseBudgetExceeded(t *testing.T) {
	e := query.New(query.Options{
		Paraphraser:      &fakeParaphraser{delay: 100 * time.Millisecond, results: []string{"too late"}},
		ParaphraseBudget: 5 * time.Millisecond,
	})
	start := time.Now()
	result := e.Enhance(context.Background(), "search docs", "")
	elapsed := time.Since(start)

	assert.True(t, result.BudgetExceeded)
	assert.NotContains(t, result.Variants, "too late")
	assert.Less(t, elapsed, 50*time.Millisecond)
}

func TestEnhanceParaphraseFailureFallsBack(t *testing.T) {
	e := query.New(query.Options{
		Paraphraser: &fakeParaphraser{err: errors.New("generator unavailable")},
	})
	result := e.Enhance(context.Background(), "search docs", "")
	assert.Len(t, result.Variants, 1)
}

func TestEnhanceParaphraseCacheHit(t *testing.T) {
	p := &fakeParaphraser{delay: time.Millisecond, results: []string{"cached variant"}}
	e := query.New(query.Options{Paraphraser: p})

	first := e.Enhance(context.Background(), "search docs", "collection=a")
	require.Contains(t, first.Variants, "cached variant")

	p.results = []string{"should not appear"}
	second := e.Enhance(context.Background(), "search docs", "collection=a")
	assert.Contains(t, second.Variants, "cached variant")
	assert.NotContains(t, second.Variants, "should not appear")
}
