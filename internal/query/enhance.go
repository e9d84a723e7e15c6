// Package query implements the QueryEnhancer: deterministic synonym
// and intent expansion, followed by optional, budget-bounded
// paraphrase generation.
package query

import (
	"context"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
)

// DefaultParaphraseBudget is the global latency budget for stage 2.
// Paraphrase generation that hasn't finished by this deadline yields
// an empty variant set — callers fall back to original + enhanced.
const DefaultParaphraseBudget = 150 * time.Millisecond

// DefaultMaxParaphrases is N in the spec: up to this many semantic
// variants are requested from the paraphrase generator.
const DefaultMaxParaphrases = 3

// DefaultParaphraseCacheTTL sits inside the spec's 5-15 minute range.
const DefaultParaphraseCacheTTL = 10 * time.Minute

// Paraphraser is the external collaborator that produces semantic
// paraphrases of a query. Implementations are expected to be slow
// relative to the budget and must respect ctx cancellation.
type Paraphraser interface {
	Paraphrase(ctx context.Context, query string, n int) ([]string, error)
}

// Options configures an Enhancer.
type Options struct {
	Paraphraser       Paraphraser // nil disables stage 2 entirely
	MaxParaphrases    int
	ParaphraseBudget  time.Duration
	ParaphraseCacheTTL time.Duration
	ParaphraseCacheSize int
}

func (o *Options) setDefaults() {
	if o.MaxParaphrases <= 0 {
		o.MaxParaphrases = DefaultMaxParaphrases
	}
	if o.ParaphraseBudget <= 0 {
		o.ParaphraseBudget = DefaultParaphraseBudget
	}
	if o.ParaphraseCacheTTL <= 0 {
		o.ParaphraseCacheTTL = DefaultParaphraseCacheTTL
	}
	if o.ParaphraseCacheSize <= 0 {
		o.ParaphraseCacheSize = 1024
	}
}

// Enhancer implements the two-stage query expansion described in
// spec §4.6.
type Enhancer struct {
	opts  Options
	cache *lru.LRU[string, []string]
}

// New constructs an Enhancer. Passing a nil Paraphraser disables stage
// 2 (paraphrase generation); only the deterministic stage 1 runs.
func New(opts Options) *Enhancer {
	opts.setDefaults()
	cache := lru.NewLRU[string, []string](opts.ParaphraseCacheSize, nil, opts.ParaphraseCacheTTL)
	return &Enhancer{opts: opts, cache: cache}
}

// Result is the ordered variant list produced by Enhance. Variants[0]
// is always the original query; Enhanced follows when stage 1 changed
// anything; Paraphrases follow that.
type Result struct {
	Variants []string
	// BudgetExceeded reports whether stage 2 was cut off by the global
	// timeout rather than completing normally.
	BudgetExceeded bool
}

// Enhance runs both stages and returns the ordered variant list.
// filters participates in the paraphrase cache key since two
// structurally different searches over the same query text are not
// interchangeable.
func (e *Enhancer) Enhance(ctx context.Context, query string, filterKey string) Result {
	original := strings.TrimSpace(query)
	variants := []string{original}

	enhanced := expand(original)
	if enhanced != "" && enhanced != original {
		variants = append(variants, enhanced)
	}

	if e.opts.Paraphraser == nil {
		return Result{Variants: variants}
	}

	cacheKey := normalize(original) + "\x00" + filterKey
	if cached, ok := e.cache.Get(cacheKey); ok {
		return Result{Variants: append(variants, cached...)}
	}

	paraphrases, budgetExceeded := e.generateParaphrases(ctx, original)
	if len(paraphrases) > 0 {
		e.cache.Add(cacheKey, paraphrases)
		variants = append(variants, paraphrases...)
	}

	return Result{Variants: variants, BudgetExceeded: budgetExceeded}
}

// generateParaphrases calls the configured Paraphraser under the
// global budget. A timeout yields an empty set, not an error: the
// caller always has original+enhanced to fall back on.
func (e *Enhancer) generateParaphrases(ctx context.Context, query string) ([]string, bool) {
	budgetCtx, cancel := context.WithTimeout(ctx, e.opts.ParaphraseBudget)
	defer cancel()

	var result []string
	g, gctx := errgroup.WithContext(budgetCtx)
	g.Go(func() error {
		variants, err := e.opts.Paraphraser.Paraphrase(gctx, query, e.opts.MaxParaphrases)
		if err != nil {
			slog.Debug("paraphrase generation failed", slog.String("error", err.Error()))
			return nil // swallow: paraphrase failure falls back to the original query
		}
		result = variants
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		if len(result) > e.opts.MaxParaphrases {
			result = result[:e.opts.MaxParaphrases]
		}
		return result, false
	case <-budgetCtx.Done():
		return nil, true
	}
}

// expand applies the deterministic stage-1 synonym/intent expansion,
// producing a single enhanced string (original terms plus synonym and
// intent augmentations), or "" if nothing applies.
func expand(query string) string {
	norm := normalize(query)
	terms := tokenize(norm)
	if len(terms) == 0 {
		return ""
	}

	seen := make(map[string]struct{}, len(terms)*2)
	out := make([]string, 0, len(terms)*2)
	for _, t := range terms {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
		for _, syn := range synonymsFor(t) {
			if _, ok := seen[syn]; !ok {
				seen[syn] = struct{}{}
				out = append(out, syn)
			}
		}
	}
	for _, intentTerm := range classifyIntent(norm) {
		if _, ok := seen[intentTerm]; !ok {
			seen[intentTerm] = struct{}{}
			out = append(out, intentTerm)
		}
	}

	if len(out) == len(terms) {
		return "" // nothing added
	}
	return strings.Join(out, " ")
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}
