// Package rank implements the Ranker: a multi-factor composite score
// applied on top of the Fuser's output for the top M candidates,
// before truncation to top_k.
package rank

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hybridsearch/docengine/internal/fuse"
	"github.com/hybridsearch/docengine/internal/model"
)

// Weights are the per-signal ranking weights. They must sum to 1.0.
type Weights struct {
	Vector   float64
	Content  float64
	Title    float64
	Recency  float64
	Metadata float64
}

// DefaultWeights matches the spec's documented defaults.
func DefaultWeights() Weights {
	return Weights{Vector: 0.4, Content: 0.25, Title: 0.15, Recency: 0.10, Metadata: 0.10}
}

// DefaultCandidatePool is M in the spec: the ranker reconsiders the top
// M fused candidates before truncating to top_k.
const DefaultCandidatePool = 50

// RecencyHalfLife controls the exponential decay used by the recency
// signal: a document this old scores 0.5.
const RecencyHalfLife = 90 * 24 * time.Hour

// Candidate is the input to the Ranker: a fused hit plus the
// document/chunk context needed to compute content, title, and
// metadata signals.
type Candidate struct {
	Hit         fuse.FusedHit
	Title       string
	SectionPath []string
	Tags        []string
	Snippet     string
}

// Ranker applies the composite scoring function from the spec.
type Ranker struct {
	Weights       Weights
	CandidatePool int
}

// New constructs a Ranker with the given weights, falling back to
// DefaultCandidatePool if pool <= 0.
func New(weights Weights, pool int) *Ranker {
	if pool <= 0 {
		pool = DefaultCandidatePool
	}
	return &Ranker{Weights: weights, CandidatePool: pool}
}

// Rank scores the top r.CandidatePool candidates (by incoming fused
// order) on every signal, computes the weighted composite, re-sorts,
// and truncates to topK. If rerank is false, the Fuser's order and
// fused score pass through unchanged and Scores.Final = Scores.Fused,
// with no per-signal diagnostics populated.
func (r *Ranker) Rank(query string, candidates []Candidate, topK int, rerank bool, now time.Time) []model.SearchResult {
	if !rerank {
		return r.passThrough(candidates, topK)
	}

	pool := candidates
	if len(pool) > r.CandidatePool {
		pool = pool[:r.CandidatePool]
	}
	rest := candidates[len(pool):]

	queryTerms := tokenize(query)

	scored := make([]model.SearchResult, 0, len(pool))
	for _, c := range pool {
		signals := map[string]float64{
			"vector_similarity":  c.Hit.Scores.VectorNorm,
			"content_relevance":  contentRelevance(c.Snippet, queryTerms),
			"title_boost":        titleBoost(c.Title, queryTerms),
			"recency":            recency(c.Hit.IndexedAt, now),
			"metadata_relevance": metadataRelevance(c.SectionPath, c.Tags, queryTerms),
		}
		final := r.Weights.Vector*signals["vector_similarity"] +
			r.Weights.Content*signals["content_relevance"] +
			r.Weights.Title*signals["title_boost"] +
			r.Weights.Recency*signals["recency"] +
			r.Weights.Metadata*signals["metadata_relevance"]

		scores := c.Hit.Scores
		scores.Final = final
		scores.Signals = signals

		scored = append(scored, model.SearchResult{
			DocID:       c.Hit.DocID,
			ChunkID:     c.Hit.ChunkID,
			Title:       c.Title,
			Snippet:     c.Snippet,
			SectionPath: c.SectionPath,
			Scores:      scores,
			FromSignals: c.Hit.FromSignals,
			IndexedAt:   unixToTime(c.Hit.IndexedAt),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Scores.Final > scored[j].Scores.Final
	})

	for _, c := range rest {
		scores := c.Hit.Scores
		scores.Final = scores.Fused
		scored = append(scored, model.SearchResult{
			DocID:       c.Hit.DocID,
			ChunkID:     c.Hit.ChunkID,
			Title:       c.Title,
			Snippet:     c.Snippet,
			SectionPath: c.SectionPath,
			Scores:      scores,
			FromSignals: c.Hit.FromSignals,
			IndexedAt:   unixToTime(c.Hit.IndexedAt),
		})
	}

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

func (r *Ranker) passThrough(candidates []Candidate, topK int) []model.SearchResult {
	out := make([]model.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		scores := c.Hit.Scores
		scores.Final = scores.Fused
		out = append(out, model.SearchResult{
			DocID:       c.Hit.DocID,
			ChunkID:     c.Hit.ChunkID,
			Title:       c.Title,
			Snippet:     c.Snippet,
			SectionPath: c.SectionPath,
			Scores:      scores,
			FromSignals: c.Hit.FromSignals,
			IndexedAt:   unixToTime(c.Hit.IndexedAt),
		})
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

func unixToTime(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return fields
}

// contentRelevance measures keyword density plus an exact-phrase bonus
// against the snippet text.
func contentRelevance(snippet string, queryTerms []string) float64 {
	if len(queryTerms) == 0 || snippet == "" {
		return 0
	}
	lower := strings.ToLower(snippet)
	words := tokenize(snippet)
	if len(words) == 0 {
		return 0
	}

	matches := 0
	for _, t := range queryTerms {
		if strings.Contains(lower, t) {
			matches++
		}
	}
	density := float64(matches) / float64(len(queryTerms))

	phraseBonus := 0.0
	if len(queryTerms) > 1 && strings.Contains(lower, strings.Join(queryTerms, " ")) {
		phraseBonus = 0.25
	}

	score := density + phraseBonus
	if score > 1 {
		score = 1
	}
	return score
}

// titleBoost is the fraction of query terms present in the title.
func titleBoost(title string, queryTerms []string) float64 {
	if len(queryTerms) == 0 || title == "" {
		return 0
	}
	lower := strings.ToLower(title)
	matches := 0
	for _, t := range queryTerms {
		if strings.Contains(lower, t) {
			matches++
		}
	}
	return float64(matches) / float64(len(queryTerms))
}

// recency decays exponentially with RecencyHalfLife.
func recency(indexedAtNanos int64, now time.Time) float64 {
	if indexedAtNanos == 0 {
		return 0
	}
	age := now.Sub(unixToTime(indexedAtNanos))
	if age < 0 {
		age = 0
	}
	halfLives := age.Seconds() / RecencyHalfLife.Seconds()
	return math.Pow(0.5, halfLives)
}

// metadataRelevance measures query-term overlap with section_path and
// tag fields.
func metadataRelevance(sectionPath, tags, queryTerms []string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	haystack := strings.ToLower(strings.Join(append(append([]string{}, sectionPath...), tags...), " "))
	if haystack == "" {
		return 0
	}
	matches := 0
	for _, t := range queryTerms {
		if strings.Contains(haystack, t) {
			matches++
		}
	}
	return float64(matches) / float64(len(queryTerms))
}
