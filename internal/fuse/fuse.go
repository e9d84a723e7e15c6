// Package fuse implements the Fuser: score normalization, weighted-sum
// fusion of lexical and vector retrieval lists, and cross-variant
// deduplication down to one representative chunk per document.
package fuse

import (
	"math"
	"sort"

	"github.com/hybridsearch/docengine/internal/model"
)

// Weights are the per-engine fusion weights. They must sum to 1.
type Weights struct {
	BM25   float64
	Vector float64
}

// DefaultWeights matches the spec's documented defaults: lexical
// matches are useful signal but semantic similarity dominates.
func DefaultWeights() Weights {
	return Weights{BM25: 0.3, Vector: 0.7}
}

// EngineHit is one raw result from a single retrieval engine for a
// single query variant.
type EngineHit struct {
	ChunkID   string
	DocID     model.DocId
	RawScore  float64
	IndexedAt int64 // unix nanos, used only for recency tie-breaking
	MatchedTerms []string
}

// VariantHits bundles the raw BM25 and vector results produced by the
// Retriever for one query variant.
type VariantHits struct {
	VariantIndex int
	BM25         []EngineHit
	Vector       []EngineHit
}

// Fuser combines retrieval lists from one or more query variants into
// a single deduplicated, ranked list of FusedHits.
type Fuser struct {
	Weights Weights
	Mode    model.NormalizationMode
}

// New constructs a Fuser with the given weights and normalization mode.
// If weights don't sum to ~1, they are renormalized so fused scores
// stay bounded in [0,1].
func New(weights Weights, mode model.NormalizationMode) *Fuser {
	sum := weights.BM25 + weights.Vector
	if sum > 0 && math.Abs(sum-1.0) > 1e-9 {
		weights.BM25 /= sum
		weights.Vector /= sum
	}
	if mode == "" {
		mode = model.NormalizationMinMax
	}
	return &Fuser{Weights: weights, Mode: mode}
}

// FusedHit is a single chunk-level fusion result before cross-variant
// deduplication.
type FusedHit struct {
	ChunkID      string
	DocID        model.DocId
	Scores       model.Scores
	FromSignals  model.FromSignals
	IndexedAt    int64
	MatchedTerms []string
}

// Fuse runs all three phases — normalize, fuse, deduplicate — over the
// retrieval lists for every query variant and returns one
// representative FusedHit per doc_id, sorted by the spec's
// deterministic tie-break order: fused score desc, indexed_at desc,
// doc_id asc.
func (f *Fuser) Fuse(variants []VariantHits) []FusedHit {
	// Phase 1+2: normalize and fuse within each variant.
	perChunk := make(map[string]*FusedHit)
	for _, v := range variants {
		bm25Norm := f.normalize(v.BM25)
		vecNorm := f.normalize(v.Vector)

		chunkIDs := make(map[string]struct{}, len(v.BM25)+len(v.Vector))
		rawByID := make(map[string]EngineHit, len(v.BM25)+len(v.Vector))
		for _, h := range v.BM25 {
			chunkIDs[h.ChunkID] = struct{}{}
			rawByID[h.ChunkID] = h
		}
		for _, h := range v.Vector {
			chunkIDs[h.ChunkID] = struct{}{}
			if _, ok := rawByID[h.ChunkID]; !ok {
				rawByID[h.ChunkID] = h
			}
		}

		for chunkID := range chunkIDs {
			bn, inBM25 := bm25Norm[chunkID]
			vn, inVec := vecNorm[chunkID]
			fused := f.Weights.BM25*bn + f.Weights.Vector*vn

			raw := rawByID[chunkID]
			existing, ok := perChunk[chunkID]
			if !ok || fused > existing.Scores.Fused {
				var bm25Raw, vecRaw float64
				if inBM25 {
					for _, h := range v.BM25 {
						if h.ChunkID == chunkID {
							bm25Raw = h.RawScore
							break
						}
					}
				}
				if inVec {
					for _, h := range v.Vector {
						if h.ChunkID == chunkID {
							vecRaw = h.RawScore
							break
						}
					}
				}
				existing = &FusedHit{
					ChunkID:      chunkID,
					DocID:        raw.DocID,
					IndexedAt:    raw.IndexedAt,
					MatchedTerms: raw.MatchedTerms,
					Scores: model.Scores{
						BM25Raw:    bm25Raw,
						BM25Norm:   bn,
						VectorRaw:  vecRaw,
						VectorNorm: vn,
						Fused:      fused,
					},
				}
				perChunk[chunkID] = existing
			}
			existing.FromSignals.BM25 = existing.FromSignals.BM25 || inBM25
			existing.FromSignals.Vector = existing.FromSignals.Vector || inVec
			existing.FromSignals.Variants = addVariant(existing.FromSignals.Variants, v.VariantIndex)
		}
	}

	// Phase 3: cross-variant/cross-chunk deduplication, grouped by doc_id.
	byDoc := make(map[string]*FusedHit)
	for _, hit := range perChunk {
		key := hit.DocID.String()
		best, ok := byDoc[key]
		if !ok || hit.Scores.Fused > best.Scores.Fused {
			if ok {
				hit.FromSignals.Variants = unionVariants(hit.FromSignals.Variants, best.FromSignals.Variants)
				hit.FromSignals.BM25 = hit.FromSignals.BM25 || best.FromSignals.BM25
				hit.FromSignals.Vector = hit.FromSignals.Vector || best.FromSignals.Vector
			}
			byDoc[key] = hit
			continue
		}
		best.FromSignals.Variants = unionVariants(best.FromSignals.Variants, hit.FromSignals.Variants)
		best.FromSignals.BM25 = best.FromSignals.BM25 || hit.FromSignals.BM25
		best.FromSignals.Vector = best.FromSignals.Vector || hit.FromSignals.Vector
	}

	results := make([]FusedHit, 0, len(byDoc))
	for _, hit := range byDoc {
		sort.Ints(hit.FromSignals.Variants)
		results = append(results, *hit)
	}

	sort.Slice(results, func(i, j int) bool {
		return compare(results[i], results[j])
	})

	return results
}

// compare implements the spec's tie-break chain: higher fused score,
// then more recent indexed_at, then lexicographically smaller doc_id.
func compare(a, b FusedHit) bool {
	if a.Scores.Fused != b.Scores.Fused {
		return a.Scores.Fused > b.Scores.Fused
	}
	if a.IndexedAt != b.IndexedAt {
		return a.IndexedAt > b.IndexedAt
	}
	return a.DocID.String() < b.DocID.String()
}

func addVariant(variants []int, idx int) []int {
	for _, v := range variants {
		if v == idx {
			return variants
		}
	}
	return append(variants, idx)
}

func unionVariants(a, b []int) []int {
	out := append([]int{}, a...)
	for _, v := range b {
		out = addVariant(out, v)
	}
	return out
}

// normalize maps raw engine scores for one (variant, engine) list into
// [0,1] using the Fuser's configured mode. Returns a map keyed by
// chunk_id since callers need random access while merging with the
// other engine's list.
func (f *Fuser) normalize(hits []EngineHit) map[string]float64 {
	out := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return out
	}

	switch f.Mode {
	case model.NormalizationZScore:
		mean, stddev := meanStddev(hits)
		for _, h := range hits {
			if stddev == 0 {
				out[h.ChunkID] = 1
				continue
			}
			z := (h.RawScore - mean) / stddev
			out[h.ChunkID] = clip((z+3)/6, 0, 1)
		}
	default: // min-max
		min, max := hits[0].RawScore, hits[0].RawScore
		for _, h := range hits {
			if h.RawScore < min {
				min = h.RawScore
			}
			if h.RawScore > max {
				max = h.RawScore
			}
		}
		for _, h := range hits {
			if max == min {
				out[h.ChunkID] = 1
				continue
			}
			out[h.ChunkID] = (h.RawScore - min) / (max - min)
		}
	}
	return out
}

func meanStddev(hits []EngineHit) (mean, stddev float64) {
	n := float64(len(hits))
	var sum float64
	for _, h := range hits {
		sum += h.RawScore
	}
	mean = sum / n

	var sqDiff float64
	for _, h := range hits {
		d := h.RawScore - mean
		sqDiff += d * d
	}
	stddev = math.Sqrt(sqDiff / n)
	return mean, stddev
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
