package eval

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"
)

// DefaultPermutationSamples matches the spec's minimum bootstrap
// sample count for the randomization test.
const DefaultPermutationSamples = 10000

// ABResult is the outcome of comparing two configurations' per-query
// metric values (e.g. NDCG@10 for baseline vs hybrid) via a
// randomization (permutation) test.
type ABResult struct {
	MeanDelta float64 // mean(b) - mean(a)
	PValue    float64
	CohensD   float64
	CILow     float64
	CIHigh    float64
}

// PermutationTest runs a two-sided randomization test on paired
// per-query metric samples a (baseline) and b (candidate). Samples
// must be the same length and in query-aligned order: a[i] and b[i]
// are the same query's metric under each configuration.
//
// The null hypothesis is that labels "a" and "b" are exchangeable per
// query; under repeated random within-pair swaps, the observed mean
// delta is compared against the resulting null distribution to get a
// p-value, and reports Cohen's d for effect size.
func PermutationTest(a, b []float64, samples int, rng *rand.Rand) ABResult {
	if samples <= 0 {
		samples = DefaultPermutationSamples
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	n := len(a)
	observed := meanDelta(a, b)

	deltas := make([]float64, 0, samples)
	extreme := 0
	pairA := make([]float64, n)
	pairB := make([]float64, n)
	for s := 0; s < samples; s++ {
		for i := 0; i < n; i++ {
			if rng.Intn(2) == 0 {
				pairA[i], pairB[i] = a[i], b[i]
			} else {
				pairA[i], pairB[i] = b[i], a[i]
			}
		}
		d := meanDelta(pairA, pairB)
		deltas = append(deltas, d)
		if math.Abs(d) >= math.Abs(observed) {
			extreme++
		}
	}

	pValue := float64(extreme) / float64(samples)
	ciLow, ciHigh := percentileInterval(deltas, 0.025, 0.975)

	return ABResult{
		MeanDelta: observed,
		PValue:    pValue,
		CohensD:   cohensD(a, b),
		CILow:     ciLow,
		CIHigh:    ciHigh,
	}
}

func meanDelta(a, b []float64) float64 {
	return stat.Mean(b, nil) - stat.Mean(a, nil)
}

// cohensD computes the standardized mean difference using the pooled
// standard deviation of the two samples.
func cohensD(a, b []float64) float64 {
	meanA, meanB := stat.Mean(a, nil), stat.Mean(b, nil)
	sdA, sdB := stat.StdDev(a, nil), stat.StdDev(b, nil)
	nA, nB := float64(len(a)), float64(len(b))

	pooled := math.Sqrt(((nA-1)*sdA*sdA + (nB-1)*sdB*sdB) / (nA + nB - 2))
	if pooled == 0 {
		return 0
	}
	return (meanB - meanA) / pooled
}

func percentileInterval(values []float64, lowQ, highQ float64) (float64, float64) {
	sorted := append([]float64(nil), values...)
	stat.SortWeighted(sorted, nil)
	low := stat.Quantile(lowQ, stat.Empirical, sorted, nil)
	high := stat.Quantile(highQ, stat.Empirical, sorted, nil)
	return low, high
}

// RegressionGate fails a build when a candidate's NDCG@10 regresses
// against a stored baseline by more than Threshold (default 3%).
type RegressionGate struct {
	Threshold float64
}

// DefaultRegressionThreshold is the spec's documented default.
const DefaultRegressionThreshold = 0.03

// NewRegressionGate constructs a gate with the default threshold if
// threshold <= 0.
func NewRegressionGate(threshold float64) RegressionGate {
	if threshold <= 0 {
		threshold = DefaultRegressionThreshold
	}
	return RegressionGate{Threshold: threshold}
}

// Check compares candidate against baseline NDCG@10 and reports
// whether the build passes, along with the fractional regression
// (positive means candidate is worse).
func (g RegressionGate) Check(baselineNDCG, candidateNDCG float64) (pass bool, regression float64) {
	if baselineNDCG == 0 {
		return candidateNDCG >= 0, 0
	}
	regression = (baselineNDCG - candidateNDCG) / baselineNDCG
	return regression <= g.Threshold, regression
}
