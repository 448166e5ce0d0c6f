package model

import (
	"math"
	"sort"
	"strings"
)

// softmax normalizes logits into probabilities. Computed in float64 with the max
// subtracted so large logits do not overflow.
func softmax(logits []float32) []float64 {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		if float64(v) > maxLogit {
			maxLogit = float64(v)
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// rank returns class indices ordered by probability, highest first. Equal
// probabilities keep ascending index order.
func rank(probs []float64) []int {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return probs[idx[a]] > probs[idx[b]]
	})
	return idx
}

// clampTopK bounds k to [1, NumClasses].
func clampTopK(k int) int {
	if k < 1 {
		return 1
	}
	if k > NumClasses {
		return NumClasses
	}
	return k
}

func isHealthy(className string) bool {
	return strings.Contains(strings.ToLower(className), "healthy")
}

// newPredictionResult shapes a probability vector over the catalog.
func newPredictionResult(probs []float64, topk int) *PredictionResult {
	order := rank(probs)
	k := clampTopK(topk)

	top := make([]TopKEntry, k)
	for i, ci := range order[:k] {
		top[i] = TopKEntry{
			ClassIdx:  ci,
			ClassName: ClassName(ci),
			Prob:      probs[ci],
		}
	}

	all := make(map[string]float64, NumClasses)
	for i, p := range probs {
		all[ClassName(i)] = p
	}

	pred := order[0]
	return &PredictionResult{
		PredIdx:   pred,
		PredClass: ClassName(pred),
		IsHealthy: isHealthy(ClassName(pred)),
		TopK:      top,
		Probs:     all,
	}
}
