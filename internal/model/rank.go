package model

import (
	"fmt"
	"math"
	"sort"
)

// Rank returns the k highest-scoring labels ordered by descending
// probability. Equal probabilities keep the lower index first and NaN ranks
// last. Confidence is probability × 100.
func Rank(probs []float32, labels []string, k int) ([]Prediction, error) {
	if len(labels) != len(probs) {
		return nil, fmt.Errorf("%w: %d scores for %d labels", ErrShapeMismatch, len(probs), len(labels))
	}
	if k < 1 || k > len(probs) {
		return nil, fmt.Errorf("%w: cannot rank top %d of %d scores", ErrShapeMismatch, k, len(probs))
	}

	top := TopIndices(probs, k)
	out := make([]Prediction, len(top))
	for i, j := range top {
		out[i] = Prediction{Label: labels[j], Confidence: float64(probs[j]) * 100}
	}
	return out, nil
}

// TopIndices returns the indices of the k largest values, highest first.
func TopIndices(values []float32, k int) []int {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return ranksBefore(values[idx[a]], values[idx[b]])
	})
	if k > len(idx) {
		k = len(idx)
	}
	return idx[:k]
}

func ranksBefore(x, y float32) bool {
	xn, yn := math.IsNaN(float64(x)), math.IsNaN(float64(y))
	if xn || yn {
		return !xn && yn
	}
	return x > y
}

// Softmax converts logits to probabilities in place.
func Softmax(xs []float32) {
	if len(xs) == 0 {
		return
	}
	maxVal := xs[0]
	for _, v := range xs[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float64
	exps := make([]float64, len(xs))
	for i, v := range xs {
		exps[i] = math.Exp(float64(v - maxVal))
		sum += exps[i]
	}
	for i := range xs {
		xs[i] = float32(exps[i] / sum)
	}
}
