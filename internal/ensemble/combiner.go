// Package ensemble combines model scores into a single risk score and
// classifies that score into a verdict.
package ensemble

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/models"
)

const weightTolerance = 1e-6

// Combiner computes the weighted ensemble score and agreement-based confidence.
type Combiner struct {
	weights map[string]float64
}

// Combination is the combiner output.
type Combination struct {
	Score      float64
	Confidence float64
	Variance   float64
}

// NewCombiner validates that the weights are non-negative and sum to 1.
func NewCombiner(weights map[string]float64) (*Combiner, error) {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	var sum float64
	for _, name := range names {
		w := weights[name]
		if w < 0 || math.IsNaN(w) {
			return nil, fmt.Errorf("weight for %s must be non-negative, got %v", name, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		return nil, fmt.Errorf("weights must sum to 1, got %.6f", sum)
	}

	copied := make(map[string]float64, len(weights))
	for name, w := range weights {
		copied[name] = w
	}
	return &Combiner{weights: copied}, nil
}

// Weight returns the configured weight of a model.
func (c *Combiner) Weight(model string) float64 {
	return c.weights[model]
}

// Combine folds model scores into one. Models without a weight contribute nothing.
func (c *Combiner) Combine(scores []domain.ModelScore) Combination {
	values := make([]float64, len(scores))
	var total float64
	for i, s := range scores {
		v := models.Clamp(s.Score)
		values[i] = v
		total += c.weights[s.Model] * v
	}
	variance := Variance(values)
	return Combination{
		Score:      models.Clamp(total),
		Confidence: confidenceFromVariance(variance, len(values)),
		Variance:   variance,
	}
}

// Variance is the population variance of xs; zero for fewer than two values.
func Variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return sum / float64(len(xs))
}

// Confidence is max(0, 1 - 2*variance). Agreement among fewer than two
// scores cannot be measured, so it is reported as 0.
func Confidence(xs []float64) float64 {
	return confidenceFromVariance(Variance(xs), len(xs))
}

func confidenceFromVariance(variance float64, n int) float64 {
	if n < 2 {
		return 0
	}
	return models.Clamp(1 - 2*variance)
}
