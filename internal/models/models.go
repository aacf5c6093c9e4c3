// Package models holds the deterministic scoring models. Each model is a pure
// function of normalized features and returns a score clamped to [0,1].
package models

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Trigger is a condition a model found, with the weight it added to the score.
type Trigger struct {
	Tag    string
	Weight float64
}

// Outcome is a model's raw result.
type Outcome struct {
	Score    float64
	Triggers []Trigger
}

// ModelScore converts the outcome into its reported form.
func (o Outcome) ModelScore(model string) domain.ModelScore {
	ms := domain.ModelScore{Model: model, Score: o.Score}
	for _, t := range o.Triggers {
		ms.Factors = append(ms.Factors, t.Tag)
	}
	return ms
}

// TransactionModel scores transaction features.
type TransactionModel interface {
	Name() string
	// Base is the score reported when the model cannot finish in time.
	Base() float64
	Score(f *features.TransactionFeatures) Outcome
}

// BiometricModel scores biometric features.
type BiometricModel interface {
	Name() string
	Base() float64
	Score(f *features.BiometricFeatures) Outcome
}

// TransactionModels returns the transaction ensemble in reporting order.
func TransactionModels(cfg domain.ScoringConfig) []TransactionModel {
	return []TransactionModel{
		RuleBased{},
		Behavioral{BaseScore: cfg.BehavioralBase},
		NewPattern(cfg.Pattern),
	}
}

// BiometricModels returns the biometric ensemble in reporting order.
func BiometricModels(cfg domain.ScoringConfig) []BiometricModel {
	limits := cfg.Biometric
	return []BiometricModel{
		Keystroke{Limits: limits},
		Mouse{Limits: limits},
		Device{Limits: limits},
		Geolocation{Limits: limits},
	}
}

// Clamp bounds a score to [0,1]. NaN becomes 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// tally accumulates triggered weights on top of a base score.
type tally struct {
	score    float64
	triggers []Trigger
}

func (t *tally) add(tag string, weight float64) {
	t.score += weight
	t.triggers = append(t.triggers, Trigger{Tag: tag, Weight: weight})
}

func (t *tally) outcome() Outcome {
	return Outcome{Score: Clamp(t.score), Triggers: t.triggers}
}
