package models

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Risk tags raised by the transaction models.
const (
	TagHighAmount       = "high_amount"
	TagElevatedAmount   = "elevated_amount"
	TagOddHour          = "odd_hour"
	TagHighRiskLocation = "high_risk_location"
	TagCardNotPresent   = "card_not_present"
	TagHighVelocity     = "high_velocity"
	TagElevatedVelocity = "elevated_velocity"
	TagExtremeDeviation = "extreme_amount_deviation"
	TagAmountDeviation  = "unusual_amount_deviation"
	TagHighRiskCategory = "high_risk_category"
)

// RuleBased is the additive anomaly model.
type RuleBased struct{}

func (RuleBased) Name() string  { return domain.ModelRuleBased }
func (RuleBased) Base() float64 { return 0 }

func (RuleBased) Score(f *features.TransactionFeatures) Outcome {
	var t tally
	switch {
	case f.Amount > 10000:
		t.add(TagHighAmount, 0.4)
	case f.Amount > 5000:
		t.add(TagElevatedAmount, 0.2)
	}
	if f.OddHour {
		t.add(TagOddHour, 0.3)
	}
	if f.HighRiskLocation {
		t.add(TagHighRiskLocation, 0.3)
	}
	if f.CardNotPresent && f.Amount > 1000 {
		t.add(TagCardNotPresent, 0.25)
	}
	return t.outcome()
}

// Behavioral scores customer activity against its own history.
type Behavioral struct {
	BaseScore float64
}

func (b Behavioral) Name() string  { return domain.ModelBehavioral }
func (b Behavioral) Base() float64 { return Clamp(b.BaseScore) }

func (b Behavioral) Score(f *features.TransactionFeatures) Outcome {
	t := tally{score: b.BaseScore}
	switch {
	case f.HistoryCount > 10:
		t.add(TagHighVelocity, 0.4)
	case f.HistoryCount > 5:
		t.add(TagElevatedVelocity, 0.2)
	}
	switch {
	case f.DeviationRatio > 5:
		t.add(TagExtremeDeviation, 0.5)
	case f.DeviationRatio > 2:
		t.add(TagAmountDeviation, 0.3)
	}
	if f.HighRiskCategory {
		t.add(TagHighRiskCategory, 0.3)
	}
	return t.outcome()
}

// Pattern is a fixed logistic formula over five normalized inputs.
// It has no learned state; the weights and bias come from configuration.
type Pattern struct {
	weights [5]float64
	bias    float64
	sigmoid func(float64) float64
}

// NewPattern builds the pattern model. Missing weights are treated as zero.
func NewPattern(cfg domain.PatternConfig) *Pattern {
	p := &Pattern{bias: cfg.Bias, sigmoid: Sigmoid}
	copy(p.weights[:], cfg.Weights)
	return p
}

func (p *Pattern) Name() string { return domain.ModelPattern }

// Base is the model output with every input at zero.
func (p *Pattern) Base() float64 { return Clamp(p.sigmoid(p.bias)) }

func (p *Pattern) Score(f *features.TransactionFeatures) Outcome {
	inputs := [5]float64{
		math.Min(f.Amount/10000, 1),
		math.Min(f.DeviationRatio/5, 1),
		boolFloat(f.CardNotPresent),
		boolFloat(f.HighRiskLocation),
		boolFloat(f.OddHour),
	}
	z := p.bias
	for i, x := range inputs {
		z += p.weights[i] * x
	}
	return Outcome{Score: Clamp(p.sigmoid(z))}
}

// Sigmoid is the logistic function.
func Sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
