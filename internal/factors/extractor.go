// Package factors turns model triggers, model scores and operator rules into
// the ordered list of human-readable risk tags attached to a result.
package factors

import (
	"context"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/models"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Model-level tags, raised when a model's whole score crosses a floor.
const (
	TagAnomalyDetected     = "anomaly_detected"
	TagBehavioralDeviation = "behavioral_deviation"
	TagPatternMatch        = "ai_pattern_match"
	TagKeystrokeAnomaly    = "keystroke_anomaly"
	TagBotMouse            = "bot_like_mouse_movement"
	TagDeviceRisk          = "device_risk"
	TagLocationAnomaly     = "location_anomaly"
)

// Candidate is a tag with the significance used to order it.
type Candidate struct {
	Tag          string
	Significance float64
}

// Input is everything the extractor inspects for one result.
type Input struct {
	TenantID   string
	Kind       domain.ResultKind
	Scores     []domain.ModelScore
	Triggers   []models.Trigger
	Activation map[string]any
}

// Extractor builds risk factor lists.
type Extractor struct {
	limit     int
	modelTags map[string]modelTag
	rules     *rules.Engine
}

type modelTag struct {
	tag   string
	floor float64
}

// NewExtractor creates an extractor. ruleEngine may be nil.
func NewExtractor(cfg domain.ScoringConfig, ruleEngine *rules.Engine) *Extractor {
	limit := cfg.MaxRiskFactors
	if limit < 1 {
		limit = 1
	}
	f := cfg.FactorTags
	return &Extractor{
		limit: limit,
		modelTags: map[string]modelTag{
			domain.ModelRuleBased:   {TagAnomalyDetected, f.AnomalyFloor},
			domain.ModelBehavioral:  {TagBehavioralDeviation, f.BehavioralFloor},
			domain.ModelPattern:     {TagPatternMatch, f.PatternFloor},
			domain.ModelKeystroke:   {TagKeystrokeAnomaly, f.BiometricFloor},
			domain.ModelMouse:       {TagBotMouse, f.BiometricFloor},
			domain.ModelDevice:      {TagDeviceRisk, f.BiometricFloor},
			domain.ModelGeolocation: {TagLocationAnomaly, f.BiometricFloor},
		},
		rules: ruleEngine,
	}
}

// Extract returns tags ordered most-significant first, deduplicated and capped.
// Ties keep their discovery order: model triggers, then model-level tags, then rules.
func (e *Extractor) Extract(ctx context.Context, in Input) []string {
	candidates := make([]Candidate, 0, len(in.Triggers)+len(in.Scores))
	for _, t := range in.Triggers {
		candidates = append(candidates, Candidate{Tag: t.Tag, Significance: t.Weight})
	}
	for _, s := range in.Scores {
		mt, ok := e.modelTags[s.Model]
		if ok && s.Score >= mt.floor {
			candidates = append(candidates, Candidate{Tag: mt.tag, Significance: s.Score})
		}
	}
	if e.rules != nil && in.Activation != nil {
		for _, m := range e.rules.Evaluate(ctx, in.TenantID, in.Kind, in.Activation) {
			candidates = append(candidates, Candidate{Tag: m.Tag, Significance: m.Significance})
		}
	}
	return Rank(candidates, e.limit)
}

// Rank orders candidates by significance, drops repeated tags and keeps at most limit.
func Rank(candidates []Candidate, limit int) []string {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Significance > sorted[j].Significance
	})

	seen := make(map[string]struct{}, len(sorted))
	tags := make([]string, 0, limit)
	for _, c := range sorted {
		if len(tags) == limit {
			break
		}
		if _, dup := seen[c.Tag]; dup || c.Tag == "" {
			continue
		}
		seen[c.Tag] = struct{}{}
		tags = append(tags, c.Tag)
	}
	return tags
}
