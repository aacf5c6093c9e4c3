package factors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/models"
	"github.com/opensource-finance/kestrel/internal/rules"
)

func TestRank(t *testing.T) {
	got := Rank([]Candidate{
		{"low", 0.1},
		{"high", 0.9},
		{"mid-a", 0.5},
		{"mid-b", 0.5},
		{"high", 0.2},
		{"", 1},
	}, 8)
	assert.Equal(t, []string{"high", "mid-a", "mid-b", "low"}, got)

	assert.Equal(t, []string{"high", "mid-a"}, Rank([]Candidate{{"low", 0.1}, {"high", 0.9}, {"mid-a", 0.5}}, 2))
	assert.Empty(t, Rank(nil, 3))
}

func TestExtractFraudProfile(t *testing.T) {
	e := NewExtractor(domain.DefaultScoringConfig(), nil)

	tags := e.Extract(context.Background(), Input{
		Kind: domain.KindTransaction,
		Scores: []domain.ModelScore{
			{Model: domain.ModelRuleBased, Score: 0.95},
			{Model: domain.ModelBehavioral, Score: 0.6},
			{Model: domain.ModelPattern, Score: 0.989},
		},
		Triggers: []models.Trigger{
			{Tag: models.TagHighAmount, Weight: 0.4},
			{Tag: models.TagHighRiskLocation, Weight: 0.3},
			{Tag: models.TagCardNotPresent, Weight: 0.25},
			{Tag: models.TagExtremeDeviation, Weight: 0.5},
		},
	})

	assert.Equal(t, []string{
		TagPatternMatch,
		TagAnomalyDetected,
		TagBehavioralDeviation,
		models.TagExtremeDeviation,
		models.TagHighAmount,
		models.TagHighRiskLocation,
		models.TagCardNotPresent,
	}, tags)
}

func TestExtractQuietProfile(t *testing.T) {
	e := NewExtractor(domain.DefaultScoringConfig(), nil)
	tags := e.Extract(context.Background(), Input{
		Kind: domain.KindTransaction,
		Scores: []domain.ModelScore{
			{Model: domain.ModelRuleBased, Score: 0},
			{Model: domain.ModelBehavioral, Score: 0.1},
			{Model: domain.ModelPattern, Score: 0.03},
		},
	})
	assert.Empty(t, tags)
}

func TestExtractCapsTags(t *testing.T) {
	cfg := domain.DefaultScoringConfig()
	cfg.MaxRiskFactors = 3
	e := NewExtractor(cfg, nil)

	var triggers []models.Trigger
	for _, tag := range []string{"a", "b", "c", "d", "e"} {
		triggers = append(triggers, models.Trigger{Tag: tag, Weight: 0.3})
	}
	tags := e.Extract(context.Background(), Input{Triggers: triggers})
	assert.Equal(t, []string{"a", "b", "c"}, tags)
}

func TestExtractWithFactorRules(t *testing.T) {
	engine, err := rules.NewEngine(2)
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, engine.LoadRule(&domain.FactorRule{
		ID:           "crypto-night",
		TenantID:     "tenant-001",
		Kind:         domain.KindTransaction,
		Expression:   `category == "crypto" && hour < 6`,
		Tag:          "crypto_at_night",
		Significance: 0.45,
		Enabled:      true,
	}))

	e := NewExtractor(domain.DefaultScoringConfig(), engine)
	rec := &domain.TransactionRecord{ID: "tx-1", Category: "crypto"}
	f := &features.TransactionFeatures{Amount: 200, Hour: 3, OddHour: true, Category: "crypto"}
	scores := []domain.ModelScore{{Model: domain.ModelRuleBased, Score: 0.3}}

	tags := e.Extract(context.Background(), Input{
		TenantID:   "tenant-001",
		Kind:       domain.KindTransaction,
		Scores:     scores,
		Triggers:   []models.Trigger{{Tag: models.TagOddHour, Weight: 0.3}},
		Activation: TransactionActivation(rec, f, scores, 0.2, 0.9),
	})
	assert.Equal(t, []string{"crypto_at_night", models.TagOddHour}, tags)

	// A different tenant does not see the rule.
	tags = e.Extract(context.Background(), Input{
		TenantID:   "tenant-002",
		Kind:       domain.KindTransaction,
		Activation: TransactionActivation(rec, f, scores, 0.2, 0.9),
	})
	assert.Empty(t, tags)
}

func TestBiometricActivationCoversAllVariables(t *testing.T) {
	engine, err := rules.NewEngine(1)
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, engine.LoadRule(&domain.FactorRule{
		ID:         "bot",
		TenantID:   domain.GlobalTenantID,
		Expression: `trajectory_smoothness > 0.99 && scores["mouse_pattern"] > 0.5 && hardware_concurrency == 2`,
		Tag:        "scripted_session",
		Enabled:    true,
	}))
	f := &features.BiometricFeatures{TrajectorySmoothness: 1, HardwareConcurrency: 2}
	act := BiometricActivation(f, []domain.ModelScore{{Model: domain.ModelMouse, Score: 0.7}}, 0.4, 0.8)

	matches := engine.Evaluate(context.Background(), "any", domain.KindBiometric, act)
	require.Len(t, matches, 1)
	assert.Equal(t, "scripted_session", matches[0].Tag)
}
