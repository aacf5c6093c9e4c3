package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/models"
	"github.com/opensource-finance/kestrel/internal/rules"
)

var afternoon = time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC)

type recordingAlerts struct {
	mu      sync.Mutex
	results []*domain.EnsembleResult
}

func (r *recordingAlerts) Dispatch(_ context.Context, result *domain.EnsembleResult) *domain.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	if result.EnsembleScore > 0.6 {
		return &domain.Alert{ID: "alert-" + result.ID, Severity: domain.SeverityCritical}
	}
	return nil
}

type countingMetrics struct {
	mu       sync.Mutex
	observed int
	errors   int
}

func (c *countingMetrics) Observe(time.Duration, float64) {
	c.mu.Lock()
	c.observed++
	c.mu.Unlock()
}

func (c *countingMetrics) ObserveError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

type memoryLocations struct {
	mu    sync.Mutex
	fixes map[string]domain.GeoFix
}

func (m *memoryLocations) Last(_ context.Context, tenantID, entityID string) (*domain.GeoFix, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fix, ok := m.fixes[tenantID+"/"+entityID]
	if !ok {
		return nil, nil
	}
	return &fix, nil
}

func (m *memoryLocations) Remember(_ context.Context, tenantID, entityID string, fix domain.GeoFix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixes[tenantID+"/"+entityID] = fix
	return nil
}

type slowModel struct {
	delay time.Duration
}

func (slowModel) Name() string  { return "slow" }
func (slowModel) Base() float64 { return 0.2 }
func (s slowModel) Score(*features.TransactionFeatures) models.Outcome {
	time.Sleep(s.delay)
	return models.Outcome{Score: 1}
}

type panickyModel struct{}

func (panickyModel) Name() string  { return "panicky" }
func (panickyModel) Base() float64 { return 0.3 }
func (panickyModel) Score(*features.TransactionFeatures) models.Outcome {
	panic("boom")
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return afternoon }
	}
	e, err := New(domain.DefaultScoringConfig(), opts)
	require.NoError(t, err)
	return e
}

func amounts(values ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func fraudRecord() *domain.TransactionRecord {
	return &domain.TransactionRecord{
		ID:          "tx-fraud",
		CustomerID:  "cust-1",
		Amount:      decimal.NewFromInt(15000),
		Merchant:    "Electronics Store",
		Location:    "Unknown",
		CardPresent: false,
		Timestamp:   afternoon,
		History:     amounts(50, 60, 55),
	}
}

func legitRecord() *domain.TransactionRecord {
	return &domain.TransactionRecord{
		ID:          "tx-legit",
		CustomerID:  "cust-2",
		Amount:      decimal.NewFromFloat(42.99),
		Merchant:    "Coffee Shop",
		Location:    "New York, US",
		CardPresent: true,
		Timestamp:   afternoon,
		History:     amounts(40, 45, 38),
	}
}

func TestScoreTransactionFraud(t *testing.T) {
	alerts := &recordingAlerts{}
	m := &countingMetrics{}
	e := newTestEngine(t, Options{Alerts: alerts, Metrics: m})

	scored, err := e.ScoreTransaction(context.Background(), "tenant-1", fraudRecord())
	require.NoError(t, err)

	r := scored.Result
	assert.Equal(t, domain.VerdictFraudulent, r.Verdict)
	assert.Equal(t, "Block transaction immediately", r.RecommendedAction)
	assert.InDelta(t, 0.837, r.EnsembleScore, 0.01)
	assert.Greater(t, r.Confidence, 0.9)
	assert.False(t, r.LowConfidence)
	assert.False(t, r.Degraded)

	require.Len(t, r.ModelScores, 3)
	assert.Equal(t, domain.ModelRuleBased, r.ModelScores[0].Model)
	assert.Equal(t, domain.ModelBehavioral, r.ModelScores[1].Model)
	assert.Equal(t, domain.ModelPattern, r.ModelScores[2].Model)

	assert.Contains(t, r.RiskFactors, "high_amount")
	assert.Contains(t, r.RiskFactors, "high_risk_location")
	assert.Contains(t, r.RiskFactors, "card_not_present")
	assert.LessOrEqual(t, len(r.RiskFactors), 8)

	assert.Equal(t, "tenant-1", r.TenantID)
	assert.Equal(t, "tx-fraud", r.SubjectID)
	assert.Equal(t, "cust-1", r.EntityID)
	assert.Equal(t, Version, r.Metadata.EngineVersion)
	assert.NotEmpty(t, r.ID)
	assert.NotEmpty(t, r.Input)

	require.NotNil(t, scored.Alert)
	assert.Equal(t, domain.SeverityCritical, scored.Alert.Severity)
	assert.Len(t, alerts.results, 1)
	assert.Equal(t, 1, m.observed)
}

func TestAlertsNotSharedAtMerchant(t *testing.T) {
	e := newTestEngine(t, Options{Alerts: alert.NewDispatcher(domain.DefaultAlertConfig(), nil, nil, nil)})
	ctx := context.Background()

	var raised int
	for _, id := range []string{"tx-A", "tx-B"} {
		rec := fraudRecord()
		rec.ID = id
		rec.CustomerID = ""
		rec.Merchant = "Amazon"

		scored, err := e.ScoreTransaction(ctx, "t", rec)
		require.NoError(t, err)
		assert.Equal(t, id, scored.Result.EntityID)
		if scored.Alert != nil {
			raised++
		}
	}
	assert.Equal(t, 2, raised, "cardholders sharing a merchant keep separate de-dup windows")

	rec := fraudRecord()
	rec.ID = "tx-C"
	rec.CustomerID = ""
	rec.DeviceID = "dev-7"
	assert.Equal(t, "dev-7", rec.EntityKey())
}

func TestScoreTransactionLegitimate(t *testing.T) {
	e := newTestEngine(t, Options{})

	scored, err := e.ScoreTransaction(context.Background(), "tenant-1", legitRecord())
	require.NoError(t, err)

	r := scored.Result
	assert.Equal(t, domain.VerdictLegitimate, r.Verdict)
	assert.Less(t, r.EnsembleScore, 0.1)
	assert.Nil(t, scored.Alert)
	assert.NotNil(t, r.RiskFactors)
}

func TestScoreTransactionDeterministic(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()

	first, err := e.ScoreTransaction(ctx, "t", fraudRecord())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := e.ScoreTransaction(ctx, "t", fraudRecord())
		require.NoError(t, err)
		assert.Equal(t, first.Result.Assessment, again.Result.Assessment)
	}
}

func TestScoreTransactionStampsMissingTimestamp(t *testing.T) {
	e := newTestEngine(t, Options{})

	rec := legitRecord()
	rec.Timestamp = time.Time{}
	scored, err := e.ScoreTransaction(context.Background(), "t", rec)
	require.NoError(t, err)

	assert.True(t, rec.Timestamp.IsZero(), "caller's record must not be mutated")
	assert.Contains(t, string(scored.Result.Input), "2025-03-01T14:00:00Z")
}

func TestScoreTransactionValidation(t *testing.T) {
	m := &countingMetrics{}
	e := newTestEngine(t, Options{Metrics: m})
	ctx := context.Background()

	cases := map[string]*domain.TransactionRecord{
		"MissingID":       {Amount: decimal.NewFromInt(10)},
		"ZeroAmount":      {ID: "tx", Amount: decimal.Zero},
		"NegativeHistory": {ID: "tx", Amount: decimal.NewFromInt(10), History: amounts(-1)},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.ScoreTransaction(ctx, "t", rec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput))
		})
	}
	assert.Equal(t, 3, m.errors)
	assert.Equal(t, 0, m.observed)
}

func TestSlowModelDegrades(t *testing.T) {
	cfg := domain.DefaultScoringConfig()
	cfg.Timeout = 20 * time.Millisecond
	e, err := New(cfg, Options{
		Clock: func() time.Time { return afternoon },
		TransactionModels: []models.TransactionModel{
			models.RuleBased{},
			models.Behavioral{BaseScore: cfg.BehavioralBase},
			slowModel{delay: 500 * time.Millisecond},
		},
	})
	require.NoError(t, err)

	start := time.Now()
	scored, err := e.ScoreTransaction(context.Background(), "t", legitRecord())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	r := scored.Result
	assert.True(t, r.Degraded)
	assert.Equal(t, []string{"slow"}, r.Metadata.TimedOutModels)
	require.Len(t, r.ModelScores, 3)
	assert.Equal(t, 0.2, r.ModelScores[2].Score)
	assert.True(t, r.LowConfidence, "a partial ensemble is never reported as confident")
	assert.LessOrEqual(t, r.Confidence, 2.0/3.0)

	scored, err = e.ScoreTransaction(context.Background(), "t", fraudRecord())
	require.NoError(t, err)
	assert.True(t, scored.Result.LowConfidence)
}

func TestCancelledContextStillScores(t *testing.T) {
	e := newTestEngine(t, Options{})

	want, err := e.ScoreTransaction(context.Background(), "t", fraudRecord())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 50; i++ {
		scored, err := e.ScoreTransaction(ctx, "t", fraudRecord())
		require.NoError(t, err)
		r := scored.Result
		require.False(t, r.Degraded, "run %d", i)
		assert.Empty(t, r.Metadata.TimedOutModels)
		assert.Equal(t, domain.VerdictFraudulent, r.Verdict)
		assert.True(t, assessmentsEqual(&want.Result.Assessment, &r.Assessment), "run %d differs", i)
	}
}

func TestPanickingModelUsesBase(t *testing.T) {
	cfg := domain.DefaultScoringConfig()
	e, err := New(cfg, Options{
		Clock: func() time.Time { return afternoon },
		TransactionModels: []models.TransactionModel{
			models.RuleBased{},
			models.Behavioral{BaseScore: cfg.BehavioralBase},
			panickyModel{},
		},
	})
	require.NoError(t, err)

	scored, err := e.ScoreTransaction(context.Background(), "t", legitRecord())
	require.NoError(t, err)
	assert.True(t, scored.Result.Degraded)
	assert.Equal(t, []string{"panicky"}, scored.Result.Metadata.TimedOutModels)
	assert.Equal(t, 0.3, scored.Result.ModelScores[2].Score)
	assert.True(t, scored.Result.LowConfidence)
}

func TestScoreBiometric(t *testing.T) {
	e := newTestEngine(t, Options{})

	t.Run("DeviceOnly", func(t *testing.T) {
		scored, err := e.ScoreBiometric(context.Background(), "t", &domain.BiometricSample{
			SessionID: "sess-1",
			Device: &domain.DeviceFingerprint{
				ScreenResolution:    "1920x1080",
				Platform:            "Linux x86_64",
				UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/120.0",
				HardwareConcurrency: 8,
			},
		})
		require.NoError(t, err)

		r := scored.Result
		assert.Equal(t, domain.KindBiometric, r.Kind)
		require.Len(t, r.ModelScores, 4)
		assert.Equal(t, domain.ModelDevice, r.ModelScores[2].Model)
		assert.Greater(t, r.ModelScores[2].Score, r.ModelScores[0].Score)
		assert.Contains(t, r.RiskFactors, models.TagSuspiciousUserAgent)
	})

	t.Run("MissingSession", func(t *testing.T) {
		_, err := e.ScoreBiometric(context.Background(), "t", &domain.BiometricSample{})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestScoreBiometricUsesLastLocation(t *testing.T) {
	locations := &memoryLocations{fixes: map[string]domain.GeoFix{}}
	e := newTestEngine(t, Options{Locations: locations})
	ctx := context.Background()

	newYork := &domain.BiometricSample{
		SessionID: "sess-1",
		UserID:    "user-1",
		Geolocation: &domain.Geolocation{
			GeoFix:   domain.GeoFix{Latitude: 40.7128, Longitude: -74.0060, Timestamp: afternoon.Add(-time.Hour)},
			Accuracy: 10,
		},
	}
	first, err := e.ScoreBiometric(ctx, "t", newYork)
	require.NoError(t, err)
	assert.NotContains(t, first.Result.RiskFactors, models.TagImpossibleTravel)

	london := &domain.BiometricSample{
		SessionID: "sess-2",
		UserID:    "user-1",
		Geolocation: &domain.Geolocation{
			GeoFix:   domain.GeoFix{Latitude: 51.5074, Longitude: -0.1278, Timestamp: afternoon},
			Accuracy: 10,
		},
	}
	second, err := e.ScoreBiometric(ctx, "t", london)
	require.NoError(t, err)
	assert.Contains(t, second.Result.RiskFactors, models.TagImpossibleTravel)
	assert.Nil(t, london.Geolocation.Previous, "caller's sample must not be mutated")

	other, err := e.ScoreBiometric(ctx, "other-tenant", london)
	require.NoError(t, err)
	assert.NotContains(t, other.Result.RiskFactors, models.TagImpossibleTravel)
}

func TestFactorRules(t *testing.T) {
	ruleEngine, err := rules.NewEngine(2)
	require.NoError(t, err)
	defer ruleEngine.Close()

	require.NoError(t, ruleEngine.ReloadRules([]*domain.FactorRule{{
		ID:           "unknown-merchant-location",
		TenantID:     "tenant-1",
		Kind:         domain.KindTransaction,
		Expression:   `location == "Unknown" && amount > 10000.0`,
		Tag:          "offshore_large_purchase",
		Significance: 0.99,
		Enabled:      true,
	}}))

	e := newTestEngine(t, Options{Rules: ruleEngine})
	ctx := context.Background()

	scored, err := e.ScoreTransaction(ctx, "tenant-1", fraudRecord())
	require.NoError(t, err)
	require.NotEmpty(t, scored.Result.RiskFactors)
	assert.Equal(t, "offshore_large_purchase", scored.Result.RiskFactors[0])

	scored, err = e.ScoreTransaction(ctx, "tenant-2", fraudRecord())
	require.NoError(t, err)
	assert.NotContains(t, scored.Result.RiskFactors, "offshore_large_purchase")
}

func TestReplay(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()

	scored, err := e.ScoreTransaction(ctx, "t", fraudRecord())
	require.NoError(t, err)

	assessment, same, err := e.Replay(ctx, scored.Result)
	require.NoError(t, err)
	assert.True(t, same)
	assert.Equal(t, scored.Result.EnsembleScore, assessment.EnsembleScore)

	tampered := *scored.Result
	tampered.EnsembleScore = 0.1
	_, same, err = e.Replay(ctx, &tampered)
	require.NoError(t, err)
	assert.False(t, same)

	_, _, err = e.Replay(ctx, &domain.EnsembleResult{ID: "no-input", Kind: domain.KindTransaction})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := domain.DefaultScoringConfig()
	cfg.Timezone = "Mars/Olympus_Mons"
	_, err := New(cfg, Options{})
	assert.Error(t, err)

	cfg = domain.DefaultScoringConfig()
	cfg.Timeout = 0
	_, err = New(cfg, Options{})
	assert.Error(t, err)
}
