package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Model names. These double as the keys of the ensemble weight maps.
const (
	ModelRuleBased   = "rule_based"
	ModelBehavioral  = "behavioral"
	ModelPattern     = "pattern_recognition"
	ModelKeystroke   = "keystroke_dynamics"
	ModelMouse       = "mouse_pattern"
	ModelDevice      = "device_fingerprint"
	ModelGeolocation = "geolocation"
)

// ScoringConfig holds every tunable of the scoring pipeline.
type ScoringConfig struct {
	TransactionWeights TransactionWeights `json:"transactionWeights" yaml:"transactionWeights"`
	BiometricWeights   BiometricWeights   `json:"biometricWeights" yaml:"biometricWeights"`
	Thresholds         VerdictThresholds  `json:"thresholds" yaml:"thresholds"`
	Actions            VerdictActions     `json:"actions" yaml:"actions"`

	// LowConfidence marks results whose confidence falls below it.
	LowConfidence float64 `json:"lowConfidence" yaml:"lowConfidence"`

	// Timeout bounds the parallel model join for one request.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	MaxRiskFactors int    `json:"maxRiskFactors" yaml:"maxRiskFactors"`
	HistoryCap     int    `json:"historyCap" yaml:"historyCap"`
	Timezone       string `json:"timezone" yaml:"timezone"`

	HighRiskLocations  []string `json:"highRiskLocations" yaml:"highRiskLocations"`
	HighRiskCategories []string `json:"highRiskCategories" yaml:"highRiskCategories"`

	BehavioralBase float64          `json:"behavioralBase" yaml:"behavioralBase"`
	Pattern        PatternConfig    `json:"pattern" yaml:"pattern"`
	Biometric      BiometricLimits  `json:"biometric" yaml:"biometric"`
	LocationTTL    time.Duration    `json:"locationTtl" yaml:"locationTtl"`
	FactorTags     FactorTagsConfig `json:"factorTags" yaml:"factorTags"`
}

// TransactionWeights are the ensemble weights of the transaction models.
type TransactionWeights struct {
	RuleBased  float64 `json:"ruleBased" yaml:"ruleBased"`
	Behavioral float64 `json:"behavioral" yaml:"behavioral"`
	Pattern    float64 `json:"pattern" yaml:"pattern"`
}

// Map returns the weights keyed by model name.
func (w TransactionWeights) Map() map[string]float64 {
	return map[string]float64{
		ModelRuleBased:  w.RuleBased,
		ModelBehavioral: w.Behavioral,
		ModelPattern:    w.Pattern,
	}
}

// BiometricWeights are the ensemble weights of the biometric models.
type BiometricWeights struct {
	Keystroke   float64 `json:"keystroke" yaml:"keystroke"`
	Mouse       float64 `json:"mouse" yaml:"mouse"`
	Device      float64 `json:"device" yaml:"device"`
	Geolocation float64 `json:"geolocation" yaml:"geolocation"`
}

// Map returns the weights keyed by model name.
func (w BiometricWeights) Map() map[string]float64 {
	return map[string]float64{
		ModelKeystroke:   w.Keystroke,
		ModelMouse:       w.Mouse,
		ModelDevice:      w.Device,
		ModelGeolocation: w.Geolocation,
	}
}

// VerdictThresholds split the ensemble score into verdicts.
// A score strictly above Fraudulent is fraudulent; strictly above Suspicious is suspicious.
type VerdictThresholds struct {
	Suspicious float64 `json:"suspicious" yaml:"suspicious"`
	Fraudulent float64 `json:"fraudulent" yaml:"fraudulent"`
}

// VerdictActions are the recommended actions per verdict.
type VerdictActions struct {
	Legitimate string `json:"legitimate" yaml:"legitimate"`
	Suspicious string `json:"suspicious" yaml:"suspicious"`
	Fraudulent string `json:"fraudulent" yaml:"fraudulent"`
}

// PatternConfig parameterizes the pattern model's logistic formula.
// Weights apply in order to: normalized amount, normalized deviation,
// card-not-present, location risk and odd hour.
type PatternConfig struct {
	Weights []float64 `json:"weights" yaml:"weights"`
	Bias    float64   `json:"bias" yaml:"bias"`
}

// BiometricLimits holds the plausibility bounds used by the biometric models.
type BiometricLimits struct {
	BaseScore float64 `json:"baseScore" yaml:"baseScore"`

	MinTypingSpeed     float64 `json:"minTypingSpeed" yaml:"minTypingSpeed"` // wpm
	MaxTypingSpeed     float64 `json:"maxTypingSpeed" yaml:"maxTypingSpeed"`
	MaxKeyIntervalCV   float64 `json:"maxKeyIntervalCv" yaml:"maxKeyIntervalCv"`
	RoboticIntervalCV  float64 `json:"roboticIntervalCv" yaml:"roboticIntervalCv"`
	MinRhythm          float64 `json:"minRhythm" yaml:"minRhythm"`
	MinMouseVelocity   float64 `json:"minMouseVelocity" yaml:"minMouseVelocity"` // px/ms
	MaxMouseVelocity   float64 `json:"maxMouseVelocity" yaml:"maxMouseVelocity"`
	RoboticClickCV     float64 `json:"roboticClickCv" yaml:"roboticClickCv"`
	LinearSmoothness   float64 `json:"linearSmoothness" yaml:"linearSmoothness"`
	MaxHardwareThreads int     `json:"maxHardwareThreads" yaml:"maxHardwareThreads"`

	SuspiciousUserAgents []string `json:"suspiciousUserAgents" yaml:"suspiciousUserAgents"`

	MaxTravelSpeedKmh   float64 `json:"maxTravelSpeedKmh" yaml:"maxTravelSpeedKmh"`
	MinTravelDistanceKm float64 `json:"minTravelDistanceKm" yaml:"minTravelDistanceKm"`
	MaxAccuracyMeters   float64 `json:"maxAccuracyMeters" yaml:"maxAccuracyMeters"`
}

// FactorTagsConfig holds the score floors for model-level risk tags.
type FactorTagsConfig struct {
	AnomalyFloor    float64 `json:"anomalyFloor" yaml:"anomalyFloor"`
	BehavioralFloor float64 `json:"behavioralFloor" yaml:"behavioralFloor"`
	PatternFloor    float64 `json:"patternFloor" yaml:"patternFloor"`
	BiometricFloor  float64 `json:"biometricFloor" yaml:"biometricFloor"`
}

// DefaultScoringConfig returns the canonical scoring configuration.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		TransactionWeights: TransactionWeights{RuleBased: 0.4, Behavioral: 0.35, Pattern: 0.25},
		BiometricWeights:   BiometricWeights{Keystroke: 0.3, Mouse: 0.25, Device: 0.25, Geolocation: 0.2},
		Thresholds:         VerdictThresholds{Suspicious: 0.4, Fraudulent: 0.7},
		Actions: VerdictActions{
			Legitimate: "Approve transaction",
			Suspicious: "Require additional authentication",
			Fraudulent: "Block transaction immediately",
		},
		LowConfidence:  0.5,
		Timeout:        50 * time.Millisecond,
		MaxRiskFactors: 8,
		HistoryCap:     100,
		Timezone:       "UTC",
		HighRiskLocations: []string{
			"Unknown", "Nigeria", "Romania", "Russia", "North Korea", "Iran",
		},
		HighRiskCategories: []string{
			"gambling", "crypto", "cryptocurrency", "wire_transfer", "gift_cards", "money_transfer",
		},
		BehavioralBase: 0.1,
		Pattern: PatternConfig{
			Weights: []float64{3.0, 2.0, 1.5, 2.0, 1.0},
			Bias:    -4.0,
		},
		Biometric: BiometricLimits{
			BaseScore:          0.1,
			MinTypingSpeed:     20,
			MaxTypingSpeed:     150,
			MaxKeyIntervalCV:   0.5,
			RoboticIntervalCV:  0.05,
			MinRhythm:          0.3,
			MinMouseVelocity:   0.1,
			MaxMouseVelocity:   5,
			RoboticClickCV:     0.05,
			LinearSmoothness:   0.95,
			MaxHardwareThreads: 64,
			SuspiciousUserAgents: []string{
				"headless", "phantomjs", "selenium", "puppeteer", "webdriver",
				"bot", "crawler", "spider", "curl", "python-requests",
			},
			MaxTravelSpeedKmh:   1000,
			MinTravelDistanceKm: 50,
			MaxAccuracyMeters:   1000,
		},
		LocationTTL: 30 * 24 * time.Hour,
		FactorTags: FactorTagsConfig{
			AnomalyFloor:    0.5,
			BehavioralFloor: 0.5,
			PatternFloor:    0.7,
			BiometricFloor:  0.5,
		},
	}
}

// AlertConfig controls alert emission and delivery.
type AlertConfig struct {
	Threshold         float64       `json:"threshold" yaml:"threshold"`
	CriticalThreshold float64       `json:"criticalThreshold" yaml:"criticalThreshold"`
	DedupWindow       time.Duration `json:"dedupWindow" yaml:"dedupWindow"`
	// DistributedDedup keeps the de-dup window in the shared cache instead of process memory.
	DistributedDedup bool          `json:"distributedDedup" yaml:"distributedDedup"`
	WebhookURL       string        `json:"webhookUrl" yaml:"webhookUrl"`
	WebhookTimeout   time.Duration `json:"webhookTimeout" yaml:"webhookTimeout"`
	MetricAlerts     bool          `json:"metricAlerts" yaml:"metricAlerts"`
}

// DefaultAlertConfig returns the canonical alert thresholds.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		Threshold:         0.6,
		CriticalThreshold: 0.8,
		DedupWindow:       60 * time.Second,
		WebhookTimeout:    5 * time.Second,
		MetricAlerts:      true,
	}
}

// MetricThreshold tags a sample's status. With LowerIsWorse the comparisons flip.
type MetricThreshold struct {
	Warning      float64 `json:"warning" yaml:"warning"`
	Critical     float64 `json:"critical" yaml:"critical"`
	LowerIsWorse bool    `json:"lowerIsWorse" yaml:"lowerIsWorse"`
}

// MetricsConfig controls the metrics aggregator.
type MetricsConfig struct {
	RingCapacity      int                            `json:"ringCapacity" yaml:"ringCapacity"`
	TrendWindow       int                            `json:"trendWindow" yaml:"trendWindow"`
	NoiseFloorPercent float64                        `json:"noiseFloorPercent" yaml:"noiseFloorPercent"`
	FlushInterval     time.Duration                  `json:"flushInterval" yaml:"flushInterval"`
	Thresholds        map[MetricType]MetricThreshold `json:"thresholds" yaml:"thresholds"`
}

// DefaultMetricsConfig returns the default aggregator settings.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		RingCapacity:      1440,
		TrendWindow:       10,
		NoiseFloorPercent: 5,
		FlushInterval:     10 * time.Second,
		Thresholds: map[MetricType]MetricThreshold{
			MetricAPIResponseTime: {Warning: 200, Critical: 500},  // ms
			MetricModelAccuracy:   {Warning: 0.6, Critical: 0.4, LowerIsWorse: true},
			MetricSystemLoad:      {Warning: 0.7, Critical: 0.9},
			MetricErrorRate:       {Warning: 0.02, Critical: 0.05},
			MetricThroughput:      {Warning: 5000, Critical: 10000}, // per interval
		},
	}
}

const weightTolerance = 1e-6

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	var errs []error
	s := c.Scoring

	if sum := s.TransactionWeights.RuleBased + s.TransactionWeights.Behavioral + s.TransactionWeights.Pattern; math.Abs(sum-1) > weightTolerance {
		errs = append(errs, fmt.Errorf("scoring.transactionWeights must sum to 1, got %.4f", sum))
	}
	bw := s.BiometricWeights
	if sum := bw.Keystroke + bw.Mouse + bw.Device + bw.Geolocation; math.Abs(sum-1) > weightTolerance {
		errs = append(errs, fmt.Errorf("scoring.biometricWeights must sum to 1, got %.4f", sum))
	}
	if t := s.Thresholds; !(t.Suspicious > 0 && t.Suspicious < t.Fraudulent && t.Fraudulent <= 1) {
		errs = append(errs, fmt.Errorf("scoring.thresholds must satisfy 0 < suspicious < fraudulent <= 1"))
	}
	if len(s.Pattern.Weights) != 5 {
		errs = append(errs, fmt.Errorf("scoring.pattern.weights must have 5 entries, got %d", len(s.Pattern.Weights)))
	}
	if s.HistoryCap < 1 {
		errs = append(errs, errors.New("scoring.historyCap must be at least 1"))
	}
	if s.MaxRiskFactors < 1 {
		errs = append(errs, errors.New("scoring.maxRiskFactors must be at least 1"))
	}
	if s.Timeout <= 0 {
		errs = append(errs, errors.New("scoring.timeout must be positive"))
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scoring.timezone: %w", err))
	}

	a := c.Alerting
	if !(a.Threshold > 0 && a.Threshold <= a.CriticalThreshold && a.CriticalThreshold <= 1) {
		errs = append(errs, errors.New("alerting thresholds must satisfy 0 < threshold <= criticalThreshold <= 1"))
	}
	if a.DedupWindow < 0 {
		errs = append(errs, errors.New("alerting.dedupWindow must not be negative"))
	}

	m := c.Metrics
	if m.TrendWindow < 1 {
		errs = append(errs, errors.New("metrics.trendWindow must be at least 1"))
	}
	if m.RingCapacity < 2*m.TrendWindow {
		errs = append(errs, errors.New("metrics.ringCapacity must hold at least two trend windows"))
	}
	if m.NoiseFloorPercent < 0 {
		errs = append(errs, errors.New("metrics.noiseFloorPercent must not be negative"))
	}

	if c.Stream.QueueSize < 1 {
		errs = append(errs, errors.New("stream.queueSize must be at least 1"))
	}
	if c.Delivery.QueueSize < 1 || c.Delivery.Workers < 1 || c.Delivery.MaxAttempts < 1 {
		errs = append(errs, errors.New("delivery queueSize, workers and maxAttempts must be at least 1"))
	}

	return errors.Join(errs...)
}
