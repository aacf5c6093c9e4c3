package domain

import (
	"encoding/json"
	"time"
)

// ResultKind is the kind of input that was scored.
type ResultKind string

const (
	KindTransaction ResultKind = "transaction"
	KindBiometric   ResultKind = "biometric"

	// KindMetric marks alerts raised from metric samples rather than scored inputs.
	KindMetric ResultKind = "metric"
)

// Verdict is the classification of an ensemble score.
type Verdict string

const (
	VerdictLegitimate Verdict = "legitimate"
	VerdictSuspicious Verdict = "suspicious"
	VerdictFraudulent Verdict = "fraudulent"
)

// ModelScore is the output of a single scoring model.
type ModelScore struct {
	Model   string   `json:"model"`
	Score   float64  `json:"score"`
	Factors []string `json:"factors,omitempty"`
}

// Assessment is the deterministic part of a scored result.
// Two scorings of the same input under the same configuration yield equal Assessments.
type Assessment struct {
	ModelScores       []ModelScore `json:"modelScores"`
	EnsembleScore     float64      `json:"ensembleScore"`
	Confidence        float64      `json:"confidence"`
	LowConfidence     bool         `json:"lowConfidence"`
	Verdict           Verdict      `json:"verdict"`
	RiskFactors       []string     `json:"riskFactors"`
	RecommendedAction string       `json:"recommendedAction"`
}

// EnsembleResult is the scored verdict for one input.
// It is created once, persisted for audit and never mutated afterwards.
type EnsembleResult struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenantId"`
	SubjectID string     `json:"subjectId"`
	Kind      ResultKind `json:"kind"`
	EntityID  string     `json:"entityId"`

	Assessment

	// Degraded is set when at least one model missed the deadline and fell back to its base score.
	Degraded bool      `json:"degraded,omitempty"`
	ScoredAt time.Time `json:"scoredAt"`

	Metadata ResultMetadata `json:"metadata"`

	// Input is the raw submitted payload, kept so the verdict can be replayed.
	Input json.RawMessage `json:"-"`
}

// ResultMetadata contains processing information.
type ResultMetadata struct {
	TraceID          string   `json:"traceId,omitempty"`
	ScoringMicros    int64    `json:"scoringMicros"`
	EngineVersion    string   `json:"engineVersion"`
	HistoryTruncated bool     `json:"historyTruncated,omitempty"`
	TimedOutModels   []string `json:"timedOutModels,omitempty"`
}
