package domain

import "time"

// Severity ranks an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// AlertStatus tracks an alert through its lifecycle.
// Alerts start open; an external consumer acknowledges or dismisses them.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertDismissed    AlertStatus = "dismissed"
)

// Valid reports whether s is a known status.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertOpen, AlertAcknowledged, AlertDismissed:
		return true
	}
	return false
}

// Alert is raised when a result or metric crosses its alert threshold.
type Alert struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenantId"`
	ResultID    string            `json:"resultId,omitempty"`
	SubjectID   string            `json:"subjectId"`
	EntityID    string            `json:"entityId"`
	Kind        ResultKind        `json:"kind"`
	Severity    Severity          `json:"severity"`
	Status      AlertStatus       `json:"status"`
	Message     string            `json:"message"`
	Score       float64           `json:"score"`
	Verdict     Verdict           `json:"verdict,omitempty"`
	RiskFactors []string          `json:"riskFactors,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}
