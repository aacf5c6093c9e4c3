package ensemble

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Classifier maps an ensemble score to a verdict and recommended action.
type Classifier struct {
	thresholds domain.VerdictThresholds
	actions    domain.VerdictActions
}

// NewClassifier validates threshold ordering.
func NewClassifier(thresholds domain.VerdictThresholds, actions domain.VerdictActions) (*Classifier, error) {
	if !(thresholds.Suspicious < thresholds.Fraudulent) {
		return nil, fmt.Errorf("suspicious threshold %.2f must be below fraudulent threshold %.2f",
			thresholds.Suspicious, thresholds.Fraudulent)
	}
	return &Classifier{thresholds: thresholds, actions: actions}, nil
}

// Classify applies strict greater-than comparisons, so a score exactly on a
// threshold takes the lower verdict.
func (c *Classifier) Classify(score float64) (domain.Verdict, string) {
	switch {
	case score > c.thresholds.Fraudulent:
		return domain.VerdictFraudulent, c.actions.Fraudulent
	case score > c.thresholds.Suspicious:
		return domain.VerdictSuspicious, c.actions.Suspicious
	default:
		return domain.VerdictLegitimate, c.actions.Legitimate
	}
}

// Thresholds returns the configured thresholds.
func (c *Classifier) Thresholds() domain.VerdictThresholds {
	return c.thresholds
}
