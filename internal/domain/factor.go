package domain

import "time"

// FactorRule is an operator-defined CEL expression that adds a risk tag
// to a result when it evaluates to true.
type FactorRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Kind restricts the rule to one input kind; empty applies to all.
	Kind ResultKind `json:"kind,omitempty"`

	// CEL expression returning bool
	Expression string `json:"expression"`

	// Tag is added to the risk factors when the expression is true.
	Tag string `json:"tag"`

	// Significance orders the tag against model-derived factors.
	Significance float64 `json:"significance"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// AppliesTo reports whether the rule runs for the given kind.
func (r *FactorRule) AppliesTo(kind ResultKind) bool {
	return r.Kind == "" || r.Kind == kind
}
