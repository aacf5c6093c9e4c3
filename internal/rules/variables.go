package rules

import "github.com/google/cel-go/cel"

type variable struct {
	name string
	typ  *cel.Type
	zero any
}

// variables are the names available to factor rule expressions.
// Transaction variables are zero for biometric inputs and vice versa.
var variables = []variable{
	{"kind", cel.StringType, ""},

	{"amount", cel.DoubleType, 0.0},
	{"currency", cel.StringType, ""},
	{"deviation_ratio", cel.DoubleType, 0.0},
	{"history_count", cel.IntType, int64(0)},
	{"history_mean", cel.DoubleType, 0.0},
	{"hour", cel.IntType, int64(0)},
	{"odd_hour", cel.BoolType, false},
	{"card_present", cel.BoolType, false},
	{"high_risk_location", cel.BoolType, false},
	{"high_risk_category", cel.BoolType, false},
	{"location", cel.StringType, ""},
	{"merchant", cel.StringType, ""},
	{"category", cel.StringType, ""},

	{"typing_speed", cel.DoubleType, 0.0},
	{"key_interval_cv", cel.DoubleType, 0.0},
	{"rhythm_consistency", cel.DoubleType, 0.0},
	{"mouse_velocity", cel.DoubleType, 0.0},
	{"click_interval_cv", cel.DoubleType, 0.0},
	{"trajectory_smoothness", cel.DoubleType, 0.0},
	{"user_agent", cel.StringType, ""},
	{"platform", cel.StringType, ""},
	{"hardware_concurrency", cel.IntType, int64(0)},
	{"travel_distance_km", cel.DoubleType, 0.0},
	{"travel_speed_kmh", cel.DoubleType, 0.0},
	{"impossible_travel", cel.BoolType, false},
	{"location_accuracy", cel.DoubleType, 0.0},

	{"scores", cel.MapType(cel.StringType, cel.DoubleType), map[string]float64{}},
	{"ensemble_score", cel.DoubleType, 0.0},
	{"confidence", cel.DoubleType, 0.0},
}

// NewActivation returns an activation with every declared variable set to its zero value.
func NewActivation() map[string]any {
	act := make(map[string]any, len(variables))
	for _, v := range variables {
		act[v.name] = v.zero
	}
	return act
}
