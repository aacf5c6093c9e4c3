package factors

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// TransactionActivation exposes transaction features and scores to factor rules.
func TransactionActivation(rec *domain.TransactionRecord, f *features.TransactionFeatures, scores []domain.ModelScore, ensembleScore, confidence float64) map[string]any {
	act := base(domain.KindTransaction, scores, ensembleScore, confidence)
	act["amount"] = f.Amount
	act["currency"] = rec.Currency
	act["deviation_ratio"] = f.DeviationRatio
	act["history_count"] = int64(f.HistoryCount)
	act["history_mean"] = f.HistoryMean
	act["hour"] = int64(f.Hour)
	act["odd_hour"] = f.OddHour
	act["card_present"] = !f.CardNotPresent
	act["high_risk_location"] = f.HighRiskLocation
	act["high_risk_category"] = f.HighRiskCategory
	act["location"] = f.Location
	act["merchant"] = f.Merchant
	act["category"] = f.Category
	return act
}

// BiometricActivation exposes biometric features and scores to factor rules.
func BiometricActivation(f *features.BiometricFeatures, scores []domain.ModelScore, ensembleScore, confidence float64) map[string]any {
	act := base(domain.KindBiometric, scores, ensembleScore, confidence)
	act["typing_speed"] = f.TypingSpeed
	act["key_interval_cv"] = f.KeyIntervalCV
	act["rhythm_consistency"] = f.RhythmConsistency
	act["mouse_velocity"] = f.MouseVelocityMean
	act["click_interval_cv"] = f.ClickIntervalCV
	act["trajectory_smoothness"] = f.TrajectorySmoothness
	act["user_agent"] = f.UserAgent
	act["platform"] = f.Platform
	act["hardware_concurrency"] = int64(f.HardwareConcurrency)
	act["travel_distance_km"] = f.TravelDistanceKm
	act["travel_speed_kmh"] = f.TravelSpeedKmh
	act["impossible_travel"] = f.ImpossibleTravel
	act["location_accuracy"] = f.LocationAccuracy
	return act
}

func base(kind domain.ResultKind, scores []domain.ModelScore, ensembleScore, confidence float64) map[string]any {
	act := rules.NewActivation()
	byModel := make(map[string]float64, len(scores))
	for _, s := range scores {
		byModel[s.Model] = s.Score
	}
	act["kind"] = string(kind)
	act["scores"] = byModel
	act["ensemble_score"] = ensembleScore
	act["confidence"] = confidence
	return act
}
