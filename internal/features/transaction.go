// Package features turns raw submissions into the normalized inputs the scoring models read.
package features

import (
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// HourBucket is a coarse time-of-day label.
type HourBucket string

const (
	BucketNight     HourBucket = "night"
	BucketMorning   HourBucket = "morning"
	BucketAfternoon HourBucket = "afternoon"
	BucketEvening   HourBucket = "evening"
)

// TransactionFeatures are the normalized inputs of the transaction models.
type TransactionFeatures struct {
	Amount           float64
	HistoryCount     int
	HistoryMean      float64
	HistoryTruncated bool
	DeviationRatio   float64

	Hour       int
	HourBucket HourBucket
	OddHour    bool

	CardNotPresent   bool
	HighRiskLocation bool
	HighRiskCategory bool

	Location string
	Merchant string
	Category string
}

// Normalizer extracts features. It is safe for concurrent use.
type Normalizer struct {
	historyCap int
	tz         *time.Location
	locations  map[string]struct{}
	categories map[string]struct{}
	bio        domain.BiometricLimits

	// Clock supplies the hour when a record carries no timestamp.
	Clock func() time.Time
}

// NewNormalizer builds a Normalizer from the scoring configuration.
func NewNormalizer(cfg domain.ScoringConfig) (*Normalizer, error) {
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	historyCap := cfg.HistoryCap
	if historyCap < 1 {
		historyCap = 1
	}
	return &Normalizer{
		historyCap: historyCap,
		tz:         tz,
		locations:  lowerSet(cfg.HighRiskLocations),
		categories: lowerSet(cfg.HighRiskCategories),
		bio:        cfg.Biometric,
		Clock:      time.Now,
	}, nil
}

// Transaction normalizes a validated transaction record. It never fails;
// missing optional fields produce neutral features.
func (n *Normalizer) Transaction(rec *domain.TransactionRecord) TransactionFeatures {
	f := TransactionFeatures{
		Amount:         rec.Amount.InexactFloat64(),
		CardNotPresent: !rec.CardPresent,
		Location:       rec.Location,
		Merchant:       rec.Merchant,
		Category:       rec.Category,
	}

	history := rec.History
	if len(history) > n.historyCap {
		history = history[len(history)-n.historyCap:]
		f.HistoryTruncated = true
	}
	f.HistoryCount = len(history)
	if len(history) > 0 {
		amounts := make([]float64, len(history))
		for i, h := range history {
			amounts[i] = h.InexactFloat64()
		}
		f.HistoryMean = mean(amounts)
		if f.HistoryMean > 0 {
			f.DeviationRatio = f.Amount / f.HistoryMean
		}
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = n.Clock()
	}
	f.Hour = ts.In(n.tz).Hour()
	f.HourBucket = bucketFor(f.Hour)
	f.OddHour = f.Hour < 6 || f.Hour > 22

	f.HighRiskLocation = n.isHighRiskLocation(rec.Location)
	if rec.Category != "" {
		_, f.HighRiskCategory = n.categories[strings.ToLower(strings.TrimSpace(rec.Category))]
	}
	return f
}

// isHighRiskLocation matches the whole location or any comma-separated part of it,
// so "Lagos, Nigeria" matches "Nigeria".
func (n *Normalizer) isHighRiskLocation(location string) bool {
	loc := strings.ToLower(strings.TrimSpace(location))
	if loc == "" {
		return false
	}
	if _, ok := n.locations[loc]; ok {
		return true
	}
	for _, part := range strings.Split(loc, ",") {
		if _, ok := n.locations[strings.TrimSpace(part)]; ok {
			return true
		}
	}
	return false
}

func bucketFor(hour int) HourBucket {
	switch {
	case hour < 6:
		return BucketNight
	case hour < 12:
		return BucketMorning
	case hour < 18:
		return BucketAfternoon
	default:
		return BucketEvening
	}
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
