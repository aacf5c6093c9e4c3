package metrics

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ComputeTrend compares the mean of the newest window values with the mean of the
// window before it. values must be oldest first. Changes within noisePercent are stable.
func ComputeTrend(values []float64, window int, noisePercent float64) (dir domain.TrendDirection, recent, prior, changePercent float64) {
	if window < 1 || len(values) < 2*window {
		return domain.TrendInsufficientData, 0, 0, 0
	}

	tail := values[len(values)-2*window:]
	prior = meanOf(tail[:window])
	recent = meanOf(tail[window:])
	diff := recent - prior

	if prior == 0 {
		// No baseline to measure a percentage against; follow the sign.
		switch {
		case diff > 0:
			return domain.TrendUp, recent, prior, 0
		case diff < 0:
			return domain.TrendDown, recent, prior, 0
		default:
			return domain.TrendStable, recent, prior, 0
		}
	}

	changePercent = diff / math.Abs(prior) * 100
	switch {
	case changePercent > noisePercent:
		dir = domain.TrendUp
	case changePercent < -noisePercent:
		dir = domain.TrendDown
	default:
		dir = domain.TrendStable
	}
	return dir, recent, prior, changePercent
}

// Classify tags a value against a threshold.
func Classify(value float64, t domain.MetricThreshold) domain.MetricStatus {
	if t.LowerIsWorse {
		switch {
		case value <= t.Critical:
			return domain.StatusCritical
		case value <= t.Warning:
			return domain.StatusWarning
		}
		return domain.StatusNormal
	}
	switch {
	case value >= t.Critical:
		return domain.StatusCritical
	case value >= t.Warning:
		return domain.StatusWarning
	}
	return domain.StatusNormal
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
