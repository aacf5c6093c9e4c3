package repository

import (
	"context"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveMetricSample appends a metric sample.
func (r *SQLRepository) SaveMetricSample(ctx context.Context, s *domain.MetricSample) error {
	query := `INSERT INTO metric_samples (metric_type, value, status, recorded_at) VALUES (?, ?, ?, ?)`
	_, err := r.exec(ctx, query, string(s.Type), s.Value, string(s.Status), s.Timestamp.UTC())
	return err
}

// ListMetricSamples returns samples of one type recorded at or after since,
// oldest first, keeping the newest limit rows.
func (r *SQLRepository) ListMetricSamples(ctx context.Context, metricType domain.MetricType, since time.Time, limit int) ([]*domain.MetricSample, error) {
	query := `
		SELECT metric_type, value, status, recorded_at FROM metric_samples
		WHERE metric_type = ? AND recorded_at >= ?
		ORDER BY recorded_at DESC
		LIMIT ?
	`

	rows, err := r.query(ctx, query, string(metricType), since.UTC(), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*domain.MetricSample
	for rows.Next() {
		var s domain.MetricSample
		var t, status string
		if err := rows.Scan(&t, &s.Value, &status, &s.Timestamp); err != nil {
			return nil, err
		}
		s.Type = domain.MetricType(t)
		s.Status = domain.MetricStatus(status)
		samples = append(samples, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}
