package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveResult stores an immutable scored result and its raw input.
// Saving an existing id fails.
func (r *SQLRepository) SaveResult(ctx context.Context, tenantID string, res *domain.EnsembleResult) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if res == nil || res.ID == "" {
		return fmt.Errorf("%w: result id is required", ErrInvalidInput)
	}

	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	var input sql.NullString
	if len(res.Input) > 0 {
		input = sql.NullString{String: string(res.Input), Valid: true}
	}

	query := `
		INSERT INTO results (
			id, tenant_id, subject_id, kind, entity_id, verdict, score, degraded, scored_at, body, input
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.exec(ctx, query,
		res.ID, tenantID, res.SubjectID, string(res.Kind), res.EntityID,
		string(res.Verdict), res.EnsembleScore, boolInt(res.Degraded), res.ScoredAt.UTC(),
		string(body), input,
	)
	return err
}

// GetResult retrieves a result by ID with tenant isolation.
func (r *SQLRepository) GetResult(ctx context.Context, tenantID string, resultID string) (*domain.EnsembleResult, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT body, input FROM results WHERE tenant_id = ? AND id = ?`

	var body string
	var input sql.NullString
	err := r.queryRow(ctx, query, tenantID, resultID).Scan(&body, &input)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeResult(body, input)
}

// ListResultsBySubject returns every result for a subject, newest first.
func (r *SQLRepository) ListResultsBySubject(ctx context.Context, tenantID string, subjectID string) ([]*domain.EnsembleResult, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT body, input FROM results
		WHERE tenant_id = ? AND subject_id = ?
		ORDER BY scored_at DESC
	`

	rows, err := r.query(ctx, query, tenantID, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.EnsembleResult
	for rows.Next() {
		var body string
		var input sql.NullString
		if err := rows.Scan(&body, &input); err != nil {
			return nil, err
		}
		res, err := decodeResult(body, input)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func decodeResult(body string, input sql.NullString) (*domain.EnsembleResult, error) {
	var res domain.EnsembleResult
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	if input.Valid {
		res.Input = json.RawMessage(input.String)
	}
	return &res, nil
}
