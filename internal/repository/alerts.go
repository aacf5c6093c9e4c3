package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const alertColumns = `id, tenant_id, result_id, subject_id, entity_id, kind, severity, status,
	message, score, verdict, risk_factors, metadata, created_at, updated_at`

// SaveAlert stores an alert. Saving an existing alert id is a no-op so that
// retried deliveries stay idempotent.
func (r *SQLRepository) SaveAlert(ctx context.Context, tenantID string, a *domain.Alert) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	factors, _ := json.Marshal(a.RiskFactors)
	metadata, _ := json.Marshal(a.Metadata)

	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := r.exec(ctx, query,
		a.ID, tenantID, a.ResultID, a.SubjectID, a.EntityID, string(a.Kind),
		string(a.Severity), string(a.Status), a.Message, a.Score, string(a.Verdict),
		string(factors), string(metadata), a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	return err
}

// GetAlert retrieves an alert by ID with tenant isolation.
func (r *SQLRepository) GetAlert(ctx context.Context, tenantID string, alertID string) (*domain.Alert, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE tenant_id = ? AND id = ?`

	a, err := scanAlert(r.queryRow(ctx, query, tenantID, alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListAlerts returns a tenant's alerts, newest first. An empty status lists all.
func (r *SQLRepository) ListAlerts(ctx context.Context, tenantID string, status domain.AlertStatus, limit int) ([]*domain.Alert, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// UpdateAlertStatus moves an alert through its lifecycle.
func (r *SQLRepository) UpdateAlertStatus(ctx context.Context, tenantID string, alertID string, status domain.AlertStatus) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown alert status %q", ErrInvalidInput, status)
	}

	query := `UPDATE alerts SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`

	return expectOne(r.exec(ctx, query, string(status), r.now().UTC(), tenantID, alertID))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var a domain.Alert
	var resultID, verdict sql.NullString
	var kind, severity, status, factors, metadata string

	if err := row.Scan(
		&a.ID, &a.TenantID, &resultID, &a.SubjectID, &a.EntityID, &kind, &severity, &status,
		&a.Message, &a.Score, &verdict, &factors, &metadata, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	a.ResultID = resultID.String
	a.Verdict = domain.Verdict(verdict.String)
	a.Kind = domain.ResultKind(kind)
	a.Severity = domain.Severity(severity)
	a.Status = domain.AlertStatus(status)
	if err := json.Unmarshal([]byte(factors), &a.RiskFactors); err != nil {
		return nil, fmt.Errorf("failed to decode alert risk factors: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode alert metadata: %w", err)
	}
	return &a, nil
}
