package repository

import (
	"context"
	"database/sql"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const factorRuleColumns = `id, tenant_id, name, description, kind, expression, tag, significance, enabled, created_at`

// SaveFactorRule creates or replaces a factor rule with tenant isolation.
func (r *SQLRepository) SaveFactorRule(ctx context.Context, tenantID string, rule *domain.FactorRule) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	now := r.now().UTC()
	created := rule.CreatedAt
	if created.IsZero() {
		created = now
	}

	query := `
		INSERT INTO factor_rules (
			id, tenant_id, name, description, kind, expression, tag, significance, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			kind = excluded.kind,
			expression = excluded.expression,
			tag = excluded.tag,
			significance = excluded.significance,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.exec(ctx, query,
		rule.ID, tenantID, rule.Name, rule.Description, string(rule.Kind),
		rule.Expression, rule.Tag, rule.Significance, boolInt(rule.Enabled),
		created, now,
	)
	return err
}

// ListFactorRules returns a tenant's rules, enabled or not, ordered by ID.
func (r *SQLRepository) ListFactorRules(ctx context.Context, tenantID string) ([]*domain.FactorRule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	query := `SELECT ` + factorRuleColumns + ` FROM factor_rules WHERE tenant_id = ? ORDER BY id`
	return r.queryFactorRules(ctx, query, tenantID)
}

// ListAllFactorRules returns the enabled rules of every tenant, ordered by ID.
func (r *SQLRepository) ListAllFactorRules(ctx context.Context) ([]*domain.FactorRule, error) {
	query := `SELECT ` + factorRuleColumns + ` FROM factor_rules WHERE enabled = 1 ORDER BY id, tenant_id`
	return r.queryFactorRules(ctx, query)
}

// DeleteFactorRule removes a rule.
func (r *SQLRepository) DeleteFactorRule(ctx context.Context, tenantID string, ruleID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	return expectOne(r.exec(ctx, `DELETE FROM factor_rules WHERE tenant_id = ? AND id = ?`, tenantID, ruleID))
}

func (r *SQLRepository) queryFactorRules(ctx context.Context, query string, args ...any) ([]*domain.FactorRule, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.FactorRule
	for rows.Next() {
		var rule domain.FactorRule
		var description, kind sql.NullString
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &description, &kind,
			&rule.Expression, &rule.Tag, &rule.Significance, &enabled, &rule.CreatedAt,
		); err != nil {
			return nil, err
		}

		rule.Description = description.String
		rule.Kind = domain.ResultKind(kind.String)
		rule.Enabled = enabled == 1
		out = append(out, &rule)
	}
	return out, rows.Err()
}
