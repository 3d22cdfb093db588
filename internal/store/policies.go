package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"p402-router/internal/models"

	"github.com/google/uuid"
)

// QueryPolicy returns the tenant's active policy, or the named policy when
// policyID is set. Both lookups are scoped to tenantID. nil means no policy.
func (s *Store) QueryPolicy(ctx context.Context, tenantID, policyID string) (*models.Policy, error) {
	var pol models.Policy
	var err error
	if policyID != "" {
		err = s.db.GetContext(ctx, &pol,
			"SELECT * FROM policies WHERE tenant_id = $1 AND policy_id = $2", tenantID, policyID)
	} else {
		err = s.db.GetContext(ctx, &pol,
			"SELECT * FROM policies WHERE tenant_id = $1 AND active ORDER BY version DESC LIMIT 1", tenantID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		if policyID != "" {
			return nil, ErrNotFound
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pol, nil
}

// UpsertPolicy inserts or updates a policy keyed by policy_id and makes it
// the tenant's active version. The conflict clause only fires for rows the
// tenant already owns, so a policy_id held by another tenant yields
// ErrNotFound and is never overwritten.
func (s *Store) UpsertPolicy(ctx context.Context, pol *models.Policy) error {
	if pol.PolicyID == "" {
		pol.PolicyID = uuid.New().String()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"UPDATE policies SET active = FALSE, updated_at = NOW() WHERE tenant_id = $1 AND policy_id <> $2 AND active",
		pol.TenantID, pol.PolicyID)
	if err != nil {
		return fmt.Errorf("failed to deactivate previous policy: %w", err)
	}

	query := `
		INSERT INTO policies (policy_id, tenant_id, rules, version, active)
		VALUES ($1, $2, $3, 1, TRUE)
		ON CONFLICT (policy_id) DO UPDATE
			SET rules = EXCLUDED.rules, version = policies.version + 1, active = TRUE, updated_at = NOW()
			WHERE policies.tenant_id = EXCLUDED.tenant_id
		RETURNING policy_id, tenant_id, rules, version, active, created_at, updated_at`

	err = tx.GetContext(ctx, pol, query, pol.PolicyID, pol.TenantID, pol.Rules)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to upsert policy: %w", err)
	}

	return tx.Commit()
}
