package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"p402-router/internal/models"

	"github.com/google/uuid"
)

const facilitatorColumns = `facilitator_id, tenant_id, name, type, networks, schemes, assets, endpoint,
	status, source_id, health_status, p95_latency_ms, success_rate, created_at, updated_at`

// ListFacilitators retrieves every active facilitator
func (s *Store) ListFacilitators(ctx context.Context) ([]models.Facilitator, error) {
	var list []models.Facilitator
	err := s.db.SelectContext(ctx, &list,
		"SELECT "+facilitatorColumns+" FROM facilitators WHERE status = $1 ORDER BY facilitator_id",
		models.FacilitatorStatusActive)
	return list, err
}

// GetFacilitator retrieves a facilitator by id; nil when missing
func (s *Store) GetFacilitator(ctx context.Context, facilitatorID string) (*models.Facilitator, error) {
	var f models.Facilitator
	err := s.db.GetContext(ctx, &f,
		"SELECT "+facilitatorColumns+" FROM facilitators WHERE facilitator_id = $1", facilitatorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// TenantOwnsFacilitatorNamed checks for a private facilitator of that name
func (s *Store) TenantOwnsFacilitatorNamed(ctx context.Context, tenantID, name string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM facilitators WHERE tenant_id = $1 AND name = $2)", tenantID, name)
	return exists, err
}

// CreateFacilitator inserts a facilitator, assigning a new id
func (s *Store) CreateFacilitator(ctx context.Context, f *models.Facilitator) error {
	if f.FacilitatorID == "" {
		f.FacilitatorID = uuid.New().String()
	}
	if f.Health.Status == "" {
		f.Health.Status = models.HealthUnknown
	}

	query := `
		INSERT INTO facilitators (facilitator_id, tenant_id, name, type, networks, schemes, assets,
			endpoint, status, source_id, health_status, p95_latency_ms, success_rate)
		VALUES (:facilitator_id, :tenant_id, :name, :type, :networks, :schemes, :assets,
			:endpoint, :status, :source_id, :health_status, :p95_latency_ms, :success_rate)
		RETURNING created_at, updated_at`

	rows, err := s.db.NamedQueryContext(ctx, query, f)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create facilitator: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&f.CreatedAt, &f.UpdatedAt); err != nil {
			return err
		}
	}
	return rows.Err()
}

// UpsertGlobalFacilitator creates or replaces a Global facilitator by id
func (s *Store) UpsertGlobalFacilitator(ctx context.Context, f *models.Facilitator) error {
	f.Type = models.FacilitatorTypeGlobal
	f.TenantID = nil
	if f.Status == "" {
		f.Status = models.FacilitatorStatusActive
	}
	if f.Health.Status == "" {
		f.Health.Status = models.HealthUnknown
	}

	query := `
		INSERT INTO facilitators (facilitator_id, tenant_id, name, type, networks, schemes, assets,
			endpoint, status, health_status, p95_latency_ms, success_rate)
		VALUES (:facilitator_id, NULL, :name, :type, :networks, :schemes, :assets,
			:endpoint, :status, :health_status, :p95_latency_ms, :success_rate)
		ON CONFLICT (facilitator_id) DO UPDATE SET
			name = EXCLUDED.name, networks = EXCLUDED.networks, schemes = EXCLUDED.schemes,
			assets = EXCLUDED.assets, endpoint = EXCLUDED.endpoint, status = EXCLUDED.status,
			updated_at = NOW()
		WHERE facilitators.type = 'Global'`

	res, err := s.db.NamedExecContext(ctx, query, f)
	if err != nil {
		return fmt.Errorf("failed to upsert facilitator: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// UpdateFacilitatorHealth records the latest poll result
func (s *Store) UpdateFacilitatorHealth(ctx context.Context, facilitatorID string, health models.Health) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE facilitators
		SET health_status = $1, p95_latency_ms = $2, success_rate = $3, updated_at = NOW()
		WHERE facilitator_id = $4`,
		health.Status, health.P95LatencyMs, health.SuccessRate, facilitatorID)
	return err
}

// DeactivateFacilitator soft-deletes a tenant's private facilitator
func (s *Store) DeactivateFacilitator(ctx context.Context, tenantID, facilitatorID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE facilitators SET status = $1, updated_at = NOW()
		WHERE facilitator_id = $2 AND tenant_id = $3`,
		models.FacilitatorStatusInactive, facilitatorID, tenantID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
