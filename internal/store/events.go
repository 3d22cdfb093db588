package store

import (
	"context"
	"fmt"
	"time"

	"p402-router/internal/models"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// InsertEvent appends an attempt event. Events are never updated.
func (s *Store) InsertEvent(ctx context.Context, event *models.Event) error {
	query := `
		INSERT INTO events (event_id, tenant_id, route_id, decision_id, trace_id, outcome, deny_code,
			facilitator_id, network, scheme, asset, amount, steps, raw_payload)
		VALUES (:event_id, :tenant_id, :route_id, :decision_id, :trace_id, :outcome, :deny_code,
			:facilitator_id, :network, :scheme, :asset, :amount, :steps, :raw_payload)`

	if event.Amount == "" {
		event.Amount = "0"
	}
	if len(event.Steps) == 0 {
		event.Steps = types.JSONText("[]")
	}
	if len(event.RawPayload) == 0 {
		event.RawPayload = types.JSONText("{}")
	}
	if _, err := s.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// SumSpend sums paid and settled amounts in [from, to). An empty routeID
// sums across all of the tenant's routes.
func (s *Store) SumSpend(ctx context.Context, tenantID, routeID string, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount), 0) FROM events
		WHERE tenant_id = $1
		  AND outcome IN ($2, $3)
		  AND created_at >= $4 AND created_at < $5
		  AND ($6 = '' OR route_id = $6)`,
		tenantID, models.OutcomeSettled, models.OutcomePaid, from, to, routeID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum spend: %w", err)
	}
	return total, nil
}

// ListEvents returns a tenant's most recent events, newest first
func (s *Store) ListEvents(ctx context.Context, tenantID string, limit int) ([]models.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []models.Event
	err := s.db.SelectContext(ctx, &events, `
		SELECT event_id, tenant_id, route_id, decision_id, trace_id, outcome, deny_code, facilitator_id,
			network, scheme, asset, amount::text AS amount, steps, raw_payload, created_at
		FROM events WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	return events, err
}

// IsEventProcessed checks if a stream message has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks a stream message as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
