package store

import (
	"context"
	"time"

	"p402-router/internal/models"
)

// ReplayStore adapts Store to the replay guard backend contract
type ReplayStore struct {
	s *Store
}

// Replay returns the Postgres replay backend
func (s *Store) Replay() *ReplayStore {
	return &ReplayStore{s: s}
}

// Exists reports whether the authorization has a record
func (r *ReplayStore) Exists(ctx context.Context, authorizationID string) (bool, error) {
	var exists bool
	err := r.s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM replay_records WHERE authorization_id = $1)", authorizationID)
	return exists, err
}

// InsertIfAbsent relies on the primary key so that exactly one concurrent
// insert for an authorization affects a row.
func (r *ReplayStore) InsertIfAbsent(ctx context.Context, rec *models.ReplayRecord) (bool, error) {
	res, err := r.s.db.ExecContext(ctx, `
		INSERT INTO replay_records (authorization_id, tenant_id, decision_id, first_seen_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (authorization_id) DO NOTHING`,
		rec.AuthorizationID, rec.TenantID, rec.DecisionID, rec.FirstSeenAt, rec.ExpiresAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteOlderThan removes records first seen before cutoff
func (r *ReplayStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.s.db.ExecContext(ctx,
		"DELETE FROM replay_records WHERE first_seen_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
