// Package replay prevents a payment authorization from being settled twice.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"p402-router/internal/models"
	"p402-router/internal/util"

	"go.uber.org/zap"
)

// ErrEmptyAuthorization is returned for a blank authorization id
var ErrEmptyAuthorization = errors.New("authorization id must not be empty")

// Store is a backend with an atomic insert-if-absent primitive
type Store interface {
	Exists(ctx context.Context, authorizationID string) (bool, error)
	// InsertIfAbsent returns true only for the single caller that created the record
	InsertIfAbsent(ctx context.Context, rec *models.ReplayRecord) (bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Guard tracks consumed authorizations
type Guard struct {
	store     Store
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewGuard creates a guard whose records expire after retentionDays
func NewGuard(store Store, retentionDays int) *Guard {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Guard{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// Check reports whether the authorization was already consumed
func (g *Guard) Check(ctx context.Context, authorizationID string) (bool, error) {
	if authorizationID == "" {
		return false, ErrEmptyAuthorization
	}
	seen, err := g.store.Exists(ctx, authorizationID)
	if err != nil {
		return false, fmt.Errorf("replay check failed: %w", err)
	}
	return seen, nil
}

// RecordIfAbsent consumes the authorization. accepted is false when another
// caller consumed it first.
func (g *Guard) RecordIfAbsent(ctx context.Context, authorizationID, tenantID, decisionID string) (bool, error) {
	if authorizationID == "" {
		return false, ErrEmptyAuthorization
	}
	now := g.now().UTC()
	rec := &models.ReplayRecord{
		AuthorizationID: authorizationID,
		TenantID:        tenantID,
		DecisionID:      decisionID,
		FirstSeenAt:     now,
		ExpiresAt:       now.Add(g.retention),
	}
	accepted, err := g.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("replay record failed: %w", err)
	}
	if !accepted {
		util.ReplayRejectionsTotal.Inc()
	}
	return accepted, nil
}

// Cleanup deletes records first seen before the retention window
func (g *Guard) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	cutoff := g.now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	deleted, err := g.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("replay cleanup failed: %w", err)
	}
	g.logger.Info("Replay records swept",
		zap.Int("retention_days", retentionDays),
		zap.Int64("deleted", deleted))
	return deleted, nil
}

// MemoryStore is an in-process Store for sandbox mode and tests
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]models.ReplayRecord
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.ReplayRecord)}
}

// Exists implements Store
func (m *MemoryStore) Exists(ctx context.Context, authorizationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[authorizationID]
	return ok, nil
}

// InsertIfAbsent implements Store
func (m *MemoryStore) InsertIfAbsent(ctx context.Context, rec *models.ReplayRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.AuthorizationID]; ok {
		return false, nil
	}
	m.records[rec.AuthorizationID] = *rec
	return true, nil
}

// DeleteOlderThan implements Store
func (m *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, rec := range m.records {
		if rec.FirstSeenAt.Before(cutoff) {
			delete(m.records, id)
			deleted++
		}
	}
	return deleted, nil
}
