// Package registry holds the facilitator snapshot used for routing.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"p402-router/internal/models"
	"p402-router/internal/util"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a facilitator is missing or is not Global
	ErrNotFound = errors.New("facilitator not found")
	// ErrAlreadyExists is returned when the tenant already owns a facilitator of that name
	ErrAlreadyExists = errors.New("facilitator already exists")
)

// DefaultLatencyNormalizer converts p95 latency in ms into score units
const DefaultLatencyNormalizer = 10000.0

// Repository is the durable source of facilitator rows
type Repository interface {
	ListFacilitators(ctx context.Context) ([]models.Facilitator, error)
	GetFacilitator(ctx context.Context, facilitatorID string) (*models.Facilitator, error)
	TenantOwnsFacilitatorNamed(ctx context.Context, tenantID, name string) (bool, error)
	CreateFacilitator(ctx context.Context, f *models.Facilitator) error
}

type snapshot struct {
	facilitators []models.Facilitator
	loadedAt     time.Time
}

// Registry serves candidate lists from an immutable snapshot that is
// swapped atomically on Refresh. Readers never lock.
type Registry struct {
	repo       Repository
	normalizer float64
	current    atomic.Pointer[snapshot]
	logger     *zap.Logger
}

// New creates a registry with an empty snapshot
func New(repo Repository, latencyNormalizer float64) *Registry {
	if latencyNormalizer <= 0 {
		latencyNormalizer = DefaultLatencyNormalizer
	}
	r := &Registry{
		repo:       repo,
		normalizer: latencyNormalizer,
		logger:     util.GetLogger(),
	}
	r.current.Store(&snapshot{})
	return r
}

// Refresh reloads the snapshot from the repository
func (r *Registry) Refresh(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "Registry.Refresh")
	defer span.End()

	list, err := r.repo.ListFacilitators(ctx)
	if err != nil {
		return fmt.Errorf("failed to load facilitators: %w", err)
	}
	r.Load(list)
	return nil
}

// Load replaces the snapshot with list
func (r *Registry) Load(list []models.Facilitator) {
	copied := make([]models.Facilitator, len(list))
	copy(copied, list)
	r.current.Store(&snapshot{facilitators: copied, loadedAt: time.Now()})
	util.RegistryFacilitators.Set(float64(len(copied)))
}

// Size returns the number of facilitators in the snapshot
func (r *Registry) Size() int {
	return len(r.current.Load().facilitators)
}

// Score is successRate minus normalized p95 latency
func (r *Registry) Score(f *models.Facilitator) float64 {
	return f.SuccessRate - float64(f.P95LatencyMs)/r.normalizer
}

// ListCandidates returns active facilitators visible to tenantID that
// support the triple, best first. Facilitators reported down are skipped.
func (r *Registry) ListCandidates(network, scheme, asset, tenantID string) []models.Facilitator {
	snap := r.current.Load()

	out := make([]models.Facilitator, 0, len(snap.facilitators))
	for i := range snap.facilitators {
		f := &snap.facilitators[i]
		if f.Status != models.FacilitatorStatusActive || f.Health.Status == models.HealthDown {
			continue
		}
		if !f.VisibleTo(tenantID) || !f.Supports(network, scheme, asset) {
			continue
		}
		out = append(out, *f)
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := r.Score(&out[i]), r.Score(&out[j])
		if si != sj {
			return si > sj
		}
		pi, pj := out[i].Type == models.FacilitatorTypePrivate, out[j].Type == models.FacilitatorTypePrivate
		if pi != pj {
			return pi
		}
		return out[i].FacilitatorID < out[j].FacilitatorID
	})
	return out
}

// Get returns a facilitator from the snapshot
func (r *Registry) Get(facilitatorID string) (models.Facilitator, bool) {
	snap := r.current.Load()
	for _, f := range snap.facilitators {
		if f.FacilitatorID == facilitatorID {
			return f, true
		}
	}
	return models.Facilitator{}, false
}

// ImportGlobal copies a Global facilitator into a new Private row owned by
// tenantID. The source row is never modified.
func (r *Registry) ImportGlobal(ctx context.Context, facilitatorID, tenantID string) (*models.Facilitator, error) {
	ctx, span := util.StartSpan(ctx, "Registry.ImportGlobal")
	defer span.End()

	source, err := r.repo.GetFacilitator(ctx, facilitatorID)
	if err != nil {
		return nil, err
	}
	if source == nil || source.Type != models.FacilitatorTypeGlobal {
		return nil, ErrNotFound
	}

	owned, err := r.repo.TenantOwnsFacilitatorNamed(ctx, tenantID, source.Name)
	if err != nil {
		return nil, err
	}
	if owned {
		return nil, ErrAlreadyExists
	}

	tenant := tenantID
	sourceID := source.FacilitatorID
	imported := &models.Facilitator{
		TenantID: &tenant,
		Name:     source.Name,
		Type:     models.FacilitatorTypePrivate,
		Networks: append([]string(nil), source.Networks...),
		Schemes:  append([]string(nil), source.Schemes...),
		Assets:   append([]string(nil), source.Assets...),
		Endpoint: source.Endpoint,
		Status:   models.FacilitatorStatusActive,
		SourceID: &sourceID,
		Health:   source.Health,
	}
	if err := r.repo.CreateFacilitator(ctx, imported); err != nil {
		return nil, err
	}

	r.logger.Info("Imported global facilitator",
		zap.String("source_id", sourceID),
		zap.String("facilitator_id", imported.FacilitatorID),
		zap.String("tenant_id", tenantID))

	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("Registry refresh after import failed", zap.Error(err))
	}
	return imported, nil
}
