package worker

import (
	"context"
	"time"

	"p402-router/internal/util"

	"go.uber.org/zap"
)

// Refresher is satisfied by registry.Registry
type Refresher interface {
	Refresh(ctx context.Context) error
	Size() int
}

// RegistryRefresher periodically reloads the facilitator snapshot. Every
// replica refreshes its own snapshot, so no lock is taken.
type RegistryRefresher struct {
	registry Refresher
	interval time.Duration
	logger   *zap.Logger
}

// NewRegistryRefresher creates a refresher
func NewRegistryRefresher(registry Refresher, interval time.Duration) *RegistryRefresher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RegistryRefresher{registry: registry, interval: interval, logger: util.GetLogger()}
}

// Run blocks until ctx is cancelled
func (r *RegistryRefresher) Run(ctx context.Context) {
	r.logger.Info("Starting registry refresher", zap.Duration("interval", r.interval))
	runEvery(ctx, r.interval, r.refreshOnce)
}

func (r *RegistryRefresher) refreshOnce(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	if err := r.registry.Refresh(rctx); err != nil {
		// Keep serving the previous snapshot
		r.logger.Warn("Registry refresh failed", zap.Error(err))
		return
	}
	r.logger.Debug("Registry refreshed", zap.Int("facilitators", r.registry.Size()))
}
