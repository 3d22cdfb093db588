package worker

import (
	"context"
	"time"

	"p402-router/internal/util"

	"go.uber.org/zap"
)

const replaySweepLock = "replay-sweep"

// Cleaner is satisfied by replay.Guard
type Cleaner interface {
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

// ReplaySweeper deletes expired replay records on an interval
type ReplaySweeper struct {
	cleaner       Cleaner
	locker        Locker
	retentionDays int
	interval      time.Duration
	logger        *zap.Logger
}

// NewReplaySweeper creates a sweeper. locker may be nil.
func NewReplaySweeper(cleaner Cleaner, locker Locker, retentionDays int, interval time.Duration) *ReplaySweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ReplaySweeper{
		cleaner:       cleaner,
		locker:        locker,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        util.GetLogger(),
	}
}

// Run blocks until ctx is cancelled
func (s *ReplaySweeper) Run(ctx context.Context) {
	s.logger.Info("Starting replay sweeper",
		zap.Int("retention_days", s.retentionDays),
		zap.Duration("interval", s.interval))
	runEvery(ctx, s.interval, func(ctx context.Context) {
		withLock(ctx, s.locker, replaySweepLock, s.interval, s.SweepOnce)
	})
}

// SweepOnce runs a single cleanup pass
func (s *ReplaySweeper) SweepOnce(ctx context.Context) {
	if _, err := s.cleaner.Cleanup(ctx, s.retentionDays); err != nil {
		s.logger.Error("Replay sweep failed", zap.Error(err))
	}
}
