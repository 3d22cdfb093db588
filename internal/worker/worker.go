package worker

import (
	"context"
	"time"

	"p402-router/internal/broker"
	"p402-router/internal/models"
	"p402-router/internal/util"

	"go.uber.org/zap"
)

// ProcessedLog records which stream events have been applied
type ProcessedLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// OutcomeRecorder aggregates attempt outcomes
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, tenantID string, at time.Time, outcome, spend string) error
}

// AnalyticsWorker folds AttemptRecorded events into per-tenant daily aggregates
type AnalyticsWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	processed    ProcessedLog
	recorder     OutcomeRecorder
	logger       *zap.Logger
}

// NewAnalyticsWorker creates a new analytics worker
func NewAnalyticsWorker(consumer *broker.Consumer, processed ProcessedLog, recorder OutcomeRecorder) *AnalyticsWorker {
	w := &AnalyticsWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		processed:    processed,
		recorder:     recorder,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnAttemptRecorded(w.HandleAttemptRecorded)
	return w
}

// Start starts the worker
func (w *AnalyticsWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting analytics worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AnalyticsWorker) Stop() error {
	w.logger.Info("Stopping analytics worker")
	return w.consumer.Close()
}

// HandleAttemptRecorded applies one event. Redelivered events are skipped.
func (w *AnalyticsWorker) HandleAttemptRecorded(ctx context.Context, event *models.AttemptRecordedEvent) error {
	ctx, span := util.StartSpan(ctx, "AnalyticsWorker.HandleAttemptRecorded")
	defer span.End()

	done, err := w.processed.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if done {
		w.logger.Debug("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	spend := "0"
	if event.Outcome == models.OutcomeSettled || event.Outcome == models.OutcomePaid {
		spend = event.Amount
	}

	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	if err := w.recorder.RecordOutcome(ctx, event.TenantID, at, event.Outcome, spend); err != nil {
		return err
	}

	return w.processed.MarkEventProcessed(ctx, event.EventID, event.EventType)
}
