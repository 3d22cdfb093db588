package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"p402-router/internal/models"
	"p402-router/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher is the interface the producer satisfies
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing router events
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// NewAttemptRecorded builds the stream message for a persisted attempt
func NewAttemptRecorded(ev *models.Event) *models.AttemptRecordedEvent {
	return &models.AttemptRecordedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   ev.EventID,
			EventType: models.EventTypeAttemptRecorded,
			Timestamp: ev.CreatedAt,
		},
		TenantID:      ev.TenantID,
		RouteID:       ev.RouteID,
		DecisionID:    ev.DecisionID,
		Outcome:       ev.Outcome,
		DenyCode:      ev.DenyCode,
		FacilitatorID: ev.FacilitatorID,
		Network:       ev.Network,
		Asset:         ev.Asset,
		Amount:        ev.Amount,
	}
}

// PublishAttemptRecorded publishes an AttemptRecorded event keyed by tenant
func (ep *EventPublisher) PublishAttemptRecorded(ctx context.Context, event *models.AttemptRecordedEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	key := fmt.Sprintf("tenant-%s", event.TenantID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onAttemptRecorded func(context.Context, *models.AttemptRecordedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnAttemptRecorded registers a handler for AttemptRecorded events
func (eh *EventHandler) OnAttemptRecorded(handler func(context.Context, *models.AttemptRecordedEvent) error) {
	eh.onAttemptRecorded = handler
}

// HandleMessage routes messages to appropriate handlers. The event-type
// header is trusted when present, otherwise the body is decoded for it.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	kind := headerValue(msg, HeaderEventType)
	if kind == "" {
		var baseEvent models.BaseEvent
		if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
			return fmt.Errorf("failed to unmarshal base event: %w", err)
		}
		kind = baseEvent.EventType
	}

	util.GetLogger().Debug("handling event",
		zap.String("type", kind),
		zap.Int64("offset", msg.Offset),
	)

	switch kind {
	case models.EventTypeAttemptRecorded:
		if eh.onAttemptRecorded != nil {
			var event models.AttemptRecordedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal AttemptRecorded event: %w", err)
			}
			return eh.onAttemptRecorded(ctx, &event)
		}

	default:
		util.GetLogger().Warn("unhandled event type", zap.String("type", kind))
	}

	return nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
