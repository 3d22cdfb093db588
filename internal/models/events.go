package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Event outcomes
const (
	OutcomePlan    = "plan"
	OutcomePaid    = "paid"
	OutcomeSettled = "settled"
	OutcomeDeny    = "deny"
	OutcomeError   = "error"
)

// Event is the durable record of one payment attempt. Never mutated after insert.
type Event struct {
	EventID       string         `db:"event_id" json:"eventId"`
	TenantID      string         `db:"tenant_id" json:"tenantId"`
	RouteID       string         `db:"route_id" json:"routeId"`
	DecisionID    string         `db:"decision_id" json:"decisionId"`
	TraceID       string         `db:"trace_id" json:"traceId"`
	Outcome       string         `db:"outcome" json:"outcome"`
	DenyCode      string         `db:"deny_code" json:"denyCode,omitempty"`
	FacilitatorID string         `db:"facilitator_id" json:"facilitatorId,omitempty"`
	Network       string         `db:"network" json:"network"`
	Scheme        string         `db:"scheme" json:"scheme"`
	Asset         string         `db:"asset" json:"asset"`
	Amount        string         `db:"amount" json:"amount"`
	Steps         types.JSONText `db:"steps" json:"steps"`
	RawPayload    types.JSONText `db:"raw_payload" json:"rawPayload"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
}

// Event types published on the router event stream
const (
	EventTypeAttemptRecorded = "ATTEMPT_RECORDED"
)

// BaseEvent contains common fields for all stream messages
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Kind returns the event type carried in the message header
func (e BaseEvent) Kind() string {
	return e.EventType
}

// AttemptRecordedEvent is published once an attempt's Event is persisted
type AttemptRecordedEvent struct {
	BaseEvent
	TenantID      string `json:"tenant_id"`
	RouteID       string `json:"route_id"`
	DecisionID    string `json:"decision_id"`
	Outcome       string `json:"outcome"`
	DenyCode      string `json:"deny_code,omitempty"`
	FacilitatorID string `json:"facilitator_id,omitempty"`
	Network       string `json:"network"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
}

// ProcessedEvent for consumer idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
