// Package trace builds the append-only decision trace recorded for every
// plan and verify attempt.
package trace

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"p402-router/internal/util"

	"github.com/google/uuid"
)

// Step statuses
const (
	StatusOK    = "ok"
	StatusDeny  = "deny"
	StatusError = "error"
)

// Reserved step names
const (
	StepStarted = "trace.started"
	StepEnded   = "trace.ended"
)

// ErrTraceEnded is returned by AddStep and End once the trace is finalized
var ErrTraceEnded = errors.New("trace already ended")

// Step is one entry of a trace
type Step struct {
	Timestamp  time.Time              `json:"timestamp"`
	Name       string                 `json:"name"`
	Status     string                 `json:"status"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Trace is the record of a single payment attempt
type Trace struct {
	TraceID    string     `json:"traceId"`
	SpanID     string     `json:"spanId"`
	DecisionID string     `json:"decisionId"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`

	mu    sync.Mutex
	steps []Step
	now   func() time.Time
}

// Builder creates traces. The zero value uses the wall clock.
type Builder struct {
	Now func() time.Time
}

// NewBuilder creates a builder using the wall clock
func NewBuilder() *Builder {
	return &Builder{Now: time.Now}
}

// Start opens a trace seeded with a trace.started step. When ctx carries a
// valid OpenTelemetry span its trace and span ids are reused. An empty
// decisionID is replaced with a fresh one.
func (b *Builder) Start(ctx context.Context, decisionID string) *Trace {
	now := b.Now
	if now == nil {
		now = time.Now
	}
	if decisionID == "" {
		decisionID = uuid.New().String()
	}

	t := &Trace{DecisionID: decisionID, now: now}
	t.TraceID, t.SpanID = util.SpanIDs(ctx)
	if t.TraceID == "" {
		traceID := uuid.New()
		spanID := uuid.New()
		t.TraceID = hex.EncodeToString(traceID[:])
		t.SpanID = hex.EncodeToString(spanID[:8])
	}

	t.StartedAt = now().UTC()
	t.steps = append(t.steps, Step{
		Timestamp: t.StartedAt,
		Name:      StepStarted,
		Status:    StatusOK,
		Attributes: map[string]interface{}{
			"decisionId": decisionID,
		},
	})
	return t
}

// AddStep appends a step stamped with the current time
func (t *Trace) AddStep(name, status string, attributes map[string]interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.EndedAt != nil {
		return ErrTraceEnded
	}
	t.appendLocked(name, status, attributes)
	return nil
}

// End appends trace.ended and freezes the trace. A second call returns
// ErrTraceEnded and changes nothing.
func (t *Trace) End() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.EndedAt != nil {
		return ErrTraceEnded
	}
	ts := t.appendLocked(StepEnded, StatusOK, nil)
	t.EndedAt = &ts
	return nil
}

// appendLocked keeps timestamps strictly increasing even when the clock
// does not advance between steps.
func (t *Trace) appendLocked(name, status string, attributes map[string]interface{}) time.Time {
	ts := t.now().UTC()
	if last := t.steps[len(t.steps)-1].Timestamp; !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	t.steps = append(t.steps, Step{
		Timestamp:  ts,
		Name:       name,
		Status:     status,
		Attributes: attributes,
	})
	return ts
}

// Ended reports whether End has been called
func (t *Trace) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.EndedAt != nil
}

// Steps returns a copy of the recorded steps
func (t *Trace) Steps() []Step {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Step, len(t.steps))
	copy(out, t.steps)
	return out
}

// Last returns the most recent step
func (t *Trace) Last() Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.steps[len(t.steps)-1]
}
