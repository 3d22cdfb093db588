package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"p402-router/internal/broker"
	"p402-router/internal/models"
	"p402-router/internal/policy"
	"p402-router/internal/routing"
	"p402-router/internal/store"
	"p402-router/internal/trace"
	"p402-router/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultVerifyTimeout = 10 * time.Second
	defaultSettleTimeout = 15 * time.Second
	persistTimeout       = 5 * time.Second
)

// Trace step names
const (
	StepPolicyAllow    = "policy.allow"
	StepPolicyDeny     = "policy.deny"
	StepPolicyError    = "policy.error"
	StepRouteSelected  = "route.selected"
	StepRouteError     = "route.error"
	StepReplayChecked  = "replay.checked"
	StepReplayRejected = "replay.rejected"
	StepVerifyOK       = "verify.ok"
	StepVerifyError    = "verify.error"
	StepVerifyTimeout  = "verify.timeout"
	StepSettleOK       = "settle.ok"
	StepSettleError    = "settle.error"
	StepInputInvalid   = "input.invalid"
	StepInternalError  = "internal.error"
)

// RouteRepository resolves a tenant's routes
type RouteRepository interface {
	GetRoute(ctx context.Context, tenantID, routeID string) (*models.Route, error)
	FindRouteByPath(ctx context.Context, tenantID, method, path string) (*models.Route, error)
}

// PolicyRepository loads a tenant's active policy, or a named one
type PolicyRepository interface {
	QueryPolicy(ctx context.Context, tenantID, policyID string) (*models.Policy, error)
}

// EventSink persists finished attempts
type EventSink interface {
	InsertEvent(ctx context.Context, event *models.Event) error
}

// PolicyEvaluator is satisfied by policy.Engine
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, tenantID string, pol *models.Policy, route *models.Route, payment models.Payment) (policy.Verdict, error)
}

// Planner is satisfied by routing.Engine
type Planner interface {
	Plan(tenantID string, route *models.Route, payment models.Payment) (*routing.Selection, error)
}

// ReplayGuard is satisfied by replay.Guard
type ReplayGuard interface {
	Check(ctx context.Context, authorizationID string) (bool, error)
	RecordIfAbsent(ctx context.Context, authorizationID, tenantID, decisionID string) (bool, error)
}

// AttemptPublisher is satisfied by broker.EventPublisher
type AttemptPublisher interface {
	PublishAttemptRecorded(ctx context.Context, event *models.AttemptRecordedEvent) error
}

// TaskDispatcher is satisfied by broker.Dispatcher
type TaskDispatcher interface {
	Dispatch(task broker.Task) bool
}

// Dependencies wires a RouterService. Publisher and Dispatcher are optional.
type Dependencies struct {
	Routes        RouteRepository
	Policies      PolicyRepository
	Events        EventSink
	Policy        PolicyEvaluator
	Routing       Planner
	Replay        ReplayGuard
	Oracle        Oracle
	Settlement    SettlementBackend
	Publisher     AttemptPublisher
	Dispatcher    TaskDispatcher
	Traces        *trace.Builder
	VerifyTimeout time.Duration
	SettleTimeout time.Duration
}

// RouterService sequences policy, routing, verification and settlement for
// one payment attempt and persists the resulting event
type RouterService struct {
	deps   Dependencies
	logger *zap.Logger
}

// NewRouterService creates a new router service
func NewRouterService(deps Dependencies) *RouterService {
	if deps.Traces == nil {
		deps.Traces = trace.NewBuilder()
	}
	if deps.VerifyTimeout <= 0 {
		deps.VerifyTimeout = defaultVerifyTimeout
	}
	if deps.SettleTimeout <= 0 {
		deps.SettleTimeout = defaultSettleTimeout
	}
	return &RouterService{
		deps:   deps,
		logger: util.GetLogger(),
	}
}

// Buyer identifies the paying agent, when known
type Buyer struct {
	BuyerID string `json:"buyerId,omitempty"`
}

// PlanRequest represents a request to plan a payment
type PlanRequest struct {
	TenantID string         `json:"-"`
	PolicyID string         `json:"policyId,omitempty"`
	RouteID  string         `json:"routeId"`
	Payment  models.Payment `json:"payment"`
	Buyer    *Buyer         `json:"buyer,omitempty"`
}

// Price is the amount the caller must pay through the selected facilitator
type Price struct {
	Amount  string `json:"amount"`
	Asset   string `json:"asset"`
	Network string `json:"network"`
	Scheme  string `json:"scheme"`
	PayTo   string `json:"payTo,omitempty"`
}

// PlanResponse represents a successful plan
type PlanResponse struct {
	FacilitatorID string                   `json:"facilitatorId"`
	Accepted      []models.AcceptedPayment `json:"accepted"`
	Price         Price                    `json:"price"`
	Candidates    []string                 `json:"candidates"`
	DecisionID    string                   `json:"decisionId"`
	TraceID       string                   `json:"traceId"`
}

// VerifyRoute names the route being paid for
type VerifyRoute struct {
	Path   string `json:"path"`
	Method string `json:"method,omitempty"`
}

// VerifyRequest represents a signed payment submitted for verification
type VerifyRequest struct {
	TenantID         string      `json:"tenantId"`
	DecisionID       string      `json:"decisionId,omitempty"`
	PaymentSignature string      `json:"paymentSignature"`
	AuthorizationID  string      `json:"authorizationId"`
	Amount           string      `json:"amount"`
	Asset            string      `json:"asset"`
	Scheme           string      `json:"scheme"`
	Network          string      `json:"network,omitempty"`
	TxHash           string      `json:"txHash,omitempty"`
	Route            VerifyRoute `json:"route"`
}

// VerifyResponse represents a verified payment
type VerifyResponse struct {
	Verified      bool          `json:"verified"`
	FacilitatorID string        `json:"facilitatorId"`
	Verification  *Verification `json:"verification"`
	Settlement    *Settlement   `json:"settlement,omitempty"`
	DecisionID    string        `json:"decisionId"`
	TraceID       string        `json:"traceId"`
}

// attempt carries the state of one plan or verify call until it is persisted
type attempt struct {
	tenantID      string
	routeID       string
	payment       models.Payment
	facilitatorID string
	trace         *trace.Trace
	raw           interface{}
	outcome       string
	code          models.Code
}

// Plan runs policy then routing and returns the selected facilitator
func (s *RouterService) Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error) {
	ctx, span := util.StartSpan(ctx, "RouterService.Plan",
		attribute.String("tenant_id", req.TenantID),
		attribute.String("route_id", req.RouteID))
	defer span.End()

	att := &attempt{
		tenantID: req.TenantID,
		routeID:  req.RouteID,
		payment:  req.Payment,
		trace:    s.deps.Traces.Start(ctx, ""),
		raw:      req,
	}

	resp, err := s.plan(ctx, att, req)
	s.observe(span, att, util.PlanRequestsTotal.WithLabelValues(att.outcome, string(att.code)), err)
	return resp, err
}

func (s *RouterService) plan(ctx context.Context, att *attempt, req *PlanRequest) (*PlanResponse, error) {
	if req.TenantID == "" {
		return nil, s.invalid(ctx, att, "tenantId", "is required")
	}
	if req.RouteID == "" {
		return nil, s.invalid(ctx, att, "routeId", "must not be empty")
	}

	route, err := s.deps.Routes.GetRoute(ctx, req.TenantID, req.RouteID)
	if err != nil {
		return nil, s.routeLookupFailed(ctx, att, err)
	}
	if err := routing.ValidatePayment(route, req.Payment); err != nil {
		return nil, s.invalidErr(ctx, att, err)
	}

	if rerr := s.checkPolicy(ctx, att, req.PolicyID, route, req.Payment); rerr != nil {
		return nil, rerr
	}

	sel, rerr := s.selectFacilitator(ctx, att, route, req.Payment)
	if rerr != nil {
		return nil, rerr
	}

	s.finish(ctx, att, models.OutcomePlan, "")

	accepted := []models.AcceptedPayment(route.Accepts)
	if len(accepted) == 0 {
		accepted = []models.AcceptedPayment{sel.Accepted}
	}

	util.WithTrace(ctx, s.logger).Info("Payment planned",
		zap.String("tenant_id", att.tenantID),
		zap.String("route_id", route.RouteID),
		zap.String("facilitator_id", sel.SelectedFacilitatorID),
		zap.String("decision_id", att.trace.DecisionID))

	return &PlanResponse{
		FacilitatorID: sel.SelectedFacilitatorID,
		Accepted:      accepted,
		Price: Price{
			Amount:  sel.Accepted.Amount,
			Asset:   sel.Accepted.Asset,
			Network: sel.Accepted.Network,
			Scheme:  sel.Accepted.Scheme,
			PayTo:   sel.Accepted.PayTo,
		},
		Candidates: sel.Candidates,
		DecisionID: att.trace.DecisionID,
		TraceID:    att.trace.TraceID,
	}, nil
}

// Verify re-derives the plan, verifies the payment with the oracle, consumes
// the authorization and settles through the selected facilitator
func (s *RouterService) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	ctx, span := util.StartSpan(ctx, "RouterService.Verify",
		attribute.String("tenant_id", req.TenantID),
		attribute.String("route_path", req.Route.Path),
		attribute.String("authorization_id", req.AuthorizationID))
	defer span.End()

	att := &attempt{
		tenantID: req.TenantID,
		payment: models.Payment{
			Network: req.Network,
			Scheme:  req.Scheme,
			Amount:  req.Amount,
			Asset:   req.Asset,
		},
		trace: s.deps.Traces.Start(ctx, req.DecisionID),
		raw:   redactedVerify(req),
	}

	resp, err := s.verify(ctx, att, req)
	s.observe(span, att, util.VerifyRequestsTotal.WithLabelValues(att.outcome, string(att.code)), err)
	return resp, err
}

func (s *RouterService) verify(ctx context.Context, att *attempt, req *VerifyRequest) (*VerifyResponse, error) {
	switch {
	case req.TenantID == "":
		return nil, s.invalid(ctx, att, "tenantId", "is required")
	case req.AuthorizationID == "":
		return nil, s.invalid(ctx, att, "authorizationId", "is required")
	case req.PaymentSignature == "":
		return nil, s.invalid(ctx, att, "paymentSignature", "is required")
	case req.Route.Path == "":
		return nil, s.invalid(ctx, att, "route.path", "is required")
	}

	route, err := s.deps.Routes.FindRouteByPath(ctx, req.TenantID, req.Route.Method, req.Route.Path)
	if err != nil {
		return nil, s.routeLookupFailed(ctx, att, err)
	}
	att.routeID = route.RouteID

	if att.payment.Network == "" {
		att.payment.Network = resolveNetwork(route, req.Scheme, req.Asset)
	}
	if err := routing.ValidatePayment(route, att.payment); err != nil {
		return nil, s.invalidErr(ctx, att, err)
	}

	if rerr := s.checkPolicy(ctx, att, "", route, att.payment); rerr != nil {
		return nil, rerr
	}

	sel, rerr := s.selectFacilitator(ctx, att, route, att.payment)
	if rerr != nil {
		return nil, rerr
	}

	seen, err := s.deps.Replay.Check(ctx, req.AuthorizationID)
	if err != nil {
		return nil, s.internal(ctx, att, err)
	}
	if seen {
		util.ReplayRejectionsTotal.Inc()
		return nil, s.replayRejected(ctx, att, "check")
	}
	s.step(att, StepReplayChecked, trace.StatusOK, nil)

	if short, ok := amountBelowPrice(att.payment.Amount, sel.Accepted.Amount); ok && short {
		s.step(att, StepVerifyError, trace.StatusError, map[string]interface{}{
			"code":     string(models.CodeVerificationFailed),
			"amount":   att.payment.Amount,
			"expected": sel.Accepted.Amount,
		})
		return nil, s.fail(ctx, att, models.OutcomeError,
			models.NewRouterError(models.CodeVerificationFailed, "payment amount %s is below price %s", att.payment.Amount, sel.Accepted.Amount))
	}

	verification, rerr := s.verifyWithOracle(ctx, att, req, sel)
	if rerr != nil {
		return nil, rerr
	}

	accepted, err := s.deps.Replay.RecordIfAbsent(ctx, req.AuthorizationID, req.TenantID, att.trace.DecisionID)
	if err != nil {
		return nil, s.internal(ctx, att, err)
	}
	if !accepted {
		return nil, s.replayRejected(ctx, att, "record")
	}
	s.step(att, StepVerifyOK, trace.StatusOK, map[string]interface{}{
		"txHash": verification.TxHash,
	})

	settlement := s.settle(ctx, att, req, sel, verification)
	outcome := models.OutcomePaid
	if settlement != nil {
		outcome = models.OutcomeSettled
	}
	s.finish(ctx, att, outcome, "")

	util.WithTrace(ctx, s.logger).Info("Payment verified",
		zap.String("tenant_id", att.tenantID),
		zap.String("route_id", att.routeID),
		zap.String("facilitator_id", sel.SelectedFacilitatorID),
		zap.String("authorization_id", req.AuthorizationID),
		zap.String("outcome", outcome))

	return &VerifyResponse{
		Verified:      true,
		FacilitatorID: sel.SelectedFacilitatorID,
		Verification:  verification,
		Settlement:    settlement,
		DecisionID:    att.trace.DecisionID,
		TraceID:       att.trace.TraceID,
	}, nil
}

func (s *RouterService) checkPolicy(ctx context.Context, att *attempt, policyID string, route *models.Route, payment models.Payment) error {
	pol, err := s.deps.Policies.QueryPolicy(ctx, att.tenantID, policyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.step(att, StepPolicyError, trace.StatusError, map[string]interface{}{"policyId": policyID})
			return s.fail(ctx, att, models.OutcomeError,
				models.NewRouterError(models.CodeNotFound, "policy %s not found", policyID))
		}
		return s.internal(ctx, att, err)
	}

	verdict, err := s.deps.Policy.Evaluate(ctx, att.tenantID, pol, route, payment)
	if err != nil {
		return s.internal(ctx, att, err)
	}
	if !verdict.Allow {
		util.PolicyDenialsTotal.WithLabelValues(string(verdict.DenyCode)).Inc()
		s.step(att, StepPolicyDeny, trace.StatusDeny, map[string]interface{}{
			"denyCode":    string(verdict.DenyCode),
			"matchedRule": verdict.MatchedRule,
			"reason":      verdict.Reason,
		})
		rerr := models.NewRouterError(verdict.DenyCode, "%s", verdict.Reason).
			WithDetail("matchedRule", verdict.MatchedRule)
		return s.fail(ctx, att, models.OutcomeDeny, rerr)
	}

	attrs := map[string]interface{}{}
	if pol != nil {
		attrs["policyId"] = pol.PolicyID
		attrs["version"] = pol.Version
	}
	s.step(att, StepPolicyAllow, trace.StatusOK, attrs)
	return nil
}

func (s *RouterService) selectFacilitator(ctx context.Context, att *attempt, route *models.Route, payment models.Payment) (*routing.Selection, error) {
	sel, err := s.deps.Routing.Plan(att.tenantID, route, payment)
	if err != nil {
		var verr *routing.ValidationError
		switch {
		case errors.As(err, &verr):
			return nil, s.invalidErr(ctx, att, err)
		case errors.Is(err, routing.ErrNoFacilitatorAvailable):
			s.step(att, StepRouteError, trace.StatusError, map[string]interface{}{
				"code":    string(models.CodeNoFacilitatorAvailable),
				"network": payment.Network,
				"scheme":  payment.Scheme,
				"asset":   payment.Asset,
			})
			return nil, s.fail(ctx, att, models.OutcomeError,
				models.NewRouterError(models.CodeNoFacilitatorAvailable, "no active facilitator supports %s/%s/%s", payment.Scheme, payment.Network, payment.Asset))
		default:
			return nil, s.internal(ctx, att, err)
		}
	}

	att.facilitatorID = sel.SelectedFacilitatorID
	util.FacilitatorSelectedTotal.WithLabelValues(sel.SelectedFacilitatorID).Inc()
	s.step(att, StepRouteSelected, trace.StatusOK, map[string]interface{}{
		"facilitatorId": sel.SelectedFacilitatorID,
		"candidates":    sel.Candidates,
	})
	return sel, nil
}

// verifyWithOracle bounds the oracle call by the verify timeout. A timeout
// is recorded as an error and leaves the replay guard untouched.
func (s *RouterService) verifyWithOracle(ctx context.Context, att *attempt, req *VerifyRequest, sel *routing.Selection) (*Verification, error) {
	vctx, cancel := context.WithTimeout(ctx, s.deps.VerifyTimeout)
	defer cancel()

	ver, err := s.deps.Oracle.VerifyTransfer(vctx, &VerifyTransferRequest{
		TxHash:            req.TxHash,
		PaymentSignature:  req.PaymentSignature,
		AuthorizationID:   req.AuthorizationID,
		Network:           att.payment.Network,
		Scheme:            att.payment.Scheme,
		Asset:             att.payment.Asset,
		ExpectedAmount:    sel.Accepted.Amount,
		ExpectedRecipient: sel.Accepted.PayTo,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(vctx.Err(), context.DeadlineExceeded) {
			s.step(att, StepVerifyTimeout, trace.StatusError, map[string]interface{}{
				"timeoutMs": s.deps.VerifyTimeout.Milliseconds(),
			})
			return nil, s.fail(ctx, att, models.OutcomeError,
				models.NewRouterError(models.CodeVerificationTimeout, "verification did not complete within %s", s.deps.VerifyTimeout))
		}
		// Transport failures, oracle 5xx and caller cancellation say nothing
		// about the payment itself, so the caller may retry.
		util.WithTrace(ctx, s.logger).Warn("Oracle unavailable",
			zap.String("tenant_id", att.tenantID),
			zap.String("authorization_id", req.AuthorizationID),
			zap.Error(err))
		s.step(att, StepVerifyError, trace.StatusError, map[string]interface{}{
			"code":  string(models.CodeOracleUnavailable),
			"error": err.Error(),
		})
		return nil, s.fail(ctx, att, models.OutcomeError,
			models.NewRouterError(models.CodeOracleUnavailable, "verification oracle unavailable"))
	}

	if !ver.Verified {
		code := ver.Reason
		if !code.IsVerificationFailure() {
			code = models.CodeVerificationFailed
		}
		s.step(att, StepVerifyError, trace.StatusError, map[string]interface{}{
			"code":    string(code),
			"message": ver.Message,
		})
		msg := ver.Message
		if msg == "" {
			msg = "verification failed"
		}
		return nil, s.fail(ctx, att, models.OutcomeError, models.NewRouterError(code, "%s", msg))
	}
	return ver, nil
}

// settle returns nil when settlement fails; the payment stays verified
func (s *RouterService) settle(ctx context.Context, att *attempt, req *VerifyRequest, sel *routing.Selection, ver *Verification) *Settlement {
	sctx, cancel := context.WithTimeout(ctx, s.deps.SettleTimeout)
	defer cancel()

	settlement, err := s.deps.Settlement.Settle(sctx, &SettleRequest{
		FacilitatorID:    sel.SelectedFacilitatorID,
		Endpoint:         sel.Endpoint,
		TenantID:         att.tenantID,
		DecisionID:       att.trace.DecisionID,
		AuthorizationID:  req.AuthorizationID,
		PaymentSignature: req.PaymentSignature,
		TxHash:           ver.TxHash,
		Network:          att.payment.Network,
		Scheme:           att.payment.Scheme,
		Asset:            att.payment.Asset,
		Amount:           att.payment.Amount,
		PayTo:            sel.Accepted.PayTo,
	})
	if err != nil {
		util.WithTrace(ctx, s.logger).Warn("Settlement failed",
			zap.String("facilitator_id", sel.SelectedFacilitatorID),
			zap.String("decision_id", att.trace.DecisionID),
			zap.Error(err))
		s.step(att, StepSettleError, trace.StatusError, map[string]interface{}{
			"facilitatorId": sel.SelectedFacilitatorID,
			"error":         err.Error(),
		})
		return nil
	}

	s.step(att, StepSettleOK, trace.StatusOK, map[string]interface{}{
		"facilitatorId": sel.SelectedFacilitatorID,
		"txHash":        settlement.TxHash,
	})
	return settlement
}

func (s *RouterService) replayRejected(ctx context.Context, att *attempt, stage string) error {
	s.step(att, StepReplayRejected, trace.StatusDeny, map[string]interface{}{
		"stage": stage,
	})
	return s.fail(ctx, att, models.OutcomeDeny,
		models.NewRouterError(models.CodeReplayDetected, "authorization has already been used"))
}

func (s *RouterService) routeLookupFailed(ctx context.Context, att *attempt, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		s.step(att, StepInputInvalid, trace.StatusError, map[string]interface{}{
			"code": string(models.CodeRouteNotFound),
		})
		return s.fail(ctx, att, models.OutcomeError,
			models.NewRouterError(models.CodeRouteNotFound, "route not found"))
	}
	return s.internal(ctx, att, err)
}

func (s *RouterService) invalid(ctx context.Context, att *attempt, field, reason string) error {
	return s.invalidErr(ctx, att, &routing.ValidationError{Field: field, Reason: reason})
}

func (s *RouterService) invalidErr(ctx context.Context, att *attempt, err error) error {
	rerr := models.NewRouterError(models.CodeInvalidInput, "%s", err.Error())
	var verr *routing.ValidationError
	if errors.As(err, &verr) {
		rerr.WithDetail("field", verr.Field)
	}
	s.step(att, StepInputInvalid, trace.StatusError, map[string]interface{}{
		"code":  string(models.CodeInvalidInput),
		"error": err.Error(),
	})
	return s.fail(ctx, att, models.OutcomeError, rerr)
}

// internal logs the cause and hides it from the caller
func (s *RouterService) internal(ctx context.Context, att *attempt, err error) error {
	util.WithTrace(ctx, s.logger).Error("Router attempt failed",
		zap.String("tenant_id", att.tenantID),
		zap.String("route_id", att.routeID),
		zap.String("decision_id", att.trace.DecisionID),
		zap.Error(err))
	s.step(att, StepInternalError, trace.StatusError, map[string]interface{}{
		"code": string(models.CodeInternal),
	})
	return s.fail(ctx, att, models.OutcomeError, models.NewRouterError(models.CodeInternal, "internal error"))
}

func (s *RouterService) fail(ctx context.Context, att *attempt, outcome string, rerr *models.RouterError) error {
	s.finish(ctx, att, outcome, rerr.Code)
	return rerr
}

func (s *RouterService) step(att *attempt, name, status string, attrs map[string]interface{}) {
	if err := att.trace.AddStep(name, status, attrs); err != nil {
		s.logger.Warn("Trace step dropped", zap.String("step", name), zap.Error(err))
	}
}

// finish ends the trace and persists the attempt. Persistence failures are
// logged and never change the response.
func (s *RouterService) finish(ctx context.Context, att *attempt, outcome string, code models.Code) {
	att.outcome = outcome
	att.code = code
	_ = att.trace.End()

	if att.tenantID == "" {
		return
	}

	event := s.buildEvent(att)

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := s.deps.Events.InsertEvent(pctx, event); err != nil {
		util.EventPersistFailuresTotal.Inc()
		s.logger.Error("Failed to persist event",
			zap.String("event_id", event.EventID),
			zap.String("tenant_id", event.TenantID),
			zap.String("outcome", outcome),
			zap.Error(err))
		return
	}

	s.publish(event)
}

func (s *RouterService) buildEvent(att *attempt) *models.Event {
	steps, err := json.Marshal(att.trace.Steps())
	if err != nil {
		steps = []byte("[]")
	}
	raw, err := json.Marshal(att.raw)
	if err != nil {
		raw = []byte("{}")
	}

	amount := att.payment.Amount
	if _, err := routing.ParseAmount(amount); err != nil {
		amount = "0"
	}

	return &models.Event{
		EventID:       uuid.New().String(),
		TenantID:      att.tenantID,
		RouteID:       att.routeID,
		DecisionID:    att.trace.DecisionID,
		TraceID:       att.trace.TraceID,
		Outcome:       att.outcome,
		DenyCode:      string(att.code),
		FacilitatorID: att.facilitatorID,
		Network:       att.payment.Network,
		Scheme:        att.payment.Scheme,
		Asset:         att.payment.Asset,
		Amount:        amount,
		Steps:         types.JSONText(steps),
		RawPayload:    types.JSONText(raw),
		CreatedAt:     time.Now().UTC(),
	}
}

// publish hands the stream message to the dispatcher without blocking
func (s *RouterService) publish(event *models.Event) {
	if s.deps.Publisher == nil || s.deps.Dispatcher == nil {
		return
	}
	msg := broker.NewAttemptRecorded(event)
	s.deps.Dispatcher.Dispatch(broker.Task{
		Name: "publish-attempt-recorded",
		Run: func(ctx context.Context) error {
			pctx, cancel := context.WithTimeout(ctx, persistTimeout)
			defer cancel()
			return s.deps.Publisher.PublishAttemptRecorded(pctx, msg)
		},
	})
}

func (s *RouterService) observe(span oteltrace.Span, att *attempt, counter interface{ Inc() }, err error) {
	counter.Inc()
	span.SetAttributes(attribute.String("router.outcome", att.outcome))
	if err != nil {
		var rerr *models.RouterError
		if errors.As(err, &rerr) {
			util.FailSpan(span, string(rerr.Code), nil)
			return
		}
		util.FailSpan(span, string(models.CodeInternal), err)
	}
}

// resolveNetwork picks the network from the route's accepted tuple when the
// caller left it out
func resolveNetwork(route *models.Route, scheme, asset string) string {
	for _, a := range route.Accepts {
		if a.Scheme == scheme && a.Asset == asset {
			return a.Network
		}
	}
	return ""
}

// amountBelowPrice reports whether paid is less than price. ok is false when
// either side does not parse.
func amountBelowPrice(paid, price string) (short bool, ok bool) {
	p, err := routing.ParseAmount(paid)
	if err != nil {
		return false, false
	}
	want, err := routing.ParseAmount(price)
	if err != nil {
		return false, false
	}
	return p.LessThan(want), true
}

// redactedVerify keeps signatures out of the persisted payload
func redactedVerify(req *VerifyRequest) *VerifyRequest {
	out := *req
	if out.PaymentSignature != "" {
		out.PaymentSignature = "[redacted]"
	}
	return &out
}
