// Package routing picks the facilitator that should handle a payment.
package routing

import (
	"errors"
	"fmt"

	"p402-router/internal/models"

	"github.com/shopspring/decimal"
)

// ErrNoFacilitatorAvailable is returned when no candidate supports the payment
var ErrNoFacilitatorAvailable = errors.New("no facilitator available")

// ValidationError describes malformed routing input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CandidateSource ranks facilitators for a payment triple
type CandidateSource interface {
	ListCandidates(network, scheme, asset, tenantID string) []models.Facilitator
}

// Selection is the outcome of planning a route
type Selection struct {
	SelectedFacilitatorID string                 `json:"selectedFacilitatorId"`
	Candidates            []string               `json:"candidates"`
	Accepted              models.AcceptedPayment `json:"accepted"`
	Endpoint              string                 `json:"-"`
}

// Engine composes registry output with route and payment parameters
type Engine struct {
	source CandidateSource
}

// NewEngine creates a routing engine over source
func NewEngine(source CandidateSource) *Engine {
	return &Engine{source: source}
}

// Plan selects the best facilitator. It has no side effects and returns
// identical output for identical registry state and inputs.
func (e *Engine) Plan(tenantID string, route *models.Route, payment models.Payment) (*Selection, error) {
	if err := ValidatePayment(route, payment); err != nil {
		return nil, err
	}

	accepted, ok := route.Match(payment.Scheme, payment.Network, payment.Asset)
	if !ok && len(route.Accepts) > 0 {
		return nil, &ValidationError{
			Field:  "payment",
			Reason: fmt.Sprintf("route %s does not accept %s/%s/%s", route.RouteID, payment.Scheme, payment.Network, payment.Asset),
		}
	}
	if !ok {
		accepted = models.AcceptedPayment{
			Scheme:  payment.Scheme,
			Network: payment.Network,
			Asset:   payment.Asset,
			Amount:  payment.Amount,
		}
	}

	candidates := e.source.ListCandidates(payment.Network, payment.Scheme, payment.Asset, tenantID)
	if len(candidates) == 0 {
		return nil, ErrNoFacilitatorAvailable
	}

	ranked := make([]string, len(candidates))
	for i, c := range candidates {
		ranked[i] = c.FacilitatorID
	}

	return &Selection{
		SelectedFacilitatorID: candidates[0].FacilitatorID,
		Candidates:            ranked,
		Accepted:              accepted,
		Endpoint:              candidates[0].Endpoint,
	}, nil
}

// ValidatePayment checks the structural constraints on route and payment
func ValidatePayment(route *models.Route, payment models.Payment) error {
	if route == nil || route.RouteID == "" {
		return &ValidationError{Field: "routeId", Reason: "must not be empty"}
	}
	if payment.Network == "" {
		return &ValidationError{Field: "payment.network", Reason: "must not be empty"}
	}
	if payment.Scheme == "" {
		return &ValidationError{Field: "payment.scheme", Reason: "must not be empty"}
	}
	if _, err := ParseAmount(payment.Amount); err != nil {
		return &ValidationError{Field: "payment.amount", Reason: err.Error()}
	}
	if n := len(payment.Asset); n < 2 || n > 10 {
		return &ValidationError{Field: "payment.asset", Reason: "length must be between 2 and 10"}
	}
	return nil
}

// ParseAmount parses a non-negative decimal string
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, errors.New("must not be empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.New("must be a decimal string")
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("must not be negative")
	}
	return d, nil
}
