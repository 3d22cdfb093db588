// Package policy evaluates a tenant's spend policy against a proposed payment.
package policy

import (
	"context"
	"fmt"
	"time"

	"p402-router/internal/models"
	"p402-router/internal/util"

	"github.com/shopspring/decimal"
)

// RateWindow is the trailing window used for rpm limits
const RateWindow = 60 * time.Second

// SpendSource sums settled spend for a tenant inside a window. An empty
// routeID sums across all routes.
type SpendSource interface {
	SumSpend(ctx context.Context, tenantID, routeID string, from, to time.Time) (decimal.Decimal, error)
}

// RateCounter records one request and returns the count in the trailing window
type RateCounter interface {
	Increment(ctx context.Context, tenantID, routeID string, window time.Duration) (int64, error)
}

// Verdict is the outcome of evaluating a policy. Denial is a value, not an error.
type Verdict struct {
	Allow       bool        `json:"allow"`
	DenyCode    models.Code `json:"denyCode,omitempty"`
	MatchedRule string      `json:"matchedRule,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

func allow() Verdict {
	return Verdict{Allow: true}
}

func deny(code models.Code, kind string, index int, reason string) Verdict {
	return Verdict{
		Allow:       false,
		DenyCode:    code,
		MatchedRule: fmt.Sprintf("%s[%d]", kind, index),
		Reason:      reason,
	}
}

// Engine evaluates policies
type Engine struct {
	spend SpendSource
	rate  RateCounter
	now   func() time.Time
}

// NewEngine creates a policy engine
func NewEngine(spend SpendSource, rate RateCounter) *Engine {
	return &Engine{spend: spend, rate: rate, now: time.Now}
}

// Evaluate applies deny rules, then route scopes, then budgets, then rate
// limits, stopping at the first denial. A nil policy allows everything.
// Errors are returned only when a collaborator fails.
func (e *Engine) Evaluate(ctx context.Context, tenantID string, pol *models.Policy, route *models.Route, payment models.Payment) (Verdict, error) {
	ctx, span := util.StartSpan(ctx, "PolicyEngine.Evaluate")
	defer span.End()

	if pol == nil {
		return allow(), nil
	}
	rules := pol.Rules

	amount, err := decimal.NewFromString(payment.Amount)
	if err != nil {
		return Verdict{}, fmt.Errorf("invalid payment amount %q: %w", payment.Amount, err)
	}

	for i, rule := range rules.DenyIf {
		if matchDeny(rule, route, payment, amount) {
			return deny(models.CodeScopeDenied, models.RuleKindDeny, i,
				fmt.Sprintf("%s %s %v", rule.Field, rule.Op, rule.Values)), nil
		}
	}

	if len(rules.RouteScopes) > 0 {
		scoped := false
		for _, scope := range rules.RouteScopes {
			if scope.Covers(route) {
				scoped = true
				break
			}
		}
		if !scoped {
			return Verdict{
				DenyCode:    models.CodeRouteNotScoped,
				MatchedRule: models.RuleKindScope,
				Reason:      fmt.Sprintf("route %s is not in the policy scopes", route.RouteID),
			}, nil
		}
	}

	now := e.now()
	for i, budget := range rules.Budgets {
		if budget.RouteID != "" && budget.RouteID != route.RouteID {
			continue
		}
		from, to, ok := budget.Window(now)
		if !ok {
			continue
		}
		spent, err := e.spend.SumSpend(ctx, tenantID, budget.RouteID, from, to)
		if err != nil {
			return Verdict{}, fmt.Errorf("failed to read spend: %w", err)
		}
		if spent.Add(amount).GreaterThan(budget.Limit()) {
			return deny(models.CodeBudgetExceeded, models.RuleKindBudget, i,
				fmt.Sprintf("spend %s + %s exceeds limit %s", spent.String(), amount.String(), budget.Limit().String())), nil
		}
	}

	// Every applicable rule shares the tenant+route counter, so the request
	// is counted once and each limit is compared against the same total.
	var count int64
	counted := false
	for i, limit := range rules.RPMLimits {
		if limit.RouteID != "" && limit.RouteID != route.RouteID {
			continue
		}
		if !counted {
			count, err = e.rate.Increment(ctx, tenantID, route.RouteID, RateWindow)
			if err != nil {
				return Verdict{}, fmt.Errorf("failed to increment rate counter: %w", err)
			}
			counted = true
		}
		if count > int64(limit.Limit) {
			return deny(models.CodeRateLimited, models.RuleKindRPM, i,
				fmt.Sprintf("%d requests in the last minute exceeds %d", count, limit.Limit)), nil
		}
	}

	return allow(), nil
}

func matchDeny(rule models.DenyRule, route *models.Route, payment models.Payment, amount decimal.Decimal) bool {
	if rule.Field == models.FieldAmount {
		threshold, err := decimal.NewFromString(rule.Values[0])
		if err != nil {
			return false
		}
		cmp := amount.Cmp(threshold)
		switch rule.Op {
		case models.OpEq:
			return cmp == 0
		case models.OpNeq:
			return cmp != 0
		case models.OpGt:
			return cmp > 0
		case models.OpGte:
			return cmp >= 0
		case models.OpLt:
			return cmp < 0
		case models.OpLte:
			return cmp <= 0
		}
		return false
	}

	var value string
	switch rule.Field {
	case models.FieldNetwork:
		value = payment.Network
	case models.FieldScheme:
		value = payment.Scheme
	case models.FieldAsset:
		value = payment.Asset
	case models.FieldRouteID:
		value = route.RouteID
	case models.FieldPath:
		value = route.Path
	case models.FieldMethod:
		value = route.Method
	default:
		return false
	}

	switch rule.Op {
	case models.OpIn, models.OpEq:
		return inList(rule.Values, value)
	case models.OpNotIn, models.OpNeq:
		return !inList(rule.Values, value)
	}
	return false
}

func inList(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
