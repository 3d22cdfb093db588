package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Policy is a tenant-scoped ruleset. One active version applies per tenant.
type Policy struct {
	PolicyID  string      `db:"policy_id" json:"policyId"`
	TenantID  string      `db:"tenant_id" json:"tenantId"`
	Rules     PolicyRules `db:"rules" json:"rules"`
	Version   int         `db:"version" json:"version"`
	Active    bool        `db:"active" json:"active"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time   `db:"updated_at" json:"updatedAt"`
}

// Rule kinds
const (
	RuleKindDeny   = "denyIf"
	RuleKindScope  = "routeScopes"
	RuleKindBudget = "budgets"
	RuleKindRPM    = "rpmLimits"
)

// PolicyRules is the closed schema of every rule a policy may carry
type PolicyRules struct {
	DenyIf      []DenyRule   `json:"denyIf,omitempty"`
	RouteScopes []ScopeRule  `json:"routeScopes,omitempty"`
	Budgets     []BudgetRule `json:"budgets,omitempty"`
	RPMLimits   []RpmRule    `json:"rpmLimits,omitempty"`
}

// Value implements driver.Valuer
func (r PolicyRules) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner
func (r *PolicyRules) Scan(src interface{}) error {
	return scanJSON(src, r)
}

// DecodePolicyRules strictly decodes a rules payload, rejecting unknown
// fields, then validates every rule.
func DecodePolicyRules(data []byte) (PolicyRules, error) {
	var rules PolicyRules
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rules); err != nil {
		return PolicyRules{}, fmt.Errorf("decode policy rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return PolicyRules{}, err
	}
	return rules, nil
}

// Validate checks every rule of every kind
func (r PolicyRules) Validate() error {
	for i, rule := range r.DenyIf {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("%s[%d]: %w", RuleKindDeny, i, err)
		}
	}
	for i, rule := range r.RouteScopes {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("%s[%d]: %w", RuleKindScope, i, err)
		}
	}
	for i, rule := range r.Budgets {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("%s[%d]: %w", RuleKindBudget, i, err)
		}
	}
	for i, rule := range r.RPMLimits {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("%s[%d]: %w", RuleKindRPM, i, err)
		}
	}
	return nil
}

// Deny rule fields
const (
	FieldNetwork = "network"
	FieldScheme  = "scheme"
	FieldAsset   = "asset"
	FieldAmount  = "amount"
	FieldRouteID = "routeId"
	FieldPath    = "path"
	FieldMethod  = "method"
)

// Deny rule operators
const (
	OpIn    = "in"
	OpNotIn = "not_in"
	OpEq    = "eq"
	OpNeq   = "neq"
	OpGt    = "gt"
	OpGte   = "gte"
	OpLt    = "lt"
	OpLte   = "lte"
)

// DenyRule denies the attempt when Field Op Values holds
type DenyRule struct {
	Field  string   `json:"field"`
	Op     string   `json:"op"`
	Values []string `json:"values"`
}

// Validate checks the field/op combination
func (d DenyRule) Validate() error {
	switch d.Field {
	case FieldNetwork, FieldScheme, FieldAsset, FieldRouteID, FieldPath, FieldMethod:
		switch d.Op {
		case OpIn, OpNotIn, OpEq, OpNeq:
		default:
			return fmt.Errorf("operator %q not allowed for field %q", d.Op, d.Field)
		}
	case FieldAmount:
		switch d.Op {
		case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte:
		default:
			return fmt.Errorf("operator %q not allowed for field %q", d.Op, d.Field)
		}
		for _, v := range d.Values {
			if _, err := decimal.NewFromString(v); err != nil {
				return fmt.Errorf("amount value %q is not a decimal", v)
			}
		}
	default:
		return fmt.Errorf("unknown field %q", d.Field)
	}
	if len(d.Values) == 0 {
		return fmt.Errorf("values must not be empty")
	}
	if (d.Op == OpEq || d.Op == OpNeq || d.Field == FieldAmount) && len(d.Values) != 1 {
		return fmt.Errorf("operator %q takes exactly one value", d.Op)
	}
	return nil
}

// ScopeRule admits a route by id or by path prefix
type ScopeRule struct {
	RouteID    string `json:"routeId,omitempty"`
	PathPrefix string `json:"pathPrefix,omitempty"`
}

// Validate requires exactly one selector
func (s ScopeRule) Validate() error {
	if (s.RouteID == "") == (s.PathPrefix == "") {
		return fmt.Errorf("exactly one of routeId or pathPrefix is required")
	}
	return nil
}

// Covers reports whether the scope admits the route
func (s ScopeRule) Covers(route *Route) bool {
	if s.RouteID != "" {
		return s.RouteID == route.RouteID
	}
	return strings.HasPrefix(route.Path, s.PathPrefix)
}

// Budget periods
const (
	PeriodHour  = "hour"
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

var periodDurations = map[string]time.Duration{
	PeriodHour:  time.Hour,
	PeriodDay:   24 * time.Hour,
	PeriodWeek:  7 * 24 * time.Hour,
	PeriodMonth: 30 * 24 * time.Hour,
}

// BudgetRule caps settled spend inside a fixed window or a rolling period
type BudgetRule struct {
	LimitUSD    string     `json:"limitUsd"`
	Period      string     `json:"period,omitempty"`
	WindowStart *time.Time `json:"windowStart,omitempty"`
	WindowEnd   *time.Time `json:"windowEnd,omitempty"`
	RouteID     string     `json:"routeId,omitempty"`
}

// Validate checks the limit and the window definition
func (b BudgetRule) Validate() error {
	limit, err := decimal.NewFromString(b.LimitUSD)
	if err != nil {
		return fmt.Errorf("limitUsd %q is not a decimal", b.LimitUSD)
	}
	if limit.IsNegative() {
		return fmt.Errorf("limitUsd must not be negative")
	}
	fixed := b.WindowStart != nil || b.WindowEnd != nil
	switch {
	case fixed && b.Period != "":
		return fmt.Errorf("period and fixed window are mutually exclusive")
	case fixed:
		if b.WindowStart == nil || b.WindowEnd == nil {
			return fmt.Errorf("fixed window needs both windowStart and windowEnd")
		}
		if !b.WindowStart.Before(*b.WindowEnd) {
			return fmt.Errorf("windowStart must be before windowEnd")
		}
	default:
		if _, ok := periodDurations[b.Period]; !ok {
			return fmt.Errorf("unknown period %q", b.Period)
		}
	}
	return nil
}

// Window resolves the budget window at now. ok is false when now lies
// outside a fixed window, in which case the budget does not apply.
func (b BudgetRule) Window(now time.Time) (start, end time.Time, ok bool) {
	if b.WindowStart != nil && b.WindowEnd != nil {
		if now.Before(*b.WindowStart) || !now.Before(*b.WindowEnd) {
			return time.Time{}, time.Time{}, false
		}
		return *b.WindowStart, *b.WindowEnd, true
	}
	return now.Add(-periodDurations[b.Period]), now, true
}

// Limit returns the parsed limit; Validate guarantees it parses
func (b BudgetRule) Limit() decimal.Decimal {
	limit, _ := decimal.NewFromString(b.LimitUSD)
	return limit
}

// RpmRule caps requests per minute on each tenant route. RouteID narrows the
// rule to a single route.
type RpmRule struct {
	RouteID string `json:"routeId,omitempty"`
	Limit   int    `json:"limit"`
}

// Validate requires a positive limit
func (r RpmRule) Validate() error {
	if r.Limit <= 0 {
		return fmt.Errorf("limit must be positive")
	}
	return nil
}
