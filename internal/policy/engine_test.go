package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"p402-router/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSpend struct {
	total decimal.Decimal
	err   error
	calls int
	from  time.Time
	to    time.Time
}

func (f *fakeSpend) SumSpend(ctx context.Context, tenantID, routeID string, from, to time.Time) (decimal.Decimal, error) {
	f.calls++
	f.from, f.to = from, to
	return f.total, f.err
}

// fakeCounter keeps one count per tenant and route key
type fakeCounter struct {
	counts map[string]int64
	calls  int
}

func (f *fakeCounter) Increment(ctx context.Context, tenantID, routeID string, window time.Duration) (int64, error) {
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.calls++
	key := tenantID + ":" + routeID
	f.counts[key]++
	return f.counts[key], nil
}

var fixedNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func newTestEngine(spend *fakeSpend, counter *fakeCounter) *Engine {
	e := NewEngine(spend, counter)
	e.now = func() time.Time { return fixedNow }
	return e
}

func testRoute() *models.Route {
	return &models.Route{RouteID: "r1", TenantID: "t1", Method: "GET", Path: "/api/weather"}
}

func testPayment(amount string) models.Payment {
	return models.Payment{Network: "chain-8453", Scheme: "exact", Amount: amount, Asset: "USDC"}
}

func policyWith(rules models.PolicyRules) *models.Policy {
	return &models.Policy{PolicyID: "p1", TenantID: "t1", Rules: rules, Version: 1, Active: true}
}

func TestEvaluateNoPolicyAllows(t *testing.T) {
	e := newTestEngine(&fakeSpend{}, &fakeCounter{})

	v, err := e.Evaluate(context.Background(), "t1", nil, testRoute(), testPayment("0.01"))
	require.NoError(t, err)
	assert.True(t, v.Allow)
	assert.Empty(t, v.DenyCode)
}

func TestEvaluateEmptyRulesAllow(t *testing.T) {
	e := newTestEngine(&fakeSpend{}, &fakeCounter{})

	v, err := e.Evaluate(context.Background(), "t1", policyWith(models.PolicyRules{}), testRoute(), testPayment("0.01"))
	require.NoError(t, err)
	assert.True(t, v.Allow)
}

func TestEvaluateBudgetExceeded(t *testing.T) {
	spend := &fakeSpend{total: decimal.RequireFromString("9.995")}
	e := newTestEngine(spend, &fakeCounter{})
	pol := policyWith(models.PolicyRules{
		Budgets: []models.BudgetRule{{LimitUSD: "10", Period: models.PeriodDay}},
	})

	v, err := e.Evaluate(context.Background(), "t1", pol, testRoute(), testPayment("0.01"))
	require.NoError(t, err)
	assert.False(t, v.Allow)
	assert.Equal(t, models.CodeBudgetExceeded, v.DenyCode)
	assert.Equal(t, "budgets[0]", v.MatchedRule)
	assert.Equal(t, fixedNow.Add(-24*time.Hour), spend.from)
	assert.Equal(t, fixedNow, spend.to)
}

func TestEvaluateBudgetExactlyAtLimitAllows(t *testing.T) {
	spend := &fakeSpend{total: decimal.RequireFromString("9.99")}
	e := newTestEngine(spend, &fakeCounter{})
	pol := policyWith(models.PolicyRules{
		Budgets: []models.BudgetRule{{LimitUSD: "10", Period: models.PeriodDay}},
	})

	v, err := e.Evaluate(context.Background(), "t1", pol, testRoute(), testPayment("0.01"))
	require.NoError(t, err)
	assert.True(t, v.Allow)
}

func TestEvaluateFixedWindowOutsideIsSkipped(t *testing.T) {
	start := fixedNow.Add(-48 * time.Hour)
	end := fixedNow.Add(-24 * time.Hour)
	spend := &fakeSpend{total: decimal.RequireFromString("100")}
	e := newTestEngine(spend, &fakeCounter{})
	pol := policyWith(models.PolicyRules{
		Budgets: []models.BudgetRule{{LimitUSD: "1", WindowStart: &start, WindowEnd: &end}},
	})

	v, err := e.Evaluate(context.Background(), "t1", pol, testRoute(), testPayment("0.01"))
	require.NoError(t, err)
	assert.True(t, v.Allow)
	assert.Zero(t, spend.calls)
}

func TestEvaluateFirstDenialWins(t *testing.T) {
	spend := &fakeSpend{total: decimal.RequireFromString("1000")}
	counter := &fakeCounter{}
	e := newTestEngine(spend, counter)
	pol := policyWith(models.PolicyRules{
		DenyIf:    []models.DenyRule{{Field: models.FieldNetwork, Op: models.OpNotIn, Values: []string{"chain-1"}}},
		Budgets:   []models.BudgetRule{{LimitUSD: "10", Period: models.PeriodDay}},
		RPMLimits: []models.RpmRule{{Limit: 1}},
	})

	v, err := e.Evaluate(context.Background(), "t1", pol, testRoute(), testPayment("0.01"))
	require.NoError(t, err)
	assert.Equal(t, models.CodeScopeDenied, v.DenyCode)
	assert.Equal(t, "denyIf[0]", v.MatchedRule)
	assert.Zero(t, spend.calls, "budget must not be evaluated after a deny rule fires")
	assert.Zero(t, counter.calls, "rate limit must not be evaluated after a deny rule fires")
}

func TestEvaluateRouteNotScoped(t *testing.T) {
	e := newTestEngine(&fakeSpend{}, &fakeCounter{})
	pol := policyWith(models.PolicyRules{
		RouteScopes: []models.ScopeRule{{RouteID: "r2"}, {PathPrefix: "/api/news"}},
	})

	v, err := e.Evaluate(context.Background(), "t1", pol, testRoute(), testPayment("0.01"))
	require.NoError(t, err)
	assert.Equal(t, models.CodeRouteNotScoped, v.DenyCode)

	pol.Rules.RouteScopes = append(pol.Rules.RouteScopes, models.ScopeRule{PathPrefix: "/api/"})
	v, err = e.Evaluate(context.Background(), "t1", pol, testRoute(), testPayment("0.01"))
	require.NoError(t, err)
	assert.True(t, v.Allow)
}

func TestEvaluateRateLimited(t *testing.T) {
	counter := &fakeCounter{}
	e := newTestEngine(&fakeSpend{}, counter)
	pol := policyWith(models.PolicyRules{RPMLimits: []models.RpmRule{{Limit: 2}}})

	for i := 0; i < 2; i++ {
		v, err := e.Evaluate(context.Background(), "t1", pol, testRoute(), testPayment("0.01"))
		require.NoError(t, err)
		assert.True(t, v.Allow)
	}

	v, err := e.Evaluate(context.Background(), "t1", pol, testRoute(), testPayment("0.01"))
	require.NoError(t, err)
	assert.Equal(t, models.CodeRateLimited, v.DenyCode)
}

func TestEvaluateRuleScopedToOtherRouteIgnored(t *testing.T) {
	counter := &fakeCounter{}
	spend := &fakeSpend{total: decimal.RequireFromString("99")}
	e := newTestEngine(spend, counter)
	pol := policyWith(models.PolicyRules{
		Budgets:   []models.BudgetRule{{LimitUSD: "1", Period: models.PeriodHour, RouteID: "r2"}},
		RPMLimits: []models.RpmRule{{Limit: 1, RouteID: "r2"}},
	})

	v, err := e.Evaluate(context.Background(), "t1", pol, testRoute(), testPayment("0.01"))
	require.NoError(t, err)
	assert.True(t, v.Allow)
	assert.Zero(t, spend.calls)
	assert.Zero(t, counter.calls)
}

func TestEvaluateAmountDenyRule(t *testing.T) {
	e := newTestEngine(&fakeSpend{}, &fakeCounter{})
	pol := policyWith(models.PolicyRules{
		DenyIf: []models.DenyRule{{Field: models.FieldAmount, Op: models.OpGt, Values: []string{"1"}}},
	})

	v, err := e.Evaluate(context.Background(), "t1", pol, testRoute(), testPayment("1.5"))
	require.NoError(t, err)
	assert.Equal(t, models.CodeScopeDenied, v.DenyCode)

	v, err = e.Evaluate(context.Background(), "t1", pol, testRoute(), testPayment("1"))
	require.NoError(t, err)
	assert.True(t, v.Allow)
}

func TestEvaluateSpendErrorPropagates(t *testing.T) {
	e := newTestEngine(&fakeSpend{err: errors.New("db down")}, &fakeCounter{})
	pol := policyWith(models.PolicyRules{
		Budgets: []models.BudgetRule{{LimitUSD: "10", Period: models.PeriodDay}},
	})

	_, err := e.Evaluate(context.Background(), "t1", pol, testRoute(), testPayment("0.01"))
	assert.Error(t, err)
}

func TestEvaluateOverlappingRPMRulesCountOnce(t *testing.T) {
	counter := &fakeCounter{}
	e := newTestEngine(&fakeSpend{}, counter)
	pol := policyWith(models.PolicyRules{RPMLimits: []models.RpmRule{{Limit: 10}, {Limit: 10}, {Limit: 10, RouteID: "r1"}}})

	for i := 0; i < 10; i++ {
		v, err := e.Evaluate(context.Background(), "t1", pol, testRoute(), testPayment("0.01"))
		require.NoError(t, err)
		require.True(t, v.Allow, "request %d", i+1)
	}
	assert.Equal(t, 10, counter.calls)
	assert.Equal(t, int64(10), counter.counts["t1:r1"])

	v, err := e.Evaluate(context.Background(), "t1", pol, testRoute(), testPayment("0.01"))
	require.NoError(t, err)
	assert.Equal(t, models.CodeRateLimited, v.DenyCode)
}

func TestEvaluateRPMCountsPerRoute(t *testing.T) {
	counter := &fakeCounter{}
	e := newTestEngine(&fakeSpend{}, counter)
	pol := policyWith(models.PolicyRules{RPMLimits: []models.RpmRule{{Limit: 2}}})

	for i := 0; i < 2; i++ {
		v, err := e.Evaluate(context.Background(), "t1", pol, testRoute(), testPayment("0.01"))
		require.NoError(t, err)
		require.True(t, v.Allow)
	}

	other := testRoute()
	other.RouteID = "r2"
	v, err := e.Evaluate(context.Background(), "t1", pol, other, testPayment("0.01"))
	require.NoError(t, err)
	assert.True(t, v.Allow)
	assert.Equal(t, int64(1), counter.counts["t1:r2"])
}
