package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"p402-router/internal/models"
	"p402-router/internal/redisclient"
	"p402-router/internal/registry"
	"p402-router/internal/service"
	"p402-router/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRouter struct {
	planReq   *service.PlanRequest
	verifyReq *service.VerifyRequest
	err       error
}

func (s *stubRouter) Plan(ctx context.Context, req *service.PlanRequest) (*service.PlanResponse, error) {
	s.planReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &service.PlanResponse{FacilitatorID: "F1", DecisionID: "d1"}, nil
}

func (s *stubRouter) Verify(ctx context.Context, req *service.VerifyRequest) (*service.VerifyResponse, error) {
	s.verifyReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &service.VerifyResponse{Verified: true, FacilitatorID: "F1"}, nil
}

type stubCatalog struct {
	routes      []*models.Route
	policy      *models.Policy
	policyErr   error
	routeErr    error
	deactErr    error
	deactivated []string
}

func (s *stubCatalog) CreateRoute(ctx context.Context, route *models.Route) error {
	if s.routeErr != nil {
		return s.routeErr
	}
	s.routes = append(s.routes, route)
	return nil
}

func (s *stubCatalog) UpsertPolicy(ctx context.Context, pol *models.Policy) error {
	if s.policyErr != nil {
		return s.policyErr
	}
	if pol.PolicyID == "" {
		pol.PolicyID = "generated"
	}
	pol.Version = 1
	s.policy = pol
	return nil
}

func (s *stubCatalog) ListRoutes(ctx context.Context, tenantID string) ([]models.Route, error) {
	var out []models.Route
	for _, r := range s.routes {
		if r.TenantID == tenantID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *stubCatalog) DeactivateFacilitator(ctx context.Context, tenantID, facilitatorID string) error {
	if s.deactErr != nil {
		return s.deactErr
	}
	s.deactivated = append(s.deactivated, facilitatorID)
	return nil
}

func (s *stubCatalog) ListEvents(ctx context.Context, tenantID string, limit int) ([]models.Event, error) {
	return []models.Event{{EventID: "e1", TenantID: tenantID}}, nil
}

type stubFacilitators struct {
	importErr error
	refreshes int
}

func (s *stubFacilitators) Refresh(ctx context.Context) error {
	s.refreshes++
	return nil
}

func (s *stubFacilitators) ListCandidates(network, scheme, asset, tenantID string) []models.Facilitator {
	return []models.Facilitator{{FacilitatorID: "F1", Networks: []string{network}}}
}

func (s *stubFacilitators) ImportGlobal(ctx context.Context, facilitatorID, tenantID string) (*models.Facilitator, error) {
	if s.importErr != nil {
		return nil, s.importErr
	}
	return &models.Facilitator{FacilitatorID: "copy", TenantID: &tenantID, Type: models.FacilitatorTypePrivate}, nil
}

type stubAnalytics struct{}

func (stubAnalytics) GetAnalytics(ctx context.Context, tenantID, day string) (*redisclient.DailyAnalytics, error) {
	return &redisclient.DailyAnalytics{TenantID: tenantID, Day: day, Attempts: 3, Spend: "0.02"}, nil
}

type testServer struct {
	engine       *gin.Engine
	router       *stubRouter
	catalog      *stubCatalog
	facilitators *stubFacilitators
	handler      *Handler
}

func newTestServer() *testServer {
	gin.SetMode(gin.TestMode)
	ts := &testServer{
		engine:       gin.New(),
		router:       &stubRouter{},
		catalog:      &stubCatalog{},
		facilitators: &stubFacilitators{},
	}
	ts.handler = NewHandler(ts.router, ts.catalog, ts.facilitators, stubAnalytics{})
	ts.handler.SetupRoutes(ts.engine)
	return ts
}

func (ts *testServer) do(method, path, tenant string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestPlanUsesTenantHeader(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodPost, "/router/plan", "t1", map[string]interface{}{
		"routeId": "r1",
		"payment": map[string]string{"network": "chain-8453", "scheme": "exact", "amount": "0.01", "asset": "USDC"},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	require.NotNil(t, ts.router.planReq)
	assert.Equal(t, "t1", ts.router.planReq.TenantID)
	assert.Equal(t, "0.01", ts.router.planReq.Payment.Amount)
}

func TestRequestIDEchoed(t *testing.T) {
	ts := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}

func TestPlanMalformedBody(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodPost, "/router/plan", "t1", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, w))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		code   models.Code
		status int
	}{
		{models.CodeInvalidInput, http.StatusBadRequest},
		{models.CodeRouteNotFound, http.StatusNotFound},
		{models.CodeBudgetExceeded, http.StatusForbidden},
		{models.CodeRateLimited, http.StatusForbidden},
		{models.CodeRouteNotScoped, http.StatusForbidden},
		{models.CodeScopeDenied, http.StatusForbidden},
		{models.CodeNoFacilitatorAvailable, http.StatusServiceUnavailable},
		{models.CodeVerificationTimeout, http.StatusServiceUnavailable},
		{models.CodeOracleUnavailable, http.StatusServiceUnavailable},
		{models.CodeReplayDetected, http.StatusConflict},
		{models.CodeInvalidSignature, http.StatusPaymentRequired},
		{models.CodeAuthorizationExpired, http.StatusPaymentRequired},
		{models.CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			ts := newTestServer()
			ts.router.err = models.NewRouterError(tt.code, "boom")

			w := ts.do(http.MethodPost, "/router/verify", "", map[string]interface{}{"tenantId": "t1"})
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, string(tt.code), errorCode(t, w))
		})
	}
}

func TestUncodedErrorIsInternal(t *testing.T) {
	ts := newTestServer()
	ts.router.err = errors.New("db exploded with secrets")

	w := ts.do(http.MethodPost, "/router/plan", "t1", map[string]string{"routeId": "r1"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL", errorCode(t, w))
	assert.NotContains(t, w.Body.String(), "secrets")
}

func TestVerifyTenantMismatch(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodPost, "/router/verify", "t2", map[string]interface{}{"tenantId": "t1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, ts.router.verifyReq)
}

func TestCreateRoute(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodPost, "/router/routes", "t1", map[string]interface{}{
		"method": "get",
		"path":   "/api/weather",
		"accepts": []map[string]string{
			{"scheme": "exact", "network": "chain-8453", "asset": "USDC", "amount": "0.01"},
		},
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, ts.catalog.routes, 1)
	assert.Equal(t, "GET", ts.catalog.routes[0].Method)
	assert.Equal(t, "t1", ts.catalog.routes[0].TenantID)
	assert.NotEmpty(t, ts.catalog.routes[0].RouteID)
}

func TestCreateRouteConflictAndValidation(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodPost, "/router/routes", "t1", map[string]string{"method": "GET", "path": "no-slash"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.catalog.routeErr = store.ErrAlreadyExists
	w = ts.do(http.MethodPost, "/router/routes", "t1", map[string]string{"method": "GET", "path": "/x"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_EXISTS", errorCode(t, w))
}

func TestTenantHeaderRequired(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodGet, "/router/events", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, w))
}

func TestUpsertPolicyStrictRules(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodPut, "/router/policies", "t1", `{"rules":{"budgets":[{"limitUsd":"10","period":"day"}]}}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, ts.catalog.policy)
	assert.Equal(t, "t1", ts.catalog.policy.TenantID)
	require.Len(t, ts.catalog.policy.Rules.Budgets, 1)

	w = ts.do(http.MethodPut, "/router/policies", "t1", `{"rules":{"surprise":true}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpsertPolicyOtherTenant(t *testing.T) {
	ts := newTestServer()
	ts.catalog.policyErr = store.ErrNotFound

	w := ts.do(http.MethodPut, "/router/policies", "t1", `{"policyId":"p-owned-by-t2","rules":{}}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImportFacilitatorErrors(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodPost, "/router/facilitators/g1/import", "t1", nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	ts.facilitators.importErr = registry.ErrAlreadyExists
	w = ts.do(http.MethodPost, "/router/facilitators/g1/import", "t1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	ts.facilitators.importErr = registry.ErrNotFound
	w = ts.do(http.MethodPost, "/router/facilitators/p1/import", "t1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListFacilitatorsRequiresNetwork(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodGet, "/router/facilitators", "t1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodGet, "/router/facilitators?network=chain-8453", "t1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAnalyticsDate(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodGet, "/router/analytics?date=2026-10-14", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out redisclient.DailyAnalytics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "2026-10-14", out.Day)
	assert.Equal(t, int64(3), out.Attempts)

	w = ts.do(http.MethodGet, "/router/analytics?date=yesterday", "t1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReadiness(t *testing.T) {
	ts := newTestServer()
	ts.handler.AddReadinessCheck("database", func(ctx context.Context) error { return errors.New("down") })

	w := ts.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListRoutesScopedToTenant(t *testing.T) {
	ts := newTestServer()
	ts.catalog.routes = []*models.Route{
		{RouteID: "r1", TenantID: "t1", Method: "GET", Path: "/a"},
		{RouteID: "r2", TenantID: "t2", Method: "GET", Path: "/b"},
	}

	w := ts.do(http.MethodGet, "/router/routes", "t1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Routes []models.Route `json:"routes"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "r1", body.Routes[0].RouteID)
}

func TestDeactivateFacilitator(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodDelete, "/router/facilitators/p1", "t1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"p1"}, ts.catalog.deactivated)
	assert.Equal(t, 1, ts.facilitators.refreshes)

	ts.catalog.deactErr = store.ErrNotFound
	w = ts.do(http.MethodDelete, "/router/facilitators/g1", "t1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 1, ts.facilitators.refreshes)
}

func TestVerifyErrorCarriesDenyCode(t *testing.T) {
	ts := newTestServer()
	ts.router.err = models.NewRouterError(models.CodeReplayDetected, "authorization already used")

	w := ts.do(http.MethodPost, "/router/verify", "t1", map[string]interface{}{"tenantId": "t1"})
	require.Equal(t, http.StatusConflict, w.Code)

	var body struct {
		Verified *bool  `json:"verified"`
		DenyCode string `json:"denyCode"`
		Error    struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Verified)
	assert.False(t, *body.Verified)
	assert.Equal(t, "REPLAY_DETECTED", body.DenyCode)
	assert.Equal(t, "REPLAY_DETECTED", body.Error.Code)
}

func TestPlanErrorKeepsErrorShape(t *testing.T) {
	ts := newTestServer()
	ts.router.err = models.NewRouterError(models.CodeBudgetExceeded, "over budget")

	w := ts.do(http.MethodPost, "/router/plan", "t1", map[string]string{"routeId": "r1"})
	require.Equal(t, http.StatusForbidden, w.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "error")
	assert.NotContains(t, body, "denyCode")
}

func TestAdminBodiesRequireFields(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodPost, "/router/routes", "t1", map[string]string{"path": "/x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, w))
	assert.Empty(t, ts.catalog.routes)

	w = ts.do(http.MethodPut, "/router/policies", "t1", `{"policyId":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, ts.catalog.policy)
}
