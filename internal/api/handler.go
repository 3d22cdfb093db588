package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"p402-router/internal/models"
	"p402-router/internal/redisclient"
	"p402-router/internal/registry"
	"p402-router/internal/service"
	"p402-router/internal/store"
	"p402-router/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// TenantHeader carries the authenticated tenant for tenant-scoped endpoints
const TenantHeader = "X-Tenant-ID"

// Router is satisfied by service.RouterService
type Router interface {
	Plan(ctx context.Context, req *service.PlanRequest) (*service.PlanResponse, error)
	Verify(ctx context.Context, req *service.VerifyRequest) (*service.VerifyResponse, error)
}

// Catalog persists routes, policies and events
type Catalog interface {
	CreateRoute(ctx context.Context, route *models.Route) error
	ListRoutes(ctx context.Context, tenantID string) ([]models.Route, error)
	UpsertPolicy(ctx context.Context, pol *models.Policy) error
	ListEvents(ctx context.Context, tenantID string, limit int) ([]models.Event, error)
	DeactivateFacilitator(ctx context.Context, tenantID, facilitatorID string) error
}

// Facilitators is satisfied by registry.Registry
type Facilitators interface {
	ListCandidates(network, scheme, asset, tenantID string) []models.Facilitator
	ImportGlobal(ctx context.Context, facilitatorID, tenantID string) (*models.Facilitator, error)
	Refresh(ctx context.Context) error
}

// Analytics is satisfied by redisclient.Client
type Analytics interface {
	GetAnalytics(ctx context.Context, tenantID, day string) (*redisclient.DailyAnalytics, error)
}

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	router       Router
	catalog      Catalog
	facilitators Facilitators
	analytics    Analytics
	checks       map[string]ReadinessCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(router Router, catalog Catalog, facilitators Facilitators, analytics Analytics) *Handler {
	return &Handler{
		router:       router,
		catalog:      catalog,
		facilitators: facilitators,
		analytics:    analytics,
		checks:       make(map[string]ReadinessCheck),
	}
}

// AddReadinessCheck registers a dependency probed by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(prometheusMiddleware())
	router.Use(loggingMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r := router.Group("/router")
	{
		r.POST("/plan", h.plan)
		r.POST("/verify", h.verify)

		r.POST("/routes", h.createRoute)
		r.GET("/routes", h.listRoutes)
		r.PUT("/policies", h.upsertPolicy)
		r.GET("/facilitators", h.listFacilitators)
		r.POST("/facilitators/:id/import", h.importFacilitator)
		r.DELETE("/facilitators/:id", h.deactivateFacilitator)
		r.GET("/analytics", h.getAnalytics)
		r.GET("/events", h.listEvents)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck probes every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// plan handles payment planning
func (h *Handler) plan(c *gin.Context) {
	var req service.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.NewRouterError(models.CodeInvalidInput, "invalid request body").WithDetail("reason", err.Error()))
		return
	}
	req.TenantID = c.GetHeader(TenantHeader)

	resp, err := h.router.Plan(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// verify handles signed payment verification
func (h *Handler) verify(c *gin.Context) {
	var req service.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeVerifyError(c, models.NewRouterError(models.CodeInvalidInput, "invalid request body").WithDetail("reason", err.Error()))
		return
	}

	if header := c.GetHeader(TenantHeader); header != "" {
		if req.TenantID != "" && req.TenantID != header {
			writeVerifyError(c, models.NewRouterError(models.CodeInvalidInput, "tenantId does not match %s", TenantHeader))
			return
		}
		req.TenantID = header
	}

	resp, err := h.router.Verify(c.Request.Context(), &req)
	if err != nil {
		writeVerifyError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type createRouteRequest struct {
	RouteID string                  `json:"routeId"`
	Method  string                  `json:"method" binding:"required"`
	Path    string                  `json:"path" binding:"required"`
	Accepts models.AcceptedPayments `json:"accepts"`
}

// createRoute publishes a tenant route
func (h *Handler) createRoute(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}

	var req createRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.NewRouterError(models.CodeInvalidInput, "invalid request body").WithDetail("reason", err.Error()))
		return
	}

	route := &models.Route{
		RouteID:  req.RouteID,
		TenantID: tenantID,
		Method:   strings.ToUpper(req.Method),
		Path:     req.Path,
		Accepts:  req.Accepts,
	}
	if route.RouteID == "" {
		route.RouteID = uuid.New().String()
	}
	if err := route.Validate(); err != nil {
		writeError(c, models.NewRouterError(models.CodeInvalidInput, "%s", err.Error()))
		return
	}

	if err := h.catalog.CreateRoute(c.Request.Context(), route); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			writeError(c, models.NewRouterError(models.CodeAlreadyExists, "route already exists"))
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, route)
}

// listRoutes returns the tenant's published routes
func (h *Handler) listRoutes(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}

	routes, err := h.catalog.ListRoutes(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"routes": routes,
		"count":  len(routes),
	})
}

type upsertPolicyRequest struct {
	PolicyID string          `json:"policyId"`
	Rules    json.RawMessage `json:"rules" binding:"required"`
}

// upsertPolicy creates or replaces the tenant's active policy
func (h *Handler) upsertPolicy(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}

	var req upsertPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.NewRouterError(models.CodeInvalidInput, "invalid request body").WithDetail("reason", err.Error()))
		return
	}
	rules, err := models.DecodePolicyRules(req.Rules)
	if err != nil {
		writeError(c, models.NewRouterError(models.CodeInvalidInput, "%s", err.Error()))
		return
	}

	pol := &models.Policy{
		PolicyID: req.PolicyID,
		TenantID: tenantID,
		Rules:    rules,
		Active:   true,
	}
	if err := h.catalog.UpsertPolicy(c.Request.Context(), pol); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, models.NewRouterError(models.CodeNotFound, "policy not found"))
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pol)
}

// listFacilitators returns the ranked candidates for a payment triple
func (h *Handler) listFacilitators(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}

	network := c.Query("network")
	if network == "" {
		writeError(c, models.NewRouterError(models.CodeInvalidInput, "network is required"))
		return
	}

	candidates := h.facilitators.ListCandidates(network, c.Query("scheme"), c.Query("asset"), tenantID)
	c.JSON(http.StatusOK, gin.H{
		"facilitators": candidates,
		"count":        len(candidates),
	})
}

// importFacilitator copies a Global facilitator into the tenant
func (h *Handler) importFacilitator(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}

	f, err := h.facilitators.ImportGlobal(c.Request.Context(), c.Param("id"), tenantID)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			writeError(c, models.NewRouterError(models.CodeNotFound, "global facilitator not found"))
		case errors.Is(err, registry.ErrAlreadyExists):
			writeError(c, models.NewRouterError(models.CodeAlreadyExists, "facilitator already imported"))
		default:
			writeError(c, err)
		}
		return
	}

	c.JSON(http.StatusCreated, f)
}

// deactivateFacilitator retires one of the tenant's private facilitators.
// Global rows carry a NULL tenant_id and never match.
func (h *Handler) deactivateFacilitator(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.catalog.DeactivateFacilitator(ctx, tenantID, c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, models.NewRouterError(models.CodeNotFound, "facilitator not found"))
			return
		}
		writeError(c, err)
		return
	}

	if err := h.facilitators.Refresh(ctx); err != nil {
		util.GetLogger().Warn("Registry refresh after deactivation failed",
			zap.String("facilitator_id", c.Param("id")),
			zap.Error(err))
	}

	c.Status(http.StatusNoContent)
}

// getAnalytics returns the tenant's aggregates for a UTC day
func (h *Handler) getAnalytics(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}

	day := c.DefaultQuery("date", time.Now().UTC().Format("2006-01-02"))
	if _, err := time.Parse("2006-01-02", day); err != nil {
		writeError(c, models.NewRouterError(models.CodeInvalidInput, "date must be YYYY-MM-DD"))
		return
	}

	out, err := h.analytics.GetAnalytics(c.Request.Context(), tenantID, day)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, out)
}

// listEvents returns the tenant's recent attempt events
func (h *Handler) listEvents(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		writeError(c, models.NewRouterError(models.CodeInvalidInput, "limit must be a positive integer"))
		return
	}

	events, err := h.catalog.ListEvents(c.Request.Context(), tenantID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

func requireTenant(c *gin.Context) (string, bool) {
	tenantID := c.GetHeader(TenantHeader)
	if tenantID == "" {
		writeError(c, models.NewRouterError(models.CodeInvalidInput, "%s header is required", TenantHeader))
		return "", false
	}
	return tenantID, true
}
