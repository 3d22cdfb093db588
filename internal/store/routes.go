package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"p402-router/internal/models"
)

// CreateRoute publishes a route. Routes are immutable once published.
func (s *Store) CreateRoute(ctx context.Context, route *models.Route) error {
	query := `
		INSERT INTO routes (route_id, tenant_id, method, path, accepts)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	err := s.db.GetContext(ctx, &route.CreatedAt, query,
		route.RouteID, route.TenantID, route.Method, route.Path, route.Accepts)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create route: %w", err)
	}
	return nil
}

// GetRoute retrieves a route owned by tenantID
func (s *Store) GetRoute(ctx context.Context, tenantID, routeID string) (*models.Route, error) {
	var route models.Route
	err := s.db.GetContext(ctx, &route,
		"SELECT * FROM routes WHERE tenant_id = $1 AND route_id = $2", tenantID, routeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &route, nil
}

// FindRouteByPath resolves a tenant's route by path. An empty method
// matches any method.
func (s *Store) FindRouteByPath(ctx context.Context, tenantID, method, path string) (*models.Route, error) {
	var route models.Route
	err := s.db.GetContext(ctx, &route, `
		SELECT * FROM routes
		WHERE tenant_id = $1 AND path = $2 AND ($3 = '' OR method = $3)
		ORDER BY method
		LIMIT 1`, tenantID, path, method)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &route, nil
}

// ListRoutes lists a tenant's routes
func (s *Store) ListRoutes(ctx context.Context, tenantID string) ([]models.Route, error) {
	var routes []models.Route
	err := s.db.SelectContext(ctx, &routes,
		"SELECT * FROM routes WHERE tenant_id = $1 ORDER BY created_at", tenantID)
	return routes, err
}
