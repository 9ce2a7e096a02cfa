package http

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/user-service/internal/access"
	"github.com/spec-kit/user-service/internal/api/http/handlers"
	"github.com/spec-kit/user-service/internal/auth"
)

// Route binds a handler to a method, path and guard policy.
type Route struct {
	Method  string
	Path    string
	Policy  auth.RoutePolicy
	Handler fiber.Handler
}

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health *handlers.HealthHandler
	Guard  *auth.Guard
	Routes []Route
}

// UserRoutes declares the /user endpoints. Members may only see and modify
// their own account; list queries are narrowed rather than rejected.
func UserRoutes(users *handlers.UsersHandler) []Route {
	return []Route{
		{http.MethodGet, "/user", auth.RestrictedRoute(access.Rule{Field: "ids", Location: access.LocationQuery, List: true}), users.Find},
		{http.MethodGet, "/user/:id", auth.RestrictedRoute(access.Rule{Field: "id", Location: access.LocationPath, ThrowOnMismatch: true}), users.FindOne},
		{http.MethodPost, "/user", auth.PublicRoute(), users.Create},
		{http.MethodPatch, "/user", auth.RestrictedRoute(access.Rule{Field: "id", Location: access.LocationBody, ThrowOnMismatch: true}), users.Update},
		{http.MethodDelete, "/user", auth.RestrictedRoute(access.Rule{Field: "id", Location: access.LocationBody, ThrowOnMismatch: true}), users.Delete},
		{http.MethodPost, "/user/validate", auth.PublicRoute(), users.Validate},
		{http.MethodPost, "/user/authenticate", auth.PublicRoute(), users.Authenticate},
		{http.MethodPost, "/user/token", auth.PublicRoute(), users.Token},
	}
}

// BuildRouteTable collects route policies for the guard.
func BuildRouteTable(routes []Route) (auth.RouteTable, error) {
	table := auth.RouteTable{}
	for _, r := range routes {
		if err := table.Register(r.Method, r.Path, r.Policy); err != nil {
			return nil, fmt.Errorf("route table: %w", err)
		}
	}
	return table, nil
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	for _, r := range cfg.Routes {
		app.Add(r.Method, r.Path, cfg.Guard.Route(auth.RouteKey(r.Method, r.Path)), r.Handler)
	}
}
