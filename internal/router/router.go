package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/sqlpractice-api/internal/config"
	"github.com/noah-isme/sqlpractice-api/internal/handler"
	"github.com/noah-isme/sqlpractice-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SQLHandler          *handler.SQLHandler
	SchemaHandler       *handler.SchemaHandler
	PerformanceHandler  *handler.PerformanceHandler
	AuthHandler         *handler.AuthHandler
	ProgressHandler     *handler.ProgressHandler
	QueryHandler        *handler.QueryHandler
	LearningPathHandler *handler.LearningPathHandler
	SyncHandler         *handler.SyncHandler
	HealthProbes        []handler.HealthProbe
	// OptionalAuth attaches claims when a valid bearer token is present.
	OptionalAuth fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	optionalAuth := deps.OptionalAuth
	if optionalAuth == nil {
		optionalAuth = func(c *fiber.Ctx) error { return c.Next() }
	}

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))
	api.Get("/metrics", observability.MetricsHandler())

	api.Use(optionalAuth)

	sqlRoutes := api.Group("/sql")
	if deps.SQLHandler != nil {
		deps.SQLHandler.Register(sqlRoutes)
	}
	if deps.SchemaHandler != nil {
		deps.SchemaHandler.Register(sqlRoutes)
	}
	if deps.PerformanceHandler != nil {
		deps.PerformanceHandler.Register(api.Group("/performance"))
	}
	if deps.AuthHandler != nil {
		deps.AuthHandler.Register(api.Group("/auth"))
	}
	if deps.ProgressHandler != nil {
		deps.ProgressHandler.Register(api.Group("/progress"))
	}
	if deps.QueryHandler != nil {
		deps.QueryHandler.Register(api.Group("/queries"))
	}
	if deps.LearningPathHandler != nil {
		deps.LearningPathHandler.Register(api.Group("/learning-paths"))
	}
	if deps.SyncHandler != nil {
		deps.SyncHandler.Register(api.Group("/sync"))
	}
}
