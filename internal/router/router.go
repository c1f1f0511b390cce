// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/patient-records/internal/handler"
)

// RegisterRoutes registers the health check.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	e.GET("/healthz", h.Health)
}

// RegisterPatients mounts the patient CRUD endpoints under /pacientes. The
// middleware (cache, rate limit) applies to this group only.
func RegisterPatients(e *echo.Echo, p *handler.PatientHandler, mw ...echo.MiddlewareFunc) {
	g := e.Group("/pacientes", mw...)
	g.GET("", p.List)
	g.GET("/:id", p.Get)
	g.POST("", p.Create)
	g.PUT("/:id", p.Update)
	g.DELETE("/:id", p.Delete)
}

// RegisterStatic serves files from dir and the landing page at GET /.
// Echo matches the API routes before the /* wildcard, so registration order
// does not matter.
func RegisterStatic(e *echo.Echo, dir string) {
	e.Static("/", dir)
	e.GET("/", handler.Landing(dir))
}
