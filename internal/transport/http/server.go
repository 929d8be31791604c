// Package http provides the HTTP server implementation for the generation bridge.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sreedath/simplepaperbanana/internal/config"
	"github.com/sreedath/simplepaperbanana/internal/metrics"
	"github.com/sreedath/simplepaperbanana/internal/service"
	v1 "github.com/sreedath/simplepaperbanana/internal/transport/http/v1"
	"github.com/sreedath/simplepaperbanana/internal/transport/ws"
)

// NewServer creates and configures the public HTTP server: the JSON API,
// both live channels and the metrics endpoint.
func NewServer(svc *service.Service, m *metrics.Metrics, wsServer *ws.Server, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc, cfg.OutputDir, cfg.WriteTimeout)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	wsServer.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	return e
}
