// Package v1 provides the public HTTP API of the generation bridge.
package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sreedath/simplepaperbanana/internal/domain"
	"github.com/sreedath/simplepaperbanana/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service      *service.Service
	outputDir    string
	writeTimeout time.Duration
}

// NewHandler creates a new handler. Images are served from outputDir, and
// each SSE write must complete within writeTimeout.
func NewHandler(service *service.Service, outputDir string, writeTimeout time.Duration) *Handler {
	return &Handler{
		service:      service,
		outputDir:    outputDir,
		writeTimeout: writeTimeout,
	}
}

// RegisterRoutes registers the public routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")

	api.POST("/generate", h.Generate)
	api.GET("/runs", h.ListRuns)
	api.GET("/runs/:run_id", h.GetRun)
	api.GET("/runs/:run_id/events", h.GetRunEvents)
	api.GET("/runs/:run_id/stream", h.StreamRun)
	api.GET("/images/*", h.GetImage)

	api.GET("/health", h.Health)
}

// Health returns health status.
// GET /api/health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Health(c.Request().Context()))
}

// errorStatus maps service errors to HTTP status codes.
func errorStatus(err error) int {
	var ve *domain.ValidationError
	var pe *domain.PolicyError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ve), errors.As(err, &pe):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrMissingCredential):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrRegistryFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c echo.Context, err error) error {
	body := map[string]interface{}{"error": err.Error()}
	var pe *domain.PolicyError
	if errors.As(err, &pe) {
		body["reasons"] = pe.Reasons
	}
	return c.JSON(errorStatus(err), body)
}
