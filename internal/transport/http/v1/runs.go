package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sreedath/simplepaperbanana/internal/domain"
	"github.com/sreedath/simplepaperbanana/internal/transport/cursor"
)

// Generate registers a new run and returns immediately.
// POST /api/generate
func (h *Handler) Generate(c echo.Context) error {
	var req domain.GenerationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	req.Credential = c.Request().Header.Get("X-API-Key")

	resp, err := h.service.CreateRun(c.Request().Context(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusAccepted, resp)
}

// ListRuns returns recent run summaries, newest first.
// GET /api/runs
func (h *Handler) ListRuns(c echo.Context) error {
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}

	runs, err := h.service.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs": runs,
	})
}

// GetRun is the recovery poll: status, result or error, and the events
// after cursor.
// GET /api/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	cur, err := cursor.Parse(c.QueryParam("cursor"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	poll, err := h.service.Poll(c.Request().Context(), c.Param("run_id"), cur)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, poll)
}

// GetRunEvents returns the tail of a run's event log.
// GET /api/runs/:run_id/events
func (h *Handler) GetRunEvents(c echo.Context) error {
	cur, err := cursor.Parse(c.QueryParam("cursor"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}

	events, err := h.service.GetRunEvents(c.Request().Context(), c.Param("run_id"), cur, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
	})
}
