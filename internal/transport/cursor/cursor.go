// Package cursor reads event-log cursors from requests.
package cursor

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sreedath/simplepaperbanana/internal/domain"
)

// Parse reads a cursor value. Empty means the start of the log.
func Parse(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cursor < 0 {
		return 0, &domain.ValidationError{Field: "cursor", Message: "must be a non-negative integer"}
	}
	return cursor, nil
}

// FromStream returns the cursor for a live channel: the cursor query
// parameter, or Last-Event-ID when a client reconnects without one.
func FromStream(c echo.Context) (int64, error) {
	raw := c.QueryParam("cursor")
	if raw == "" {
		raw = c.Request().Header.Get("Last-Event-ID")
	}
	return Parse(raw)
}
