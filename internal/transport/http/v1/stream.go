package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sreedath/simplepaperbanana/internal/domain"
	"github.com/sreedath/simplepaperbanana/internal/sse"
	"github.com/sreedath/simplepaperbanana/internal/transport/cursor"
)

// sseSink writes events as text/event-stream frames. Headers go out with
// the first frame so a missing run can still be answered with 404.
type sseSink struct {
	c            echo.Context
	rc           *http.ResponseController
	writeTimeout time.Duration
	started      bool
}

func newSSESink(c echo.Context, writeTimeout time.Duration) *sseSink {
	return &sseSink{
		c:            c,
		rc:           http.NewResponseController(c.Response().Writer),
		writeTimeout: writeTimeout,
	}
}

// deadline bounds the next write so a stalled client cannot hold the
// stream open. Writers without deadline support are left unbounded.
func (s *sseSink) deadline(t time.Time) error {
	if s.writeTimeout <= 0 {
		return nil
	}
	if err := s.rc.SetWriteDeadline(t); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func (s *sseSink) start() {
	if s.started {
		return
	}
	s.started = true
	header := s.c.Response().Header()
	header.Set(echo.HeaderContentType, sse.ContentType)
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	s.c.Response().WriteHeader(http.StatusOK)
}

func (s *sseSink) Send(evt domain.Event) error {
	s.start()
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := s.deadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	if err := sse.Write(s.c.Response(), sse.Event{
		ID:    strconv.FormatInt(evt.Sequence, 10),
		Event: string(evt.Kind),
		Data:  string(data),
	}); err != nil {
		return err
	}
	s.c.Response().Flush()
	return nil
}

func (s *sseSink) Keepalive() error {
	s.start()
	if err := s.deadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	if err := sse.WriteComment(s.c.Response(), "keepalive"); err != nil {
		return err
	}
	s.c.Response().Flush()
	return nil
}

func (s *sseSink) Transport() string { return "sse" }

// StreamRun is the SSE live channel. The cursor comes from the query or,
// on browser reconnects, from Last-Event-ID.
// GET /api/runs/:run_id/stream
func (h *Handler) StreamRun(c echo.Context) error {
	cur, err := cursor.FromStream(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	sink := newSSESink(c, h.writeTimeout)
	// Clear the per-write deadline before the connection is reused.
	defer sink.deadline(time.Time{})
	if err := h.service.StreamRun(c.Request().Context(), c.Param("run_id"), cur, sink); err != nil {
		return respondError(c, err)
	}
	sink.start()
	return nil
}
