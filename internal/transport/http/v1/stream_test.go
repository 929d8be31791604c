package v1

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sreedath/simplepaperbanana/internal/config"
	"github.com/sreedath/simplepaperbanana/internal/sse"
)

func streamRecorder(t *testing.T, h *Handler, runID, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues(runID)

	if err := h.StreamRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func TestStreamRunSendsFramesAndCloses(t *testing.T) {
	h, svc := newTestHandler(t, nil)
	runID := createRun(t, h, svc)

	rec := streamRecorder(t, h, runID, "/api/runs/"+runID+"/stream", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(echo.HeaderContentType) != sse.ContentType {
		t.Fatalf("unexpected content type: %s", rec.Header().Get(echo.HeaderContentType))
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Fatalf("missing X-Accel-Buffering header")
	}

	var events []sse.Event
	if err := sse.Parse(rec.Body, func(event sse.Event) error {
		events = append(events, event)
		return nil
	}); err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	// 2 status, 2 iterations, complete
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	if events[0].ID != "1" || events[0].Event != "status" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[4].Event != "complete" || !strings.Contains(events[4].Data, `"final_image_url"`) {
		t.Fatalf("unexpected last event: %+v", events[4])
	}
}

func TestStreamRunHonorsLastEventID(t *testing.T) {
	h, svc := newTestHandler(t, nil)
	runID := createRun(t, h, svc)

	header := http.Header{}
	header.Set("Last-Event-ID", "3")
	rec := streamRecorder(t, h, runID, "/api/runs/"+runID+"/stream", header)

	var ids []string
	if err := sse.Parse(rec.Body, func(event sse.Event) error {
		ids = append(ids, event.ID)
		return nil
	}); err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if strings.Join(ids, ",") != "4,5" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestStreamRunNotFound(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := streamRecorder(t, h, "r1", "/api/runs/r1/stream", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// deadlineRecorder records the write deadlines set through a ResponseController.
type deadlineRecorder struct {
	*httptest.ResponseRecorder
	mu        sync.Mutex
	deadlines []time.Time
}

func (r *deadlineRecorder) SetWriteDeadline(t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadlines = append(r.deadlines, t)
	return nil
}

func TestStreamRunSetsWriteDeadlines(t *testing.T) {
	h, svc := newTestHandler(t, func(cfg *config.Config) {
		cfg.WriteTimeout = 3 * time.Second
	})
	runID := createRun(t, h, svc)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+runID+"/stream", nil)
	rec := &deadlineRecorder{ResponseRecorder: httptest.NewRecorder()}
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues(runID)

	start := time.Now()
	if err := h.StreamRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	// One deadline per frame, then a reset to zero.
	if len(rec.deadlines) != 6 {
		t.Fatalf("expected 6 deadline calls, got %d", len(rec.deadlines))
	}
	for i, d := range rec.deadlines[:5] {
		if d.Before(start.Add(3*time.Second)) || d.After(time.Now().Add(3*time.Second)) {
			t.Fatalf("deadline %d out of range: %v", i, d)
		}
	}
	if !rec.deadlines[5].IsZero() {
		t.Fatalf("expected final deadline reset, got %v", rec.deadlines[5])
	}
}
