package v1

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/sreedath/simplepaperbanana/internal/adapter/pipeline"
	"github.com/sreedath/simplepaperbanana/internal/config"
	"github.com/sreedath/simplepaperbanana/internal/domain"
	"github.com/sreedath/simplepaperbanana/internal/hub"
	"github.com/sreedath/simplepaperbanana/internal/metrics"
	"github.com/sreedath/simplepaperbanana/internal/policy"
	"github.com/sreedath/simplepaperbanana/internal/repository"
	"github.com/sreedath/simplepaperbanana/internal/service"
)

func newTestHandler(t *testing.T, mutate func(*config.Config)) (*Handler, *service.Service) {
	t.Helper()
	cfg := config.Default()
	cfg.DefaultAPIKey = "test-key"
	cfg.OutputDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	logger := log.New("test")
	logger.SetOutput(io.Discard)

	sim := pipeline.NewSimulated(cfg.OutputDir, 0)
	sim.AcceptAt = 2
	store := repository.NewMemoryStore(repository.Options{Capacity: cfg.MaxRuns, TTL: cfg.RunTTL})
	svc := service.New(store, sim, hub.NewHub(), engine, metrics.New(), cfg, logger)
	return NewHandler(svc, cfg.OutputDir, cfg.WriteTimeout), svc
}

const generateBody = `{"source_context":"We propose a two-stage encoder.","communicative_intent":"Overview","diagram_type":"methodology","iterations":3}`

func createRun(t *testing.T, h *Handler, svc *service.Service) string {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(generateBody))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Generate(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.CreateRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	svc.Wait()
	return resp.RunID
}

func TestGenerateAndPoll(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t, nil)
	runID := createRun(t, h, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+runID, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues(runID)

	if err := h.GetRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var poll domain.PollResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &poll); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if poll.Status != domain.RunStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", poll.Status)
	}
	if poll.Result == nil || poll.Result.TotalIterations != 2 || !poll.Result.Accepted {
		t.Fatalf("unexpected result: %+v", poll.Result)
	}
	if last := poll.Events[len(poll.Events)-1]; last.Kind != domain.EventKindCompleted {
		t.Fatalf("expected complete as last event, got %s", last.Kind)
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		apiKey string
		mutate func(*config.Config)
		want   int
	}{
		{name: "malformed body", body: `{"source_context":`, want: http.StatusBadRequest},
		{name: "missing intent", body: `{"source_context":"x"}`, want: http.StatusBadRequest},
		{name: "policy denied", body: `{"source_context":"x","communicative_intent":"y","iterations":9}`, want: http.StatusBadRequest},
		{
			name:   "no credential",
			body:   generateBody,
			mutate: func(cfg *config.Config) { cfg.DefaultAPIKey = "" },
			want:   http.StatusUnauthorized,
		},
		{
			name:   "header credential",
			body:   generateBody,
			apiKey: "caller-key",
			mutate: func(cfg *config.Config) { cfg.DefaultAPIKey = "" },
			want:   http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			h, svc := newTestHandler(t, tt.mutate)
			defer svc.Wait()

			req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			if tt.apiKey != "" {
				req.Header.Set("X-API-Key", tt.apiKey)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := h.Generate(c); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGetRunNotFound(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/r1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues("r1")

	if err := h.GetRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetRunEventsTail(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t, nil)
	runID := createRun(t, h, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+runID+"/events?cursor=3&limit=1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues(runID)

	if err := h.GetRunEvents(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var resp struct {
		Events []domain.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Sequence != 4 || resp.Events[0].Kind != domain.EventKindIteration {
		t.Fatalf("unexpected events: %+v", resp.Events)
	}
}

func TestGetRunBadCursor(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/r1?cursor=-1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues("r1")

	if err := h.GetRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t, nil)
	first := createRun(t, h, svc)
	second := createRun(t, h, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?limit=10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListRuns(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var resp struct {
		Runs []domain.RunSummary `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Runs) != 2 || resp.Runs[0].RunID != second || resp.Runs[1].RunID != first {
		t.Fatalf("unexpected order: %+v", resp.Runs)
	}
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Health(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
