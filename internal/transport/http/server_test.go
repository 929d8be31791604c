package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/sreedath/simplepaperbanana/internal/adapter/pipeline"
	"github.com/sreedath/simplepaperbanana/internal/config"
	"github.com/sreedath/simplepaperbanana/internal/domain"
	"github.com/sreedath/simplepaperbanana/internal/hub"
	"github.com/sreedath/simplepaperbanana/internal/metrics"
	"github.com/sreedath/simplepaperbanana/internal/policy"
	"github.com/sreedath/simplepaperbanana/internal/repository"
	"github.com/sreedath/simplepaperbanana/internal/service"
	transporthttp "github.com/sreedath/simplepaperbanana/internal/transport/http"
	"github.com/sreedath/simplepaperbanana/internal/transport/ws"
)

func TestServerRoutes(t *testing.T) {
	cfg := config.Default()
	cfg.DefaultAPIKey = "test-key"
	cfg.OutputDir = t.TempDir()

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	logger := log.New("test")
	logger.SetOutput(io.Discard)

	m := metrics.New()
	store := repository.NewMemoryStore(repository.Options{Capacity: cfg.MaxRuns, TTL: cfg.RunTTL})
	svc := service.New(store, pipeline.NewSimulated(cfg.OutputDir, 0), hub.NewHub(), engine, m, cfg, logger)
	e := transporthttp.NewServer(svc, m, ws.NewServer(svc, time.Second), cfg)
	e.Logger.SetOutput(io.Discard)

	server := httptest.NewServer(e)
	defer server.Close()

	body := `{"source_context":"text","communicative_intent":"intent","iterations":1}`
	resp, err := http.Post(server.URL+"/api/generate", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var created domain.CreateRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	svc.Wait()

	for _, path := range []string{created.PollURL, created.StreamURL, "/api/runs", "/api/health", "/metrics"} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
		if path == "/metrics" && !strings.Contains(string(data), "paperbanana_runs_created_total 1") {
			t.Fatalf("metrics missing run counter:\n%s", data)
		}
	}
}
