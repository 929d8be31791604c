package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sreedath/simplepaperbanana/internal/domain"
	"github.com/sreedath/simplepaperbanana/internal/sse"
)

func testEvent(t *testing.T, seq int64, kind domain.EventKind, payload any) domain.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return domain.Event{RunID: "run_1", Sequence: seq, Kind: kind, Payload: raw, Timestamp: time.Now().UTC()}
}

func testLog(t *testing.T) []domain.Event {
	return []domain.Event{
		testEvent(t, 1, domain.EventKindStatus, domain.StatusPayload{Message: "Planning diagram (this may take a minute)..."}),
		testEvent(t, 2, domain.EventKindStatus, domain.StatusPayload{Message: "Styling diagram..."}),
		testEvent(t, 3, domain.EventKindIteration, domain.IterationPayload{Iteration: 1, Total: 1, Verdict: "accepted", Message: "Completed iteration 1/1"}),
		testEvent(t, 4, domain.EventKindCompleted, domain.CompletedPayload{Message: "Generation complete!", Result: domain.RunResult{FinalImageURL: "/api/images/run_1/diagram_iter_1.png", TotalIterations: 1, Accepted: true}}),
	}
}

// newBridge serves the first dropAfter events over SSE, then closes the stream.
func newBridge(t *testing.T, events []domain.Event, dropAfter int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/runs/run_1/stream", func(w http.ResponseWriter, r *http.Request) {
		cursor, _ := strconv.ParseInt(r.URL.Query().Get("cursor"), 10, 64)
		w.Header().Set("Content-Type", sse.ContentType)
		w.WriteHeader(http.StatusOK)
		for _, evt := range events[:dropAfter] {
			if evt.Sequence <= cursor {
				continue
			}
			data, _ := json.Marshal(evt)
			_ = sse.Write(w, sse.Event{ID: strconv.FormatInt(evt.Sequence, 10), Event: string(evt.Kind), Data: string(data)})
		}
	})
	mux.HandleFunc("/api/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		cursor, _ := strconv.ParseInt(r.URL.Query().Get("cursor"), 10, 64)
		resp := domain.PollResponse{RunID: "run_1", Status: domain.RunStatusCompleted, Cursor: events[len(events)-1].Sequence}
		// Resend an already streamed event to make sure it is dropped.
		for _, evt := range events {
			if evt.Sequence >= cursor {
				resp.Events = append(resp.Events, evt)
			}
		}
		resp.Result = &domain.RunResult{FinalImageURL: "/api/images/run_1/diagram_iter_1.png", TotalIterations: 1, Accepted: true}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFollowFallsBackToPolling(t *testing.T) {
	stderr = &bytes.Buffer{}
	srv := newBridge(t, testLog(t), 2)

	client := NewClient(srv.URL, "")
	client.pollInterval = 10 * time.Millisecond

	var seqs []int64
	poll, err := client.Follow(context.Background(), "run_1", 0, false, func(evt domain.Event) {
		seqs = append(seqs, evt.Sequence)
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, seqs)
	assert.Equal(t, domain.RunStatusCompleted, poll.Status)
	assert.Contains(t, stderr.(*bytes.Buffer).String(), "polling for progress")
}

func TestFollowStreamsToTerminal(t *testing.T) {
	stderr = &bytes.Buffer{}
	srv := newBridge(t, testLog(t), 4)

	client := NewClient(srv.URL, "")
	var seqs []int64
	_, err := client.Follow(context.Background(), "run_1", 2, false, func(evt domain.Event) {
		seqs = append(seqs, evt.Sequence)
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, seqs)
	assert.Empty(t, stderr.(*bytes.Buffer).String())
}

func TestGenerateSendsAPIKey(t *testing.T) {
	var gotKey string
	var gotReq domain.GenerationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(domain.CreateRunResponse{RunID: "run_1", Status: domain.RunStatusPending})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, "secret").Generate(context.Background(), domain.GenerationRequest{
		SourceContext:       "We propose a method.",
		CommunicativeIntent: "Overview",
	})
	require.NoError(t, err)
	assert.Equal(t, "run_1", resp.RunID)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "Overview", gotReq.CommunicativeIntent)
}

func TestPollReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"run not found"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Poll(context.Background(), "run_x", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	for _, evt := range testLog(t) {
		printEvent(&buf, evt)
	}
	out := buf.String()
	assert.Contains(t, out, "Planning diagram (this may take a minute)...")
	assert.Contains(t, out, "Completed iteration 1/1 [accepted]")
	assert.Contains(t, out, "Generation complete!")
}
