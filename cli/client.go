package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sreedath/simplepaperbanana/internal/domain"
	"github.com/sreedath/simplepaperbanana/internal/sse"
)

// Client talks to the generation bridge API.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
}

// NewClient creates a new API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{},
		pollInterval: 2 * time.Second,
	}
}

// Generate starts a run.
func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.CreateRunResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	var resp domain.CreateRunResponse
	if err := c.do(httpReq, http.StatusAccepted, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Poll fetches the run state and the events after cursor.
func (c *Client) Poll(ctx context.Context, runID string, cursor int64) (*domain.PollResponse, error) {
	u := fmt.Sprintf("%s/api/runs/%s?cursor=%d", c.baseURL, url.PathEscape(runID), cursor)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var resp domain.PollResponse
	if err := c.do(httpReq, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns recent runs.
func (c *Client) List(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	u := fmt.Sprintf("%s/api/runs?limit=%d", c.baseURL, limit)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Runs []domain.RunSummary `json:"runs"`
	}
	if err := c.do(httpReq, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *Client) do(req *http.Request, want int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Follow delivers every event of runID to handle exactly once, in order.
// It streams first and falls back to polling if the stream drops before
// the terminal event; events seen on both paths are dropped by sequence.
func (c *Client) Follow(ctx context.Context, runID string, cursor int64, useWS bool, handle func(domain.Event)) (*domain.PollResponse, error) {
	seen := cursor
	emit := func(evt domain.Event) bool {
		if evt.Sequence <= seen {
			return false
		}
		seen = evt.Sequence
		handle(evt)
		return evt.Kind.IsTerminal()
	}

	var err error
	if useWS {
		err = c.streamWS(ctx, runID, seen, emit)
	} else {
		err = c.streamSSE(ctx, runID, seen, emit)
	}
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "stream interrupted (%v), polling for progress\n", err)
	}

	for {
		poll, err := c.Poll(ctx, runID, seen)
		if err != nil {
			return nil, err
		}
		for _, evt := range poll.Events {
			emit(evt)
		}
		if poll.Status.IsTerminal() {
			return poll, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

var errStreamDone = errors.New("stream done")

// streamSSE returns nil once emit reports the terminal event.
func (c *Client) streamSSE(ctx context.Context, runID string, cursor int64, emit func(domain.Event) bool) error {
	u := fmt.Sprintf("%s/api/runs/%s/stream?cursor=%d", c.baseURL, url.PathEscape(runID), cursor)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", sse.ContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned %d", resp.StatusCode)
	}

	err = sse.Parse(resp.Body, func(event sse.Event) error {
		var evt domain.Event
		if err := json.Unmarshal([]byte(event.Data), &evt); err != nil {
			return fmt.Errorf("decode event %s: %w", event.ID, err)
		}
		if emit(evt) {
			return errStreamDone
		}
		return nil
	})
	if errors.Is(err, errStreamDone) {
		return nil
	}
	if err == nil {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (c *Client) streamWS(ctx context.Context, runID string, cursor int64, emit func(domain.Event) bool) error {
	u := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/runs/" + url.PathEscape(runID) + "/ws?cursor=" + strconv.FormatInt(cursor, 10)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	for {
		var evt domain.Event
		if err := conn.ReadJSON(&evt); err != nil {
			return err
		}
		if emit(evt) {
			return nil
		}
	}
}
