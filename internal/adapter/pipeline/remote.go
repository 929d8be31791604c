package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/sreedath/simplepaperbanana/internal/domain"
	"github.com/sreedath/simplepaperbanana/internal/sse"
)

// RemoteClient is an HTTP client for a pipeline service. Plan and Style
// are JSON calls; Refine streams iteration outcomes over SSE.
type RemoteClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemoteClient creates a new pipeline client.
func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	return &RemoteClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout, // Long timeout for streaming
		},
	}
}

type stepRequest struct {
	Job
	Plan *Plan `json:"plan,omitempty"`
}

// remoteError is the body of an error frame or a non-200 response.
type remoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e remoteError) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// Plan calls POST {base}/plan.
func (c *RemoteClient) Plan(ctx context.Context, job Job) (*Plan, error) {
	var plan Plan
	if err := c.call(ctx, "/plan", stepRequest{Job: job}, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Style calls POST {base}/style.
func (c *RemoteClient) Style(ctx context.Context, job Job, plan *Plan) (*Plan, error) {
	var styled Plan
	if err := c.call(ctx, "/style", stepRequest{Job: job, Plan: plan}, &styled); err != nil {
		return nil, err
	}
	return &styled, nil
}

// Refine calls POST {base}/refine and yields one outcome per iteration
// frame. The request is only sent once the sequence is ranged over.
func (c *RemoteClient) Refine(ctx context.Context, job Job, plan *Plan) iter.Seq2[domain.IterationOutcome, error] {
	return func(yield func(domain.IterationOutcome, error) bool) {
		resp, err := c.post(ctx, "/refine", stepRequest{Job: job, Plan: plan}, sse.ContentType)
		if err != nil {
			yield(domain.IterationOutcome{}, err)
			return
		}
		defer resp.Body.Close()

		done := false
		stopped := errors.New("stopped")
		err = sse.Parse(resp.Body, func(event sse.Event) error {
			switch event.Event {
			case "iteration":
				var outcome domain.IterationOutcome
				if err := json.Unmarshal([]byte(event.Data), &outcome); err != nil {
					return fmt.Errorf("failed to parse iteration event: %w", err)
				}
				if !yield(outcome, nil) {
					return stopped
				}
			case "error":
				var remote remoteError
				if err := json.Unmarshal([]byte(event.Data), &remote); err != nil {
					return fmt.Errorf("pipeline error: %s", event.Data)
				}
				return fmt.Errorf("pipeline error: %s", remote.text())
			case "done":
				done = true
				return stopped
			}
			return nil
		})
		switch {
		case errors.Is(err, stopped):
			return
		case err != nil:
			yield(domain.IterationOutcome{}, err)
		case !done:
			yield(domain.IterationOutcome{}, errors.New("pipeline stream ended before done"))
		}
	}
}

func (c *RemoteClient) call(ctx context.Context, path string, req stepRequest, out any) error {
	resp, err := c.post(ctx, path, req, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *RemoteClient) post(ctx context.Context, path string, req stepRequest, accept string) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("X-Run-ID", req.RunID)
	if req.Job.Request.Credential != "" {
		httpReq.Header.Set("X-API-Key", req.Job.Request.Credential)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call pipeline %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var remote remoteError
		if json.Unmarshal(bodyBytes, &remote) == nil && remote.text() != "" {
			return nil, fmt.Errorf("pipeline %s returned status %d: %s", path, resp.StatusCode, remote.text())
		}
		return nil, fmt.Errorf("pipeline %s returned status %d: %s", path, resp.StatusCode, string(bodyBytes))
	}
	return resp, nil
}
