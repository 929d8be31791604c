package domain

import (
	"encoding/json"
	"time"
)

// Run is the record of one end-to-end execution of the generation pipeline.
type Run struct {
	RunID     string            `json:"run_id"`
	Status    RunStatus         `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Input     GenerationRequest `json:"input"`
	Result    *RunResult        `json:"result,omitempty"`
	Error     *RunError         `json:"error,omitempty"`
	LastSeq   int64             `json:"last_seq"`
}

// Summary returns the listing view of the run.
func (r *Run) Summary() RunSummary {
	return RunSummary{
		RunID:       r.RunID,
		Status:      r.Status,
		DiagramType: r.Input.DiagramType,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// RunSummary is a row of the recent-runs listing.
type RunSummary struct {
	RunID       string      `json:"run_id"`
	Status      RunStatus   `json:"status"`
	DiagramType DiagramType `json:"diagram_type"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// RunResult is the final artifact reference of a completed run.
type RunResult struct {
	FinalImageURL   string `json:"final_image_url"`
	TotalIterations int    `json:"total_iterations"`
	Description     string `json:"description,omitempty"`
	Accepted        bool   `json:"accepted"`
}

// Event is one immutable entry of a run's event log.
type Event struct {
	RunID     string          `json:"run_id"`
	Sequence  int64           `json:"sequence"`
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// RunSnapshot is the recovery view of a run: its current state plus the
// tail of its event log, read under one consistent lock.
type RunSnapshot struct {
	Run    Run     `json:"run"`
	Events []Event `json:"events"`
	Cursor int64   `json:"cursor"`
}

// PollResponse is the recovery view returned to clients.
type PollResponse struct {
	RunID     string     `json:"run_id"`
	Status    RunStatus  `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Result    *RunResult `json:"result,omitempty"`
	Error     *RunError  `json:"error,omitempty"`
	Events    []Event    `json:"events"`
	Cursor    int64      `json:"cursor"`
}

// Poll flattens the snapshot into the recovery view.
func (s *RunSnapshot) Poll() *PollResponse {
	return &PollResponse{
		RunID:     s.Run.RunID,
		Status:    s.Run.Status,
		CreatedAt: s.Run.CreatedAt,
		UpdatedAt: s.Run.UpdatedAt,
		Result:    s.Run.Result,
		Error:     s.Run.Error,
		Events:    s.Events,
		Cursor:    s.Cursor,
	}
}

// Health reports process liveness.
type Health struct {
	OK      bool `json:"ok"`
	Runs    int  `json:"runs"`
	Streams int  `json:"streams"`
}
