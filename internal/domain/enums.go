// Package domain defines the core domain models for the generation bridge.
package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether no further transitions can happen from s.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// CanTransition reports whether the run state machine allows s -> next.
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunStatusPending:
		return next == RunStatusRunning || next == RunStatusFailed
	case RunStatusRunning:
		return next == RunStatusCompleted || next == RunStatusFailed
	}
	return false
}

// EventKind represents the kind of an event. The values double as SSE
// event names on the live channel.
type EventKind string

const (
	EventKindStatus    EventKind = "status"
	EventKindIteration EventKind = "iteration"
	EventKindCompleted EventKind = "complete"
	EventKindError     EventKind = "error"
)

// IsTerminal reports whether k is the last event of a run.
func (k EventKind) IsTerminal() bool {
	return k == EventKindCompleted || k == EventKindError
}

// DiagramType is the caller's hint about what kind of figure to produce.
type DiagramType string

const (
	DiagramTypeMethodology     DiagramType = "methodology"
	DiagramTypeStatisticalPlot DiagramType = "statistical_plot"
)

// Error codes carried by RunError.
const (
	ErrorCodeCollaborator   = "collaborator_error"
	ErrorCodeTimeout        = "timeout"
	ErrorCodeInfrastructure = "infrastructure_error"
)
