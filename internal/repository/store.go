// Package repository holds the run registry and the per-run event logs.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sreedath/simplepaperbanana/internal/domain"
)

// Store is the run registry. Each run owns one append-only event log whose
// sequence numbers start at 1 and have no gaps.
//
// A run's log has a single writer, its executor. Readers may call Events and
// Snapshot concurrently and never observe a partially appended event.
type Store interface {
	// Run operations
	// CreateRun registers a run. Runs evicted inline to make room are
	// returned even when the registry is still full.
	CreateRun(ctx context.Context, run *domain.Run) ([]string, error)
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)
	CountRuns(ctx context.Context) (int, error)
	StartRun(ctx context.Context, runID string) error

	// Event log operations
	AppendEvent(ctx context.Context, runID string, kind domain.EventKind, payload json.RawMessage) (*domain.Event, error)
	FinishRun(ctx context.Context, runID string, fin Finish) (*domain.Event, error)
	Events(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Event, error)
	Snapshot(ctx context.Context, runID string, afterSeq int64) (*domain.RunSnapshot, error)

	// EvictRuns removes stale terminal runs while the registry is over
	// capacity and returns the evicted identifiers.
	EvictRuns(ctx context.Context) ([]string, error)

	// Lifecycle
	Close() error
}

// Finish describes the terminal transition of a run. The status change and
// the terminal event are applied together, after which the log is frozen.
type Finish struct {
	Status  domain.RunStatus
	Result  *domain.RunResult
	Error   *domain.RunError
	Kind    domain.EventKind
	Payload json.RawMessage
}

// Options bounds the registry.
type Options struct {
	// Capacity is the number of runs above which eviction kicks in.
	// CreateRun refuses new runs at twice Capacity. Zero disables both.
	Capacity int
	// TTL is how long a terminal run is kept after its last update.
	TTL time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// limit is the hard bound enforced by CreateRun.
func (o Options) limit() int {
	return 2 * o.Capacity
}

func validateFinish(fin Finish) error {
	if !fin.Status.IsTerminal() || !fin.Kind.IsTerminal() {
		return domain.ErrInvalidTransition
	}
	return nil
}
