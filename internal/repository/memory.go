package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/sreedath/simplepaperbanana/internal/domain"
)

// MemoryStore implements Store with process memory.
//
// The runs map is guarded by mu. Each entry carries its own lock so that an
// append to one run never waits on readers or writers of another. Lock
// order is always mu before entry.mu.
type MemoryStore struct {
	opts Options

	mu   sync.RWMutex
	runs map[string]*memoryEntry
}

type memoryEntry struct {
	mu     sync.RWMutex
	run    domain.Run
	events []domain.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts: opts,
		runs: make(map[string]*memoryEntry),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) entry(runID string) (*memoryEntry, error) {
	s.mu.RLock()
	e, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

// CreateRun registers a new run. When the registry is at its hard limit,
// stale terminal runs are evicted first.
func (s *MemoryStore) CreateRun(ctx context.Context, run *domain.Run) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; exists {
		return nil, fmt.Errorf("run %s already exists", run.RunID)
	}
	var evicted []string
	if s.opts.Capacity > 0 && len(s.runs) >= s.opts.limit() {
		evicted = s.evictLocked(s.opts.Capacity)
		if len(s.runs) >= s.opts.limit() {
			return evicted, domain.ErrRegistryFull
		}
	}

	stored := *run
	stored.Result = nil
	stored.Error = nil
	stored.LastSeq = 0
	stored.CreatedAt = run.CreatedAt.UTC()
	stored.UpdatedAt = run.UpdatedAt.UTC()
	s.runs[run.RunID] = &memoryEntry{run: stored}
	return evicted, nil
}

// GetRun returns a copy of the run record.
func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	e, err := s.entry(runID)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	run := e.run
	e.mu.RUnlock()
	return &run, nil
}

// ListRuns returns up to limit run summaries, newest first.
func (s *MemoryStore) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	s.mu.RLock()
	summaries := make([]domain.RunSummary, 0, len(s.runs))
	for _, e := range s.runs {
		e.mu.RLock()
		summaries = append(summaries, e.run.Summary())
		e.mu.RUnlock()
	}
	s.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].RunID > summaries[j].RunID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// CountRuns returns the number of registered runs.
func (s *MemoryStore) CountRuns(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs), nil
}

// StartRun moves a pending run to running.
func (s *MemoryStore) StartRun(ctx context.Context, runID string) error {
	e, err := s.entry(runID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.run.Status.CanTransition(domain.RunStatusRunning) {
		return domain.ErrInvalidTransition
	}
	e.run.Status = domain.RunStatusRunning
	e.run.UpdatedAt = s.opts.now()
	return nil
}

// AppendEvent assigns the next sequence number and stores the event.
func (s *MemoryStore) AppendEvent(ctx context.Context, runID string, kind domain.EventKind, payload json.RawMessage) (*domain.Event, error) {
	if kind.IsTerminal() {
		return nil, domain.ErrInvalidTransition
	}
	e, err := s.entry(runID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run.Status.IsTerminal() {
		return nil, domain.ErrRunFrozen
	}
	evt := e.appendLocked(kind, payload, s.opts.now())
	return &evt, nil
}

// FinishRun sets the terminal status and appends the terminal event in
// one step, so no reader sees one without the other.
func (s *MemoryStore) FinishRun(ctx context.Context, runID string, fin Finish) (*domain.Event, error) {
	if err := validateFinish(fin); err != nil {
		return nil, err
	}
	e, err := s.entry(runID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run.Status.IsTerminal() {
		return nil, domain.ErrRunFrozen
	}
	if !e.run.Status.CanTransition(fin.Status) {
		return nil, domain.ErrInvalidTransition
	}

	now := s.opts.now()
	evt := e.appendLocked(fin.Kind, fin.Payload, now)
	e.run.Status = fin.Status
	e.run.Result = fin.Result
	e.run.Error = fin.Error
	return &evt, nil
}

func (e *memoryEntry) appendLocked(kind domain.EventKind, payload json.RawMessage, now time.Time) domain.Event {
	evt := domain.Event{
		RunID:     e.run.RunID,
		Sequence:  int64(len(e.events)) + 1,
		Kind:      kind,
		Payload:   slices.Clone(payload),
		Timestamp: now,
	}
	e.events = append(e.events, evt)
	e.run.LastSeq = evt.Sequence
	e.run.UpdatedAt = now
	return evt
}

// Events returns the events with sequence greater than afterSeq. It never
// waits for new events.
func (s *MemoryStore) Events(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Event, error) {
	e, err := s.entry(runID)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tailLocked(afterSeq, limit), nil
}

// Snapshot returns the run record and its log tail from the same instant.
func (s *MemoryStore) Snapshot(ctx context.Context, runID string, afterSeq int64) (*domain.RunSnapshot, error) {
	e, err := s.entry(runID)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	events := e.tailLocked(afterSeq, 0)
	cursor := afterSeq
	if n := len(events); n > 0 {
		cursor = events[n-1].Sequence
	}
	if cursor < 0 {
		cursor = 0
	}
	return &domain.RunSnapshot{Run: e.run, Events: events, Cursor: cursor}, nil
}

// tailLocked relies on the log being gap-free: the event with sequence n
// sits at index n-1.
func (e *memoryEntry) tailLocked(afterSeq int64, limit int) []domain.Event {
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(e.events)) {
		return []domain.Event{}
	}
	tail := e.events[afterSeq:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	return slices.Clone(tail)
}

// EvictRuns removes stale terminal runs, oldest first, until the registry
// is back within capacity.
func (s *MemoryStore) EvictRuns(ctx context.Context) ([]string, error) {
	if s.opts.Capacity <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(s.opts.Capacity), nil
}

func (s *MemoryStore) evictLocked(target int) []string {
	if len(s.runs) <= target {
		return nil
	}
	cutoff := s.opts.now().Add(-s.opts.TTL)

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	var candidates []candidate
	for id, e := range s.runs {
		e.mu.RLock()
		if e.run.Status.IsTerminal() && !e.run.UpdatedAt.After(cutoff) {
			candidates = append(candidates, candidate{id: id, updatedAt: e.run.UpdatedAt})
		}
		e.mu.RUnlock()
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].updatedAt.Before(candidates[j].updatedAt)
	})

	var evicted []string
	for _, c := range candidates {
		if len(s.runs) <= target {
			break
		}
		delete(s.runs, c.id)
		evicted = append(evicted, c.id)
	}
	return evicted
}
