package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sreedath/simplepaperbanana/internal/domain"
)

const (
	defaultListLimit  = 20
	maxListLimit      = 100
	defaultEventLimit = 500
)

// Poll returns the run's status, its result or error once terminal, and the
// events after cursor. It has no side effects.
func (s *Service) Poll(ctx context.Context, runID string, cursor int64) (*domain.PollResponse, error) {
	snap, err := s.store.Snapshot(ctx, runID, cursor)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	return snap.Poll(), nil
}

func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (s *Service) GetRunEvents(ctx context.Context, runID string, cursor int64, limit int) ([]domain.Event, error) {
	if limit <= 0 || limit > defaultEventLimit {
		limit = defaultEventLimit
	}
	events, err := s.store.Events(ctx, runID, cursor, limit)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get run events: %w", err)
	}
	return events, nil
}

func (s *Service) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Health never touches individual runs.
func (s *Service) Health(ctx context.Context) domain.Health {
	n, err := s.store.CountRuns(ctx)
	if err != nil {
		s.logger.Warnf("health: failed to count runs: %v", err)
	}
	return domain.Health{OK: true, Runs: n, Streams: s.hub.Count()}
}
