package service

import (
	"context"
	"time"

	"github.com/labstack/gommon/log"
)

// RunEvictionSweeper removes stale terminal runs on every tick until ctx is
// done. Running and pending runs are never touched.
func (s *Service) RunEvictionSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.config.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepRuns(ctx)
		}
	}
}

func (s *Service) sweepRuns(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	evicted, err := s.store.EvictRuns(sweepCtx)
	if err != nil {
		s.logger.Warnf("run eviction sweep failed: %v", err)
		return
	}
	s.recordEvicted(evicted)
}

// recordEvicted accounts for runs removed by the sweep or by CreateRun.
func (s *Service) recordEvicted(evicted []string) {
	if len(evicted) == 0 {
		return
	}
	s.metrics.RunsEvicted.Add(float64(len(evicted)))
	s.logger.Infoj(log.JSON{
		"msg":     "runs evicted",
		"count":   len(evicted),
		"run_ids": evicted,
	})
}
