// Package service runs generation jobs and serves their progress.
package service

import (
	"sync"

	"github.com/labstack/gommon/log"

	"github.com/sreedath/simplepaperbanana/internal/adapter/pipeline"
	"github.com/sreedath/simplepaperbanana/internal/config"
	"github.com/sreedath/simplepaperbanana/internal/hub"
	"github.com/sreedath/simplepaperbanana/internal/metrics"
	"github.com/sreedath/simplepaperbanana/internal/policy"
	"github.com/sreedath/simplepaperbanana/internal/repository"
)

type Service struct {
	store        repository.Store
	pipeline     pipeline.Pipeline
	hub          *hub.Hub
	policyEngine *policy.Engine
	metrics      *metrics.Metrics
	config       *config.Config
	logger       *log.Logger

	// executors tracks in-flight runs.
	executors sync.WaitGroup
}

func New(store repository.Store, p pipeline.Pipeline, h *hub.Hub, policyEngine *policy.Engine, m *metrics.Metrics, cfg *config.Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New("service")
	}
	return &Service{
		store:        store,
		pipeline:     p,
		hub:          h,
		policyEngine: policyEngine,
		metrics:      m,
		config:       cfg,
		logger:       logger,
	}
}

// Wait blocks until every started run has reached a terminal status.
func (s *Service) Wait() {
	s.executors.Wait()
}
