package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/gommon/log"
	"github.com/oklog/ulid/v2"

	"github.com/sreedath/simplepaperbanana/internal/domain"
	"github.com/sreedath/simplepaperbanana/internal/policy"
)

// CreateRun validates the request, registers a pending run and starts its
// executor in the background. It returns as soon as the run exists.
func (s *Service) CreateRun(ctx context.Context, req domain.GenerationRequest) (*domain.CreateRunResponse, error) {
	req.SourceContext = strings.TrimSpace(req.SourceContext)
	req.CommunicativeIntent = strings.TrimSpace(req.CommunicativeIntent)

	// Validate required fields
	if req.SourceContext == "" {
		return nil, &domain.ValidationError{Field: "source_context", Message: "is required"}
	}
	if req.CommunicativeIntent == "" {
		return nil, &domain.ValidationError{Field: "communicative_intent", Message: "is required"}
	}
	if req.DiagramType == "" {
		req.DiagramType = domain.DiagramTypeMethodology
	}
	if req.Iterations == 0 {
		req.Iterations = s.config.DefaultIterations
	}

	// Resolve the credential: caller first, then the environment
	if req.Credential == "" {
		req.Credential = s.config.DefaultAPIKey
	}
	if req.Credential == "" {
		return nil, domain.ErrMissingCredential
	}

	if err := s.admit(ctx, req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &domain.Run{
		RunID:     "run_" + strings.ToLower(ulid.Make().String()),
		Status:    domain.RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Input:     req,
	}
	run.Input.Credential = ""
	evicted, err := s.store.CreateRun(ctx, run)
	s.recordEvicted(evicted)
	if err != nil {
		if errors.Is(err, domain.ErrRegistryFull) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	s.metrics.RunsCreated.Inc()
	s.logger.Infoj(log.JSON{
		"msg":          "run created",
		"run_id":       run.RunID,
		"diagram_type": req.DiagramType,
		"iterations":   req.Iterations,
	})

	// The executor outlives the request; only the pipeline deadline bounds it.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.PipelineTimeout)
	s.executors.Add(1)
	go func() {
		defer s.executors.Done()
		defer cancel()
		s.executeRun(execCtx, run.RunID, req)
	}()

	return &domain.CreateRunResponse{
		RunID:     run.RunID,
		Status:    domain.RunStatusPending,
		StreamURL: "/api/runs/" + run.RunID + "/stream",
		PollURL:   "/api/runs/" + run.RunID,
	}, nil
}

func (s *Service) admit(ctx context.Context, req domain.GenerationRequest) error {
	if s.policyEngine == nil {
		return nil
	}
	reasons, err := s.policyEngine.Evaluate(ctx, policy.Input{
		DiagramType:    string(req.DiagramType),
		Iterations:     req.Iterations,
		MaxIterations:  s.config.MaxIterations,
		SourceChars:    utf8.RuneCountInString(req.SourceContext),
		MaxSourceChars: s.config.MaxSourceChars,
		IntentChars:    utf8.RuneCountInString(req.CommunicativeIntent),
	})
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}
	if len(reasons) > 0 {
		return &domain.PolicyError{Reasons: reasons}
	}
	return nil
}
