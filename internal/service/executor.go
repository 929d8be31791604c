package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/labstack/gommon/log"

	"github.com/sreedath/simplepaperbanana/internal/adapter/pipeline"
	"github.com/sreedath/simplepaperbanana/internal/domain"
	"github.com/sreedath/simplepaperbanana/internal/repository"
)

// Pipeline phases, as reported in status payloads and run errors.
const (
	PhaseInitializing = "initializing"
	PhasePlanning     = "planning"
	PhaseStyling      = "styling"
	PhaseRefining     = "refining"
)

const (
	msgPlanning = "Planning diagram (this may take a minute)..."
	msgStyling  = "Styling diagram..."
	msgComplete = "Generation complete!"
)

// executeRun drives one run from Pending to a terminal status. ctx carries
// the pipeline deadline; log writes use a context without it so the
// terminal event is recorded even after the deadline fires.
func (s *Service) executeRun(ctx context.Context, runID string, req domain.GenerationRequest) {
	writeCtx := context.WithoutCancel(ctx)

	s.metrics.RunsActive.Inc()
	defer s.metrics.RunsActive.Dec()

	if err := s.store.StartRun(writeCtx, runID); err != nil {
		s.logger.Errorf("run %s: failed to start: %v", runID, err)
		s.finishFailed(writeCtx, runID, &domain.RunError{
			Code:    domain.ErrorCodeInfrastructure,
			Message: err.Error(),
			Phase:   PhaseInitializing,
		})
		return
	}
	s.hub.Notify(runID)

	result, runErr := s.runPipeline(ctx, writeCtx, runID, req)
	if runErr != nil {
		s.finishFailed(writeCtx, runID, runErr)
		return
	}
	s.finishCompleted(writeCtx, runID, result)
}

func (s *Service) runPipeline(ctx, writeCtx context.Context, runID string, req domain.GenerationRequest) (result *domain.RunResult, runErr *domain.RunError) {
	phase := PhaseInitializing
	iteration := 0
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("run %s: pipeline panicked: %v", runID, r)
			result = nil
			runErr = &domain.RunError{
				Code:      domain.ErrorCodeCollaborator,
				Message:   fmt.Sprintf("pipeline panicked: %v", r),
				Phase:     phase,
				Iteration: iteration,
			}
		}
	}()

	job := pipeline.Job{RunID: runID, Request: req}

	phase = PhasePlanning
	if err := s.recordStatus(writeCtx, runID, phase, msgPlanning); err != nil {
		return nil, infrastructureError(err, phase)
	}
	plan, err := s.pipeline.Plan(ctx, job)
	if err != nil {
		return nil, s.collaboratorError(ctx, err, phase, 0)
	}

	phase = PhaseStyling
	if err := s.recordStatus(writeCtx, runID, phase, msgStyling); err != nil {
		return nil, infrastructureError(err, phase)
	}
	plan, err = s.pipeline.Style(ctx, job, plan)
	if err != nil {
		return nil, s.collaboratorError(ctx, err, phase, 0)
	}

	phase = PhaseRefining
	var last *domain.IterationOutcome
	for outcome, err := range s.pipeline.Refine(ctx, job, plan) {
		if err != nil {
			return nil, s.collaboratorError(ctx, err, phase, iteration+1)
		}
		iteration++
		if outcome.Iteration == 0 {
			outcome.Iteration = iteration
		}
		outcome.Description = truncate(outcome.Description, domain.MaxDescriptionChars)

		payload := domain.IterationPayload{
			Iteration:   outcome.Iteration,
			Total:       req.Iterations,
			ImageURL:    outcome.ImageURL,
			Description: outcome.Description,
			Verdict:     outcome.Critique.Verdict(),
			Critique:    outcome.Critique,
			Message:     fmt.Sprintf("Completed iteration %d/%d", outcome.Iteration, req.Iterations),
		}
		if err := s.recordEvent(writeCtx, runID, domain.EventKindIteration, payload); err != nil {
			return nil, infrastructureError(err, phase)
		}
		last = &outcome
	}
	if last == nil {
		return nil, &domain.RunError{
			Code:    domain.ErrorCodeCollaborator,
			Message: "pipeline produced no iterations",
			Phase:   phase,
		}
	}

	return &domain.RunResult{
		FinalImageURL:   last.ImageURL,
		TotalIterations: iteration,
		Description:     last.Description,
		Accepted:        last.Critique.Verdict() == "accept",
	}, nil
}

func (s *Service) finishCompleted(ctx context.Context, runID string, result *domain.RunResult) {
	payload, err := json.Marshal(domain.CompletedPayload{Message: msgComplete, Result: *result})
	if err != nil {
		s.finishFailed(ctx, runID, infrastructureError(err, PhaseRefining))
		return
	}
	evt, err := s.store.FinishRun(ctx, runID, repository.Finish{
		Status:  domain.RunStatusCompleted,
		Result:  result,
		Kind:    domain.EventKindCompleted,
		Payload: payload,
	})
	if err != nil {
		s.logger.Errorf("run %s: failed to record completion: %v", runID, err)
		s.finishFailed(ctx, runID, infrastructureError(err, PhaseRefining))
		return
	}
	s.published(evt)
	s.metrics.RunsFinished.WithLabelValues(string(domain.RunStatusCompleted)).Inc()
	s.logger.Infoj(log.JSON{
		"msg":        "run completed",
		"run_id":     runID,
		"iterations": result.TotalIterations,
		"accepted":   result.Accepted,
	})
}

func (s *Service) finishFailed(ctx context.Context, runID string, runErr *domain.RunError) {
	payload, err := json.Marshal(domain.ErrorPayload{Error: *runErr})
	if err != nil {
		s.logger.Errorf("run %s: failed to encode error payload: %v", runID, err)
		return
	}
	evt, err := s.store.FinishRun(ctx, runID, repository.Finish{
		Status:  domain.RunStatusFailed,
		Error:   runErr,
		Kind:    domain.EventKindError,
		Payload: payload,
	})
	if err != nil {
		s.logger.Errorf("run %s: failed to record failure %q: %v", runID, runErr.Error(), err)
		return
	}
	s.published(evt)
	s.metrics.RunsFinished.WithLabelValues(string(domain.RunStatusFailed)).Inc()
	s.logger.Warnj(log.JSON{
		"msg":       "run failed",
		"run_id":    runID,
		"code":      runErr.Code,
		"phase":     runErr.Phase,
		"iteration": runErr.Iteration,
		"error":     runErr.Message,
	})
}

func (s *Service) recordStatus(ctx context.Context, runID, phase, message string) error {
	return s.recordEvent(ctx, runID, domain.EventKindStatus, domain.StatusPayload{Message: message, Phase: phase})
}

// recordEvent appends a non-terminal event and wakes attached streams.
func (s *Service) recordEvent(ctx context.Context, runID string, kind domain.EventKind, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	evt, err := s.store.AppendEvent(ctx, runID, kind, payloadBytes)
	if err != nil {
		return fmt.Errorf("failed to append %s event: %w", kind, err)
	}
	s.published(evt)
	return nil
}

func (s *Service) published(evt *domain.Event) {
	s.metrics.EventsAppended.WithLabelValues(string(evt.Kind)).Inc()
	s.hub.Notify(evt.RunID)
}

func (s *Service) collaboratorError(ctx context.Context, err error, phase string, iteration int) *domain.RunError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.RunError{
			Code:      domain.ErrorCodeTimeout,
			Message:   fmt.Sprintf("pipeline did not finish within %s", s.config.PipelineTimeout),
			Phase:     phase,
			Iteration: iteration,
		}
	}
	return &domain.RunError{
		Code:      domain.ErrorCodeCollaborator,
		Message:   err.Error(),
		Phase:     phase,
		Iteration: iteration,
	}
}

func infrastructureError(err error, phase string) *domain.RunError {
	return &domain.RunError{
		Code:    domain.ErrorCodeInfrastructure,
		Message: err.Error(),
		Phase:   phase,
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
