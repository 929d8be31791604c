package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sreedath/simplepaperbanana/internal/domain"
)

// Simulated is a local stand-in for the pipeline. It produces placeholder
// diagrams and a deterministic critique sequence.
type Simulated struct {
	// OutputDir receives <run_id>/diagram_iter_<k>.png. Empty skips writing.
	OutputDir string
	// ImageBaseURL prefixes the returned image references.
	ImageBaseURL string
	// StepDelay is slept before every step.
	StepDelay time.Duration
	// AcceptAt is the iteration the critic accepts. Zero never accepts.
	AcceptAt int
	// FailAt is the iteration that fails. Zero never fails.
	FailAt int
	// FailPhase makes Plan or Style fail when set to "planning" or "styling".
	FailPhase string
}

// NewSimulated creates a simulated pipeline writing images under outputDir.
func NewSimulated(outputDir string, stepDelay time.Duration) *Simulated {
	return &Simulated{
		OutputDir:    outputDir,
		ImageBaseURL: "/api/images",
		StepDelay:    stepDelay,
	}
}

// Plan returns a plan derived from the request text.
func (s *Simulated) Plan(ctx context.Context, job Job) (*Plan, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.FailPhase == "planning" {
		return nil, fmt.Errorf("simulated planning failure")
	}
	return &Plan{
		Description: fmt.Sprintf("%s diagram: %s", job.Request.DiagramType, summarize(job.Request.CommunicativeIntent, 120)),
		References:  []string{"ref-1", "ref-2"},
	}, nil
}

// Style annotates the plan with a fixed style guide.
func (s *Simulated) Style(ctx context.Context, job Job, plan *Plan) (*Plan, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.FailPhase == "styling" {
		return nil, fmt.Errorf("simulated styling failure")
	}
	styled := *plan
	styled.Style = "flat pastel palette, sans-serif labels"
	return &styled, nil
}

// Refine yields up to job.Request.Iterations outcomes.
func (s *Simulated) Refine(ctx context.Context, job Job, plan *Plan) iter.Seq2[domain.IterationOutcome, error] {
	return func(yield func(domain.IterationOutcome, error) bool) {
		for k := 1; k <= job.Request.Iterations; k++ {
			if err := s.wait(ctx); err != nil {
				yield(domain.IterationOutcome{}, err)
				return
			}
			if s.FailAt == k {
				yield(domain.IterationOutcome{}, fmt.Errorf("simulated visualizer failure at iteration %d", k))
				return
			}

			name := fmt.Sprintf("diagram_iter_%d.png", k)
			if err := s.writeImage(job.RunID, name, k); err != nil {
				yield(domain.IterationOutcome{}, err)
				return
			}

			accepted := s.AcceptAt > 0 && k >= s.AcceptAt
			critique := &domain.Critique{NeedsRevision: !accepted}
			if accepted {
				critique.Summary = "Diagram is faithful and legible."
			} else {
				critique.Summary = "Labels overlap in the central block."
				critique.Suggestions = []string{"increase spacing between modules", "shorten edge labels"}
			}

			outcome := domain.IterationOutcome{
				Iteration:   k,
				ImageURL:    s.ImageBaseURL + "/" + job.RunID + "/" + name,
				Description: fmt.Sprintf("Iteration %d of %s", k, plan.Description),
				Critique:    critique,
			}
			if !yield(outcome, nil) || accepted {
				return
			}
		}
	}
}

func (s *Simulated) wait(ctx context.Context) error {
	if s.StepDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.StepDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Simulated) writeImage(runID, name string, iteration int) error {
	if s.OutputDir == "" {
		return nil
	}
	dir := filepath.Join(s.OutputDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, placeholder(iteration)); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}

// placeholder draws a small gradient whose tint changes per iteration.
func placeholder(iteration int) image.Image {
	const w, h = 96, 64
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	tint := uint8(60 * iteration % 256)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: tint, A: 255})
		}
	}
	return img
}

func summarize(s string, limit int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "..."
}
