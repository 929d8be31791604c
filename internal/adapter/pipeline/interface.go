// Package pipeline provides clients for the external diagram generation
// pipeline.
package pipeline

import (
	"context"
	"iter"

	"github.com/sreedath/simplepaperbanana/internal/domain"
)

// Pipeline defines the steps the executor drives for one run.
type Pipeline interface {
	// Plan runs retrieval and planning.
	Plan(ctx context.Context, job Job) (*Plan, error)

	// Style refines the plan's visual style.
	Style(ctx context.Context, job Job, plan *Plan) (*Plan, error)

	// Refine runs the visualizer/critic loop. The sequence is lazy, finite
	// and can be ranged over once; it ends when the critic accepts or the
	// iteration cap is reached. A non-nil error ends the sequence.
	Refine(ctx context.Context, job Job, plan *Plan) iter.Seq2[domain.IterationOutcome, error]
}

// Job identifies the run a pipeline call belongs to.
type Job struct {
	RunID   string                   `json:"run_id"`
	Request domain.GenerationRequest `json:"request"`
}

// Plan is the pipeline's intermediate description of the figure.
type Plan struct {
	Description string   `json:"description"`
	Style       string   `json:"style,omitempty"`
	References  []string `json:"references,omitempty"`
}

// Ensure implementations satisfy Pipeline.
var (
	_ Pipeline = (*RemoteClient)(nil)
	_ Pipeline = (*Simulated)(nil)
)
