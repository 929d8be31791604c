// Package policy admits or rejects generation requests with an OPA policy.
package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.generation_policy.deny"),
		rego.Module("generation_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Input is the document the policy is evaluated against.
type Input struct {
	DiagramType    string `json:"diagram_type"`
	Iterations     int    `json:"iterations"`
	MaxIterations  int    `json:"max_iterations"`
	SourceChars    int    `json:"source_chars"`
	MaxSourceChars int    `json:"max_source_chars"`
	IntentChars    int    `json:"intent_chars"`
}

// Evaluate returns the deny reasons for input, sorted. An empty result
// admits the request.
func (e *Engine) Evaluate(ctx context.Context, input Input) ([]string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"diagram_type":     input.DiagramType,
		"iterations":       input.Iterations,
		"max_iterations":   input.MaxIterations,
		"source_chars":     input.SourceChars,
		"max_source_chars": input.MaxSourceChars,
		"intent_chars":     input.IntentChars,
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	set, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}
	reasons := make([]string, 0, len(set))
	for _, v := range set {
		if s, ok := v.(string); ok {
			reasons = append(reasons, s)
		}
	}
	sort.Strings(reasons)
	return reasons, nil
}

// DefaultPolicy is the default admission policy.
const DefaultPolicy = `
package generation_policy

import rego.v1

allowed_diagram_types := {"methodology", "statistical_plot"}

deny contains msg if {
	not allowed_diagram_types[input.diagram_type]
	msg := sprintf("diagram_type %q is not supported", [input.diagram_type])
}

deny contains msg if {
	input.iterations < 1
	msg := "iterations must be at least 1"
}

deny contains msg if {
	input.iterations > input.max_iterations
	msg := sprintf("iterations must not exceed %d", [input.max_iterations])
}

deny contains msg if {
	input.max_source_chars > 0
	input.source_chars > input.max_source_chars
	msg := sprintf("source_context exceeds %d characters", [input.max_source_chars])
}
`
