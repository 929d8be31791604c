package domain

// GenerationRequest is the caller-supplied input of a run.
type GenerationRequest struct {
	SourceContext       string      `json:"source_context"`
	CommunicativeIntent string      `json:"communicative_intent"`
	DiagramType         DiagramType `json:"diagram_type"`
	Iterations          int         `json:"iterations"`

	// Credential is forwarded to the pipeline and never stored on the run.
	Credential string `json:"-"`
}

// CreateRunResponse is returned as soon as a run has been registered.
type CreateRunResponse struct {
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	StreamURL string    `json:"stream_url"`
	PollURL   string    `json:"poll_url"`
}

// Critique is the critic's verdict on one iteration.
type Critique struct {
	NeedsRevision bool     `json:"needs_revision"`
	Summary       string   `json:"summary,omitempty"`
	Suggestions   []string `json:"suggestions,omitempty"`
}

// Verdict renders the critique as "accept" or "revise".
func (c *Critique) Verdict() string {
	if c == nil || !c.NeedsRevision {
		return "accept"
	}
	return "revise"
}

// IterationOutcome is one pass of the visualizer/critic loop.
type IterationOutcome struct {
	Iteration   int       `json:"iteration"`
	ImageURL    string    `json:"image_url"`
	Description string    `json:"description,omitempty"`
	Critique    *Critique `json:"critique,omitempty"`
}
