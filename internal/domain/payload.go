package domain

// StatusPayload is the payload for status events.
type StatusPayload struct {
	Message string `json:"message"`
	Phase   string `json:"phase,omitempty"`
}

// IterationPayload is the payload for iteration events.
type IterationPayload struct {
	Iteration   int       `json:"iteration"`
	Total       int       `json:"total"`
	ImageURL    string    `json:"image_url"`
	Description string    `json:"description,omitempty"`
	Verdict     string    `json:"verdict"`
	Critique    *Critique `json:"critique,omitempty"`
	Message     string    `json:"message"`
}

// CompletedPayload is the payload for the complete event.
type CompletedPayload struct {
	Message string    `json:"message"`
	Result  RunResult `json:"result"`
}

// ErrorPayload is the payload for the error event.
type ErrorPayload struct {
	Error RunError `json:"error"`
}

// Descriptions longer than this are truncated before they enter the log.
const MaxDescriptionChars = 500
