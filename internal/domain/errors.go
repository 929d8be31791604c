package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned for unknown or evicted run identifiers.
	ErrNotFound = errors.New("run not found")
	// ErrRegistryFull is returned when no run can be evicted to make room.
	ErrRegistryFull = errors.New("run registry is full")
	// ErrInvalidTransition is returned for status changes the state machine forbids.
	ErrInvalidTransition = errors.New("invalid run status transition")
	// ErrRunFrozen is returned when appending to a run that already ended.
	ErrRunFrozen = errors.New("run event log is frozen")
	// ErrMissingCredential is returned when neither the caller nor the
	// environment supplies a pipeline credential.
	ErrMissingCredential = errors.New("no API key provided")
)

// ValidationError rejects a malformed generation request before a run exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// PolicyError carries the admission policy's deny reasons.
type PolicyError struct {
	Reasons []string
}

func (e *PolicyError) Error() string {
	return "request rejected by policy: " + strings.Join(e.Reasons, "; ")
}

// RunError is the structured failure recorded on a failed run.
type RunError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Phase     string `json:"phase,omitempty"`
	Iteration int    `json:"iteration,omitempty"`
}

func (e *RunError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("%s during %s: %s", e.Code, e.Phase, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValidation reports whether err rejects the request itself.
func IsValidation(err error) bool {
	var ve *ValidationError
	var pe *PolicyError
	return errors.As(err, &ve) || errors.As(err, &pe)
}
