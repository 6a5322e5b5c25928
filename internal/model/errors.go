package model

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by collaborators. Wrap with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	// ErrTransient marks timeouts and 429/503 responses that are retried at the call site
	ErrTransient = errors.New("transient network error")

	// ErrPermanentFetch marks pages that stay failed after the fallback ladder
	ErrPermanentFetch = errors.New("permanent fetch error")

	// ErrMissingCredential marks a provider that cannot run without configuration
	ErrMissingCredential = errors.New("missing provider credential")

	// ErrParse marks malformed structured model output
	ErrParse = errors.New("malformed structured output")

	// ErrAgentFailure marks an extraction agent that produced no result
	ErrAgentFailure = errors.New("agent failure")
)

// PipelineError is an uncaught failure during one phase of a session
type PipelineError struct {
	Phase Phase
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
