package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedOutput indicates the model never produced parseable JSON
	// within the corrective-retry budget. Callers degrade stage-specifically.
	ErrMalformedOutput = errors.New("malformed model output")

	// ErrRequestRejected indicates a non-retryable 4xx from the LLM service.
	ErrRequestRejected = errors.New("llm request rejected")

	// ErrEmptyResponse indicates a 2xx response without any completion text.
	ErrEmptyResponse = errors.New("llm returned empty response")
)

// StatusError carries the HTTP status of a failed LLM call.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error returns the formatted message.
func (e *StatusError) Error() string {
	return fmt.Sprintf("llm service returned status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying: 429 and 5xx are
// transient, every other 4xx is a hard rejection.
func (e *StatusError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
