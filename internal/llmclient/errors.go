package llmclient

import (
	"errors"
	"fmt"
)

// ErrBackendUnavailable indicates a connection/dial failure reaching the LLM
// backend (spec.md §4.1).
var ErrBackendUnavailable = errors.New("llm backend unavailable")

// BackendError indicates the backend responded with a non-2xx HTTP status.
type BackendError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("llm backend error: status %d", e.Status)
}
