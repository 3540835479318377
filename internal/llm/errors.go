package llm

import (
	"fmt"

	"github.com/procura-agent/server/internal/resilience"
)

// APIError is a provider HTTP failure translated by a [Client]. Its status
// decides whether the reliability pipeline retries.
type APIError struct {
	Provider   Provider
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s api error %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s api error %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the status is 408, 429 or 5xx. Validation,
// authentication and content-policy rejections are not retried.
func (e *APIError) Retryable() bool {
	return resilience.RetryableStatus(e.StatusCode)
}
