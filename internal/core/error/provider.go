package errx

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTruncated marks a non-fatal trim of conversation history.
	ErrTruncated = errors.New("conversation history truncated")
	// ErrAccountingDegraded marks token or cost figures that are approximate.
	ErrAccountingDegraded = errors.New("token accounting degraded")
)

// ConfigurationError is fatal at startup. Missing lists the environment
// variables that would have satisfied the requirement.
type ConfigurationError struct {
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) == 0 {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s (set %s)", e.Reason, strings.Join(e.Missing, " or "))
}

// ProviderUnavailableError is returned without calling the provider when its
// circuit breaker is open.
type ProviderUnavailableError struct {
	Provider string
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: circuit open", e.Provider)
}

// ProviderCallFailedError is returned once the retry budget for a provider
// call is spent, or on the first non-retryable failure.
type ProviderCallFailedError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *ProviderCallFailedError) Error() string {
	return fmt.Sprintf("provider %s call failed after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *ProviderCallFailedError) Unwrap() error {
	return e.Err
}

// ToolExecutionError is a domain failure from a tool. It is reported back to
// the model as a tool result, never to the end user.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// IsProviderFailure reports whether err means the model could not be reached,
// either because the breaker is open or because retries were exhausted.
func IsProviderFailure(err error) bool {
	var unavailable *ProviderUnavailableError
	var failed *ProviderCallFailedError
	return errors.As(err, &unavailable) || errors.As(err, &failed)
}
