package providers

import (
	"context"
	"errors"
	"fmt"

	"medgate/pkg/platform/circuit"
)

// ErrorCategory is the normalized reason an attempt failed.
type ErrorCategory string

const (
	// ErrorTimeout indicates the provider took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorCircuitOpen indicates the provider's breaker rejected the call
	ErrorCircuitOpen ErrorCategory = "circuit_open"

	// ErrorBadStatus indicates a non-2xx response
	ErrorBadStatus ErrorCategory = "bad_status"

	// ErrorProviderOutage indicates a transport failure
	ErrorProviderOutage ErrorCategory = "provider_outage"

	// ErrorBadData indicates malformed or empty output
	ErrorBadData ErrorCategory = "bad_data"
)

// ProviderError wraps provider failures with normalized categorization
type ProviderError struct {
	Category   ErrorCategory
	Provider   string
	Message    string
	StatusCode int
	Underlying error
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.Provider, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.Provider, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// NewProviderError creates a new normalized provider error
func NewProviderError(category ErrorCategory, provider, message string, underlying error) *ProviderError {
	return &ProviderError{
		Category:   category,
		Provider:   provider,
		Message:    message,
		Underlying: underlying,
	}
}

// StatusError reports a non-2xx response.
func StatusError(provider string, status int, body string) *ProviderError {
	e := NewProviderError(ErrorBadStatus, provider, fmt.Sprintf("unexpected status %d", status), nil)
	e.StatusCode = status
	if body != "" {
		e.Message = fmt.Sprintf("unexpected status %d: %s", status, body)
	}
	return e
}

// Classify normalizes any error from an attempt. Breaker rejections and
// deadlines take precedence over what the client reported.
func Classify(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	if errors.Is(err, circuit.ErrOpen) {
		return NewProviderError(ErrorCircuitOpen, provider, "circuit breaker open", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewProviderError(ErrorTimeout, provider, "request timed out", err)
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return NewProviderError(ErrorProviderOutage, provider, "request failed", err)
}

// GetCategory extracts the error category from an error
func GetCategory(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorProviderOutage
}
