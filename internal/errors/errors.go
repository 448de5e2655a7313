package errors

import (
	"fmt"
	"time"
)

// OmnidexError is the structured error type for Omnidex.
// It provides rich context for error handling, logging, and user presentation.
type OmnidexError struct {
	// Code is the unique error code (e.g., "ERR_202_CORRUPT_INDEX").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Index, Provider, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// ProviderID identifies the provider for provider-scoped errors.
	ProviderID string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// RetryAfter is a suggested delay before retrying, when known
	// (e.g. from a rate-limit response). Zero means no suggestion.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *OmnidexError) Error() string {
	if e.ProviderID != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.ProviderID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *OmnidexError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with OmnidexError.
func (e *OmnidexError) Is(target error) bool {
	if t, ok := target.(*OmnidexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *OmnidexError) WithDetail(key, value string) *OmnidexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithRetryAfter sets the suggested retry delay.
func (e *OmnidexError) WithRetryAfter(d time.Duration) *OmnidexError {
	e.RetryAfter = d
	return e
}

// New creates a new OmnidexError with the given code and message.
// Category, severity, retryable flag, and retry delay are derived from the code.
func New(code string, message string, cause error) *OmnidexError {
	return &OmnidexError{
		Code:       code,
		Message:    message,
		Category:   categoryFromCode(code),
		Severity:   severityFromCode(code),
		Cause:      cause,
		Retryable:  isRetryableCode(code),
		RetryAfter: retryDelayForCode(code),
	}
}

// Wrap creates an OmnidexError from an existing error.
// The error's message becomes the OmnidexError message.
func Wrap(code string, err error) *OmnidexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// IndexError creates an index segment or storage error.
func IndexError(message string, cause error) *OmnidexError {
	return New(ErrCodeIndexFailed, message, cause)
}

// CorruptionError creates an index corruption error.
// Corruption is recovered locally by rebuilding; it never surfaces to callers.
func CorruptionError(message string, cause error) *OmnidexError {
	return New(ErrCodeCorruptIndex, message, cause)
}

// SyntaxError creates a query syntax error carrying the offending fragment.
func SyntaxError(fragment, reason string) *OmnidexError {
	e := New(ErrCodeQuerySyntax, fmt.Sprintf("invalid syntax at %q: %s", fragment, reason), nil)
	return e.WithDetail("fragment", fragment).WithDetail("reason", reason)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *OmnidexError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ProviderError creates a provider-scoped error.
func ProviderError(providerID, message string, cause error) *OmnidexError {
	e := New(ErrCodeProviderFailed, message, cause)
	e.ProviderID = providerID
	return e
}

// TimeoutError creates a timeout error for a named operation.
func TimeoutError(operation string) *OmnidexError {
	return New(ErrCodeNetworkTimeout, fmt.Sprintf("operation timed out: %s", operation), nil)
}

// RateLimitError creates a rate-limit error with an optional retry-after hint.
func RateLimitError(providerID string, retryAfter time.Duration) *OmnidexError {
	e := New(ErrCodeRateLimited, "rate limit exceeded", nil)
	e.ProviderID = providerID
	if retryAfter > 0 {
		e.RetryAfter = retryAfter
	}
	return e
}

// AuthError creates an authentication error for a provider.
func AuthError(providerID, message string, cause error) *OmnidexError {
	e := New(ErrCodeAuthFailed, message, cause)
	e.ProviderID = providerID
	return e
}

// ResourceError creates a resource exhaustion error (memory, disk).
func ResourceError(resource, message string) *OmnidexError {
	e := New(ErrCodeResource, message, nil)
	return e.WithDetail("resource", resource)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *OmnidexError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is an OmnidexError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if oe, ok := err.(*OmnidexError); ok {
		return oe.Retryable
	}
	return false
}

// RetryDelay returns the suggested retry delay for an error, if any.
func RetryDelay(err error) time.Duration {
	if oe, ok := err.(*OmnidexError); ok {
		return oe.RetryAfter
	}
	return 0
}

// GetCode extracts the error code from an OmnidexError.
// Returns empty string if not an OmnidexError.
func GetCode(err error) string {
	if oe, ok := err.(*OmnidexError); ok {
		return oe.Code
	}
	return ""
}

// GetCategory extracts the category from an OmnidexError.
// Returns empty string if not an OmnidexError.
func GetCategory(err error) Category {
	if oe, ok := err.(*OmnidexError); ok {
		return oe.Category
	}
	return ""
}
