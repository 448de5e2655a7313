// Package errors provides structured error handling for Omnidex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index and storage errors
//   - 3XX: Provider, network, and rate-limit errors
//   - 4XX: Query and input validation errors
//   - 5XX: Authentication and access errors
//   - 6XX: Internal and resource errors
package errors

import "time"

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIndex indicates index segment and storage errors.
	CategoryIndex Category = "INDEX"
	// CategoryProvider indicates provider, network, and rate-limit errors.
	CategoryProvider Category = "PROVIDER"
	// CategoryQuery indicates query parsing and input validation errors.
	CategoryQuery Category = "QUERY"
	// CategoryAuth indicates authentication and access errors.
	CategoryAuth Category = "AUTH"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound  = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid   = "ERR_102_CONFIG_INVALID"
	ErrCodeUnknownProvider = "ERR_103_UNKNOWN_PROVIDER_TYPE"

	// Index and storage errors (200-299)
	ErrCodeIndexFailed  = "ERR_201_INDEX_FAILED"
	ErrCodeCorruptIndex = "ERR_202_CORRUPT_INDEX"
	ErrCodeCommitFailed = "ERR_203_COMMIT_FAILED"
	ErrCodeIndexClosed  = "ERR_204_INDEX_CLOSED"
	ErrCodeMetaStore    = "ERR_205_META_STORE"
	ErrCodeResource     = "ERR_206_RESOURCE_EXHAUSTED"

	// Provider and network errors (300-399)
	ErrCodeProviderFailed   = "ERR_301_PROVIDER_FAILED"
	ErrCodeNetworkTimeout   = "ERR_302_NETWORK_TIMEOUT"
	ErrCodeNetwork          = "ERR_303_NETWORK_UNAVAILABLE"
	ErrCodeRateLimited      = "ERR_304_RATE_LIMITED"
	ErrCodeProviderNotReady = "ERR_305_PROVIDER_NOT_READY"
	ErrCodePlugin           = "ERR_306_PLUGIN_FAILED"

	// Query errors (400-499)
	ErrCodeInvalidQuery  = "ERR_401_INVALID_QUERY"
	ErrCodeQuerySyntax   = "ERR_402_QUERY_SYNTAX"
	ErrCodeInvalidInput  = "ERR_403_INVALID_INPUT"
	ErrCodeInvalidFilter = "ERR_404_INVALID_FILTER"

	// Auth errors (500-599)
	ErrCodeAuthFailed   = "ERR_501_AUTH_FAILED"
	ErrCodeTokenExpired = "ERR_502_TOKEN_EXPIRED"
	ErrCodeAccessDenied = "ERR_503_ACCESS_DENIED"

	// Internal errors (600-699)
	ErrCodeInternal     = "ERR_601_INTERNAL"
	ErrCodeJobFailed    = "ERR_602_JOB_FAILED"
	ErrCodeJobNotFound  = "ERR_603_JOB_NOT_FOUND"
	ErrCodeQueueFull    = "ERR_604_QUEUE_FULL"
	ErrCodeShuttingDown = "ERR_605_SHUTTING_DOWN"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "201" from "ERR_201_INDEX_FAILED".
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIndex
	case '3':
		return CategoryProvider
	case '4':
		return CategoryQuery
	case '5':
		return CategoryAuth
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeResource:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetwork, ErrCodeRateLimited,
		ErrCodeProviderNotReady, ErrCodeQueueFull:
		return true
	}
	return false
}

// retryDelayForCode suggests a delay before retrying, for use by upstream
// retry policies. Zero means no suggestion.
func retryDelayForCode(code string) time.Duration {
	switch code {
	case ErrCodeNetwork:
		return 5 * time.Second
	case ErrCodeNetworkTimeout:
		return 2 * time.Second
	case ErrCodeRateLimited:
		return time.Minute
	case ErrCodeQueueFull:
		return time.Second
	}
	return 0
}
