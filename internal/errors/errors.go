// Package errors provides error handling functionality for the supportbot application.
// It defines error categories, error types, and error message generation.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryAuth represents authentication and authorization errors
	CategoryAuth ErrorCategory = "auth"
	// CategoryValidation represents input validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryService represents service-level errors (provider, gateway, engine, database)
	CategoryService ErrorCategory = "service"
	// CategoryRateLimit represents rate limiting errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Authentication errors
	ErrCodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	ErrCodeExpiredToken      ErrorCode = "EXPIRED_TOKEN"
	ErrCodeInsufficientPerms ErrorCode = "INSUFFICIENT_PERMISSIONS"

	// Validation errors
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
	ErrCodeMissingField  ErrorCode = "MISSING_FIELD"

	// Service errors
	ErrCodeProviderError      ErrorCode = "PROVIDER_ERROR"
	ErrCodeProviderRejected   ErrorCode = "PROVIDER_REJECTED"
	ErrCodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeEngineUnavailable  ErrorCode = "ENGINE_UNAVAILABLE"
	ErrCodeDatabaseError      ErrorCode = "DATABASE_ERROR"
	ErrCodeServiceError       ErrorCode = "SERVICE_ERROR"

	// Rate limiting errors
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
)

// ChatError represents an application error with category and recoverability information
type ChatError struct {
	Category    ErrorCategory
	Code        ErrorCode
	Message     string
	Recoverable bool
	RetryAfter  int // milliseconds, only for rate limit errors
	Cause       error
}

// Error implements the error interface
func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// IsFatal returns true if the error is fatal and must terminate the request
func (e *ChatError) IsFatal() bool {
	return !e.Recoverable
}

// NewAuthError creates a new authentication error (fatal)
func NewAuthError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryAuth,
		Code:        code,
		Message:     message,
		Recoverable: false, // Auth errors are fatal
		Cause:       cause,
	}
}

// NewValidationError creates a new validation error (recoverable)
func NewValidationError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryValidation,
		Code:        code,
		Message:     message,
		Recoverable: true, // Validation errors are recoverable
		Cause:       cause,
	}
}

// NewServiceError creates a new service error (recoverable with retry)
func NewServiceError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryService,
		Code:        code,
		Message:     message,
		Recoverable: true, // Service errors are recoverable
		Cause:       cause,
	}
}

// NewRateLimitError creates a new rate limit error (recoverable with retry after)
func NewRateLimitError(code ErrorCode, message string, retryAfter int, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryRateLimit,
		Code:        code,
		Message:     message,
		Recoverable: true,
		RetryAfter:  retryAfter,
		Cause:       cause,
	}
}

// Common error constructors for convenience

// ErrInvalidToken creates an invalid token error
func ErrInvalidToken(cause error) *ChatError {
	return NewAuthError(ErrCodeInvalidToken, "Invalid authentication token", cause)
}

// ErrExpiredToken creates an expired token error
func ErrExpiredToken(cause error) *ChatError {
	return NewAuthError(ErrCodeExpiredToken, "Authentication token has expired", cause)
}

// ErrInsufficientPermissions creates an insufficient permissions error
func ErrInsufficientPermissions(cause error) *ChatError {
	return NewAuthError(ErrCodeInsufficientPerms, "Insufficient permissions for this operation", cause)
}

// ErrInvalidRequestFormat creates an invalid request format error
func ErrInvalidRequestFormat(details string, cause error) *ChatError {
	return NewValidationError(ErrCodeInvalidFormat, fmt.Sprintf("Invalid request format: %s", details), cause)
}

// ErrMissingField creates a missing field error
func ErrMissingField(fieldName string) *ChatError {
	return NewValidationError(ErrCodeMissingField, fmt.Sprintf("Required field missing: %s", fieldName), nil)
}

// ErrProviderError creates a verification provider error
func ErrProviderError(operation string, cause error) *ChatError {
	return NewServiceError(ErrCodeProviderError,
		fmt.Sprintf("Verification provider %s failed", operation), cause)
}

// ErrProviderRejected creates an error for a provider response that reported failure
func ErrProviderRejected(operation, reason string) *ChatError {
	return NewServiceError(ErrCodeProviderRejected,
		fmt.Sprintf("Verification provider rejected %s: %s", operation, reason), nil)
}

// ErrGatewayUnavailable creates an agent gateway unavailable error
func ErrGatewayUnavailable(cause error) *ChatError {
	return NewServiceError(ErrCodeGatewayUnavailable, "Agent gateway is temporarily unavailable", cause)
}

// ErrEngineUnavailable creates an answer engine unavailable error
func ErrEngineUnavailable(cause error) *ChatError {
	return NewServiceError(ErrCodeEngineUnavailable, "AI service is temporarily unavailable", cause)
}

// ErrDatabaseError creates a database error
func ErrDatabaseError(cause error) *ChatError {
	return NewServiceError(ErrCodeDatabaseError, "Database operation failed", cause)
}

// ErrTooManyRequests creates a too many requests error
func ErrTooManyRequests(retryAfter int) *ChatError {
	return NewRateLimitError(ErrCodeTooManyRequests,
		"Too many requests, please slow down", retryAfter, nil)
}
