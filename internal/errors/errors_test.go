package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatError_Error(t *testing.T) {
	err := NewServiceError(ErrCodeProviderError, "provider failed", nil)
	assert.Equal(t, "PROVIDER_ERROR: provider failed", err.Error())

	cause := stderrors.New("connection refused")
	wrapped := NewServiceError(ErrCodeProviderError, "provider failed", cause)
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestChatError_Unwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := ErrDatabaseError(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestChatError_Recoverability(t *testing.T) {
	// Auth errors are fatal
	assert.True(t, ErrInvalidToken(nil).IsFatal())
	assert.True(t, ErrExpiredToken(nil).IsFatal())
	assert.True(t, ErrInsufficientPermissions(nil).IsFatal())

	// Validation, service, and rate limit errors are recoverable
	assert.False(t, ErrInvalidRequestFormat("bad json", nil).IsFatal())
	assert.False(t, ErrProviderError("send_otp", nil).IsFatal())
	assert.False(t, ErrTooManyRequests(1000).IsFatal())
}

func TestChatError_Categories(t *testing.T) {
	assert.Equal(t, CategoryAuth, ErrInvalidToken(nil).Category)
	assert.Equal(t, CategoryValidation, ErrMissingField("mobile").Category)
	assert.Equal(t, CategoryService, ErrGatewayUnavailable(nil).Category)
	assert.Equal(t, CategoryRateLimit, ErrTooManyRequests(500).Category)
}

func TestErrProviderRejected_CarriesReason(t *testing.T) {
	err := ErrProviderRejected("verify_otp", "Invalid OTP")

	assert.Equal(t, ErrCodeProviderRejected, err.Code)
	assert.Contains(t, err.Message, "verify_otp")
	assert.Contains(t, err.Message, "Invalid OTP")
}

func TestErrTooManyRequests_RetryAfter(t *testing.T) {
	err := ErrTooManyRequests(2500)
	assert.Equal(t, 2500, err.RetryAfter)
	assert.Equal(t, ErrCodeTooManyRequests, err.Code)
}

func TestErrorsAs_ThroughWrapping(t *testing.T) {
	inner := ErrProviderRejected("send_otp", "not registered")
	wrapped := NewServiceError(ErrCodeServiceError, "chat turn failed", inner)

	var chatErr *ChatError
	assert.True(t, stderrors.As(wrapped, &chatErr))
	assert.Equal(t, ErrCodeServiceError, chatErr.Code)
}
