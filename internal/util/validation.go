package util

import (
	"fmt"

	"github.com/real-rm/supportbot/internal/constants"
)

// ValidateNotEmpty checks if a string is not empty and returns an error if it is.
// This eliminates repeated empty string checks.
//
// Example:
//
//	if err := util.ValidateNotEmpty(sessionID, "session ID"); err != nil {
//	    return err
//	}
func ValidateNotEmpty(value, fieldName string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	return nil
}

// ValidateRange checks if an integer is within a specified range (inclusive).
//
// Example:
//
//	if err := util.ValidateRange(port, 1, 65535, "port"); err != nil {
//	    return err
//	}
func ValidateRange(value, min, max int, fieldName string) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", fieldName, min, max, value)
	}
	return nil
}

// ValidateMinLength checks if a string meets minimum length requirement.
//
// Example:
//
//	if err := util.ValidateMinLength(secret, 32, "JWT secret"); err != nil {
//	    return err
//	}
func ValidateMinLength(value string, minLength int, fieldName string) error {
	if len(value) < minLength {
		return fmt.Errorf("%s must be at least %d characters, got %d", fieldName, minLength, len(value))
	}
	return nil
}

// ValidateExactLength checks if a byte slice has exact length.
// This is useful for encryption key validation.
//
// Example:
//
//	if err := util.ValidateExactLength(key, 32, "encryption key"); err != nil {
//	    return err
//	}
func ValidateExactLength(value []byte, exactLength int, fieldName string) error {
	if len(value) != exactLength && len(value) != 0 {
		return fmt.Errorf("%s must be exactly %d bytes, got %d bytes", fieldName, exactLength, len(value))
	}
	return nil
}

// ValidatePositive checks if a number is positive.
//
// Example:
//
//	if err := util.ValidatePositive(timeout, "timeout"); err != nil {
//	    return err
//	}
func ValidatePositive(value int, fieldName string) error {
	if value <= 0 {
		return fmt.Errorf("%s must be positive, got %d", fieldName, value)
	}
	return nil
}

// IsDigits reports whether s is non-empty and consists only of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsMobileNumber reports whether s looks like a 10-digit mobile number.
func IsMobileNumber(s string) bool {
	return len(s) == 10 && IsDigits(s)
}

// ValidateSessionID validates a caller-supplied session identifier.
// Session IDs are opaque strings; only emptiness and length are enforced.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if len(sessionID) > constants.MaxSessionIDLength {
		return fmt.Errorf("session ID exceeds maximum length of %d characters", constants.MaxSessionIDLength)
	}
	return nil
}
