package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-validation"

// Helper function to create a valid JWT token for testing
func createTestToken(userID string, roles []string, expiresIn time.Duration) string {
	claims := jwt.MapClaims{
		"user_id": userID,
		"roles":   roles,
		"exp":     time.Now().Add(expiresIn).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(testSecret))
	return tokenString
}

func TestValidateToken_ValidToken(t *testing.T) {
	validator := NewJWTValidator(testSecret)

	tokenString := createTestToken("admin-123", []string{"admin"}, time.Hour)

	claims, err := validator.ValidateToken(tokenString)

	require.NoError(t, err)
	assert.Equal(t, "admin-123", claims.UserID)
	assert.Equal(t, []string{"admin"}, claims.Roles)
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	validator := NewJWTValidator(testSecret)

	// Create token that expired 1 hour ago
	tokenString := createTestToken("admin-123", []string{"admin"}, -time.Hour)

	_, err := validator.ValidateToken(tokenString)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateToken_InvalidSignature(t *testing.T) {
	validator := NewJWTValidator(testSecret)

	claims := jwt.MapClaims{
		"user_id": "admin-123",
		"roles":   []string{"admin"},
		"exp":     time.Now().Add(time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte("wrong-secret"))

	_, err := validator.ValidateToken(tokenString)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
}

func TestValidateToken_MalformedToken(t *testing.T) {
	validator := NewJWTValidator(testSecret)

	_, err := validator.ValidateToken("not-a-valid-jwt-token")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_EmptyToken(t *testing.T) {
	validator := NewJWTValidator(testSecret)

	_, err := validator.ValidateToken("")

	require.Error(t, err)
}

func TestValidateToken_MissingUserID(t *testing.T) {
	validator := NewJWTValidator(testSecret)

	// Create token without user_id claim
	claims := jwt.MapClaims{
		"roles": []string{"admin"},
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(testSecret))

	_, err := validator.ValidateToken(tokenString)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_id")
}

func TestValidateToken_MissingRoles(t *testing.T) {
	validator := NewJWTValidator(testSecret)

	// Create token without roles claim
	claims := jwt.MapClaims{
		"user_id": "admin-123",
		"exp":     time.Now().Add(time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(testSecret))

	_, err := validator.ValidateToken(tokenString)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "roles")
}

func TestValidateToken_MultipleRoles(t *testing.T) {
	validator := NewJWTValidator(testSecret)

	tokenString := createTestToken("ops-456", []string{"viewer", "chat_admin"}, time.Hour)

	claims, err := validator.ValidateToken(tokenString)

	require.NoError(t, err)
	assert.Equal(t, "ops-456", claims.UserID)
	assert.Equal(t, []string{"viewer", "chat_admin"}, claims.Roles)
}

func TestValidateToken_NameDefaultsToUserID(t *testing.T) {
	validator := NewJWTValidator(testSecret)

	// Without a name claim the display name falls back to the user ID
	tokenString := createTestToken("admin-456", []string{"admin"}, time.Hour)

	claims, err := validator.ValidateToken(tokenString)

	require.NoError(t, err)
	assert.Equal(t, "admin-456", claims.Name)
}

func TestValidateToken_WithName(t *testing.T) {
	validator := NewJWTValidator(testSecret)

	claims := jwt.MapClaims{
		"user_id": "admin-123",
		"name":    "Support Lead",
		"roles":   []string{"admin"},
		"exp":     time.Now().Add(time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(testSecret))

	extracted, err := validator.ValidateToken(tokenString)

	require.NoError(t, err)
	assert.Equal(t, "Support Lead", extracted.Name)
}

// TestExtractRoles covers all branches of the extractRoles internal function.
func TestExtractRoles(t *testing.T) {
	tests := []struct {
		name      string
		input     interface{}
		wantRoles []string
		wantErr   bool
		errMsg    string
	}{
		{
			name:      "interface slice with strings",
			input:     []interface{}{"viewer", "admin"},
			wantRoles: []string{"viewer", "admin"},
		},
		{
			name:      "empty interface slice",
			input:     []interface{}{},
			wantRoles: []string{},
		},
		{
			name:    "interface slice with non-string element",
			input:   []interface{}{"viewer", 42},
			wantErr: true,
			errMsg:  "non-string value at index 1",
		},
		{
			name:      "direct string slice",
			input:     []string{"admin", "chat_admin"},
			wantRoles: []string{"admin", "chat_admin"},
		},
		{
			name:    "bare string",
			input:   "admin",
			wantErr: true,
			errMsg:  "must be an array of strings",
		},
		{
			name:    "nil",
			input:   nil,
			wantErr: true,
			errMsg:  "must be an array of strings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roles, err := extractRoles(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantRoles, roles)
			}
		})
	}
}
