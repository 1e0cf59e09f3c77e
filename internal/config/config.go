// Package config loads and validates the typed settings for the supportbot
// service. Values come from the goconfig accessor with environment variables
// taking priority, so Kubernetes secrets can override config.toml entries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/real-rm/goconfig"

	"github.com/real-rm/supportbot/internal/constants"
	"github.com/real-rm/supportbot/internal/util"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Provider ProviderConfig
	Gateway  GatewayConfig
	Engine   EngineConfig
}

// ServerConfig holds HTTP server and admin endpoint configuration
type ServerConfig struct {
	Port            int
	JWTSecret       string
	PathPrefix      string        // HTTP path prefix for all routes (default: "/")
	RateLimit       int           // Chat messages per window per session
	RateWindow      time.Duration // Chat rate limit window
	AdminRateLimit  int           // Admin endpoint rate limit (requests per window)
	AdminRateWindow time.Duration // Admin rate limit window
}

// DatabaseConfig holds MongoDB database and collection names plus the
// at-rest encryption key for chat transcripts.
type DatabaseConfig struct {
	Database           string
	SessionsCollection string
	ChatLogCollection  string
	EncryptionKey      []byte
}

// ProviderConfig holds the OTP and application-details provider settings
type ProviderConfig struct {
	BaseURL            string
	ClientCode         string
	AccessKey          string
	InsecureSkipVerify bool
}

// GatewayConfig holds the human-agent gateway settings
type GatewayConfig struct {
	BaseURL string
	AppID   string
	Trigger string
}

// EngineConfig holds the answer engine settings
type EngineConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Load builds the typed configuration from the goconfig accessor.
// Priority: Environment variable > Config file > Default.
func Load(cfg *goconfig.ConfigAccessor) (*Config, error) {
	c := &Config{}

	var err error
	c.Server.Port, err = cfg.ConfigIntWithDefault("server.port", constants.DefaultPort)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("failed to get server port: %w", err)
	}

	c.Server.JWTSecret, err = loadSecret(cfg, "JWT_SECRET", "supportbot.jwt_secret")
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}

	c.Server.PathPrefix = os.Getenv("SUPPORTBOT_PATH_PREFIX")
	if c.Server.PathPrefix == "" {
		c.Server.PathPrefix, err = cfg.ConfigStringWithDefault("supportbot.path_prefix", constants.DefaultPathPrefix)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return nil, fmt.Errorf("failed to get path prefix: %w", err)
		}
	}

	c.Server.RateLimit, err = cfg.ConfigIntWithDefault("supportbot.rate_limit", constants.DefaultRateLimit)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limit: %w", err)
	}
	c.Server.RateWindow, err = loadDuration(cfg, "supportbot.rate_window", constants.DefaultRateWindow)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}
	c.Server.AdminRateLimit, err = cfg.ConfigIntWithDefault("supportbot.admin_rate_limit", constants.DefaultAdminRateLimit)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("failed to get admin rate limit: %w", err)
	}
	c.Server.AdminRateWindow, err = loadDuration(cfg, "supportbot.admin_rate_window", constants.DefaultRateWindow)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}

	c.Database.Database, err = cfg.ConfigStringWithDefault("supportbot.database", constants.DefaultDatabase)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("failed to get database name: %w", err)
	}
	c.Database.SessionsCollection, err = cfg.ConfigStringWithDefault("supportbot.sessions_collection", constants.DefaultSessionsCollection)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions collection: %w", err)
	}
	c.Database.ChatLogCollection, err = cfg.ConfigStringWithDefault("supportbot.chatlog_collection", constants.DefaultChatLogCollection)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat log collection: %w", err)
	}

	// The encryption key is optional; an empty key stores transcripts in
	// plaintext and Load logs nothing so callers decide how loudly to warn.
	encryptionKeyStr, err := loadSecret(cfg, "ENCRYPTION_KEY", "supportbot.encryption_key")
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}
	// No else needed: optional operation (encryption disabled when empty)
	if encryptionKeyStr != "" {
		c.Database.EncryptionKey = []byte(encryptionKeyStr)
	}

	c.Provider.BaseURL = os.Getenv("PROVIDER_BASE_URL")
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL, err = cfg.ConfigStringWithDefault("provider.base_url", constants.DefaultProviderBaseURL)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return nil, fmt.Errorf("failed to get provider base URL: %w", err)
		}
	}
	c.Provider.ClientCode, err = cfg.ConfigStringWithDefault("provider.client_code", constants.DefaultClientCode)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("failed to get provider client code: %w", err)
	}
	c.Provider.AccessKey, err = loadSecret(cfg, "PROVIDER_ACCESS_KEY", "provider.access_key")
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}
	c.Provider.InsecureSkipVerify, err = cfg.ConfigBoolWithDefault("provider.insecure_skip_verify", false)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("failed to get provider TLS setting: %w", err)
	}

	c.Gateway.BaseURL = os.Getenv("GATEWAY_BASE_URL")
	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL, err = cfg.ConfigStringWithDefault("gateway.base_url", constants.DefaultGatewayBaseURL)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return nil, fmt.Errorf("failed to get gateway base URL: %w", err)
		}
	}
	c.Gateway.AppID, err = cfg.ConfigStringWithDefault("gateway.app_id", constants.DefaultGatewayAppID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("failed to get gateway app ID: %w", err)
	}
	c.Gateway.Trigger, err = cfg.ConfigStringWithDefault("gateway.trigger", constants.DefaultGatewayTrigger)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("failed to get gateway trigger: %w", err)
	}

	// The engine API key is optional; without one the bot still handles OTP
	// verification and handover but cannot answer free-form questions.
	c.Engine.APIKey, err = loadSecret(cfg, "OPENAI_API_KEY", "engine.api_key")
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}
	c.Engine.Model, err = cfg.ConfigStringWithDefault("engine.model", constants.DefaultEngineModel)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("failed to get engine model: %w", err)
	}
	c.Engine.Timeout, err = loadDuration(cfg, "engine.timeout", constants.DefaultEngineTimeout)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server port must be between 1 and 65535"))
	}
	if err := validateJWTSecret(c.Server.JWTSecret); err != nil {
		errs = append(errs, err)
	}
	if c.Server.PathPrefix == "" {
		errs = append(errs, errors.New("path prefix cannot be empty"))
	} else if !strings.HasPrefix(c.Server.PathPrefix, "/") {
		errs = append(errs, errors.New("path prefix must start with '/'"))
	}
	if c.Server.RateLimit <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	if c.Server.AdminRateLimit <= 0 {
		errs = append(errs, errors.New("admin rate limit must be positive"))
	}

	if c.Database.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}
	if c.Database.SessionsCollection == "" {
		errs = append(errs, errors.New("sessions collection is required"))
	}
	if c.Database.ChatLogCollection == "" {
		errs = append(errs, errors.New("chat log collection is required"))
	}
	if err := validateEncryptionKey(c.Database.EncryptionKey); err != nil {
		errs = append(errs, err)
	}

	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider base URL is required"))
	}
	if c.Provider.AccessKey == "" {
		errs = append(errs, errors.New("provider access key is required"))
	}

	if c.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("gateway base URL is required"))
	}
	if c.Gateway.AppID == "" {
		errs = append(errs, errors.New("gateway app ID is required"))
	}

	if c.Engine.Timeout <= 0 {
		errs = append(errs, errors.New("engine timeout must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// validateJWTSecret validates the JWT secret strength.
// Returns error if secret is empty, too short, or contains weak patterns.
func validateJWTSecret(secret string) error {
	if secret == "" {
		return errors.New("JWT secret is required")
	}

	// Check minimum length (32 characters for strong security)
	if len(secret) < constants.MinJWTSecretLength {
		return fmt.Errorf(
			"JWT secret must be at least %d characters (got %d). "+
				"Generate a strong secret with: openssl rand -base64 32",
			constants.MinJWTSecretLength, len(secret))
	}

	// Check for common weak secrets
	if weak, pattern := util.ContainsWeakPattern(secret, constants.WeakSecrets); weak {
		return fmt.Errorf(
			"JWT secret appears to be weak (contains '%s'). "+
				"Use a cryptographically random secret generated with: openssl rand -base64 32",
			pattern)
	}

	return nil
}

// validateEncryptionKey checks if the encryption key is exactly 32 bytes.
// Returns nil if key is empty (encryption disabled) or exactly 32 bytes.
func validateEncryptionKey(key []byte) error {
	keyLen := len(key)

	// Empty key is valid (encryption disabled)
	if keyLen == 0 {
		return nil
	}

	// 32 bytes is valid for AES-256
	if keyLen == constants.EncryptionKeyLength {
		return nil
	}

	// Any other length is invalid
	return fmt.Errorf("encryption key must be exactly %d bytes for AES-256, got %d bytes. Please provide a valid %d-byte key or remove the key to disable encryption", constants.EncryptionKeyLength, keyLen, constants.EncryptionKeyLength)
}

// loadSecret loads a secret with environment variable priority. An empty
// value is returned as-is; Validate decides whether the secret is required.
// Placeholder values left over from deployment templates are rejected.
func loadSecret(cfg *goconfig.ConfigAccessor, envKey, configKey string) (string, error) {
	value := os.Getenv(envKey)
	if value == "" {
		var err error
		value, err = cfg.ConfigStringWithDefault(configKey, "")
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return "", fmt.Errorf("failed to get %s: %w", configKey, err)
		}
	}
	if value != "" && ContainsPlaceholder(value) {
		return "", fmt.Errorf("%s contains placeholder value %q, set a real value before deploying", envKey, value)
	}
	return value, nil
}

// loadDuration loads a duration-valued config entry.
func loadDuration(cfg *goconfig.ConfigAccessor, configKey string, defaultValue time.Duration) (time.Duration, error) {
	valueStr, err := cfg.ConfigStringWithDefault(configKey, defaultValue.String())
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", configKey, err)
	}
	value, err := time.ParseDuration(valueStr)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %w", configKey, err)
	}
	return value, nil
}

// ContainsPlaceholder checks if a configuration value still contains
// a deployment placeholder that should have been replaced.
func ContainsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	return strings.Contains(upper, "REPLACE_WITH") ||
		strings.Contains(upper, "PLACEHOLDER") ||
		strings.Contains(upper, "CHANGE-ME") ||
		strings.Contains(upper, "CHANGE_ME") ||
		strings.Contains(upper, "YOUR-")
}
