package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/real-rm/goconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/supportbot/internal/constants"
)

// loadAccessor writes a config file to a temp dir and loads it through
// goconfig. Secret env vars are cleared so the file contents win.
func loadAccessor(t *testing.T, toml string) *goconfig.ConfigAccessor {
	t.Helper()

	for _, key := range []string{
		"JWT_SECRET", "ENCRYPTION_KEY", "PROVIDER_ACCESS_KEY", "OPENAI_API_KEY",
		"PROVIDER_BASE_URL", "GATEWAY_BASE_URL", "SUPPORTBOT_PATH_PREFIX",
	} {
		t.Setenv(key, "")
	}

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o600))

	t.Setenv("RMBASE_FILE_CFG", path)
	goconfig.ResetConfig()
	t.Cleanup(goconfig.ResetConfig)
	require.NoError(t, goconfig.LoadConfig())

	accessor, err := goconfig.Default()
	require.NoError(t, err)
	return accessor
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadAccessor(t, "")

	c, err := Load(cfg)
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultPort, c.Server.Port)
	assert.Equal(t, constants.DefaultPathPrefix, c.Server.PathPrefix)
	assert.Equal(t, constants.DefaultRateLimit, c.Server.RateLimit)
	assert.Equal(t, constants.DefaultRateWindow, c.Server.RateWindow)
	assert.Equal(t, constants.DefaultAdminRateLimit, c.Server.AdminRateLimit)
	assert.Equal(t, constants.DefaultDatabase, c.Database.Database)
	assert.Equal(t, constants.DefaultSessionsCollection, c.Database.SessionsCollection)
	assert.Equal(t, constants.DefaultChatLogCollection, c.Database.ChatLogCollection)
	assert.Empty(t, c.Database.EncryptionKey)
	assert.Equal(t, constants.DefaultProviderBaseURL, c.Provider.BaseURL)
	assert.Equal(t, constants.DefaultClientCode, c.Provider.ClientCode)
	assert.False(t, c.Provider.InsecureSkipVerify)
	assert.Equal(t, constants.DefaultGatewayBaseURL, c.Gateway.BaseURL)
	assert.Equal(t, constants.DefaultGatewayTrigger, c.Gateway.Trigger)
	assert.Equal(t, constants.DefaultEngineModel, c.Engine.Model)
	assert.Equal(t, constants.DefaultEngineTimeout, c.Engine.Timeout)
}

func TestLoad_FileValues(t *testing.T) {
	cfg := loadAccessor(t, `
[server]
port = 9090

[supportbot]
jwt_secret = "kT8vR2mQ9xW4zN7bL5cJ3fH6dS1aG0pY"
path_prefix = "/bot"
rate_limit = 30
rate_window = "30s"
database = "botdb"

[provider]
base_url = "https://provider.example.com"
access_key = "ak-1234567890"

[gateway]
base_url = "https://gateway.example.com"
app_id = "app-1"

[engine]
model = "gpt-4o"
timeout = "25s"
`)

	c, err := Load(cfg)
	require.NoError(t, err)

	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, "kT8vR2mQ9xW4zN7bL5cJ3fH6dS1aG0pY", c.Server.JWTSecret)
	assert.Equal(t, "/bot", c.Server.PathPrefix)
	assert.Equal(t, 30, c.Server.RateLimit)
	assert.Equal(t, 30*time.Second, c.Server.RateWindow)
	assert.Equal(t, "botdb", c.Database.Database)
	assert.Equal(t, "https://provider.example.com", c.Provider.BaseURL)
	assert.Equal(t, "ak-1234567890", c.Provider.AccessKey)
	assert.Equal(t, "https://gateway.example.com", c.Gateway.BaseURL)
	assert.Equal(t, "app-1", c.Gateway.AppID)
	assert.Equal(t, "gpt-4o", c.Engine.Model)
	assert.Equal(t, 25*time.Second, c.Engine.Timeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	cfg := loadAccessor(t, `
[supportbot]
jwt_secret = "file-value-file-value-file-value-xx"
`)
	t.Setenv("JWT_SECRET", "env-wins-env-wins-env-wins-env-wins")
	t.Setenv("PROVIDER_BASE_URL", "https://override.example.com")
	t.Setenv("SUPPORTBOT_PATH_PREFIX", "/override")

	c, err := Load(cfg)
	require.NoError(t, err)

	assert.Equal(t, "env-wins-env-wins-env-wins-env-wins", c.Server.JWTSecret)
	assert.Equal(t, "https://override.example.com", c.Provider.BaseURL)
	assert.Equal(t, "/override", c.Server.PathPrefix)
}

func TestLoad_PlaceholderSecretRejected(t *testing.T) {
	cfg := loadAccessor(t, `
[supportbot]
jwt_secret = "REPLACE_WITH_STRONG_SECRET"
`)

	_, err := Load(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "placeholder")
}

func TestLoad_InvalidDuration(t *testing.T) {
	cfg := loadAccessor(t, `
[supportbot]
rate_window = "not-a-duration"
`)

	_, err := Load(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_window")
}

// validConfig returns a configuration that passes Validate.
func validConfig() *Config {
	c := &Config{}
	c.Server.Port = 8000
	c.Server.JWTSecret = "kT8vR2mQ9xW4zN7bL5cJ3fH6dS1aG0pY"
	c.Server.PathPrefix = "/"
	c.Server.RateLimit = 100
	c.Server.RateWindow = time.Minute
	c.Server.AdminRateLimit = 20
	c.Server.AdminRateWindow = time.Minute
	c.Database.Database = "supportbot"
	c.Database.SessionsCollection = "active_user_sessions"
	c.Database.ChatLogCollection = "chat_transaction_logs"
	c.Provider.BaseURL = "https://provider.example.com"
	c.Provider.AccessKey = "ak-1234567890"
	c.Gateway.BaseURL = "https://gateway.example.com"
	c.Gateway.AppID = "app-1"
	c.Engine.Timeout = 30 * time.Second
	return c
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"missing jwt secret", func(c *Config) { c.Server.JWTSecret = "" }, "JWT secret"},
		{"empty path prefix", func(c *Config) { c.Server.PathPrefix = "" }, "path prefix"},
		{"relative path prefix", func(c *Config) { c.Server.PathPrefix = "bot" }, "path prefix"},
		{"zero rate limit", func(c *Config) { c.Server.RateLimit = 0 }, "rate limit"},
		{"zero admin rate limit", func(c *Config) { c.Server.AdminRateLimit = 0 }, "admin rate limit"},
		{"missing database", func(c *Config) { c.Database.Database = "" }, "database"},
		{"missing sessions collection", func(c *Config) { c.Database.SessionsCollection = "" }, "sessions collection"},
		{"missing chat log collection", func(c *Config) { c.Database.ChatLogCollection = "" }, "chat log collection"},
		{"short encryption key", func(c *Config) { c.Database.EncryptionKey = []byte("short") }, "encryption key"},
		{"missing provider base URL", func(c *Config) { c.Provider.BaseURL = "" }, "provider base URL"},
		{"missing provider access key", func(c *Config) { c.Provider.AccessKey = "" }, "access key"},
		{"missing gateway base URL", func(c *Config) { c.Gateway.BaseURL = "" }, "gateway base URL"},
		{"missing gateway app ID", func(c *Config) { c.Gateway.AppID = "" }, "app ID"},
		{"zero engine timeout", func(c *Config) { c.Engine.Timeout = 0 }, "engine timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, strings.ToLower(err.Error()), strings.ToLower(tt.wantMsg))
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	c := validConfig()
	c.Server.Port = 0
	c.Server.JWTSecret = ""
	c.Provider.AccessKey = ""

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
	assert.Contains(t, err.Error(), "JWT secret")
	assert.Contains(t, err.Error(), "access key")
}

func TestValidateJWTSecret(t *testing.T) {
	assert.Error(t, validateJWTSecret(""))
	assert.Error(t, validateJWTSecret("tooshort"))
	assert.Error(t, validateJWTSecret("this-secret-is-long-enough-but-weak!"))
	assert.Error(t, validateJWTSecret("PASSWORD-padded-to-thirty-two-chars!!"))
	assert.NoError(t, validateJWTSecret("kT8vR2mQ9xW4zN7bL5cJ3fH6dS1aG0pY"))
}

func TestValidateEncryptionKey(t *testing.T) {
	assert.NoError(t, validateEncryptionKey(nil))
	assert.NoError(t, validateEncryptionKey([]byte(strings.Repeat("k", 32))))
	assert.Error(t, validateEncryptionKey([]byte(strings.Repeat("k", 16))))
	assert.Error(t, validateEncryptionKey([]byte(strings.Repeat("k", 33))))
}

func TestContainsPlaceholder(t *testing.T) {
	assert.True(t, ContainsPlaceholder("REPLACE_WITH_SECRET"))
	assert.True(t, ContainsPlaceholder("replace_with_secret"))
	assert.True(t, ContainsPlaceholder("some-placeholder-value"))
	assert.True(t, ContainsPlaceholder("change-me"))
	assert.True(t, ContainsPlaceholder("CHANGE_ME_NOW"))
	assert.True(t, ContainsPlaceholder("your-api-key-here"))
	assert.False(t, ContainsPlaceholder("kT8vR2mQ9xW4zN7bL5cJ3fH6dS1aG0pY"))
	assert.False(t, ContainsPlaceholder(""))
}
