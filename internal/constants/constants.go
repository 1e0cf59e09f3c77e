// Package constants provides centralized constant definitions for the supportbot application.
// This eliminates magic numbers and strings throughout the codebase.
package constants

import "time"

// HTTP Status Codes
const (
	StatusOK                 = 200
	StatusTooManyRequests    = 429
	StatusServiceUnavailable = 503
)

// Timeouts for various operations
const (
	DefaultContextTimeout = 10 * time.Second // Standard database operations
	LongContextTimeout    = 30 * time.Second // Complex queries and index creation
	MongoIndexTimeout     = 30 * time.Second // MongoDB index creation
	HealthCheckTimeout    = 2 * time.Second  // Health check operations
	ChatLogTimeout        = 5 * time.Second  // Appending turns to the chat log
	QueueOpTimeout        = 5 * time.Second  // Agent queue enqueue/drain
	OTPRequestTimeout     = 10 * time.Second // OTP provider round-trips
	DetailsTimeout        = 5 * time.Second  // Application details lookup
	GatewayTimeout        = 5 * time.Second  // Human-agent gateway forward
	DefaultEngineTimeout  = 60 * time.Second // Answer engine round-trip
)

// HTTP Server Timeouts (for standalone server mode)
const (
	HTTPReadTimeout  = 15 * time.Second  // Maximum time to read the entire request
	HTTPWriteTimeout = 60 * time.Second  // Maximum time to write the response
	HTTPIdleTimeout  = 120 * time.Second // Maximum time to keep idle connections alive
)

// Sizes and Limits
const (
	MaxTranscriptTurns    = 20     // Sliding window of turns kept as engine context
	MaxCachedSessions     = 10000  // Per-process transcript cache capacity
	DefaultSessionLimit   = 100    // Default number of session docs to return
	MaxSessionLimit       = 1000   // Maximum session docs per query (performance cap)
	DefaultRateLimit      = 100    // Default chat messages per minute per session
	DefaultAdminRateLimit = 20     // Default admin requests per minute
	PublicEndpointRate    = 60     // Requests per minute for public endpoints per IP
	MaxRetryAttempts      = 3      // Maximum retry attempts for transient errors
	MaxEventsPerKey       = 1000   // Maximum rate limit events tracked per key
	MaxKeysTracked        = 100000 // Maximum distinct keys in rate limiter map
	EncryptionKeyLength   = 32     // AES-256 requires exactly 32 bytes
	MinJWTSecretLength    = 32     // Minimum JWT secret length in characters
	MaxSessionIDLength    = 255    // Session identifiers are caller-supplied opaque strings
	MaxChatMessageLength  = 100000 // Upper bound on a single inbound chat message
)

// Durations for background operations
const (
	DefaultRateWindow      = 1 * time.Minute // Rate limiting window
	DefaultCleanupInterval = 5 * time.Minute // Cleanup goroutine interval
	InitialRetryDelay      = 100 * time.Millisecond
	MaxRetryDelay          = 2 * time.Second
	RetryMultiplier        = 2.0
)

// Role Names for authorization
const (
	RoleAdmin     = "admin"
	RoleChatAdmin = "chat_admin"
)

// Sender roles recorded in the durable chat log
const (
	SenderUser  = "user"
	SenderBot   = "bot"
	SenderAgent = "agent"
)

// Default Configuration Values
const (
	DefaultDatabase           = "supportbot"
	DefaultSessionsCollection = "active_user_sessions"
	DefaultChatLogCollection  = "chat_transaction_logs"
	DefaultPort               = 8000
	DefaultLogLevel           = "info"
	DefaultLogDir             = "logs"
	DefaultPathPrefix         = "/"
	DefaultProviderBaseURL    = "https://qaserver-int.emudhra.net:18006"
	DefaultGatewayBaseURL     = "http://127.0.0.1:5000"
	DefaultGatewayAppID       = "5cac75981134520011f881ab"
	DefaultGatewayTrigger     = "message:appUser"
	DefaultClientCode         = "emudhra"
	DefaultEngineModel        = "gpt-4o-mini"
	DefaultLoginURL           = "https://emudhradigital.com/Login.jsp"
	DefaultBuyDSCURL          = "https://emudhradigital.com/buy-digital-signature"
)

// User-facing response texts. The exact wording is part of the contract with
// the chat frontend; change with care.
const (
	MsgPromptMobile   = "Please enter your valid 10-digit registered mobile number."
	MsgOTPSentFmt     = "We've sent an OTP to **%s**. Please enter the OTP to verify and proceed."
	MsgOTPSendFailFmt = "Failed to send OTP: %s"
	MsgInvalidOTP     = "The OTP you entered is incorrect. Please re-enter the correct OTP sent to your registered mobile number."
	MsgSessionExpired = "Session expired. Please reload."
	MsgConnecting     = "Connecting you to a support specialist..."
	MsgConnected      = "You're now connected. A support specialist will join the chat shortly."
	MsgHandoverFailed = "I'm sorry, I was unable to connect you to a support specialist right now."
	MsgEngineFailure  = "I encountered an error processing your request."
	MsgEngineMissing  = "System Error: AI Agent not initialized."
	DefaultAgentName  = "Support Agent"

	MsgVerifiedPrefix   = "OTP verified. Loading your application details.\n\n"
	MsgVerifiedFallback = "OTP verified. Loading your application details.\n\n(Could not fetch details automatically)."
)

// HTTP Headers
const (
	HeaderAuthorization = "Authorization"
	HeaderRetryAfter    = "Retry-After"
	BearerPrefix        = "Bearer "
	BearerPrefixLength  = 7
)

// Error Messages
const (
	ErrMsgInvalidAuthHeader = "Invalid or missing Authorization header"
	ErrMsgForbidden         = "Insufficient permissions"
	ErrMsgRateLimitExceeded = "Too many requests. Please try again later."
	ErrMsgSessionIDRequired = "session_id is required"
)

// Time conversion constants
const (
	MillisecondsPerSecond = 1000
	MinRetryAfterSeconds  = 1
)

// MongoDB field names for session-state documents
const (
	MongoFieldID         = "_id"
	MongoFieldState      = "state"
	MongoFieldMobile     = "mobile"
	MongoFieldOTPSession = "otp_session_id"
	MongoFieldVerified   = "verified"
	MongoFieldAgentQueue = "agent_queue"
	MongoFieldAIHistory  = "ai_history"
	MongoFieldTurnCount  = "turn_count"
	MongoFieldUpdatedAt  = "updated_at"
)

// MongoDB field names for chat transcript documents
const (
	MongoFieldChatMobile = "mobile_number"
	MongoFieldChatMsgs   = "chat_msgs"
	MongoFieldTxnStart   = "txn_start_time"
	MongoFieldTxnEnd     = "txn_end_time"
	MongoFieldDayKey     = "day"
)

// MongoDB index names
const (
	IndexSessionMobile = "idx_session_mobile"
	IndexSessionState  = "idx_session_state"
	IndexChatLogDay    = "idx_chatlog_day"
)

// Weak secrets that should never be used in production
var WeakSecrets = []string{
	"secret",
	"password",
	"changeme",
	"default",
	"test",
	"12345",
	"admin",
}
