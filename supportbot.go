// Package supportbot provides the main service registration for the customer
// support chat application. It integrates with gomain by implementing a
// Register function that sets up the chat, polling, webhook, and admin HTTP
// endpoints.
package supportbot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/real-rm/goconfig"
	"github.com/real-rm/golog"
	"github.com/real-rm/gomongo"
	"github.com/real-rm/supportbot/internal/answer"
	"github.com/real-rm/supportbot/internal/auth"
	"github.com/real-rm/supportbot/internal/config"
	"github.com/real-rm/supportbot/internal/constants"
	"github.com/real-rm/supportbot/internal/conversation"
	"github.com/real-rm/supportbot/internal/handover"
	"github.com/real-rm/supportbot/internal/httperrors"
	"github.com/real-rm/supportbot/internal/metrics"
	"github.com/real-rm/supportbot/internal/notification"
	"github.com/real-rm/supportbot/internal/pii"
	"github.com/real-rm/supportbot/internal/provider"
	"github.com/real-rm/supportbot/internal/ratelimit"
	"github.com/real-rm/supportbot/internal/storage"
	"github.com/real-rm/supportbot/internal/util"
)

var (
	// Global references for graceful shutdown
	globalChatLimiter   *ratelimit.MessageLimiter
	globalAdminLimiter  *ratelimit.MessageLimiter
	globalPublicLimiter *ratelimit.MessageLimiter
	globalLogger        *golog.Logger
	shutdownMu          sync.Mutex
)

// chatRequest is the inbound body for the main chat endpoint.
type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Register registers the supportbot service with the gomain router.
// This function is called by gomain during service initialization.
//
// Parameters:
//   - r: Gin router for registering HTTP endpoints
//   - cfg: Configuration accessor for loading service settings
//   - logger: Logger for structured logging
//   - mongo: MongoDB client for data persistence
//
// Returns:
//   - error: Any error that occurred during registration
func Register(r *gin.Engine, cfg *goconfig.ConfigAccessor, logger *golog.Logger, mongo *gomongo.Mongo) error {
	// Create service-specific logger
	botLogger := logger.WithGroup("supportbot")
	botLogger.Info("Initializing supportbot service")

	// Load and validate configuration at startup.
	// This ensures misconfigurations are caught before serving traffic.
	settings, err := config.Load(cfg)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	// No else needed: early return pattern (guard clause)
	if err := settings.Validate(); err != nil {
		botLogger.Error("Configuration validation failed", "error", err)
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// No else needed: optional operation (logging based on configuration state)
	if len(settings.Database.EncryptionKey) > 0 {
		botLogger.Info("Transcript encryption enabled", "key_length", len(settings.Database.EncryptionKey))
	} else {
		botLogger.Warn("No encryption key configured, chat transcripts will be stored unencrypted")
	}

	// Create storage service with encryption key
	storageService := storage.NewStorageService(mongo,
		settings.Database.Database,
		settings.Database.SessionsCollection,
		settings.Database.ChatLogCollection,
		botLogger,
		settings.Database.EncryptionKey)

	// Ensure MongoDB indexes are created for optimal query performance
	indexCtx, indexCancel := util.NewTimeoutContext(constants.MongoIndexTimeout)
	defer indexCancel()
	// No else needed: optional operation (non-critical index creation)
	if err := storageService.EnsureIndexes(indexCtx); err != nil {
		botLogger.Warn("Failed to create MongoDB indexes", "error", err)
		// Don't fail startup - indexes can be created manually if needed
	}

	// Create the OTP verification provider client
	providerClient, err := provider.NewClient(provider.Config{
		BaseURL:            settings.Provider.BaseURL,
		ClientCode:         settings.Provider.ClientCode,
		AccessKey:          settings.Provider.AccessKey,
		InsecureSkipVerify: settings.Provider.InsecureSkipVerify,
	}, botLogger)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to create verification provider client: %w", err)
	}

	// Create the human agent gateway bridge
	bridge, err := handover.NewBridge(handover.Config{
		BaseURL: settings.Gateway.BaseURL,
		AppID:   settings.Gateway.AppID,
		Trigger: settings.Gateway.Trigger,
	}, botLogger)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to create agent gateway bridge: %w", err)
	}

	// Create the answer engine. A missing API key is not fatal; the bot still
	// handles OTP verification and handover without one.
	var engine answer.Engine
	if settings.Engine.APIKey != "" {
		openAIEngine, err := answer.NewOpenAIEngine(settings.Engine.APIKey, settings.Engine.Model, settings.Engine.Timeout, botLogger)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return fmt.Errorf("failed to create answer engine: %w", err)
		}
		engine = openAIEngine
		botLogger.Info("Answer engine configured", "model", settings.Engine.Model)
	} else {
		botLogger.Warn("No answer engine API key configured, free-form questions will be rejected")
	}

	// Create notification service
	notificationService, err := notification.NewNotificationService(botLogger, cfg, mongo)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to create notification service: %w", err)
	}

	// Create the conversation coordinator that ties everything together
	coordinator := conversation.NewCoordinator(storageService, providerClient, engine, bridge, notificationService, conversation.Config{}, botLogger)

	// Create rate limiters
	chatLimiter := ratelimit.NewMessageLimiter(settings.Server.RateWindow, settings.Server.RateLimit)
	adminLimiter := ratelimit.NewMessageLimiter(settings.Server.AdminRateWindow, settings.Server.AdminRateLimit)
	publicLimiter := ratelimit.NewMessageLimiter(1*time.Minute, constants.PublicEndpointRate)

	botLogger.Info("Rate limiters configured",
		"chat_limit", settings.Server.RateLimit,
		"chat_window", settings.Server.RateWindow,
		"admin_limit", settings.Server.AdminRateLimit,
		"admin_window", settings.Server.AdminRateWindow)

	// Create JWT validator for admin endpoints
	validator := auth.NewJWTValidator(settings.Server.JWTSecret)

	// Start background cleanup goroutines only after all validation is complete,
	// so we don't leak goroutines if Register() returns an error.
	chatLimiter.StartCleanup()
	adminLimiter.StartCleanup()
	publicLimiter.StartCleanup()

	// Store global references for graceful shutdown.
	// Stop any previously-registered instances to prevent goroutine leaks
	// when Register() is called multiple times (tests, hot-reload).
	shutdownMu.Lock()
	if globalChatLimiter != nil {
		globalChatLimiter.StopCleanup()
	}
	if globalAdminLimiter != nil {
		globalAdminLimiter.StopCleanup()
	}
	if globalPublicLimiter != nil {
		globalPublicLimiter.StopCleanup()
	}
	globalChatLimiter = chatLimiter
	globalAdminLimiter = adminLimiter
	globalPublicLimiter = publicLimiter
	globalLogger = botLogger
	shutdownMu.Unlock()

	// Configure CORS middleware
	// Load CORS configuration from config file or environment
	corsOriginsStr, err := cfg.ConfigStringWithDefault("supportbot.cors_allowed_origins", "")
	// No else needed: optional operation (CORS configuration with fallback logging)
	if err == nil && corsOriginsStr != "" {
		if config.ContainsPlaceholder(corsOriginsStr) {
			return fmt.Errorf("supportbot.cors_allowed_origins contains placeholder value %q, set actual origins before deploying", corsOriginsStr)
		}
		allowedOrigins := strings.Split(corsOriginsStr, ",")
		for i, origin := range allowedOrigins {
			allowedOrigins[i] = strings.TrimSpace(origin)
		}

		corsConfig := cors.Config{
			AllowOrigins:     allowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}
		r.Use(cors.New(corsConfig))

		botLogger.Info("CORS middleware configured",
			"allowed_origins", allowedOrigins,
			"allow_credentials", true)
	} else {
		botLogger.Warn("No CORS origins configured, CORS middleware not enabled")
	}

	// Configure trusted proxies to prevent X-Forwarded-For spoofing.
	// c.ClientIP() will only trust X-Forwarded-For from these networks.
	trustedProxiesStr, _ := cfg.ConfigStringWithDefault("supportbot.trusted_proxies", "")
	if trustedProxiesStr != "" {
		proxies := strings.Split(trustedProxiesStr, ",")
		for i, p := range proxies {
			proxies[i] = strings.TrimSpace(p)
		}
		if err := r.SetTrustedProxies(proxies); err != nil {
			botLogger.Warn("Failed to set trusted proxies", "error", err)
		} else {
			botLogger.Info("Trusted proxies configured", "proxies", proxies)
		}
	}

	// Apply security headers middleware
	r.Use(securityHeadersMiddleware())

	// Apply metrics middleware to record HTTP request duration
	r.Use(metricsMiddleware())

	pathPrefix := settings.Server.PathPrefix
	botLogger.Info("Using HTTP path prefix", "prefix", pathPrefix)

	// Register routes
	chatGroup := r.Group(pathPrefix)
	{
		// Service banner; also serves as the liveness probe target
		chatGroup.GET("/", handleRoot)
		chatGroup.GET("/healthz", publicRateLimitMiddleware(publicLimiter, botLogger), handleHealthCheck)
		chatGroup.GET("/readyz", publicRateLimitMiddleware(publicLimiter, botLogger), handleReadyCheck(storageService, botLogger))

		// Main chat endpoint and the agent message poll
		chatGroup.POST("/chat", handleChat(coordinator, chatLimiter, botLogger))
		chatGroup.GET("/chat/poll", handleChatPoll(coordinator, botLogger))

		// Inbound webhook from the agent gateway. The path shape is dictated
		// by the gateway's delivery contract; the user ID segment carries the
		// chat session ID.
		chatGroup.POST("/send/appusers/:userID/messages", handleAgentWebhook(coordinator, botLogger))

		// Admin HTTP endpoints
		adminGroup := chatGroup.Group("/admin")
		adminGroup.Use(authMiddleware(validator, botLogger))
		adminGroup.Use(adminRateLimitMiddleware(adminLimiter, botLogger))
		{
			adminGroup.GET("/sessions", handleListSessions(storageService, botLogger))
			adminGroup.GET("/sessions/:sessionID/transcript", handleGetTranscript(storageService, botLogger))
			adminGroup.POST("/sessions/:sessionID/reset", handleAdminReset(coordinator, botLogger))
		}
	}

	// Prometheus metrics endpoint, restricted to configured networks
	metricsAllowedStr, _ := cfg.ConfigStringWithDefault("supportbot.metrics_allowed_networks", "")
	metricsNets := parseNetworks(metricsAllowedStr, botLogger)
	chatGroup.GET("/metrics/prometheus",
		metricsNetworkMiddleware(metricsNets, botLogger),
		publicRateLimitMiddleware(publicLimiter, botLogger),
		gin.WrapH(promhttp.Handler()),
	)

	botLogger.Info("Supportbot service registered successfully",
		"chat_endpoint", pathPrefix+"/chat",
		"poll_endpoint", pathPrefix+"/chat/poll",
		"webhook_endpoint", pathPrefix+"/send/appusers/:userID/messages",
		"admin_endpoints", pathPrefix+"/admin/*",
		"metrics_endpoint", pathPrefix+"/metrics/prometheus",
	)

	return nil
}

// handleRoot reports the running service. The chat frontend pings this
// endpoint on load.
func handleRoot(c *gin.Context) {
	c.JSON(constants.StatusOK, gin.H{
		"status":  "running",
		"service": "Lia Support Bot",
	})
}

// handleChat returns the handler for the main chat endpoint. Every user
// message comes through here; the coordinator decides whether it is a mobile
// number, an OTP, a question for the engine, or text to relay to a human
// agent.
func handleChat(coordinator *conversation.Coordinator, limiter *ratelimit.MessageLimiter, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chatRequest
		// No else needed: early return pattern (guard clause)
		if err := c.ShouldBindJSON(&req); err != nil {
			httperrors.RespondBadRequest(c, "invalid request body")
			return
		}

		// No else needed: early return pattern (guard clause)
		if err := util.ValidateSessionID(req.SessionID); err != nil {
			httperrors.RespondBadRequest(c, "invalid session_id")
			return
		}
		// No else needed: early return pattern (guard clause)
		if len(req.Message) > constants.MaxChatMessageLength {
			httperrors.RespondBadRequest(c, "message exceeds maximum length")
			return
		}

		// Rate limit per session to keep one runaway client from starving the
		// engine and provider quotas.
		// No else needed: early return pattern (guard clause)
		if !limiter.Allow(req.SessionID) {
			retryAfter := limiter.GetRetryAfter(req.SessionID)
			retryAfterSeconds := (retryAfter + constants.MillisecondsPerSecond - 1) / constants.MillisecondsPerSecond
			// No else needed: optional operation (minimum retry after enforcement)
			if retryAfterSeconds < constants.MinRetryAfterSeconds {
				retryAfterSeconds = constants.MinRetryAfterSeconds
			}
			c.Header(constants.HeaderRetryAfter, fmt.Sprintf("%d", retryAfterSeconds))
			logger.Warn("Chat rate limit exceeded",
				"session_id", req.SessionID,
				"retry_after_ms", retryAfter,
				"component", "http")
			httperrors.RespondTooManyRequests(c)
			return
		}

		reply := coordinator.HandleMessage(c.Request.Context(), req.SessionID, req.Message)
		c.JSON(constants.StatusOK, gin.H{
			"response": reply,
		})
	}
}

// handleChatPoll returns the handler that drains queued agent messages for a
// session. Each message is delivered exactly once; the frontend polls this
// while a handover is active.
func handleChatPoll(coordinator *conversation.Coordinator, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Query("session_id")
		// No else needed: early return pattern (guard clause)
		if err := util.ValidateSessionID(sessionID); err != nil {
			httperrors.RespondBadRequest(c, constants.ErrMsgSessionIDRequired)
			return
		}

		messages, err := coordinator.PollMessages(sessionID)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			// Log detailed error server-side
			util.LogError(logger, "http", "poll agent messages", err, "session_id", sessionID)
			// Send generic error to client
			httperrors.RespondInternalError(c)
			return
		}

		c.JSON(constants.StatusOK, gin.H{
			"messages": messages,
		})
	}
}

// handleAgentWebhook returns the handler for inbound agent replies from the
// gateway. The gateway treats any non-2xx response as a delivery failure and
// retries, so processing errors are reported in the body with a 200 status.
func handleAgentWebhook(coordinator *conversation.Coordinator, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("userID")
		// No else needed: early return pattern (guard clause)
		if err := util.ValidateSessionID(sessionID); err != nil {
			c.JSON(constants.StatusOK, gin.H{
				"status":  "error",
				"message": "invalid session identifier",
			})
			return
		}

		var payload handover.AgentWebhookPayload
		// No else needed: early return pattern (guard clause)
		if err := c.ShouldBindJSON(&payload); err != nil {
			logger.Warn("Invalid agent webhook payload",
				"session_id", sessionID,
				"error", err,
				"component", "http")
			c.JSON(constants.StatusOK, gin.H{
				"status":  "error",
				"message": "invalid payload",
			})
			return
		}

		// No else needed: early return pattern (guard clause)
		if err := coordinator.ReceiveAgentMessage(sessionID, &payload); err != nil {
			util.LogError(logger, "http", "receive agent message", err, "session_id", sessionID)
			c.JSON(constants.StatusOK, gin.H{
				"status":  "error",
				"message": "failed to queue message",
			})
			return
		}

		c.JSON(constants.StatusOK, gin.H{
			"status":  "success",
			"message": "Message queued",
		})
	}
}

// handleListSessions returns a handler for listing active sessions.
// Mobile numbers are masked before leaving the service.
func handleListSessions(storageService *storage.StorageService, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limitStr := c.DefaultQuery("limit", "100")
		limit := constants.DefaultSessionLimit
		// No else needed: optional operation (limit parsing with validation)
		if l, err := fmt.Sscanf(limitStr, "%d", &limit); err == nil && l == 1 {
			// No else needed: optional operation (limit range validation)
			if limit <= 0 || limit > constants.MaxSessionLimit {
				limit = constants.DefaultSessionLimit
			}
		}

		sessions, err := storageService.ListSessions(limit)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			// Log detailed error server-side
			util.LogError(logger, "http", "list sessions", err)
			// Send generic error to client
			httperrors.RespondInternalError(c)
			return
		}

		for _, s := range sessions {
			s.Mobile = pii.Mask(s.Mobile)
		}

		c.JSON(constants.StatusOK, gin.H{
			"sessions": sessions,
			"count":    len(sessions),
			"limit":    limit,
		})
	}
}

// handleGetTranscript returns a handler for reading a session's decrypted
// chat transcript.
func handleGetTranscript(storageService *storage.StorageService, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionID")
		// No else needed: early return pattern (guard clause)
		if err := util.ValidateSessionID(sessionID); err != nil {
			httperrors.RespondBadRequest(c, constants.ErrMsgSessionIDRequired)
			return
		}

		entries, err := storageService.GetChatLog(sessionID)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			// No else needed: early return pattern (guard clause)
			if errors.Is(err, storage.ErrSessionNotFound) {
				httperrors.RespondNotFound(c, "Transcript not found")
				return
			}
			// Log detailed error server-side
			util.LogError(logger, "http", "get chat transcript", err, "session_id", sessionID)
			// Send generic error to client
			httperrors.RespondInternalError(c)
			return
		}

		c.JSON(constants.StatusOK, gin.H{
			"session_id": sessionID,
			"messages":   entries,
			"count":      len(entries),
		})
	}
}

// handleAdminReset returns a handler that resets a session back to its
// initial state. This is the only way out of an active handover; the durable
// transcript is preserved.
func handleAdminReset(coordinator *conversation.Coordinator, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionID")
		// No else needed: early return pattern (guard clause)
		if err := util.ValidateSessionID(sessionID); err != nil {
			httperrors.RespondBadRequest(c, constants.ErrMsgSessionIDRequired)
			return
		}

		// No else needed: early return pattern (guard clause)
		if err := coordinator.ResetSession(sessionID); err != nil {
			util.LogError(logger, "http", "reset session", err, "session_id", sessionID)
			httperrors.RespondInternalError(c)
			return
		}

		c.JSON(constants.StatusOK, gin.H{
			"message":    "Session reset successfully",
			"session_id": sessionID,
		})
	}
}

// handleHealthCheck is the liveness probe endpoint.
// If we can respond, the process is alive.
func handleHealthCheck(c *gin.Context) {
	c.JSON(constants.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadyCheck returns a handler for the readiness probe endpoint.
// It verifies the storage backend is reachable before declaring the service
// ready to take traffic.
func handleReadyCheck(storageService *storage.StorageService, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := make(map[string]interface{})
		allReady := true

		ctx, cancel := util.NewTimeoutContext(constants.HealthCheckTimeout)
		defer cancel()

		// No else needed: optional operation (health check result recording)
		if err := storageService.Ping(ctx); err != nil {
			// Log detailed error server-side
			logger.Warn("MongoDB health check failed",
				"error", err,
				"component", "health")
			// Send generic error to client
			checks["mongodb"] = map[string]interface{}{
				"status": "not ready",
				"reason": "Database connectivity check failed",
			}
			allReady = false
		} else {
			checks["mongodb"] = map[string]interface{}{
				"status": "ready",
			}
		}

		status := "ready"
		statusCode := constants.StatusOK
		// No else needed: optional operation (status code adjustment based on health)
		if !allReady {
			status = "not ready"
			statusCode = constants.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		})
	}
}

// securityHeadersMiddleware adds standard HTTP security headers to all responses.
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// metricsMiddleware records HTTP request duration for Prometheus monitoring
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.HTTPRequestDuration.With(prometheus.Labels{
			"endpoint": c.FullPath(),
			"method":   c.Request.Method,
		}).Observe(time.Since(start).Seconds())
	}
}

// publicRateLimitMiddleware creates a Gin middleware for rate limiting public
// endpoints (healthz, readyz, metrics) by client IP to prevent abuse.
func publicRateLimitMiddleware(limiter *ratelimit.MessageLimiter, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Use Gin's ClientIP() which respects trusted proxies to prevent X-Forwarded-For spoofing
		clientIP := c.ClientIP()

		if !limiter.Allow(clientIP) {
			retryAfter := limiter.GetRetryAfter(clientIP)
			retryAfterSeconds := (retryAfter + constants.MillisecondsPerSecond - 1) / constants.MillisecondsPerSecond
			if retryAfterSeconds < constants.MinRetryAfterSeconds {
				retryAfterSeconds = constants.MinRetryAfterSeconds
			}
			c.Header(constants.HeaderRetryAfter, fmt.Sprintf("%d", retryAfterSeconds))

			logger.Warn("Public endpoint rate limit exceeded",
				"client_ip", clientIP,
				"endpoint", c.Request.URL.Path,
				"component", "http")

			httperrors.RespondTooManyRequests(c)
			c.Abort()
			return
		}

		c.Next()
	}
}

// authMiddleware creates a Gin middleware for JWT authentication with an
// admin role requirement.
func authMiddleware(validator *auth.JWTValidator, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Extract token from Authorization header
		authHeader := c.GetHeader(constants.HeaderAuthorization)
		token, err := util.ExtractBearerToken(authHeader)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			httperrors.RespondUnauthorized(c, httperrors.MsgInvalidAuthHeader)
			c.Abort()
			return
		}

		// Validate token
		claims, err := validator.ValidateToken(token)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			// Log detailed error server-side
			logger.Warn("Token validation failed",
				"error", err,
				"component", "auth")
			// Send generic error to client
			httperrors.RespondInvalidToken(c)
			c.Abort()
			return
		}

		// Check for admin role
		hasAdminRole := util.HasRole(claims.Roles, constants.RoleAdmin, constants.RoleChatAdmin)

		// No else needed: early return pattern (guard clause)
		if !hasAdminRole {
			logger.Warn("Insufficient permissions for admin endpoint",
				"user_id", claims.UserID,
				"roles", claims.Roles,
				"component", "auth")
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		// Store claims in context
		c.Set("claims", claims)
		c.Next()
	}
}

// adminRateLimitMiddleware creates a Gin middleware for admin endpoint rate limiting
func adminRateLimitMiddleware(limiter *ratelimit.MessageLimiter, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get claims from context (set by authMiddleware)
		claimsInterface, exists := c.Get("claims")
		// No else needed: early return pattern (guard clause - let authMiddleware handle missing claims)
		if !exists {
			c.Next()
			return
		}

		claims, ok := claimsInterface.(*auth.Claims)
		// No else needed: early return pattern (guard clause)
		if !ok {
			util.LogError(logger, "admin_rate_limit", "validate claims type", fmt.Errorf("invalid claims type in context"))
			httperrors.RespondInternalError(c)
			c.Abort()
			return
		}

		// Check rate limit
		// No else needed: early return pattern (guard clause)
		if !limiter.Allow(claims.UserID) {
			retryAfter := limiter.GetRetryAfter(claims.UserID)

			logger.Warn("Admin rate limit exceeded",
				"user_id", claims.UserID,
				"endpoint", c.Request.URL.Path,
				"retry_after_ms", retryAfter,
				"component", "admin_rate_limit")

			// Convert milliseconds to seconds with ceiling to avoid 0
			retryAfterSeconds := (retryAfter + constants.MillisecondsPerSecond - 1) / constants.MillisecondsPerSecond
			// No else needed: optional operation (minimum retry after enforcement)
			if retryAfterSeconds < constants.MinRetryAfterSeconds {
				retryAfterSeconds = constants.MinRetryAfterSeconds
			}
			c.Header(constants.HeaderRetryAfter, fmt.Sprintf("%d", retryAfterSeconds))

			httperrors.RespondTooManyRequests(c)
			c.Abort()
			return
		}

		c.Next()
	}
}

// parseNetworks parses a comma-separated list of CIDR network strings.
func parseNetworks(networksStr string, logger *golog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range strings.Split(networksStr, ",") {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("Invalid CIDR in metrics_allowed_networks", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// metricsNetworkMiddleware restricts access to the metrics endpoint to configured networks.
func metricsNetworkMiddleware(allowedNets []*net.IPNet, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// If no networks configured, allow all (development mode)
		if len(allowedNets) == 0 {
			c.Next()
			return
		}

		clientIP := net.ParseIP(c.ClientIP())
		if clientIP == nil {
			logger.Warn("Could not parse client IP for metrics access", "ip", c.ClientIP())
			httperrors.RespondForbidden(c)
			c.Abort()
			return
		}

		for _, ipNet := range allowedNets {
			if ipNet.Contains(clientIP) {
				c.Next()
				return
			}
		}

		logger.Warn("Metrics access denied from unauthorized network",
			"client_ip", c.ClientIP(),
			"component", "metrics")
		httperrors.RespondForbidden(c)
		c.Abort()
	}
}

// Shutdown gracefully shuts down the supportbot service.
// It stops background cleanup goroutines and flushes logs. This function
// should be called when the application receives a SIGTERM or SIGINT signal.
func Shutdown(ctx context.Context) error {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()

	// No else needed: optional operation (logging during shutdown)
	if globalLogger != nil {
		globalLogger.Info("Starting graceful shutdown of supportbot service")
	}

	// Stop rate limiter cleanup goroutines
	// No else needed: optional operation (cleanup stop)
	if globalChatLimiter != nil {
		globalChatLimiter.StopCleanup()
	}
	// No else needed: optional operation (cleanup stop)
	if globalAdminLimiter != nil {
		globalAdminLimiter.StopCleanup()
	}
	// No else needed: optional operation (cleanup stop)
	if globalPublicLimiter != nil {
		globalPublicLimiter.StopCleanup()
	}

	// No else needed: optional operation (final logging)
	if globalLogger != nil {
		globalLogger.Info("Supportbot service shutdown complete")
		// Note: Logger.Close() should be called by gomain, not here
	}

	return nil
}
