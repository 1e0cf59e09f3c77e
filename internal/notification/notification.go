// Package notification alerts operations staff by email and SMS when a chat
// is handed over to a human agent.
package notification

import (
	"fmt"
	"html"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/real-rm/goconfig"
	"github.com/real-rm/golog"
	"github.com/real-rm/gomail"
	"github.com/real-rm/gomongo"
	"github.com/real-rm/gosms"
	"github.com/real-rm/supportbot/internal/pii"
	"github.com/real-rm/supportbot/internal/util"
)

// NotificationService handles sending email and SMS notifications
type NotificationService struct {
	mailer        *gomail.Mailer
	smsSender     *gosms.SMSSender
	logger        *golog.Logger
	config        *goconfig.ConfigAccessor
	rateLimiter   *RateLimiter
	adminPanelURL string // Admin panel URL for session links
	mu            sync.RWMutex
}

// RateLimiter prevents notification flooding
type RateLimiter struct {
	events map[string][]time.Time
	window time.Duration
	limit  int
	mu     sync.RWMutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(window time.Duration, limit int) *RateLimiter {
	return &RateLimiter{
		events: make(map[string][]time.Time),
		window: window,
		limit:  limit,
	}
}

// Allow checks if an event is allowed based on rate limiting
func (rl *RateLimiter) Allow(eventKey string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	// Cap map growth: reject new keys when at capacity
	const maxTrackedEvents = 100000
	events := rl.events[eventKey]
	if events == nil && len(rl.events) >= maxTrackedEvents {
		return false
	}

	// Filter out old events
	var recentEvents []time.Time
	for _, t := range events {
		if t.After(cutoff) {
			recentEvents = append(recentEvents, t)
		}
	}

	// Remove keys with no recent events to prevent unbounded map growth
	if len(recentEvents) == 0 && len(events) > 0 {
		delete(rl.events, eventKey)
	}

	// Check if we're under the limit
	if len(recentEvents) >= rl.limit {
		rl.events[eventKey] = recentEvents
		return false
	}

	// Add this event
	recentEvents = append(recentEvents, now)
	rl.events[eventKey] = recentEvents

	return true
}

// NewNotificationService creates a new notification service
func NewNotificationService(
	logger *golog.Logger,
	config *goconfig.ConfigAccessor,
	mongo *gomongo.Mongo,
) (*NotificationService, error) {
	// Initialize gomail
	mailer, err := gomail.GetSendMailObj(gomail.MailerOptions{
		Logger: logger,
		Config: config,
		Mongo:  mongo, // Enable email logging
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gomail: %w", err)
	}

	// Initialize gosms
	// Priority: Environment variables > Config file
	accountSID := os.Getenv("SMS_ACCOUNT_SID")
	if accountSID == "" {
		accountSID, err = config.ConfigString("sms.accountSID")
		if err != nil {
			logger.Warn("SMS account SID not configured", "error", err)
			accountSID = ""
		}
	}

	authToken := os.Getenv("SMS_AUTH_TOKEN")
	if authToken == "" {
		authToken, err = config.ConfigString("sms.authToken")
		if err != nil {
			logger.Warn("SMS auth token not configured", "error", err)
			authToken = ""
		}
	}

	var smsSender *gosms.SMSSender
	if accountSID != "" && authToken != "" {
		twilioEngine, err := gosms.NewTwilioEngine(accountSID, authToken)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Twilio engine: %w", err)
		}

		smsSender, err = gosms.NewSMSSender(twilioEngine)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SMS sender: %w", err)
		}
	} else {
		logger.Warn("SMS not configured - SMS notifications will be skipped")
	}

	// Create rate limiter: max 5 notifications per 5 minutes per event type
	rateLimiter := NewRateLimiter(5*time.Minute, 5)

	// Read admin panel URL: environment variable takes precedence over config
	adminPanelURL := os.Getenv("ADMIN_PANEL_URL")
	if adminPanelURL == "" {
		adminPanelURL, _ = config.ConfigString("notification.adminPanelURL")
	}

	return &NotificationService{
		mailer:        mailer,
		smsSender:     smsSender,
		logger:        logger,
		config:        config,
		rateLimiter:   rateLimiter,
		adminPanelURL: adminPanelURL,
	}, nil
}

// NotifyHandover sends notifications when a chat is handed over to a human
// agent. Failures are logged, never surfaced to the chat flow.
func (ns *NotificationService) NotifyHandover(sessionID, mobile string) {
	if err := ns.sendHandoverAlert(sessionID, mobile); err != nil {
		util.LogError(ns.logger, "notification", "send handover alert", err, "session_id", sessionID)
	}
}

// sendHandoverAlert emails and texts the support admins about a new handover.
// The mobile number is masked before it leaves the service.
func (ns *NotificationService) sendHandoverAlert(sessionID, mobile string) error {
	eventKey := fmt.Sprintf("handover:%s", sessionID)

	// Check rate limiting
	if !ns.rateLimiter.Allow(eventKey) {
		ns.logger.Warn("Handover notification rate limited", "session_id", sessionID)
		return nil // Don't return error, just skip
	}

	maskedMobile := pii.Mask(mobile)

	// Get admin emails and phones from config
	adminEmails, err := ns.getAdminEmails()
	if err != nil {
		return fmt.Errorf("failed to get admin emails: %w", err)
	}

	adminPhones, err := ns.getAdminPhones()
	if err != nil {
		return fmt.Errorf("failed to get admin phones: %w", err)
	}

	// Send email notification
	if len(adminEmails) > 0 {
		msg := &gomail.EmailMessage{
			To:      adminEmails,
			Subject: fmt.Sprintf("Chat Handover - Session %s", sessionID),
			HTML:    buildHandoverHTML(sessionID, maskedMobile, ns.adminPanelURL),
			Text: fmt.Sprintf("Chat Handover - Session: %s, Customer: %s, Time: %s",
				sessionID, maskedMobile, time.Now().Format(time.RFC3339)),
		}

		// Use SendWithRetry for automatic failover
		engines := ns.mailer.GetEngineNames()
		if err := ns.mailer.SendWithRetry(engines, msg); err != nil {
			util.LogError(ns.logger, "notification", "send handover email", err, "session_id", sessionID)
			return fmt.Errorf("failed to send email: %w", err)
		}

		ns.logger.Info("Handover email sent", "session_id", sessionID, "recipients", len(adminEmails))
	}

	// Send SMS notification
	if ns.smsSender != nil && len(adminPhones) > 0 {
		fromNumber, err := ns.config.ConfigString("sms.fromNumber")
		if err != nil {
			ns.logger.Warn("SMS from number not configured", "error", err)
			fromNumber = ""
		}

		message := fmt.Sprintf("Chat handover: customer %s is waiting for a live agent. Session: %s", maskedMobile, sessionID)

		for _, phone := range adminPhones {
			opt := gosms.SendOption{
				To:      phone,
				From:    fromNumber,
				Message: message,
			}

			if err := ns.smsSender.Send(opt); err != nil {
				util.LogError(ns.logger, "notification", "send handover SMS", err, "phone", phone)
				// Continue to next phone number
			} else {
				ns.logger.Info("Handover SMS sent", "phone", phone)
			}
		}
	}

	return nil
}

// getAdminEmails retrieves admin email addresses from config
func (ns *NotificationService) getAdminEmails() ([]string, error) {
	// Try to get from notification.adminEmails array
	adminEmailsStr, err := ns.config.ConfigString("notification.adminEmails")
	if err == nil && adminEmailsStr != "" {
		// Parse as comma-separated list
		emails := []string{}
		for _, email := range splitAndTrim(adminEmailsStr) {
			if email != "" {
				emails = append(emails, email)
			}
		}
		if len(emails) > 0 {
			return emails, nil
		}
	}

	// Fallback to mail.adminEmail
	adminEmail, err := ns.config.ConfigString("mail.adminEmail")
	if err != nil {
		return nil, err
	}

	if adminEmail == "" {
		return []string{}, nil
	}

	return []string{adminEmail}, nil
}

// getAdminPhones retrieves admin phone numbers from config
func (ns *NotificationService) getAdminPhones() ([]string, error) {
	adminPhonesStr, err := ns.config.ConfigString("notification.adminPhones")
	if err != nil {
		// Not configured is okay
		return []string{}, nil
	}

	if adminPhonesStr == "" {
		return []string{}, nil
	}

	// Parse as comma-separated list
	phones := []string{}
	for _, phone := range splitAndTrim(adminPhonesStr) {
		if phone != "" {
			phones = append(phones, phone)
		}
	}

	return phones, nil
}

// buildHandoverHTML builds the HTML body for handover email notifications.
// If adminURL is empty, no link is rendered (safe fallback).
func buildHandoverHTML(sessionID, maskedMobile, adminURL string) string {
	timestamp := time.Now().Format(time.RFC3339)
	safeSessionID := html.EscapeString(sessionID)
	safeMobile := html.EscapeString(maskedMobile)
	linkSection := "<p>Please check the admin panel to view this session.</p>"
	if adminURL != "" {
		safeAdminURL := html.EscapeString(adminURL)
		linkSection = fmt.Sprintf(`<p><a href="%s/%s">View Session</a></p>`, safeAdminURL, safeSessionID)
	}
	return fmt.Sprintf(`
		<h2>Chat Handover</h2>
		<p>A customer has been handed over to live support.</p>
		<ul>
			<li><strong>Session ID:</strong> %s</li>
			<li><strong>Customer:</strong> %s</li>
			<li><strong>Time:</strong> %s</li>
		</ul>
		%s
	`, safeSessionID, safeMobile, timestamp, linkSection)
}

// splitAndTrim splits a string by comma and trims whitespace from each part
func splitAndTrim(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	return result
}
