// Package conversation orchestrates the chat flow: mobile collection, OTP
// verification, answer generation and human handover. Every inbound user
// message flows through the Coordinator, which owns the session state machine.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/real-rm/golog"
	"github.com/real-rm/supportbot/internal/answer"
	"github.com/real-rm/supportbot/internal/constants"
	chaterrors "github.com/real-rm/supportbot/internal/errors"
	"github.com/real-rm/supportbot/internal/handover"
	"github.com/real-rm/supportbot/internal/metrics"
	"github.com/real-rm/supportbot/internal/pii"
	"github.com/real-rm/supportbot/internal/session"
	"github.com/real-rm/supportbot/internal/util"
)

// SessionStore is the persistence surface the coordinator needs.
type SessionStore interface {
	GetSession(sessionID string) (*session.Session, error)
	SaveSession(sess *session.Session) error
	DeleteSession(sessionID string) error
	ClearOtherSessions(mobile, keepID string) error
	EnqueueAgentMessage(sessionID string, msg session.AgentMessage) error
	DrainAgentQueue(sessionID string) ([]session.AgentMessage, error)
	AppendChatLog(sessionID, mobile string, entries []session.LogEntry) error
}

// OTPClient is the verification provider surface the coordinator needs.
type OTPClient interface {
	RequestOTP(ctx context.Context, mobile string) (string, error)
	VerifyOTP(ctx context.Context, mobile, otp, otpSessionID string) error
	GetApplicationDetails(ctx context.Context, mobile string) (map[string]interface{}, error)
}

// Forwarder delivers user messages to the human agent gateway.
type Forwarder interface {
	ForwardToHuman(ctx context.Context, sessionID, mobile, text string) bool
}

// Notifier alerts operations staff about handovers. Implementations must be
// non-blocking or tolerate being called from a background goroutine.
type Notifier interface {
	NotifyHandover(sessionID, mobile string)
}

// Config holds coordinator configuration.
type Config struct {
	LoginURL  string
	BuyDSCURL string
}

// Coordinator routes each user message according to the session state.
type Coordinator struct {
	store     SessionStore
	otp       OTPClient
	engine    answer.Engine // nil when no engine is configured
	forwarder Forwarder
	notifier  Notifier // optional, may be nil
	cache     *session.HistoryCache
	config    Config
	logger    *golog.Logger
}

// NewCoordinator creates a conversation coordinator.
func NewCoordinator(store SessionStore, otp OTPClient, engine answer.Engine, forwarder Forwarder, notifier Notifier, config Config, logger *golog.Logger) *Coordinator {
	if config.LoginURL == "" {
		config.LoginURL = constants.DefaultLoginURL
	}
	if config.BuyDSCURL == "" {
		config.BuyDSCURL = constants.DefaultBuyDSCURL
	}
	return &Coordinator{
		store:     store,
		otp:       otp,
		engine:    engine,
		forwarder: forwarder,
		notifier:  notifier,
		cache:     session.NewHistoryCache(constants.MaxCachedSessions),
		config:    config,
		logger:    logger,
	}
}

// HandleMessage processes one user message and returns the bot's reply.
// The reply is always a user-presentable string; internal failures are logged
// and mapped to safe responses rather than surfaced as errors. An empty reply
// in handover mode means the client should rely on polling.
func (c *Coordinator) HandleMessage(ctx context.Context, sessionID, message string) string {
	metrics.MessagesReceived.Inc()
	rawInput := strings.TrimSpace(message)

	sess := c.loadSession(sessionID)

	// Mask PII once verification is complete. Mobile numbers and OTPs typed
	// during the authentication flow must pass through untouched.
	maskedInput := rawInput
	if sess.Verified || sess.State == session.StateHandoverActive {
		maskedInput = pii.Mask(rawInput)
	}

	// Handover mode: the bot is out of the loop entirely. Relay to the human
	// agent and let the client pick up replies via polling.
	if sess.State == session.StateHandoverActive {
		return c.relayToAgent(ctx, sess, rawInput, maskedInput)
	}

	var reply string
	handoverRequested := false

	switch {
	case sess.State == session.StateWaitingForOTP:
		reply = c.handleOTPEntry(ctx, sess, rawInput)
	case !sess.Verified:
		reply = c.handleMobileEntry(ctx, sess, rawInput)
	default:
		reply, handoverRequested = c.handleQuestion(ctx, sess, maskedInput)
	}

	if handoverRequested {
		if final, done := c.startHandover(ctx, sess, rawInput, maskedInput, reply); done {
			return final
		}
		// Forward failed; fall through and log the apology like a normal turn.
		reply = constants.MsgHandoverFailed
	}

	c.finishTurn(sess, maskedInput, reply)
	metrics.MessagesSent.Inc()
	return reply
}

// loadSession fetches the session, preferring the process-local cache.
// Storage failures degrade to a fresh session so the chat stays responsive.
func (c *Coordinator) loadSession(sessionID string) *session.Session {
	if cached := c.cache.Get(sessionID); cached != nil {
		return cached
	}

	sess, err := c.store.GetSession(sessionID)
	if err != nil {
		util.LogError(c.logger, "conversation", "load session", err, "session_id", sessionID)
	}
	if sess == nil {
		sess = session.New(sessionID)
		metrics.SessionsCreated.Inc()
	}
	return sess
}

// relayToAgent forwards a user message to the live agent during handover.
// The agent sees the raw text; the durable log gets the masked form.
func (c *Coordinator) relayToAgent(ctx context.Context, sess *session.Session, rawInput, maskedInput string) string {
	if sess.Mobile == "" {
		return constants.MsgSessionExpired
	}

	sessionID, mobile := sess.ID, sess.Mobile
	util.SafeGo(c.logger, "handover-relay", func() {
		fwdCtx, cancel := util.NewTimeoutContext(constants.GatewayTimeout)
		defer cancel()
		c.forwarder.ForwardToHuman(fwdCtx, sessionID, mobile, rawInput)
	})
	util.SafeGo(c.logger, "chat-log", func() {
		c.appendLog(sessionID, mobile, session.LogEntry{
			Sender:    constants.SenderUser,
			Text:      maskedInput,
			Timestamp: time.Now(),
		})
	})

	return ""
}

// handleOTPEntry treats the message as the OTP the user typed.
func (c *Coordinator) handleOTPEntry(ctx context.Context, sess *session.Session, otp string) string {
	err := c.otp.VerifyOTP(ctx, sess.Mobile, otp, sess.OTPSessionID)
	if err != nil {
		// Wrong code and provider failure read the same to the user; the
		// distinction only matters in the logs.
		c.logger.Info("OTP verification failed",
			"session_id", sess.ID, "error", err)
		return constants.MsgInvalidOTP
	}

	sess.Verified = true
	sess.OTPSessionID = ""
	if terr := sess.Transition(session.StateVerified); terr != nil {
		util.LogError(c.logger, "conversation", "transition to verified", terr, "session_id", sess.ID)
	}
	c.saveSession(sess)
	metrics.SessionsVerified.Inc()

	return c.verifiedGreeting(ctx, sess)
}

// verifiedGreeting fetches the user's application details right after
// verification and renders them, degrading gracefully when the lookup fails.
func (c *Coordinator) verifiedGreeting(ctx context.Context, sess *session.Session) string {
	detailsCtx, cancel := context.WithTimeout(ctx, constants.DetailsTimeout)
	defer cancel()

	data, err := c.otp.GetApplicationDetails(detailsCtx, sess.Mobile)
	if err != nil {
		util.LogError(c.logger, "conversation", "fetch application details", err, "session_id", sess.ID)
		return constants.MsgVerifiedFallback
	}
	return buildDetailsSummary(sess.Mobile, data, c.config.LoginURL, c.config.BuyDSCURL)
}

// handleMobileEntry treats the message as a mobile number candidate.
func (c *Coordinator) handleMobileEntry(ctx context.Context, sess *session.Session, input string) string {
	if !util.IsMobileNumber(input) {
		return constants.MsgPromptMobile
	}
	mobile := input

	// A mobile number owns one live session. Anything older is dead weight
	// and a stale-OTP hazard.
	if err := c.store.ClearOtherSessions(mobile, sess.ID); err != nil {
		util.LogError(c.logger, "conversation", "clear previous sessions", err, "mobile", pii.Mask(mobile))
	}

	otpCtx, cancel := context.WithTimeout(ctx, constants.OTPRequestTimeout)
	defer cancel()

	otpSessionID, err := c.otp.RequestOTP(otpCtx, mobile)
	if err != nil {
		sess.Reset()
		c.saveSession(sess)
		return formatOTPFailure(err)
	}

	sess.Mobile = mobile
	sess.OTPSessionID = otpSessionID
	if terr := sess.Transition(session.StateWaitingForOTP); terr != nil {
		util.LogError(c.logger, "conversation", "transition to waiting_for_otp", terr, "session_id", sess.ID)
	}
	c.saveSession(sess)

	return fmt.Sprintf(constants.MsgOTPSentFmt, mobile)
}

// handleQuestion routes a verified user's message through the answer engine.
func (c *Coordinator) handleQuestion(ctx context.Context, sess *session.Session, input string) (string, bool) {
	if c.engine == nil {
		c.logger.Error("Answer engine not configured", "session_id", sess.ID)
		return constants.MsgEngineMissing, false
	}

	sess.TurnCount++
	result, err := c.engine.Generate(ctx, &answer.Request{
		SessionID: sess.ID,
		Input:     input,
		Mobile:    sess.Mobile,
		History:   sess.AIHistory,
		TurnCount: sess.TurnCount,
	})
	if err != nil {
		util.LogError(c.logger, "conversation", "generate answer", err, "session_id", sess.ID)
		metrics.MessageErrors.Inc()
		return constants.MsgEngineFailure, false
	}

	reply := result.Text
	if result.RequiresHandover && reply == "" {
		reply = constants.MsgConnecting
	}
	return reply, result.RequiresHandover
}

// startHandover forwards the triggering message to the agent gateway and, on
// success, flips the session into handover mode. Returns the final reply and
// whether the handover completed.
func (c *Coordinator) startHandover(ctx context.Context, sess *session.Session, rawInput, maskedInput, reply string) (string, bool) {
	metrics.HandoversTriggered.Inc()

	fwdCtx, cancel := context.WithTimeout(ctx, constants.GatewayTimeout)
	defer cancel()

	if !c.forwarder.ForwardToHuman(fwdCtx, sess.ID, sess.Mobile, rawInput) {
		return "", false
	}

	if terr := sess.Transition(session.StateHandoverActive); terr != nil {
		util.LogError(c.logger, "conversation", "transition to handover_active", terr, "session_id", sess.ID)
	}
	c.finishTurn(sess, maskedInput, reply)

	if c.notifier != nil {
		sessionID, mobile := sess.ID, sess.Mobile
		util.SafeGo(c.logger, "handover-notify", func() {
			c.notifier.NotifyHandover(sessionID, mobile)
		})
	}

	metrics.MessagesSent.Inc()
	return constants.MsgConnected, true
}

// finishTurn records the exchange in the engine context window, persists the
// session and appends to the durable chat log in the background.
func (c *Coordinator) finishTurn(sess *session.Session, maskedInput, reply string) {
	sess.AppendTurn("user", maskedInput, constants.MaxTranscriptTurns)
	sess.AppendTurn("assistant", reply, constants.MaxTranscriptTurns)
	c.saveSession(sess)

	// No else needed: transcripts are only kept for identified users
	if sess.Mobile == "" {
		return
	}

	sessionID, mobile := sess.ID, sess.Mobile
	now := time.Now()
	util.SafeGo(c.logger, "chat-log", func() {
		c.appendLog(sessionID, mobile,
			session.LogEntry{Sender: constants.SenderUser, Text: maskedInput, Timestamp: now},
			session.LogEntry{Sender: constants.SenderBot, Text: reply, Timestamp: now},
		)
	})
}

// saveSession persists the session and refreshes the cache.
func (c *Coordinator) saveSession(sess *session.Session) {
	if err := c.store.SaveSession(sess); err != nil {
		util.LogError(c.logger, "conversation", "save session", err, "session_id", sess.ID)
	}
	c.cache.Put(sess)
}

// appendLog writes transcript entries, logging failures.
func (c *Coordinator) appendLog(sessionID, mobile string, entries ...session.LogEntry) {
	if err := c.store.AppendChatLog(sessionID, mobile, entries); err != nil {
		util.LogError(c.logger, "conversation", "append chat log", err, "session_id", sessionID)
	}
}

// ReceiveAgentMessage queues an inbound human-agent reply for client polling
// and records it in the durable transcript.
func (c *Coordinator) ReceiveAgentMessage(sessionID string, payload *handover.AgentWebhookPayload) error {
	if err := util.ValidateSessionID(sessionID); err != nil {
		return err
	}
	// No else needed: empty webhook bodies are acknowledged and dropped
	if payload == nil || payload.Text == "" {
		return nil
	}

	msg := session.AgentMessage{
		Name:      payload.AgentName(),
		Text:      payload.Text,
		Timestamp: time.Now(),
	}
	if err := c.store.EnqueueAgentMessage(sessionID, msg); err != nil {
		return err
	}

	sess := c.loadSession(sessionID)
	mobile := sess.Mobile
	logText := "[" + msg.Name + "]: " + msg.Text
	util.SafeGo(c.logger, "chat-log", func() {
		c.appendLog(sessionID, mobile, session.LogEntry{
			Sender:    constants.SenderAgent,
			Text:      logText,
			Timestamp: msg.Timestamp,
		})
	})

	return nil
}

// PollMessages drains the pending agent replies for a session.
// Each message is returned to exactly one poll.
func (c *Coordinator) PollMessages(sessionID string) ([]session.AgentMessage, error) {
	metrics.PollRequests.Inc()
	if err := util.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	msgs, err := c.store.DrainAgentQueue(sessionID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []session.AgentMessage{}
	}
	return msgs, nil
}

// ResetSession returns a session to the initial state. This is the only exit
// from handover mode. The durable transcript is preserved.
func (c *Coordinator) ResetSession(sessionID string) error {
	if err := util.ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := c.store.DeleteSession(sessionID); err != nil {
		return err
	}
	c.cache.Delete(sessionID)
	metrics.SessionsReset.Inc()
	c.logger.Info("Session reset", "session_id", sessionID)
	return nil
}

// formatOTPFailure renders a provider failure for the user, preferring the
// provider's own message when one is available.
func formatOTPFailure(err error) string {
	var chatErr *chaterrors.ChatError
	if errors.As(err, &chatErr) {
		return fmt.Sprintf(constants.MsgOTPSendFailFmt, chatErr.Message)
	}
	return fmt.Sprintf(constants.MsgOTPSendFailFmt, err.Error())
}
