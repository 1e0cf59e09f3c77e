// Package handover bridges conversations to the human agent gateway.
// Outbound user messages are forwarded to the gateway; inbound agent replies
// arrive on a webhook and are queued for client polling.
package handover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/real-rm/golog"
	"github.com/real-rm/supportbot/internal/constants"
	"github.com/real-rm/supportbot/internal/metrics"
	"github.com/real-rm/supportbot/internal/util"
)

// gatewayTimestampLayout is the gateway's expected timestamp format with the
// IST offset suffix it was provisioned for.
const gatewayTimestampLayout = "2006-01-02T15:04:05+05:30"

// Config holds the agent gateway configuration.
type Config struct {
	BaseURL string
	AppID   string
	Trigger string
}

// Bridge forwards user messages to the agent gateway.
type Bridge struct {
	config Config
	client *http.Client
	logger *golog.Logger
}

// NewBridge creates a gateway bridge.
func NewBridge(config Config, logger *golog.Logger) (*Bridge, error) {
	if config.BaseURL == "" {
		return nil, errors.New("gateway base URL cannot be empty")
	}
	if config.AppID == "" {
		return nil, errors.New("gateway app ID cannot be empty")
	}
	if config.Trigger == "" {
		config.Trigger = constants.DefaultGatewayTrigger
	}
	return &Bridge{
		config: config,
		client: &http.Client{Timeout: constants.GatewayTimeout},
		logger: logger,
	}, nil
}

// ForwardToHuman sends a user message to the agent gateway for the session.
// Delivery is best effort: the return value reports whether the gateway
// accepted the message, and failures are logged rather than surfaced to the
// user mid-conversation.
func (b *Bridge) ForwardToHuman(ctx context.Context, sessionID, mobile, text string) bool {
	additional, err := util.MarshalJSON(map[string]string{
		"phone":       mobile,
		"messageText": text,
		"session_id":  sessionID,
	})
	if err != nil {
		b.logger.Error("Failed to marshal gateway parameters", "error", err, "session_id", sessionID)
		metrics.HandoverFailures.Inc()
		return false
	}

	now := time.Now().Format(gatewayTimestampLayout)
	payload := map[string]interface{}{
		"trigger": b.config.Trigger,
		"app":     map[string]string{"_id": b.config.AppID},
		"messages": []map[string]interface{}{
			{
				"type":     "text",
				"text":     text,
				"name":     mobile,
				"_id":      newMessageID(),
				"mediaUrl": "",
				"metaData": map[string]interface{}{},
				"source": map[string]string{
					"type":          "web",
					"integrationId": sessionID,
				},
			},
		},
		"appUser": map[string]interface{}{
			"_id":       sessionID,
			"surName":   mobile,
			"givenName": "User",
			"clients": []map[string]string{
				{"displayName": mobile, "lastSeen": now, "platform": "web"},
			},
			"properties": map[string]string{
				"additionalParameters": string(additional),
			},
		},
	}

	bodyBytes, err := util.MarshalJSON(payload)
	if err != nil {
		b.logger.Error("Failed to marshal gateway payload", "error", err, "session_id", sessionID)
		metrics.HandoverFailures.Inc()
		return false
	}

	url := b.config.BaseURL + "/ameyorestapi/receiveMessage"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		b.logger.Error("Failed to create gateway request", "error", err, "session_id", sessionID)
		metrics.HandoverFailures.Inc()
		return false
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		b.logger.Error("Gateway forward failed", "error", err, "session_id", sessionID)
		metrics.HandoverFailures.Inc()
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b.logger.Error("Gateway rejected forward",
			"status", resp.StatusCode, "session_id", sessionID)
		metrics.HandoverFailures.Inc()
		return false
	}

	b.logger.Info("Forwarded message to agent gateway", "session_id", sessionID)
	return true
}

// newMessageID generates the gateway's expected 32-character hex message ID.
func newMessageID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}

// AgentWebhookPayload is the inbound webhook body for agent replies.
// Only the fields the service consumes are modeled.
type AgentWebhookPayload struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Name     string `json:"name"`
	Metadata struct {
		UserName string `json:"userName"`
	} `json:"metadata"`
}

// AgentName resolves the display name for an agent reply, falling back to a
// generic label when the gateway sends none.
func (p *AgentWebhookPayload) AgentName() string {
	if p.Name != "" {
		return p.Name
	}
	if p.Metadata.UserName != "" {
		return p.Metadata.UserName
	}
	return constants.DefaultAgentName
}
