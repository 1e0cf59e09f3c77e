// Package answer generates bot replies for verified users and detects when a
// conversation must be handed over to a human agent.
package answer

import (
	"context"

	"github.com/real-rm/supportbot/internal/session"
)

// Request carries everything the engine needs to answer one user message.
type Request struct {
	SessionID string
	Input     string
	// Mobile is the OTP-verified mobile number. The engine must never act on
	// any other number the user supplies mid-conversation.
	Mobile string
	// History is the recent conversation window, oldest first.
	History []session.Turn
	// TurnCount is the number of user messages so far, including this one.
	TurnCount int
}

// Result is the engine's reply.
type Result struct {
	// Text is the user-facing reply with any control tokens stripped.
	Text string
	// RequiresHandover is true when the user asked for a human agent.
	RequiresHandover bool
}

// Engine produces replies to user messages.
type Engine interface {
	Generate(ctx context.Context, req *Request) (*Result, error)
}
