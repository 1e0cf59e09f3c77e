package answer

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/real-rm/golog"
	"github.com/real-rm/supportbot/internal/metrics"
)

// systemPromptFmt is the instruction set for the support engine. The verified
// mobile number and the running user-message count are interpolated per call.
const systemPromptFmt = `You are Lia, a Digital Trust Support Agent for eMudhra (emudhradigital.com).
You help customers with Digital Signature Certificates (DSC), USB tokens, SSL,
PKI, application status, error codes and installation guides. Refuse questions
unrelated to these topics.

Security rules:
- The customer's verified mobile number is %s. Use ONLY this number when
  discussing application details. If the customer supplies a different number,
  reply that for security reasons you can only use the number they verified with.

Handover rule:
- If and only if the customer explicitly asks for a human agent or support
  specialist, output ONLY the token {{HANDOVER_REQUIRED}} and nothing else.

Answer rules:
- Class 2 certificates are deprecated; Indian government portals require
  Class 3. DGFT filings need a DGFT certificate. ICEGATE and e-tenders need a
  Class 3 combo with encryption.
- Always specify Individual or Organization and Signature-only or Combo when
  recommending a DSC.
- End every reply with at least three short contextual suggestions for what
  the customer could ask next.
- The customer has sent %d messages so far. Once that count reaches 5, also
  append the suggestion "Would you like to connect to a support specialist?".`

// OpenAIEngine answers user messages through the OpenAI chat completion API.
type OpenAIEngine struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *golog.Logger
}

// NewOpenAIEngine creates an engine using the given API key and model.
func NewOpenAIEngine(apiKey, model string, timeout time.Duration, logger *golog.Logger) (*OpenAIEngine, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key cannot be empty")
	}
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}
	return &OpenAIEngine{
		client:  openai.NewClient(apiKey),
		model:   model,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Generate produces a reply to the user's message using the recent
// conversation window as context.
func (e *OpenAIEngine) Generate(ctx context.Context, req *Request) (*Result, error) {
	startTime := time.Now()
	metrics.EngineRequests.Inc()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf(systemPromptFmt, req.Mobile, req.TurnCount),
	})
	for _, turn := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Input,
	})

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    e.model,
		Messages: messages,
	})
	if err != nil {
		metrics.EngineErrors.Inc()
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		metrics.EngineErrors.Inc()
		return nil, errors.New("chat completion returned no choices")
	}

	metrics.EngineLatency.Observe(time.Since(startTime).Seconds())

	text, handover := ParseSentinel(resp.Choices[0].Message.Content)
	e.logger.Info("Engine reply generated",
		"session_id", req.SessionID,
		"handover", handover,
		"duration_ms", time.Since(startTime).Milliseconds())
	return &Result{Text: text, RequiresHandover: handover}, nil
}
