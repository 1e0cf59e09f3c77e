// Package session defines the chat session model and its state machine.
// A session progresses through OTP verification before the answer engine is
// allowed to respond, and may end in an active human handover.
package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionNotFound is returned when a session is not found
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidSessionID is returned when session ID is empty
	ErrInvalidSessionID = errors.New("session ID cannot be empty")
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// State is the verification stage of a chat session.
type State string

const (
	// StateInit is the initial state; the bot prompts for a mobile number.
	StateInit State = "init"
	// StateWaitingForOTP means an OTP was sent and the bot awaits the code.
	StateWaitingForOTP State = "waiting_for_otp"
	// StateVerified means the user passed OTP verification.
	StateVerified State = "verified"
	// StateHandoverActive means a human agent owns the conversation.
	StateHandoverActive State = "handover_active"
)

// transitions maps each state to the states it may move to.
// HandoverActive is terminal from the chat flow; only an admin reset exits it.
var transitions = map[State][]State{
	StateInit:           {StateWaitingForOTP},
	StateWaitingForOTP:  {StateInit, StateVerified},
	StateVerified:       {StateHandoverActive},
	StateHandoverActive: {},
}

// ParseState converts a stored state string to a State.
// Unknown or empty values degrade to StateInit so a corrupted document
// restarts the flow instead of wedging the session.
func ParseState(s string) State {
	switch State(s) {
	case StateInit, StateWaitingForOTP, StateVerified, StateHandoverActive:
		return State(s)
	default:
		return StateInit
	}
}

// Turn is a single exchange entry kept as context for the answer engine.
type Turn struct {
	Role    string `bson:"role" json:"role"`
	Content string `bson:"content" json:"content"`
}

// AgentMessage is a human-agent reply queued for client delivery via polling.
type AgentMessage struct {
	Name      string    `bson:"name" json:"name"`
	Text      string    `bson:"text" json:"text"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// Equal reports whether two agent messages carry the same content.
// Timestamps are ignored; equality is used only for duplicate suppression.
func (m AgentMessage) Equal(other AgentMessage) bool {
	return m.Name == other.Name && m.Text == other.Text
}

// LogEntry is a single turn persisted to the durable chat transcript.
type LogEntry struct {
	Sender    string    `bson:"sender" json:"sender"`
	Text      string    `bson:"text" json:"text"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// Session is the persisted conversation state for one chat client.
type Session struct {
	ID           string         `bson:"_id" json:"session_id"`
	State        State          `bson:"state" json:"state"`
	Mobile       string         `bson:"mobile,omitempty" json:"mobile,omitempty"`
	OTPSessionID string         `bson:"otp_session_id,omitempty" json:"otp_session_id,omitempty"`
	Verified     bool           `bson:"verified" json:"verified"`
	AgentQueue   []AgentMessage `bson:"agent_queue,omitempty" json:"agent_queue,omitempty"`
	AIHistory    []Turn         `bson:"ai_history,omitempty" json:"ai_history,omitempty"`
	TurnCount    int            `bson:"turn_count" json:"turn_count"`
	UpdatedAt    time.Time      `bson:"updated_at" json:"updated_at"`
}

// New creates a fresh session in the initial state.
func New(id string) *Session {
	return &Session{
		ID:        id,
		State:     StateInit,
		UpdatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy of the session. Callers that hand sessions to
// concurrent consumers must clone first so no slice or field is shared.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	copied := *s
	if s.AgentQueue != nil {
		copied.AgentQueue = append([]AgentMessage(nil), s.AgentQueue...)
	}
	if s.AIHistory != nil {
		copied.AIHistory = append([]Turn(nil), s.AIHistory...)
	}
	return &copied
}

// CanTransition reports whether moving from the current state to target is allowed.
func (s *Session) CanTransition(target State) bool {
	for _, next := range transitions[s.State] {
		if next == target {
			return true
		}
	}
	return false
}

// Transition moves the session to target, or returns ErrInvalidTransition.
func (s *Session) Transition(target State) error {
	if !s.CanTransition(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, target)
	}
	s.State = target
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Reset returns the session to the initial state, clearing verification data.
// The durable chat transcript is unaffected.
func (s *Session) Reset() {
	s.State = StateInit
	s.Mobile = ""
	s.OTPSessionID = ""
	s.Verified = false
	s.AgentQueue = nil
	s.AIHistory = nil
	s.TurnCount = 0
	s.UpdatedAt = time.Now().UTC()
}

// AppendTurn records an exchange in the engine context window,
// keeping only the most recent maxTurns entries.
func (s *Session) AppendTurn(role, content string, maxTurns int) {
	s.AIHistory = append(s.AIHistory, Turn{Role: role, Content: content})
	if maxTurns > 0 && len(s.AIHistory) > maxTurns {
		s.AIHistory = s.AIHistory[len(s.AIHistory)-maxTurns:]
	}
}
