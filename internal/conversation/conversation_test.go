package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/real-rm/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/supportbot/internal/answer"
	"github.com/real-rm/supportbot/internal/constants"
	chaterrors "github.com/real-rm/supportbot/internal/errors"
	"github.com/real-rm/supportbot/internal/handover"
	"github.com/real-rm/supportbot/internal/session"
)

func getTestLogger() *golog.Logger {
	logger, err := golog.InitLog(golog.LogConfig{
		Dir:            "/tmp/supportbot-test-logs",
		Level:          "error",
		StandardOutput: false,
	})
	if err != nil {
		panic("Failed to initialize test logger: " + err.Error())
	}
	return logger
}

// fakeStore is an in-memory SessionStore.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	queues   map[string][]session.AgentMessage
	logs     map[string][]session.LogEntry
	cleared  []string

	saveErr error
	getErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*session.Session),
		queues:   make(map[string][]session.AgentMessage),
		logs:     make(map[string][]session.LogEntry),
	}
}

func (f *fakeStore) GetSession(sessionID string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return session.New(sessionID), f.getErr
	}
	if s, ok := f.sessions[sessionID]; ok {
		copied := *s
		return &copied, nil
	}
	return session.New(sessionID), nil
}

func (f *fakeStore) SaveSession(sess *session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	copied := *sess
	f.sessions[sess.ID] = &copied
	return nil
}

func (f *fakeStore) DeleteSession(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	delete(f.queues, sessionID)
	return nil
}

func (f *fakeStore) ClearOtherSessions(mobile, keepID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, mobile)
	for id, s := range f.sessions {
		if s.Mobile == mobile && id != keepID {
			delete(f.sessions, id)
		}
	}
	return nil
}

func (f *fakeStore) EnqueueAgentMessage(sessionID string, msg session.AgentMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[sessionID] = append(f.queues[sessionID], msg)
	return nil
}

func (f *fakeStore) DrainAgentQueue(sessionID string) ([]session.AgentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.queues[sessionID]
	f.queues[sessionID] = nil
	return msgs, nil
}

func (f *fakeStore) AppendChatLog(sessionID, mobile string, entries []session.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[sessionID] = append(f.logs[sessionID], entries...)
	return nil
}

func (f *fakeStore) storedSession(sessionID string) *session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[sessionID]
}

func (f *fakeStore) logCount(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logs[sessionID])
}

func (f *fakeStore) logEntries(sessionID string) []session.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.LogEntry(nil), f.logs[sessionID]...)
}

// fakeOTP is a scripted OTPClient.
type fakeOTP struct {
	mu            sync.Mutex
	requestErr    error
	verifyErr     error
	detailsErr    error
	otpSessionID  string
	details       map[string]interface{}
	requestCalls  int
	verifyCalls   int
	detailsCalls  int
	lastOTP       string
	lastOTPSessID string
}

func (f *fakeOTP) RequestOTP(ctx context.Context, mobile string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestCalls++
	if f.requestErr != nil {
		return "", f.requestErr
	}
	return f.otpSessionID, nil
}

func (f *fakeOTP) VerifyOTP(ctx context.Context, mobile, otp, otpSessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	f.lastOTP = otp
	f.lastOTPSessID = otpSessionID
	return f.verifyErr
}

func (f *fakeOTP) GetApplicationDetails(ctx context.Context, mobile string) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailsCalls++
	if f.detailsErr != nil {
		return nil, f.detailsErr
	}
	return f.details, nil
}

// fakeForwarder records gateway forwards.
type fakeForwarder struct {
	mu     sync.Mutex
	accept bool
	calls  []string
}

func (f *fakeForwarder) ForwardToHuman(ctx context.Context, sessionID, mobile, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	return f.accept
}

func (f *fakeForwarder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeForwarder) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

// fakeEngine is a scripted answer engine.
type fakeEngine struct {
	result *answer.Result
	err    error
}

func (f *fakeEngine) Generate(ctx context.Context, req *answer.Request) (*answer.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeNotifier records handover notifications.
type fakeNotifier struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeNotifier) NotifyHandover(sessionID, mobile string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	store     *fakeStore
	otp       *fakeOTP
	engine    *fakeEngine
	forwarder *fakeForwarder
	notifier  *fakeNotifier
	coord     *Coordinator
}

func newFixture() *fixture {
	store := newFakeStore()
	otp := &fakeOTP{otpSessionID: "otp-sess-1"}
	engine := &fakeEngine{result: &answer.Result{Text: "Here is your answer."}}
	forwarder := &fakeForwarder{accept: true}
	notifier := &fakeNotifier{}
	coord := NewCoordinator(store, otp, engine, forwarder, notifier, Config{}, getTestLogger())
	return &fixture{store: store, otp: otp, engine: engine, forwarder: forwarder, notifier: notifier, coord: coord}
}

// verifiedFixture returns a fixture with a session already past OTP
// verification.
func verifiedFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture()
	sess := session.New("sess-1")
	sess.Mobile = "9876543210"
	sess.Verified = true
	sess.State = session.StateVerified
	require.NoError(t, f.store.SaveSession(sess))
	return f
}

func TestHandleMessage_PromptsForMobile(t *testing.T) {
	f := newFixture()

	reply := f.coord.HandleMessage(context.Background(), "sess-1", "hello there")
	assert.Contains(t, reply, "10-digit registered mobile number")

	stored := f.store.storedSession("sess-1")
	require.NotNil(t, stored)
	assert.Equal(t, session.StateInit, stored.State)
}

func TestHandleMessage_MobileTriggersOTP(t *testing.T) {
	f := newFixture()

	reply := f.coord.HandleMessage(context.Background(), "sess-1", "9876543210")
	assert.Contains(t, reply, "9876543210")
	assert.Contains(t, reply, "OTP")

	stored := f.store.storedSession("sess-1")
	require.NotNil(t, stored)
	assert.Equal(t, session.StateWaitingForOTP, stored.State)
	assert.Equal(t, "9876543210", stored.Mobile)
	assert.Equal(t, "otp-sess-1", stored.OTPSessionID)
	assert.Equal(t, 1, f.otp.requestCalls)
	assert.Equal(t, []string{"9876543210"}, f.store.cleared)
}

func TestHandleMessage_MobileWithWhitespace(t *testing.T) {
	f := newFixture()

	reply := f.coord.HandleMessage(context.Background(), "sess-1", "  9876543210  ")
	assert.Contains(t, reply, "OTP")
}

func TestHandleMessage_OTPSendFailureResetsSession(t *testing.T) {
	f := newFixture()
	f.otp.requestErr = chaterrors.ErrProviderRejected("send_otp", "Mobile number not registered")

	reply := f.coord.HandleMessage(context.Background(), "sess-1", "9876543210")
	assert.Contains(t, reply, "Failed to send OTP")
	assert.Contains(t, reply, "Mobile number not registered")

	stored := f.store.storedSession("sess-1")
	require.NotNil(t, stored)
	assert.Equal(t, session.StateInit, stored.State)
	assert.Empty(t, stored.Mobile)
}

func TestHandleMessage_WrongOTP(t *testing.T) {
	f := newFixture()
	f.coord.HandleMessage(context.Background(), "sess-1", "9876543210")

	f.otp.verifyErr = chaterrors.ErrProviderRejected("verify_otp", "Invalid OTP")
	reply := f.coord.HandleMessage(context.Background(), "sess-1", "000000")
	assert.Contains(t, reply, "incorrect")

	stored := f.store.storedSession("sess-1")
	require.NotNil(t, stored)
	assert.Equal(t, session.StateWaitingForOTP, stored.State)
	assert.False(t, stored.Verified)
}

func TestHandleMessage_ProviderFailureReadsLikeWrongOTP(t *testing.T) {
	f := newFixture()
	f.coord.HandleMessage(context.Background(), "sess-1", "9876543210")

	f.otp.verifyErr = chaterrors.ErrProviderError("verify_otp", errors.New("timeout"))
	reply := f.coord.HandleMessage(context.Background(), "sess-1", "482910")
	assert.Contains(t, reply, "incorrect")
}

func TestHandleMessage_CorrectOTPVerifies(t *testing.T) {
	f := newFixture()
	f.otp.detailsErr = errors.New("details unavailable")
	f.coord.HandleMessage(context.Background(), "sess-1", "9876543210")

	reply := f.coord.HandleMessage(context.Background(), "sess-1", "482910")
	assert.Contains(t, reply, "OTP verified")

	stored := f.store.storedSession("sess-1")
	require.NotNil(t, stored)
	assert.Equal(t, session.StateVerified, stored.State)
	assert.True(t, stored.Verified)
	assert.Empty(t, stored.OTPSessionID)
	assert.Equal(t, "482910", f.otp.lastOTP)
	assert.Equal(t, "otp-sess-1", f.otp.lastOTPSessID)
}

func TestHandleMessage_ConcurrentSameSession(t *testing.T) {
	f := verifiedFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				reply := f.coord.HandleMessage(context.Background(), "sess-1", "How do I renew my DSC?")
				assert.Equal(t, "Here is your answer.", reply)
			}
		}()
	}
	wg.Wait()

	stored := f.store.storedSession("sess-1")
	require.NotNil(t, stored)
	assert.True(t, stored.Verified)
	assert.Equal(t, session.StateVerified, stored.State)
	assert.LessOrEqual(t, len(stored.AIHistory), constants.MaxTranscriptTurns)
}

func TestHandleMessage_VerifiedGreetingIncludesDetails(t *testing.T) {
	f := newFixture()
	f.otp.details = map[string]interface{}{
		"meta": map[string]interface{}{"status": "1"},
		"details": map[string]interface{}{
			"applicantDetails": map[string]interface{}{"commonname": "Asha"},
		},
	}
	f.coord.HandleMessage(context.Background(), "sess-1", "9876543210")

	reply := f.coord.HandleMessage(context.Background(), "sess-1", "482910")
	assert.Contains(t, reply, "Asha")
}

func TestHandleMessage_EngineAnswer(t *testing.T) {
	f := verifiedFixture(t)

	reply := f.coord.HandleMessage(context.Background(), "sess-1", "How do I renew my DSC?")
	assert.Equal(t, "Here is your answer.", reply)

	stored := f.store.storedSession("sess-1")
	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.TurnCount)
	require.Len(t, stored.AIHistory, 2)
	assert.Equal(t, "user", stored.AIHistory[0].Role)
	assert.Equal(t, "assistant", stored.AIHistory[1].Role)

	// Transcript is written in the background
	assert.Eventually(t, func() bool {
		return f.store.logCount("sess-1") == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHandleMessage_VerifiedInputIsMasked(t *testing.T) {
	f := verifiedFixture(t)

	f.coord.HandleMessage(context.Background(), "sess-1", "my aadhaar is 123456789012")

	stored := f.store.storedSession("sess-1")
	require.NotNil(t, stored)
	require.NotEmpty(t, stored.AIHistory)
	assert.NotContains(t, stored.AIHistory[0].Content, "123456789012")
	assert.Contains(t, stored.AIHistory[0].Content, "1XXXXXXXXXX2")
}

func TestHandleMessage_EngineMissing(t *testing.T) {
	f := verifiedFixture(t)
	f.coord.engine = nil

	reply := f.coord.HandleMessage(context.Background(), "sess-1", "question")
	assert.Equal(t, "System Error: AI Agent not initialized.", reply)
}

func TestHandleMessage_EngineFailure(t *testing.T) {
	f := verifiedFixture(t)
	f.engine.err = errors.New("model overloaded")

	reply := f.coord.HandleMessage(context.Background(), "sess-1", "question")
	assert.Equal(t, "I encountered an error processing your request.", reply)
}

func TestHandleMessage_HandoverFlow(t *testing.T) {
	f := verifiedFixture(t)
	f.engine.result = &answer.Result{RequiresHandover: true}

	reply := f.coord.HandleMessage(context.Background(), "sess-1", "I want a human agent")
	assert.Contains(t, reply, "connected")

	stored := f.store.storedSession("sess-1")
	require.NotNil(t, stored)
	assert.Equal(t, session.StateHandoverActive, stored.State)
	assert.Equal(t, 1, f.forwarder.callCount())
	assert.Equal(t, "I want a human agent", f.forwarder.lastCall())

	assert.Eventually(t, func() bool {
		return f.notifier.callCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHandleMessage_HandoverForwardFails(t *testing.T) {
	f := verifiedFixture(t)
	f.engine.result = &answer.Result{RequiresHandover: true}
	f.forwarder.accept = false

	reply := f.coord.HandleMessage(context.Background(), "sess-1", "human please")
	assert.Contains(t, reply, "unable to connect")

	// The session stays with the bot
	stored := f.store.storedSession("sess-1")
	require.NotNil(t, stored)
	assert.Equal(t, session.StateVerified, stored.State)
	assert.Zero(t, f.notifier.callCount())
}

func TestHandleMessage_HandoverRelay(t *testing.T) {
	f := verifiedFixture(t)
	sess := f.store.storedSession("sess-1")
	sess.State = session.StateHandoverActive
	require.NoError(t, f.store.SaveSession(sess))

	reply := f.coord.HandleMessage(context.Background(), "sess-1", "are you there?")
	assert.Empty(t, reply)

	assert.Eventually(t, func() bool {
		return f.forwarder.callCount() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "are you there?", f.forwarder.lastCall())

	assert.Eventually(t, func() bool {
		return f.store.logCount("sess-1") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHandleMessage_HandoverRelayMasksTranscript(t *testing.T) {
	f := verifiedFixture(t)
	sess := f.store.storedSession("sess-1")
	sess.State = session.StateHandoverActive
	require.NoError(t, f.store.SaveSession(sess))

	f.coord.HandleMessage(context.Background(), "sess-1", "my PAN is ABCDE1234F")

	// The live agent gets the raw text, the durable log the masked form
	assert.Eventually(t, func() bool {
		return f.forwarder.callCount() == 1 && f.store.logCount("sess-1") == 1
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, f.forwarder.lastCall(), "ABCDE1234F")
	entries := f.store.logEntries("sess-1")
	assert.NotContains(t, entries[0].Text, "ABCDE1234F")
}

func TestHandleMessage_HandoverWithoutMobileExpires(t *testing.T) {
	f := newFixture()
	sess := session.New("sess-1")
	sess.State = session.StateHandoverActive
	require.NoError(t, f.store.SaveSession(sess))

	reply := f.coord.HandleMessage(context.Background(), "sess-1", "hello?")
	assert.Equal(t, "Session expired. Please reload.", reply)
	assert.Zero(t, f.forwarder.callCount())
}

func TestReceiveAgentMessage_QueuesForPolling(t *testing.T) {
	f := verifiedFixture(t)

	payload := &handover.AgentWebhookPayload{Text: "Hi, this is Ravi from support."}
	payload.Metadata.UserName = "ravi"
	require.NoError(t, f.coord.ReceiveAgentMessage("sess-1", payload))

	msgs, err := f.coord.PollMessages("sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ravi", msgs[0].Name)
	assert.Equal(t, "Hi, this is Ravi from support.", msgs[0].Text)

	// A second poll gets nothing: exactly-once delivery
	msgs, err = f.coord.PollMessages("sess-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReceiveAgentMessage_EmptyTextDropped(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.coord.ReceiveAgentMessage("sess-1", &handover.AgentWebhookPayload{}))
	require.NoError(t, f.coord.ReceiveAgentMessage("sess-1", nil))

	msgs, err := f.coord.PollMessages("sess-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReceiveAgentMessage_InvalidSession(t *testing.T) {
	f := newFixture()
	err := f.coord.ReceiveAgentMessage("", &handover.AgentWebhookPayload{Text: "hi"})
	assert.Error(t, err)
}

func TestPollMessages_EmptyQueueReturnsEmptySlice(t *testing.T) {
	f := newFixture()

	msgs, err := f.coord.PollMessages("sess-1")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestResetSession_ExitsHandover(t *testing.T) {
	f := verifiedFixture(t)
	sess := f.store.storedSession("sess-1")
	sess.State = session.StateHandoverActive
	require.NoError(t, f.store.SaveSession(sess))

	require.NoError(t, f.coord.ResetSession("sess-1"))

	// The next message starts the flow from scratch
	reply := f.coord.HandleMessage(context.Background(), "sess-1", "hello")
	assert.Contains(t, reply, "mobile number")
}

func TestResetSession_InvalidID(t *testing.T) {
	f := newFixture()
	assert.Error(t, f.coord.ResetSession(""))
}

func TestHandleMessage_StorageFailureDegradesToFreshSession(t *testing.T) {
	f := newFixture()
	f.store.getErr = errors.New("database down")

	reply := f.coord.HandleMessage(context.Background(), "sess-1", "hello")
	assert.Contains(t, reply, "mobile number")
}

func TestHandleMessage_FullJourney(t *testing.T) {
	f := newFixture()
	f.otp.details = map[string]interface{}{"status": "0"}

	// 1. Greeting -> prompt for mobile
	reply := f.coord.HandleMessage(context.Background(), "sess-1", "hi")
	assert.Contains(t, reply, "mobile number")

	// 2. Mobile -> OTP sent
	reply = f.coord.HandleMessage(context.Background(), "sess-1", "9876543210")
	assert.Contains(t, reply, "OTP")

	// 3. OTP -> verified
	reply = f.coord.HandleMessage(context.Background(), "sess-1", "482910")
	assert.Contains(t, reply, "OTP verified")

	// 4. Question -> engine answer
	reply = f.coord.HandleMessage(context.Background(), "sess-1", "Which DSC do I need for ICEGATE?")
	assert.Equal(t, "Here is your answer.", reply)

	// 5. Ask for a human -> handover
	f.engine.result = &answer.Result{RequiresHandover: true}
	reply = f.coord.HandleMessage(context.Background(), "sess-1", "agent please")
	assert.Contains(t, reply, "connected")

	// 6. Messages now relay to the agent, bot replies go silent
	reply = f.coord.HandleMessage(context.Background(), "sess-1", "hello agent")
	assert.Empty(t, reply)

	// 7. Agent reply arrives via webhook and is polled exactly once
	require.NoError(t, f.coord.ReceiveAgentMessage("sess-1", &handover.AgentWebhookPayload{Name: "rchat", Text: "How can I help?"}))
	msgs, err := f.coord.PollMessages("sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "rchat", msgs[0].Name)
}

func TestFormatOTPFailure(t *testing.T) {
	chatErr := chaterrors.ErrProviderRejected("send_otp", "not registered")
	got := formatOTPFailure(chatErr)
	assert.Contains(t, got, "Failed to send OTP")
	assert.Contains(t, got, "not registered")

	plain := fmt.Errorf("connection refused")
	got = formatOTPFailure(plain)
	assert.Contains(t, got, "connection refused")
}
