package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageLimiter_Allow(t *testing.T) {
	ml := NewMessageLimiter(1*time.Second, 3)

	// First 3 messages should be allowed
	assert.True(t, ml.Allow("sess-1"))
	assert.True(t, ml.Allow("sess-1"))
	assert.True(t, ml.Allow("sess-1"))

	// 4th message should be denied
	assert.False(t, ml.Allow("sess-1"))

	// Different session should be allowed
	assert.True(t, ml.Allow("sess-2"))
}

func TestMessageLimiter_WindowExpiry(t *testing.T) {
	ml := NewMessageLimiter(100*time.Millisecond, 2)

	// Use up the limit
	assert.True(t, ml.Allow("sess-1"))
	assert.True(t, ml.Allow("sess-1"))
	assert.False(t, ml.Allow("sess-1"))

	// Wait for window to expire
	time.Sleep(150 * time.Millisecond)

	// Should be allowed again
	assert.True(t, ml.Allow("sess-1"))
}

func TestMessageLimiter_GetRetryAfter(t *testing.T) {
	ml := NewMessageLimiter(1*time.Second, 2)

	// Use up the limit
	ml.Allow("sess-1")
	ml.Allow("sess-1")

	// Should have retry after value
	retryAfter := ml.GetRetryAfter("sess-1")
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 1000) // Should be within 1 second

	// Session with no events should have 0 retry after
	assert.Equal(t, 0, ml.GetRetryAfter("sess-2"))
}

func TestMessageLimiter_Reset(t *testing.T) {
	ml := NewMessageLimiter(1*time.Second, 2)

	// Use up the limit
	ml.Allow("sess-1")
	ml.Allow("sess-1")
	assert.False(t, ml.Allow("sess-1"))

	// Reset
	ml.Reset("sess-1")

	// Should be allowed again
	assert.True(t, ml.Allow("sess-1"))
}

func TestMessageLimiter_Cleanup(t *testing.T) {
	ml := NewMessageLimiter(100*time.Millisecond, 2)

	// Add events for multiple sessions
	ml.Allow("sess-1")
	ml.Allow("sess-2")
	ml.Allow("sess-3")

	// Wait for events to expire
	time.Sleep(150 * time.Millisecond)

	// Cleanup should remove expired events
	ml.Cleanup()

	// Verify internal state is cleaned up
	ml.mu.RLock()
	assert.Equal(t, 0, len(ml.events))
	ml.mu.RUnlock()
}

func TestMessageLimiter_CleanupLifecycle(t *testing.T) {
	ml := NewMessageLimiter(1*time.Second, 2)
	ml.StartCleanup()

	// StopCleanup must block until the goroutine exits and be safe to call twice
	ml.StopCleanup()
	ml.StopCleanup()
}

func TestMessageLimiter_ConcurrentAccess(t *testing.T) {
	ml := NewMessageLimiter(1*time.Second, 100)

	// Test concurrent access from multiple goroutines
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			for j := 0; j < 10; j++ {
				ml.Allow("sess-1")
			}
			done <- true
		}(i)
	}

	// Wait for all goroutines
	for i := 0; i < 10; i++ {
		<-done
	}

	// Should have exactly 100 events (the limit)
	ml.mu.RLock()
	count := len(ml.events["sess-1"])
	ml.mu.RUnlock()
	assert.Equal(t, 100, count)
}
