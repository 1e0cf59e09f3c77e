// Package ratelimit provides rate limiting for chat and admin endpoints.
// It implements a sliding window algorithm to prevent abuse and DoS attacks.
package ratelimit

import (
	"sync"
	"time"
)

// MessageLimiter limits the rate of requests per key using a sliding window.
// Keys are session IDs for chat endpoints and client IPs for public ones.
type MessageLimiter struct {
	events map[string][]time.Time // key -> timestamps
	window time.Duration
	limit  int
	mu     sync.RWMutex

	// Cleanup goroutine management
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupWg       sync.WaitGroup
}

// NewMessageLimiter creates a new sliding window rate limiter
// window: time window for rate limiting (e.g., 1 minute)
// limit: maximum number of requests allowed in the window
func NewMessageLimiter(window time.Duration, limit int) *MessageLimiter {
	return &MessageLimiter{
		events:          make(map[string][]time.Time),
		window:          window,
		limit:           limit,
		cleanupInterval: 5 * time.Minute, // Default cleanup every 5 minutes
		stopCleanup:     make(chan struct{}),
	}
}

// Allow checks if a request is allowed based on rate limiting
// Returns true if allowed, false if rate limit exceeded
func (ml *MessageLimiter) Allow(key string) bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-ml.window)

	// Get existing events for this key
	events := ml.events[key]

	// Filter out old events outside the window
	var recentEvents []time.Time
	for _, t := range events {
		if t.After(cutoff) {
			recentEvents = append(recentEvents, t)
		}
	}

	// Check if we're under the limit
	if len(recentEvents) >= ml.limit {
		return false
	}

	// Add this event
	recentEvents = append(recentEvents, now)
	ml.events[key] = recentEvents

	return true
}

// GetRetryAfter returns the time in milliseconds until the next request is allowed
func (ml *MessageLimiter) GetRetryAfter(key string) int {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	events := ml.events[key]
	if len(events) < ml.limit {
		return 0
	}

	// Find the oldest event in the window
	now := time.Now()
	cutoff := now.Add(-ml.window)

	var oldestInWindow time.Time
	for _, t := range events {
		if t.After(cutoff) {
			if oldestInWindow.IsZero() || t.Before(oldestInWindow) {
				oldestInWindow = t
			}
		}
	}

	if oldestInWindow.IsZero() {
		return 0
	}

	// Calculate when the oldest event will expire
	expiresAt := oldestInWindow.Add(ml.window)
	retryAfter := expiresAt.Sub(now)

	if retryAfter < 0 {
		return 0
	}

	return int(retryAfter.Milliseconds())
}

// Reset clears the rate limit history for a key
func (ml *MessageLimiter) Reset(key string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	delete(ml.events, key)
}

// Cleanup removes expired events to prevent memory leaks
// Should be called periodically
func (ml *MessageLimiter) Cleanup() {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-ml.window)

	for key, events := range ml.events {
		var recentEvents []time.Time
		for _, t := range events {
			if t.After(cutoff) {
				recentEvents = append(recentEvents, t)
			}
		}

		if len(recentEvents) == 0 {
			delete(ml.events, key)
		} else {
			ml.events[key] = recentEvents
		}
	}
}

// StartCleanup starts a background goroutine that periodically cleans up expired events
func (ml *MessageLimiter) StartCleanup() {
	ml.cleanupWg.Add(1)
	go func() {
		defer ml.cleanupWg.Done()
		ticker := time.NewTicker(ml.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ml.Cleanup()
			case <-ml.stopCleanup:
				return
			}
		}
	}()
}

// StopCleanup stops the cleanup goroutine and waits for it to finish
func (ml *MessageLimiter) StopCleanup() {
	ml.mu.Lock()

	// Only close if channel is not nil and not already closed
	if ml.stopCleanup != nil {
		select {
		case <-ml.stopCleanup:
			// Already closed, do nothing
		default:
			close(ml.stopCleanup)
		}
	}

	// Wait for cleanup goroutine to finish (outside the lock)
	ml.mu.Unlock()
	ml.cleanupWg.Wait()
}
