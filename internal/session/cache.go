package session

import (
	"container/list"
	"sync"
)

// HistoryCache is a bounded, concurrency-safe LRU cache of session documents.
// It keeps hot sessions out of the database on the chat fast path; the
// database remains the source of truth and the cache may be dropped at any
// time without data loss.
type HistoryCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

type cacheEntry struct {
	id      string
	session *Session
}

// NewHistoryCache creates a cache holding at most capacity sessions.
// A capacity of zero or less disables caching entirely.
func NewHistoryCache(capacity int) *HistoryCache {
	return &HistoryCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns a copy of the cached session for id, or nil if absent.
// Copies keep concurrent requests for the same session from sharing state;
// a caller's mutations reach the cache only through Put.
func (c *HistoryCache) Get(id string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[id]
	if !ok {
		return nil
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).session.Clone()
}

// Put stores or refreshes a session, evicting the least recently used
// entry when the cache is full.
func (c *HistoryCache) Put(s *Session) {
	if c.capacity <= 0 || s == nil || s.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stored := s.Clone()
	if elem, ok := c.entries[s.ID]; ok {
		elem.Value.(*cacheEntry).session = stored
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).id)
		}
	}
	c.entries[s.ID] = c.order.PushFront(&cacheEntry{id: s.ID, session: stored})
}

// Delete removes a session from the cache if present.
func (c *HistoryCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[id]; ok {
		c.order.Remove(elem)
		delete(c.entries, id)
	}
}

// Len returns the number of cached sessions.
func (c *HistoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
