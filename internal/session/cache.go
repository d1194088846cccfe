package session

import (
	"sync"
	"time"
)

// minCleanupInterval is the smallest allowed TTL to prevent degenerate ticker intervals.
const minCleanupInterval = time.Millisecond

// Entry holds one session's live in-memory state: its Message Log plus the
// accounting collaborators the Session Runner threads through each turn.
type Entry struct {
	ID         string
	Log        *MessageLog
	Info       *Info
	CostGuard  *CostGuard
	EventLog   *EventLog
	LastUsed   time.Time
}

// Cache is a thread-safe in-memory registry of active sessions with TTL
// eviction, so a long-running server process (the `session` CLI command
// serving several concurrent conversations, or an embedding host) does not
// accumulate idle sessions forever. NOT designed for multi-replica
// deployments — each process owns its own in-memory Cache, and nothing in
// it outlives the process.
type Cache struct {
	mu       sync.RWMutex
	sessions map[string]*Entry
	ttl      time.Duration
	done     chan struct{}
}

// NewCache creates a Cache evicting sessions idle for longer than ttl. A
// background goroutine performs the eviction; call Close when the cache is
// no longer needed to stop it.
func NewCache(ttl time.Duration) *Cache {
	if ttl < minCleanupInterval {
		ttl = minCleanupInterval
	}
	c := &Cache{
		sessions: make(map[string]*Entry),
		ttl:      ttl,
		done:     make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// GetOrCreate returns the existing entry for id, or creates one with a fresh
// MessageLog/Info/CostGuard via newEntry if none exists yet.
func (c *Cache) GetOrCreate(id string, newEntry func() *Entry) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.sessions[id]; ok {
		e.LastUsed = time.Now()
		return e
	}
	e := newEntry()
	e.ID = id
	e.LastUsed = time.Now()
	c.sessions[id] = e
	return e
}

// Get returns the entry for id without creating one.
func (c *Cache) Get(id string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.sessions[id]
	return e, ok
}

// Touch refreshes a session's last-used timestamp, extending its TTL window.
func (c *Cache) Touch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.sessions[id]; ok {
		e.LastUsed = time.Now()
	}
}

// Delete explicitly removes a session (e.g. the user ends it).
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

// Count returns the number of active sessions.
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// cleanupLoop periodically removes sessions idle longer than the TTL.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			cutoff := time.Now().Add(-c.ttl)
			for id, e := range c.sessions {
				if e.LastUsed.Before(cutoff) {
					delete(c.sessions, id)
				}
			}
			c.mu.Unlock()
		}
	}
}
