// ABOUTME: Thread-safe TTL registry for live widget sessions.
// ABOUTME: Evicts idle sessions by age and caps the total session count.

package server

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aivie/widget-gateway/internal/session"
)

// registryEntry stores the last-seen timestamp and list element for a session.
type registryEntry struct {
	orch     *session.Orchestrator
	lastSeen time.Time
	element  *list.Element
}

// Registry tracks live sessions by id with a TTL and a maximum size.
// Uses a doubly-linked list to maintain recency order for O(1) eviction.
// Evicted sessions are closed, which stops their stream and idle timer.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*registryEntry
	order    *list.List // session ids in recency order (stalest at front)
	ttl      time.Duration
	maxSize  int
	onRemove func(id string)
	logger   *slog.Logger
	done     chan struct{}
	closed   bool
}

// NewRegistry creates a session registry with the specified TTL and maximum
// size. A background goroutine periodically evicts expired sessions.
// onRemove, if non-nil, runs for every removal — explicit, expired, or
// evicted — while the registry lock is held; it must not call back into the
// registry.
func NewRegistry(ttl time.Duration, maxSize int, onRemove func(id string), logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		entries:  make(map[string]*registryEntry),
		order:    list.New(),
		ttl:      ttl,
		maxSize:  maxSize,
		onRemove: onRemove,
		logger:   logger.With("component", "registry"),
		done:     make(chan struct{}),
	}
	go r.cleanup()
	return r
}

// Add registers a session and returns its generated id. If the registry is
// at capacity, the stalest session is evicted to make room.
func (r *Registry) Add(orch *session.Orchestrator) string {
	id := uuid.New().String()

	r.mu.Lock()
	if len(r.entries) >= r.maxSize {
		r.evictStalest()
	}
	elem := r.order.PushBack(id)
	r.entries[id] = &registryEntry{
		orch:     orch,
		lastSeen: time.Now(),
		element:  elem,
	}
	count := len(r.entries)
	r.mu.Unlock()

	r.logger.Debug("session registered", "session_id", id, "sessions", count)
	return id
}

// Get returns the session for id and refreshes its recency. Returns nil
// when the session is unknown or expired.
func (r *Registry) Get(id string) *session.Orchestrator {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil
	}
	if time.Since(entry.lastSeen) > r.ttl {
		r.removeLocked(id, entry)
		return nil
	}
	entry.lastSeen = time.Now()
	r.order.MoveToBack(entry.element)
	return entry.orch
}

// Remove drops a session and closes it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if ok {
		r.removeLocked(id, entry)
	}
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// removeLocked unregisters and closes one session. Must be called with mu held.
func (r *Registry) removeLocked(id string, entry *registryEntry) {
	r.order.Remove(entry.element)
	delete(r.entries, id)
	entry.orch.Close()
	if r.onRemove != nil {
		r.onRemove(id)
	}
}

// evictStalest removes the least recently used session.
// Must be called with mu held. O(1) operation using the linked list.
func (r *Registry) evictStalest() {
	front := r.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	if entry, ok := r.entries[id]; ok {
		r.removeLocked(id, entry)
		r.logger.Debug("session evicted", "session_id", id)
	}
}

// cleanup runs in a background goroutine, periodically removing expired
// sessions.
func (r *Registry) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runCleanup()
		case <-r.done:
			return
		}
	}
}

// runCleanup removes all expired sessions.
func (r *Registry) runCleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, entry := range r.entries {
		if now.Sub(entry.lastSeen) > r.ttl {
			r.removeLocked(id, entry)
			r.logger.Debug("session expired", "session_id", id)
		}
	}
}

// Close stops the cleanup goroutine and closes every live session. It is
// safe to call multiple times.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.done)
	for id, entry := range r.entries {
		r.removeLocked(id, entry)
	}
}
