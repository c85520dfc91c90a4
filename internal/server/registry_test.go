// ABOUTME: Tests for the TTL session registry
// ABOUTME: Covers lookup, expiry, capacity eviction, and close semantics

package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aivie/widget-gateway/internal/session"
)

func newTestRegistry(t *testing.T, ttl time.Duration, maxSize int) *Registry {
	t.Helper()
	r := NewRegistry(ttl, maxSize, nil, nil)
	t.Cleanup(r.Close)
	return r
}

func TestRegistry_AddAndGet(t *testing.T) {
	r := newTestRegistry(t, time.Minute, 10)

	orch := session.New(session.Options{})
	id := r.Add(orch)
	require.NotEmpty(t, id)

	assert.Same(t, orch, r.Get(id))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_UnknownID(t *testing.T) {
	r := newTestRegistry(t, time.Minute, 10)
	assert.Nil(t, r.Get("nope"))
}

func TestRegistry_Expiry(t *testing.T) {
	r := newTestRegistry(t, 20*time.Millisecond, 10)

	id := r.Add(session.New(session.Options{}))
	time.Sleep(50 * time.Millisecond)

	assert.Nil(t, r.Get(id))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_GetRefreshesRecency(t *testing.T) {
	r := newTestRegistry(t, 60*time.Millisecond, 10)

	id := r.Add(session.New(session.Options{}))
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		require.NotNil(t, r.Get(id), "session should survive while touched")
	}
}

func TestRegistry_CapacityEvictsStalest(t *testing.T) {
	r := newTestRegistry(t, time.Minute, 2)

	first := r.Add(session.New(session.Options{}))
	second := r.Add(session.New(session.Options{}))
	third := r.Add(session.New(session.Options{}))

	assert.Nil(t, r.Get(first), "oldest session should be evicted")
	assert.NotNil(t, r.Get(second))
	assert.NotNil(t, r.Get(third))
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_Remove(t *testing.T) {
	r := newTestRegistry(t, time.Minute, 10)

	id := r.Add(session.New(session.Options{}))
	r.Remove(id)

	assert.Nil(t, r.Get(id))
	// Removing twice is a no-op.
	r.Remove(id)
}

func TestRegistry_CloseIsIdempotent(t *testing.T) {
	r := NewRegistry(time.Minute, 10, nil, nil)
	r.Add(session.New(session.Options{}))

	r.Close()
	r.Close()
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RemovalHookFiresOnEveryPath(t *testing.T) {
	var removed []string
	r := NewRegistry(20*time.Millisecond, 2, func(id string) {
		removed = append(removed, id)
	}, nil)
	t.Cleanup(r.Close)

	// Capacity eviction.
	first := r.Add(session.New(session.Options{}))
	r.Add(session.New(session.Options{}))
	r.Add(session.New(session.Options{}))
	require.Equal(t, []string{first}, removed)

	// Lazy expiry through Get.
	stale := r.Add(session.New(session.Options{}))
	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, r.Get(stale))
	assert.Contains(t, removed, stale)

	// Explicit removal.
	last := r.Add(session.New(session.Options{}))
	r.Remove(last)
	assert.Contains(t, removed, last)
}
