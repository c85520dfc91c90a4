// ABOUTME: streamRef is the stable abort handle for the in-flight answer stream
// ABOUTME: Callers hold the ref, never the stream, so stop always hits the latest one

package session

import (
	"sync"

	"github.com/aivie/widget-gateway/internal/upstream"
)

// streamRef owns the conversation's single in-flight answer stream. Event
// handlers capture the ref, not the stream itself, which guarantees that a
// stop issued from any handler aborts the latest stream. Tokens returned by
// Swap identify a stream generation; a late chunk whose token no longer
// matches is discarded by the consumer.
type streamRef struct {
	mu      sync.Mutex
	seq     uint64
	current *upstream.AnswerStream
}

// Swap installs a new stream as the active one and returns its generation
// token. Any previously active stream must already be stopped.
func (r *streamRef) Swap(s *upstream.AnswerStream) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.current = s
	return r.seq
}

// StopCurrent aborts the active stream, if any, and invalidates its token.
// Safe to call with no stream in flight.
func (r *streamRef) StopCurrent() {
	r.mu.Lock()
	current := r.current
	r.current = nil
	r.seq++
	r.mu.Unlock()

	if current != nil {
		current.Stop()
	}
}

// Matches reports whether token still identifies the active stream.
func (r *streamRef) Matches(token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil && r.seq == token
}
