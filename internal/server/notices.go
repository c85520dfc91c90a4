// ABOUTME: Per-session notice buffers for transient user-visible messages
// ABOUTME: Validation errors and pending-upload info surface through these

package server

import (
	"sync"
)

// Notice is one transient user-visible message.
type Notice struct {
	Level   string `json:"level"` // "error" or "info"
	Message string `json:"message"`
}

// noticeBuffer collects notices until the next session response drains
// them. It satisfies the input gate's Notifier.
type noticeBuffer struct {
	mu      sync.Mutex
	notices []Notice
}

func newNoticeBuffer() *noticeBuffer {
	return &noticeBuffer{}
}

func (b *noticeBuffer) Error(msg string) { b.append("error", msg) }
func (b *noticeBuffer) Info(msg string)  { b.append("info", msg) }

func (b *noticeBuffer) append(level, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, Notice{Level: level, Message: msg})
}

// Drain returns and clears the pending notices.
func (b *noticeBuffer) Drain() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.notices
	b.notices = nil
	return out
}

// noticeBufferMap tracks each session's buffer by session id.
type noticeBufferMap struct {
	mu sync.Mutex
	m  map[string]*noticeBuffer
}

func newNoticeBufferMap() *noticeBufferMap {
	return &noticeBufferMap{m: make(map[string]*noticeBuffer)}
}

func (nm *noticeBufferMap) store(id string, b *noticeBuffer) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.m[id] = b
}

func (nm *noticeBufferMap) get(id string) *noticeBuffer {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.m[id]
}

func (nm *noticeBufferMap) drop(id string) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	delete(nm.m, id)
}
