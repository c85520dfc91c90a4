// ABOUTME: Presence indicator state machine driven by an idle timer
// ABOUTME: Degrades Active to Inactive on idleness; reactivation is explicit only

package activity

import (
	"log/slog"
	"sync"
	"time"
)

// Status is the presence state shown to the end user.
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

// DefaultIdleTimeout is used when the configuration does not set one.
const DefaultIdleTimeout = 60 * time.Second

// Monitor owns the single idle timer for a widget session. Qualifying
// interactions (click/keydown relays) reset the timer but never reactivate;
// the Active state is only re-entered through explicit session actions such
// as starting a new conversation. The timer is cleared on Close so no
// transition fires after teardown.
type Monitor struct {
	mu       sync.Mutex
	timeout  time.Duration
	timer    *time.Timer
	status   Status
	onChange func(Status)
	closed   bool
	logger   *slog.Logger
}

// NewMonitor starts a monitor in the Active state with its idle timer
// running. onChange is invoked (with the monitor unlocked) on every status
// transition; it may be nil. Pass nil logger for the default.
func NewMonitor(timeout time.Duration, onChange func(Status), logger *slog.Logger) *Monitor {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		timeout:  timeout,
		status:   StatusActive,
		onChange: onChange,
		logger:   logger.With("component", "activity"),
	}
	m.timer = time.AfterFunc(timeout, m.expire)
	return m
}

// Touch records a qualifying interaction. The idle timer is cleared and
// restarted, never stacked. Touch does not transition Inactive back to
// Active.
func (m *Monitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.timer.Stop()
	m.timer = time.AfterFunc(m.timeout, m.expire)
}

// MarkActive transitions back to Active and restarts the idle timer. Only
// explicit session actions call this.
func (m *Monitor) MarkActive() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	changed := m.status != StatusActive
	m.status = StatusActive
	m.timer.Stop()
	m.timer = time.AfterFunc(m.timeout, m.expire)
	cb := m.onChange
	m.mu.Unlock()

	if changed && cb != nil {
		cb(StatusActive)
	}
}

// Status returns the current presence state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Close cancels the idle timer. No transition fires after Close returns.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.timer.Stop()
}

func (m *Monitor) expire() {
	m.mu.Lock()
	if m.closed || m.status == StatusInactive {
		m.mu.Unlock()
		return
	}
	m.status = StatusInactive
	cb := m.onChange
	m.mu.Unlock()

	m.logger.Debug("presence degraded to inactive")
	if cb != nil {
		cb(StatusInactive)
	}
}
