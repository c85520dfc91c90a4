// ABOUTME: Tests for the idle-timer presence monitor
// ABOUTME: Verifies one-directional degrade, timer resets, and teardown behavior

package activity

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, m *Monitor, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("monitor never reached status %s", want)
}

func TestMonitor_DegradesToInactive(t *testing.T) {
	var transitions atomic.Int32
	m := NewMonitor(20*time.Millisecond, func(s Status) {
		if s == StatusInactive {
			transitions.Add(1)
		}
	}, nil)
	defer m.Close()

	assert.Equal(t, StatusActive, m.Status())
	waitForStatus(t, m, StatusInactive)
	assert.Equal(t, int32(1), transitions.Load())
}

func TestMonitor_TouchResetsTimer(t *testing.T) {
	m := NewMonitor(60*time.Millisecond, nil, nil)
	defer m.Close()

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		m.Touch()
		require.Equal(t, StatusActive, m.Status(), "touch %d must keep the session active", i)
	}

	waitForStatus(t, m, StatusInactive)
}

func TestMonitor_TouchDoesNotReactivate(t *testing.T) {
	m := NewMonitor(20*time.Millisecond, nil, nil)
	defer m.Close()

	waitForStatus(t, m, StatusInactive)

	m.Touch()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StatusInactive, m.Status(), "interaction alone must not reactivate")
}

func TestMonitor_MarkActiveReactivates(t *testing.T) {
	var active atomic.Int32
	m := NewMonitor(20*time.Millisecond, func(s Status) {
		if s == StatusActive {
			active.Add(1)
		}
	}, nil)
	defer m.Close()

	waitForStatus(t, m, StatusInactive)

	m.MarkActive()
	assert.Equal(t, StatusActive, m.Status())
	assert.Equal(t, int32(1), active.Load())

	// The idle window restarts from the explicit activation.
	waitForStatus(t, m, StatusInactive)
}

func TestMonitor_CloseCancelsPendingTransition(t *testing.T) {
	var fired atomic.Int32
	m := NewMonitor(30*time.Millisecond, func(Status) { fired.Add(1) }, nil)
	m.Close()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load(), "no transition may fire after teardown")
	assert.Equal(t, StatusActive, m.Status())
}
