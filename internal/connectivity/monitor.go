// Package connectivity tracks whether the application can reach the
// backend. The Monitor is the single writer of the online flag; everything
// that needs to know "are we online" (feed sync, drain trigger, write
// guard) reads it from here instead of keeping its own copy.
package connectivity

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/config"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/logger"
)

// Sample is one network-state observation. Both fields are tri-state: nil
// means the platform could not determine the value.
type Sample struct {
	Connected         *bool
	InternetReachable *bool
}

// State is the derived connectivity state handed to subscribers.
type State struct {
	IsOnline             bool
	IsFeedConnected      bool
	ShowOfflineIndicator bool
}

// Listener receives a State snapshot on every change.
type Listener func(State)

// ComputeOnline derives the online flag from a sample. Unknown reachability
// counts as reachable: most platforms cannot always determine it, and
// treating unknown as offline would report false outages on every start.
// Explicit connected=false or reachable=false is offline.
func ComputeOnline(s Sample) bool {
	if s.Connected == nil || !*s.Connected {
		return false
	}
	return s.InternetReachable == nil || *s.InternetReachable
}

// Monitor holds the current connectivity state and fans changes out to
// subscribers.
type Monitor struct {
	mu             sync.Mutex
	state          State
	indicatorDelay time.Duration
	clearTimer     *time.Timer
	listeners      map[int]Listener
	nextID         int
}

// NewMonitor creates a monitor that starts in the online state with no
// indicator showing. indicatorDelay is how long the offline indicator
// lingers after connectivity returns; non-positive falls back to the
// default.
func NewMonitor(indicatorDelay time.Duration) *Monitor {
	if indicatorDelay <= 0 {
		indicatorDelay = config.DefaultIndicatorDelay
	}
	return &Monitor{
		// Assume online until the first sample says otherwise, so app
		// start is not treated as an outage.
		state:          State{IsOnline: true},
		indicatorDelay: indicatorDelay,
		listeners:      make(map[int]Listener),
	}
}

// CurrentState returns a snapshot of the derived state.
func (m *Monitor) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsOnline reports the current online flag.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsOnline
}

// Subscribe registers a listener invoked on every state change. The
// returned function removes it and is safe to call more than once.
func (m *Monitor) Subscribe(l Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Update recomputes the state from a new network sample. The offline
// indicator is raised immediately on the online→offline edge; on the
// offline→online edge it is cleared only after the indicator delay, and a
// new offline edge in between cancels the pending clear.
func (m *Monitor) Update(s Sample) {
	m.mu.Lock()

	online := ComputeOnline(s)
	prev := m.state.IsOnline
	m.state.IsOnline = online

	switch {
	case prev && !online:
		// Offline edge: show the indicator right away and cancel any
		// pending clear from a previous reconnect.
		m.state.ShowOfflineIndicator = true
		m.stopClearTimerLocked()
		logger.Log.Info("Connectivity lost")
	case !prev && online:
		m.stopClearTimerLocked()
		m.clearTimer = time.AfterFunc(m.indicatorDelay, m.clearIndicator)
		logger.Log.Info("Connectivity restored",
			zap.Duration("indicator_delay", m.indicatorDelay))
	}

	m.notifyLocked()
}

// SetFeedConnected records whether the change feed subscription is live.
// Written only by the feed sync.
func (m *Monitor) SetFeedConnected(connected bool) {
	m.mu.Lock()
	if m.state.IsFeedConnected == connected {
		m.mu.Unlock()
		return
	}
	m.state.IsFeedConnected = connected
	m.notifyLocked()
}

// Close cancels any pending indicator timer.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopClearTimerLocked()
}

func (m *Monitor) clearIndicator() {
	m.mu.Lock()
	if !m.state.IsOnline || !m.state.ShowOfflineIndicator {
		m.mu.Unlock()
		return
	}
	m.state.ShowOfflineIndicator = false
	m.notifyLocked()
}

func (m *Monitor) stopClearTimerLocked() {
	if m.clearTimer != nil {
		m.clearTimer.Stop()
		m.clearTimer = nil
	}
}

// notifyLocked snapshots state and listeners, releases the lock, then
// invokes the listeners. Callers must hold m.mu; it is unlocked on return.
func (m *Monitor) notifyLocked() {
	state := m.state
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}
