package sync

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/cache"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/config"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/connectivity"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/logger"
)

// FeedState names the sync state machine's states.
type FeedState string

const (
	// FeedStateIdle: no ward selected, or offline. No subscription, no polling.
	FeedStateIdle FeedState = "idle"
	// FeedStateSubscribed: live feed, per-event invalidation.
	FeedStateSubscribed FeedState = "subscribed"
	// FeedStateDisconnected: feed lost while online; coarse polling fallback
	// invalidates every synced table each tick until the feed returns.
	FeedStateDisconnected FeedState = "disconnected"
)

// FeedSync keeps the local cache coherent with the remote store. While the
// change feed is up it invalidates only the query keys of the table each
// event names; when the feed drops it falls back to invalidating everything
// on a fixed interval, which is coarse but cannot miss a change. Transport
// failures never escape this type: they only drive the state machine.
type FeedSync struct {
	feed         Feed
	invMap       *cache.InvalidationMap
	inv          cache.Invalidator
	monitor      *connectivity.Monitor
	pollInterval time.Duration

	mu       sync.Mutex
	state    FeedState
	wardID   string
	sub      Subscription
	gen      int
	pollStop chan struct{}
	unsub    func()
}

func NewFeedSync(feed Feed, invMap *cache.InvalidationMap, inv cache.Invalidator,
	monitor *connectivity.Monitor, pollInterval time.Duration) *FeedSync {
	if pollInterval <= 0 {
		pollInterval = config.DefaultPollInterval
	}
	return &FeedSync{
		feed:         feed,
		invMap:       invMap,
		inv:          inv,
		monitor:      monitor,
		pollInterval: pollInterval,
		state:        FeedStateIdle,
	}
}

// Start hooks the sync into connectivity changes and evaluates the initial
// state.
func (s *FeedSync) Start() {
	s.mu.Lock()
	if s.unsub == nil {
		s.unsub = s.monitor.Subscribe(func(connectivity.State) {
			s.evaluate()
		})
	}
	s.mu.Unlock()
	s.evaluate()
}

// SetWard changes the tenant scope. An empty id (sign-out) drops the feed.
func (s *FeedSync) SetWard(wardID string) {
	s.mu.Lock()
	if s.wardID == wardID {
		s.mu.Unlock()
		return
	}
	s.wardID = wardID
	s.mu.Unlock()

	s.toIdle()
	s.evaluate()
}

// Stop closes the subscription and timers. Safe to call more than once.
func (s *FeedSync) Stop() {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	s.toIdle()
}

// State returns the current machine state.
func (s *FeedSync) State() FeedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *FeedSync) evaluate() {
	s.mu.Lock()
	ward := s.wardID
	state := s.state
	s.mu.Unlock()

	if ward == "" || !s.monitor.IsOnline() {
		s.toIdle()
		return
	}
	if state == FeedStateIdle {
		s.subscribe()
	}
}

// subscribe opens a new feed subscription, dropping any previous one. The
// SUBSCRIBED transition happens only when the subscription reports it is
// live.
func (s *FeedSync) subscribe() {
	s.mu.Lock()
	if s.state == FeedStateSubscribed {
		s.mu.Unlock()
		return
	}
	ward := s.wardID
	if ward == "" {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	old := s.sub
	s.sub = nil
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	sub, err := s.feed.Subscribe(ward)
	if err != nil {
		logger.Log.Warn("Change feed subscribe failed", zap.Error(err))
		s.toDisconnected(gen)
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		sub.Close()
		return
	}
	s.sub = sub
	s.mu.Unlock()

	go s.consume(gen, sub)
}

func (s *FeedSync) consume(gen int, sub Subscription) {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			s.handleEvent(gen, ev)
		case st, ok := <-sub.Status():
			if !ok {
				return
			}
			switch st {
			case FeedStatusSubscribed:
				s.onSubscribed(gen)
			case FeedStatusError, FeedStatusClosed:
				s.toDisconnected(gen)
				return
			}
		}
	}
}

func (s *FeedSync) handleEvent(gen int, ev ChangeEvent) {
	s.mu.Lock()
	live := gen == s.gen && s.state == FeedStateSubscribed
	s.mu.Unlock()
	if !live {
		return
	}

	logger.Log.Debug("Change event", zap.String("table", ev.Table))
	s.invMap.InvalidateTable(s.inv, ev.Table)
}

func (s *FeedSync) onSubscribed(gen int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.stopPollerLocked()
	s.state = FeedStateSubscribed
	s.mu.Unlock()

	s.monitor.SetFeedConnected(true)

	// Anything could have changed while the feed was down; refresh it all
	// once, then per-event invalidation takes over.
	logger.Log.Info("Change feed connected, refreshing all tables")
	s.invMap.InvalidateAll(s.inv)
}

func (s *FeedSync) toDisconnected(gen int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = FeedStateDisconnected
	s.startPollerLocked()
	s.mu.Unlock()

	s.monitor.SetFeedConnected(false)
	logger.Log.Warn("Change feed disconnected, polling fallback active",
		zap.Duration("interval", s.pollInterval))
}

func (s *FeedSync) toIdle() {
	s.mu.Lock()
	s.gen++
	old := s.sub
	s.sub = nil
	s.stopPollerLocked()
	changed := s.state != FeedStateIdle
	s.state = FeedStateIdle
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if changed {
		s.monitor.SetFeedConnected(false)
		logger.Log.Info("Change feed idle")
	}
}

func (s *FeedSync) startPollerLocked() {
	if s.pollStop != nil {
		return
	}
	stop := make(chan struct{})
	s.pollStop = stop
	go s.pollLoop(stop)
}

// stopPollerLocked is idempotent: rapid connectivity flapping may request
// it several times.
func (s *FeedSync) stopPollerLocked() {
	if s.pollStop != nil {
		close(s.pollStop)
		s.pollStop = nil
	}
}

func (s *FeedSync) pollLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Without the feed there is no way to know what changed, so
			// assume everything did.
			s.invMap.InvalidateAll(s.inv)
			s.retrySubscribe()
		}
	}
}

func (s *FeedSync) retrySubscribe() {
	s.mu.Lock()
	retry := s.state == FeedStateDisconnected && s.wardID != ""
	s.mu.Unlock()

	if retry && s.monitor.IsOnline() {
		s.subscribe()
	}
}
