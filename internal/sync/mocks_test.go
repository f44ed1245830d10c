package sync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/config"
)

// --- Mock Implementations ---

type recordingInvalidator struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingInvalidator) Invalidate(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

func (r *recordingInvalidator) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

type mockBackend struct {
	delay time.Duration

	mu         sync.Mutex
	calls      []string
	failRows   map[string]error
	timestamps map[string]time.Time
	rowMissing bool
	tsErr      error
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		failRows:   make(map[string]error),
		timestamps: make(map[string]time.Time),
	}
}

func (b *mockBackend) record(call string, id interface{}) error {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := fmt.Sprintf("%v", id)
	if err := b.failRows[key]; err != nil {
		return err
	}
	b.calls = append(b.calls, call)
	return nil
}

func (b *mockBackend) Insert(_ context.Context, table string, record map[string]interface{}) error {
	return b.record(fmt.Sprintf("insert:%s:%v", table, record["id"]), record["id"])
}

func (b *mockBackend) Update(_ context.Context, table, _ string, id interface{}, _ map[string]interface{}) error {
	return b.record(fmt.Sprintf("update:%s:%v", table, id), id)
}

func (b *mockBackend) Delete(_ context.Context, table, _ string, id interface{}) error {
	return b.record(fmt.Sprintf("delete:%s:%v", table, id), id)
}

func (b *mockBackend) RowTimestamp(_ context.Context, _, _ string, id interface{}, _ string) (time.Time, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tsErr != nil {
		return time.Time{}, false, b.tsErr
	}
	if b.rowMissing {
		return time.Time{}, false, nil
	}
	ts, ok := b.timestamps[fmt.Sprintf("%v", id)]
	if !ok {
		return time.Time{}, false, nil
	}
	return ts, true, nil
}

func (b *mockBackend) recorded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// txMockBackend adds the transactional update capability on top of
// mockBackend. stale makes UpdateLatest report the server row as newer.
type txMockBackend struct {
	*mockBackend
	stale bool
}

func (b *txMockBackend) UpdateLatest(_ context.Context, table, _ string, id interface{}, _ string, _ time.Time, _ map[string]interface{}) (bool, error) {
	if err := b.record(fmt.Sprintf("txupdate:%s:%v", table, id), id); err != nil {
		return false, err
	}
	return !b.stale, nil
}

type mockSubscription struct {
	events chan ChangeEvent
	status chan FeedStatus

	mu     sync.Mutex
	closed bool
}

func newMockSubscription() *mockSubscription {
	return &mockSubscription{
		events: make(chan ChangeEvent, 16),
		status: make(chan FeedStatus, 16),
	}
}

func (s *mockSubscription) Events() <-chan ChangeEvent { return s.events }
func (s *mockSubscription) Status() <-chan FeedStatus  { return s.status }

func (s *mockSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *mockSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// mockFeed hands every new subscription to the test through created.
type mockFeed struct {
	created chan *mockSubscription
	err     error
	mu      sync.Mutex
	count   int
}

func newMockFeed() *mockFeed {
	return &mockFeed{created: make(chan *mockSubscription, 16)}
}

func (f *mockFeed) Subscribe(string) (Subscription, error) {
	f.mu.Lock()
	f.count++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	sub := newMockSubscription()
	f.created <- sub
	return sub, nil
}

func (f *mockFeed) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *mockFeed) next(t *testing.T) *mockSubscription {
	t.Helper()
	select {
	case sub := <-f.created:
		return sub
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription created")
		return nil
	}
}

// --- Helpers ---

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testTables() []config.TableConfig {
	return []config.TableConfig{
		{Name: "members", QueryKeys: []string{"members"}},
		{Name: "talks", TimestampColumn: "updated_at", QueryKeys: []string{"talks"}},
	}
}

func boolPtr(b bool) *bool { return &b }
