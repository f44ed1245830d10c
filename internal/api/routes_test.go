package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/cache"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/config"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/connectivity"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/queue"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/store"
	syncpkg "github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/sync"
)

type stubFeed struct{}

func (stubFeed) Subscribe(string) (syncpkg.Subscription, error) {
	return nil, context.Canceled
}

type stubBackend struct{}

func (stubBackend) Insert(context.Context, string, map[string]interface{}) error { return nil }
func (stubBackend) Update(context.Context, string, string, interface{}, map[string]interface{}) error {
	return nil
}
func (stubBackend) Delete(context.Context, string, string, interface{}) error { return nil }
func (stubBackend) RowTimestamp(context.Context, string, string, interface{}, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(string) {}

func boolPtr(b bool) *bool { return &b }

func newTestHandler(t *testing.T, token string) (*Handler, *queue.Queue, *connectivity.Monitor) {
	t.Helper()
	tables := []config.TableConfig{{Name: "members"}}
	q := queue.New(store.NewMemoryKV(), "queue", 0, 0)
	monitor := connectivity.NewMonitor(time.Hour)
	t.Cleanup(monitor.Close)
	invMap := cache.NewInvalidationMap(tables)
	fs := syncpkg.NewFeedSync(stubFeed{}, invMap, noopInvalidator{}, monitor, time.Hour)
	d := syncpkg.NewDrainer(q, stubBackend{}, invMap, noopInvalidator{}, monitor, tables)
	w := syncpkg.NewWriter(stubBackend{}, q, monitor, invMap, noopInvalidator{}, tables)
	return NewHandler(fs, d, w, q, monitor, token), q, monitor
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func TestHealthCheck(t *testing.T) {
	h, _, _ := newTestHandler(t, "")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	h, _, _ := newTestHandler(t, "secret")
	router := h.Routes()

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"valid token", "Bearer secret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/queue", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	h, _, _ := newTestHandler(t, "")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/queue", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGetQueueStats(t *testing.T) {
	h, q, _ := newTestHandler(t, "")
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		m := queue.Mutation{Table: "members", Op: queue.OpInsert, Data: map[string]interface{}{"id": id}}
		if err := q.Enqueue(ctx, m); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/queue", nil))

	var body struct {
		Size    int   `json:"size"`
		Dropped int64 `json:"dropped"`
	}
	decodeJSON(t, rec, &body)
	if body.Size != 2 {
		t.Errorf("size = %d, want 2", body.Size)
	}
	if body.Dropped != 0 {
		t.Errorf("dropped = %d, want 0", body.Dropped)
	}
}

func TestClearQueue(t *testing.T) {
	h, q, _ := newTestHandler(t, "")
	ctx := context.Background()
	m := queue.Mutation{Table: "members", Op: queue.OpInsert, Data: map[string]interface{}{"id": "a"}}
	if err := q.Enqueue(ctx, m); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/queue/clear", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if n, _ := q.Size(ctx); n != 0 {
		t.Errorf("queue size = %d after clear", n)
	}
}

type slowBackend struct {
	stubBackend
	delay time.Duration
}

func (b slowBackend) Insert(ctx context.Context, table string, record map[string]interface{}) error {
	time.Sleep(b.delay)
	return b.stubBackend.Insert(ctx, table, record)
}

// The replay must keep going after the triggering request's context is
// canceled; only the HTTP exchange is request-scoped, not the drain.
func TestTriggerDrainOutlivesRequest(t *testing.T) {
	tables := []config.TableConfig{{Name: "members"}}
	q := queue.New(store.NewMemoryKV(), "queue", 0, 0)
	monitor := connectivity.NewMonitor(time.Hour)
	t.Cleanup(monitor.Close)
	invMap := cache.NewInvalidationMap(tables)
	fs := syncpkg.NewFeedSync(stubFeed{}, invMap, noopInvalidator{}, monitor, time.Hour)
	backend := slowBackend{delay: 20 * time.Millisecond}
	d := syncpkg.NewDrainer(q, backend, invMap, noopInvalidator{}, monitor, tables)
	w := syncpkg.NewWriter(backend, q, monitor, invMap, noopInvalidator{}, tables)
	h := NewHandler(fs, d, w, q, monitor, "")

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m := queue.Mutation{Table: "members", Op: queue.OpInsert, Data: map[string]interface{}{"id": i}}
		if err := q.Enqueue(ctx, m); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	reqCtx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("POST", "/api/v1/sync/drain", nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	cancel() // what net/http does as soon as the handler returns

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := q.Size(ctx); n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	n, _ := q.Size(ctx)
	t.Fatalf("%d entries still queued after drain", n)
}

func TestGetSyncStatus(t *testing.T) {
	h, _, _ := newTestHandler(t, "")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/sync/status", nil))

	var body struct {
		State string `json:"state"`
	}
	decodeJSON(t, rec, &body)
	if body.State != string(syncpkg.FeedStateIdle) {
		t.Errorf("state = %q, want idle", body.State)
	}
}

func TestGetConnectivity(t *testing.T) {
	h, _, _ := newTestHandler(t, "")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/connectivity", nil))

	var body struct {
		IsOnline             bool `json:"isOnline"`
		IsFeedConnected      bool `json:"isFeedConnected"`
		ShowOfflineIndicator bool `json:"showOfflineIndicator"`
	}
	decodeJSON(t, rec, &body)
	if !body.IsOnline {
		t.Error("expected online at startup")
	}
	if body.IsFeedConnected || body.ShowOfflineIndicator {
		t.Errorf("unexpected flags: %+v", body)
	}
}

func postMutation(t *testing.T, h *Handler, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/mutations", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestApplyMutationOnline(t *testing.T) {
	h, q, _ := newTestHandler(t, "")
	rec := postMutation(t, h, `{"operation":"create-member","table":"members","type":"INSERT","data":{"id":"a"}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if n, _ := q.Size(context.Background()); n != 0 {
		t.Errorf("queue size = %d, online write must not queue", n)
	}
}

func TestApplyMutationOfflineQueues(t *testing.T) {
	h, q, monitor := newTestHandler(t, "")
	monitor.Update(connectivity.Sample{Connected: boolPtr(false)})

	rec := postMutation(t, h, `{"operation":"create-member","table":"members","type":"INSERT","data":{"id":"a"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if n, _ := q.Size(context.Background()); n != 1 {
		t.Errorf("queue size = %d, want 1", n)
	}
}

func TestApplyMutationOnlineOnlyOffline(t *testing.T) {
	h, q, monitor := newTestHandler(t, "")
	monitor.Update(connectivity.Sample{Connected: boolPtr(false)})

	rec := postMutation(t, h, `{"operation":"delete-user","table":"profiles","type":"DELETE","data":{"id":"u1"}}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if n, _ := q.Size(context.Background()); n != 0 {
		t.Errorf("queue size = %d, rejected operation must not enqueue", n)
	}
}

func TestApplyMutationRejectsBadRequest(t *testing.T) {
	h, _, _ := newTestHandler(t, "")

	for _, payload := range []string{
		`not json`,
		`{"table":"","type":"INSERT"}`,
		`{"table":"members","type":"TRUNCATE"}`,
	} {
		rec := postMutation(t, h, payload)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("payload %q: status = %d, want 400", payload, rec.Code)
		}
	}
}

func TestCorsPreflight(t *testing.T) {
	h, _, _ := newTestHandler(t, "secret")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/api/v1/queue", nil))

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q", got)
	}
}
