package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/cache"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/config"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/connectivity"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/logger"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/queue"
)

// Drainer replays the offline mutation queue when connectivity returns. It
// triggers strictly on the offline→online edge: an app that starts online
// with entries left over from a previous run waits for an explicit drain or
// the next reconnect.
//
// Replay is serialized: each remote call finishes before the next entry is
// taken, so replay order matches enqueue order. A failing entry is retried
// up to the queue's retry limit, moving to the back between attempts so it
// never blocks the entries behind it; past the limit it is dropped and
// counted.
type Drainer struct {
	queue    *queue.Queue
	backend  Backend
	invMap   *cache.InvalidationMap
	inv      cache.Invalidator
	monitor  *connectivity.Monitor
	tables   map[string]config.TableConfig
	resolver *LastWriteWins

	mu         sync.Mutex
	draining   bool
	sawOffline bool
	unsub      func()

	dropped atomic.Int64
}

func NewDrainer(q *queue.Queue, backend Backend, invMap *cache.InvalidationMap,
	inv cache.Invalidator, monitor *connectivity.Monitor, tables []config.TableConfig) *Drainer {
	return &Drainer{
		queue:    q,
		backend:  backend,
		invMap:   invMap,
		inv:      inv,
		monitor:  monitor,
		tables:   tableIndex(tables),
		resolver: NewLastWriteWins(backend),
	}
}

// Start begins watching for the reconnect edge.
func (d *Drainer) Start() {
	d.mu.Lock()
	if d.unsub == nil {
		d.unsub = d.monitor.Subscribe(d.onState)
	}
	d.mu.Unlock()
}

// Stop detaches from the connectivity monitor. An in-flight drain finishes
// on its own.
func (d *Drainer) Stop() {
	d.mu.Lock()
	unsub := d.unsub
	d.unsub = nil
	d.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// DroppedCount reports how many queued writes were discarded after
// exhausting their retries. Surfaced through diagnostics so the UI can show
// a "changes could not be synced" notice.
func (d *Drainer) DroppedCount() int64 {
	return d.dropped.Load()
}

func (d *Drainer) onState(st connectivity.State) {
	if !st.IsOnline {
		d.mu.Lock()
		d.sawOffline = true
		d.mu.Unlock()
		return
	}
	d.tryDrain()
}

// tryDrain starts a background drain when a reconnect edge is pending:
// online now, an offline period was observed in this process lifetime, and
// no drain is already running.
func (d *Drainer) tryDrain() {
	d.mu.Lock()
	if !d.sawOffline || d.draining || !d.monitor.IsOnline() {
		d.mu.Unlock()
		return
	}
	d.sawOffline = false
	d.draining = true
	d.mu.Unlock()

	go func() {
		defer d.finish()
		d.drain(context.Background())
	}()
}

// Drain replays the queue immediately. Exposed for diagnostics; the normal
// trigger is the reconnect edge. Returns without work if a drain is already
// running.
func (d *Drainer) Drain(ctx context.Context) {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	d.mu.Unlock()

	defer d.finish()
	d.drain(ctx)
}

func (d *Drainer) finish() {
	d.mu.Lock()
	d.draining = false
	d.mu.Unlock()

	// A reconnect edge that arrived while this drain was running set
	// sawOffline again; anything queued during that window is pending.
	d.tryDrain()
}

func (d *Drainer) drain(ctx context.Context) {
	size, err := d.queue.Size(ctx)
	if err != nil {
		logger.Log.Error("Failed to read queue size", zap.Error(err))
		return
	}
	if size == 0 {
		return
	}

	logger.Log.Info("Draining offline queue", zap.Int("pending", size))

	// Visit at most the entries present when the drain started; requeued
	// failures come around again on a later drain, not in a tight loop.
	for i := 0; i < size; i++ {
		if ctx.Err() != nil {
			return
		}

		m, err := d.queue.PeekFront(ctx)
		if err != nil {
			logger.Log.Error("Failed to peek queue", zap.Error(err))
			return
		}
		if m == nil {
			break
		}

		if err := d.replay(ctx, *m); err != nil {
			d.handleFailure(ctx, *m, err)
			continue
		}

		if _, err := d.queue.DequeueFront(ctx); err != nil {
			logger.Log.Error("Failed to dequeue replayed mutation", zap.Error(err))
			return
		}
	}

	// The replayed writes and anything else that changed server-side while
	// offline all become visible at once.
	logger.Log.Info("Offline queue drained, refreshing all tables")
	d.invMap.InvalidateAll(d.inv)
}

func (d *Drainer) replay(ctx context.Context, m queue.Mutation) error {
	tc := d.tables[m.Table]
	if tc.Name == "" {
		tc = config.TableConfig{Name: m.Table}
	}

	if tb, ok := d.backend.(TxBackend); ok {
		if done, err := replayTx(ctx, tb, tc, m); done {
			return err
		}
	}

	apply, err := d.resolver.ShouldApply(ctx, tc, m)
	if err != nil {
		return err
	}
	if !apply {
		// The server row is newer; last write wins and it is not ours.
		return nil
	}

	return dispatch(ctx, d.backend, tc, m)
}

// replayTx applies a timestamp-guarded UPDATE through the backend's
// transactional path. The done result reports whether it handled the
// mutation; mutations outside its shape fall through to the plain path.
func replayTx(ctx context.Context, tb TxBackend, tc config.TableConfig, m queue.Mutation) (bool, error) {
	if m.Op != queue.OpUpdate || tc.TimestampColumn == "" {
		return false, nil
	}
	local, ok := parseTimestamp(m.Data[tc.TimestampColumn])
	if !ok {
		return false, nil
	}

	pk := tc.GetPrimaryKey()
	id, ok := m.Data[pk]
	if !ok {
		return true, fmt.Errorf("update on %s is missing %q", m.Table, pk)
	}
	fields := make(map[string]interface{}, len(m.Data)-1)
	for k, v := range m.Data {
		if k != pk {
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return true, fmt.Errorf("update on %s has no fields", m.Table)
	}

	applied, err := tb.UpdateLatest(ctx, m.Table, pk, id, tc.TimestampColumn, local, fields)
	if err != nil {
		return true, err
	}
	if !applied {
		logger.Log.Info("Skipping stale queued update",
			zap.String("table", m.Table),
			zap.Any("id", id),
			zap.Time("local", local),
		)
	}
	return true, nil
}

func (d *Drainer) handleFailure(ctx context.Context, m queue.Mutation, cause error) {
	logger.Log.Warn("Failed to replay queued mutation",
		zap.String("id", m.ID),
		zap.String("table", m.Table),
		zap.String("operation", string(m.Op)),
		zap.Int("retryCount", m.RetryCount),
		zap.Error(cause),
	)

	retained, err := d.queue.IncrementFrontRetry(ctx)
	if err != nil {
		logger.Log.Error("Failed to update retry counter", zap.Error(err))
		return
	}
	if !retained {
		d.dropped.Add(1)
		logger.Log.Warn("Dropped queued mutation after max retries",
			zap.String("id", m.ID),
			zap.String("table", m.Table),
		)
		return
	}
	if err := d.queue.RequeueFront(ctx); err != nil {
		logger.Log.Error("Failed to requeue mutation", zap.Error(err))
	}
}
