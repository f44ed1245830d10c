package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/cache"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/config"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/connectivity"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/guard"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/logger"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/queue"
)

// Writer is the application's mutation entry point. While online a write
// goes straight to the backend and invalidates the table's cached queries
// on success. While offline it is queued for replay, unless the named
// operation is online-only, in which case it fails fast with a
// requires-connection error before any queueing.
type Writer struct {
	backend Backend
	queue   *queue.Queue
	monitor *connectivity.Monitor
	invMap  *cache.InvalidationMap
	inv     cache.Invalidator
	tables  map[string]config.TableConfig
}

func NewWriter(backend Backend, q *queue.Queue, monitor *connectivity.Monitor,
	invMap *cache.InvalidationMap, inv cache.Invalidator, tables []config.TableConfig) *Writer {
	return &Writer{
		backend: backend,
		queue:   q,
		monitor: monitor,
		invMap:  invMap,
		inv:     inv,
		tables:  tableIndex(tables),
	}
}

// Apply performs the mutation under the named application operation.
// Callers surface the two typed failures: guard.RequiresConnectionError
// and queue.ErrQueueFull.
func (w *Writer) Apply(ctx context.Context, operation string, m queue.Mutation) error {
	isOnline := w.monitor.IsOnline()

	if err := guard.AssertOnline(operation, isOnline); err != nil {
		return err
	}

	if !isOnline {
		if err := w.queue.Enqueue(ctx, m); err != nil {
			return err
		}
		logger.Log.Info("Queued offline mutation",
			zap.String("operation", operation),
			zap.String("table", m.Table),
			zap.String("type", string(m.Op)),
		)
		return nil
	}

	tc := w.tables[m.Table]
	if tc.Name == "" {
		tc = config.TableConfig{Name: m.Table}
	}
	if err := dispatch(ctx, w.backend, tc, m); err != nil {
		return err
	}

	w.invMap.InvalidateTable(w.inv, m.Table)
	return nil
}
