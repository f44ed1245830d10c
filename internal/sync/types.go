package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/config"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/queue"
)

// ChangeEvent is one remote-row change delivered by the change feed. The
// core only interprets the table and the ward scope; row payloads stay with
// the transport.
type ChangeEvent struct {
	Table  string
	WardID string
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("[change] %s (ward %s)", e.Table, e.WardID)
}

// FeedStatus reports the lifecycle of a feed subscription.
type FeedStatus int

const (
	FeedStatusSubscribed FeedStatus = iota
	FeedStatusError
	FeedStatusClosed
)

func (s FeedStatus) String() string {
	switch s {
	case FeedStatusSubscribed:
		return "subscribed"
	case FeedStatusError:
		return "error"
	case FeedStatusClosed:
		return "closed"
	}
	return "unknown"
}

// Feed opens change-feed subscriptions scoped to a ward.
type Feed interface {
	Subscribe(wardID string) (Subscription, error)
}

// Subscription is one live change-feed subscription. Events carries row
// changes; Status carries subscribe/error/close notifications and is closed
// when the subscription is finished. Close is idempotent.
type Subscription interface {
	Events() <-chan ChangeEvent
	Status() <-chan FeedStatus
	Close()
}

// Backend is the remote store's row-level write surface consumed by the
// write path and the drain processor.
type Backend interface {
	Insert(ctx context.Context, table string, record map[string]interface{}) error
	Update(ctx context.Context, table, pk string, id interface{}, fields map[string]interface{}) error
	Delete(ctx context.Context, table, pk string, id interface{}) error
	RowTimestamp(ctx context.Context, table, pk string, id interface{}, column string) (time.Time, bool, error)
}

// TxBackend is an optional capability of a Backend: the timestamp check
// and the update run in one transaction, so a server write cannot land
// between them. Backends without it fall back to the two-step
// read-then-write path.
type TxBackend interface {
	UpdateLatest(ctx context.Context, table, pk string, id interface{}, column string, local time.Time, fields map[string]interface{}) (bool, error)
}

// dispatch applies one mutation against the backend. UPDATE and DELETE
// require the row identifier under the table's primary key column.
func dispatch(ctx context.Context, backend Backend, tc config.TableConfig, m queue.Mutation) error {
	pk := tc.GetPrimaryKey()

	switch m.Op {
	case queue.OpInsert:
		return backend.Insert(ctx, m.Table, m.Data)

	case queue.OpUpdate:
		id, ok := m.Data[pk]
		if !ok {
			return fmt.Errorf("update on %s is missing %q", m.Table, pk)
		}
		fields := make(map[string]interface{}, len(m.Data)-1)
		for k, v := range m.Data {
			if k != pk {
				fields[k] = v
			}
		}
		if len(fields) == 0 {
			return fmt.Errorf("update on %s has no fields", m.Table)
		}
		return backend.Update(ctx, m.Table, pk, id, fields)

	case queue.OpDelete:
		id, ok := m.Data[pk]
		if !ok {
			return fmt.Errorf("delete on %s is missing %q", m.Table, pk)
		}
		return backend.Delete(ctx, m.Table, pk, id)
	}

	return fmt.Errorf("unknown operation %q", m.Op)
}

// tableIndex builds the name→config lookup used by the write and replay
// paths.
func tableIndex(tables []config.TableConfig) map[string]config.TableConfig {
	idx := make(map[string]config.TableConfig, len(tables))
	for _, t := range tables {
		idx[t.Name] = t
	}
	return idx
}
