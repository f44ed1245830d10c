package sync

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/config"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/logger"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/queue"
)

// LastWriteWins decides whether a queued UPDATE may overwrite the server
// row. The queued write carries the timestamp the row had when the user
// edited it offline; if the server row has moved past that, the server
// write is newer and wins.
type LastWriteWins struct {
	backend Backend
}

func NewLastWriteWins(backend Backend) *LastWriteWins {
	return &LastWriteWins{backend: backend}
}

// ShouldApply reports whether the mutation may be applied. Tables without a
// timestamp column, rows that no longer exist, and payloads without a
// parseable timestamp all apply unconditionally: the comparison is an
// opt-in safety net, not a gate.
func (l *LastWriteWins) ShouldApply(ctx context.Context, tc config.TableConfig, m queue.Mutation) (bool, error) {
	if m.Op != queue.OpUpdate || tc.TimestampColumn == "" {
		return true, nil
	}

	local, ok := parseTimestamp(m.Data[tc.TimestampColumn])
	if !ok {
		return true, nil
	}

	pk := tc.GetPrimaryKey()
	id, ok := m.Data[pk]
	if !ok {
		return true, nil
	}

	server, exists, err := l.backend.RowTimestamp(ctx, m.Table, pk, id, tc.TimestampColumn)
	if err != nil {
		return false, err
	}
	if !exists {
		return true, nil
	}

	if server.After(local) {
		logger.Log.Info("Skipping stale queued update",
			zap.String("table", m.Table),
			zap.Any("id", id),
			zap.Time("local", local),
			zap.Time("server", server),
		)
		return false, nil
	}
	return true, nil
}

// parseTimestamp accepts the shapes a timestamp takes after a JSON round
// trip: time.Time, RFC 3339 strings, and numeric epoch seconds.
func parseTimestamp(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
	case float64:
		return time.Unix(int64(t), 0), true
	case int64:
		return time.Unix(t, 0), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return time.Unix(n, 0), true
		}
	}
	return time.Time{}, false
}
