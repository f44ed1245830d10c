package sync

import (
	"fmt"
	"sync"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"go.uber.org/zap"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/config"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/logger"
)

// BinlogFeed delivers row changes by tailing the backend's binlog,
// restricted to the synced tables and filtered to one ward.
type BinlogFeed struct {
	cfg        config.DatabaseConnection
	tables     map[string]bool
	tableRegex []string
	wardColumn string
	serverID   uint32
	buffer     int
}

func NewBinlogFeed(cfg config.DatabaseConnection, syncCfg config.SyncConfig) *BinlogFeed {
	tableMap := make(map[string]bool)
	var tableRegex []string
	for _, t := range syncCfg.Tables {
		tableMap[t.Name] = true
		tableRegex = append(tableRegex, fmt.Sprintf("^%s\\.%s$", cfg.Database, t.Name))
	}

	serverID := syncCfg.FeedServerID
	if serverID == 0 {
		serverID = 100
	}

	return &BinlogFeed{
		cfg:        cfg,
		tables:     tableMap,
		tableRegex: tableRegex,
		wardColumn: syncCfg.GetWardColumn(),
		serverID:   serverID,
		buffer:     syncCfg.GetFeedBuffer(),
	}
}

// Subscribe opens a binlog subscription for one ward. The replication
// stream starts in the background; the subscription reports readiness and
// failures on its status channel.
func (f *BinlogFeed) Subscribe(wardID string) (Subscription, error) {
	c, err := canal.NewCanal(&canal.Config{
		Addr:     fmt.Sprintf("%s:%d", f.cfg.Host, f.cfg.Port),
		User:     f.cfg.ReplicationUser,
		Password: f.cfg.ReplicationPassword,
		Flavor:   "mysql",
		ServerID: f.serverID,
		Dump: canal.DumpConfig{
			ExecutionPath: "", // tail the binlog only, no initial dump
		},
		IncludeTableRegex: f.tableRegex,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open change feed: %w", err)
	}

	sub := &binlogSubscription{
		canal:      c,
		wardID:     wardID,
		wardColumn: f.wardColumn,
		tables:     f.tables,
		events:     make(chan ChangeEvent, f.buffer),
		status:     make(chan FeedStatus, 4),
		done:       make(chan struct{}),
	}
	c.SetEventHandler(&binlogEventHandler{sub: sub})

	go sub.run()
	return sub, nil
}

type binlogSubscription struct {
	canal      *canal.Canal
	wardID     string
	wardColumn string
	tables     map[string]bool

	events chan ChangeEvent
	status chan FeedStatus
	done   chan struct{}

	closeOnce     sync.Once
	subscribeOnce sync.Once
}

func (s *binlogSubscription) run() {
	err := s.canal.Run()

	select {
	case <-s.done:
		// Deliberate Close; not a transport failure.
		s.post(FeedStatusClosed)
	default:
		if err != nil {
			logger.Log.Warn("Change feed terminated", zap.Error(err))
			s.post(FeedStatusError)
		} else {
			s.post(FeedStatusClosed)
		}
	}
	close(s.status)
}

func (s *binlogSubscription) Events() <-chan ChangeEvent { return s.events }
func (s *binlogSubscription) Status() <-chan FeedStatus  { return s.status }

func (s *binlogSubscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.canal.Close()
	})
}

func (s *binlogSubscription) post(st FeedStatus) {
	select {
	case s.status <- st:
	default:
	}
}

func (s *binlogSubscription) markSubscribed() {
	s.subscribeOnce.Do(func() {
		logger.Log.Info("Change feed subscribed", zap.String("ward", s.wardID))
		s.post(FeedStatusSubscribed)
	})
}

type binlogEventHandler struct {
	canal.DummyEventHandler
	sub *binlogSubscription
}

// OnRotate fires when the replication stream attaches to a binlog file,
// which is the first signal the subscription is actually live.
func (h *binlogEventHandler) OnRotate(*replication.EventHeader, *replication.RotateEvent) error {
	h.sub.markSubscribed()
	return nil
}

func (h *binlogEventHandler) OnPosSynced(*replication.EventHeader, mysql.Position, mysql.GTIDSet, bool) error {
	h.sub.markSubscribed()
	return nil
}

func (h *binlogEventHandler) OnRow(e *canal.RowsEvent) error {
	sub := h.sub

	if !sub.tables[e.Table.Name] {
		return nil
	}
	if !rowsMatchWard(e, sub.wardColumn, sub.wardID) {
		return nil
	}

	ev := ChangeEvent{Table: e.Table.Name, WardID: sub.wardID}
	select {
	case sub.events <- ev:
	case <-sub.done:
	}
	return nil
}

func (h *binlogEventHandler) String() string {
	return "ChangeFeedHandler"
}

// rowsMatchWard reports whether any row in the event belongs to the
// subscribed ward. Tables without the ward column (shared reference data
// such as hymns) always match.
func rowsMatchWard(e *canal.RowsEvent, wardColumn, wardID string) bool {
	idx := -1
	for i, col := range e.Table.Columns {
		if col.Name == wardColumn {
			idx = i
			break
		}
	}
	if idx < 0 {
		return true
	}

	for _, row := range e.Rows {
		if idx >= len(row) {
			continue
		}
		if fmt.Sprintf("%v", row[idx]) == wardID {
			return true
		}
	}
	return false
}
