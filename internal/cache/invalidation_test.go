package cache

import (
	"reflect"
	"sync"
	"testing"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/config"
)

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

func TestQueryKeysForTable(t *testing.T) {
	m := Default()

	// Every synced table resolves to at least one key.
	for _, table := range m.Tables() {
		if len(m.QueryKeysForTable(table)) == 0 {
			t.Errorf("no query keys for synced table %q", table)
		}
	}

	// Unknown tables and the empty string resolve to an empty list.
	if keys := m.QueryKeysForTable("no_such_table"); len(keys) != 0 {
		t.Errorf("unknown table returned %v", keys)
	}
	if keys := m.QueryKeysForTable(""); len(keys) != 0 {
		t.Errorf("empty table name returned %v", keys)
	}
}

func TestQueryKeysForTableReturnsCopy(t *testing.T) {
	m := Default()
	keys := m.QueryKeysForTable("members")
	keys[0] = "mutated"
	if m.QueryKeysForTable("members")[0] == "mutated" {
		t.Error("caller mutation leaked into the map")
	}
}

func TestQueryKeysFallBackToTableName(t *testing.T) {
	m := NewInvalidationMap([]config.TableConfig{{Name: "members"}})
	if got := m.QueryKeysForTable("members"); !reflect.DeepEqual(got, []string{"members"}) {
		t.Errorf("keys = %v, want [members]", got)
	}
}

func TestInvalidateTable(t *testing.T) {
	m := NewInvalidationMap([]config.TableConfig{
		{Name: "members", QueryKeys: []string{"members", "eligible-speakers"}},
		{Name: "talks", QueryKeys: []string{"talks"}},
	})
	inv := &recordingInvalidator{}

	m.InvalidateTable(inv, "members")
	if got := inv.seen(); !reflect.DeepEqual(got, []string{"members", "eligible-speakers"}) {
		t.Errorf("invalidated %v", got)
	}

	// Unknown table invalidates nothing.
	before := len(inv.seen())
	m.InvalidateTable(inv, "unknown")
	if len(inv.seen()) != before {
		t.Error("unknown table triggered invalidations")
	}
}

func TestInvalidateAll(t *testing.T) {
	m := NewInvalidationMap([]config.TableConfig{
		{Name: "talks", QueryKeys: []string{"talks"}},
		{Name: "members", QueryKeys: []string{"members"}},
	})
	inv := &recordingInvalidator{}

	m.InvalidateAll(inv)
	// Tables are visited in sorted order.
	if got := inv.seen(); !reflect.DeepEqual(got, []string{"members", "talks"}) {
		t.Errorf("invalidated %v", got)
	}
}
