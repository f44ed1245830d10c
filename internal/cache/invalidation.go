// Package cache maps remote table changes to the query-cache keys that must
// be invalidated. The cache store itself lives outside this service; it is
// reached only through the Invalidator interface.
package cache

import (
	"sort"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/config"
)

// Invalidator is the external cache-store collaborator. Invalidating a key
// marks everything cached under that key prefix stale.
type Invalidator interface {
	Invalidate(key string)
}

// InvalidationMap is an immutable mapping from table name to the query-key
// prefixes cached from that table. Built once at startup, read-only after.
type InvalidationMap struct {
	keys   map[string][]string
	tables []string
}

// NewInvalidationMap builds the map from the configured sync tables. Tables
// with no explicit query keys fall back to a single prefix equal to the
// table name.
func NewInvalidationMap(tables []config.TableConfig) *InvalidationMap {
	m := &InvalidationMap{keys: make(map[string][]string, len(tables))}
	for _, t := range tables {
		if t.Name == "" {
			continue
		}
		keys := t.QueryKeys
		if len(keys) == 0 {
			keys = []string{t.Name}
		}
		m.keys[t.Name] = append([]string(nil), keys...)
		m.tables = append(m.tables, t.Name)
	}
	sort.Strings(m.tables)
	return m
}

// Default returns the invalidation map for the ward schema.
func Default() *InvalidationMap {
	return NewInvalidationMap(DefaultTables())
}

// DefaultTables lists the synced ward tables and the query keys cached from
// each. Every table a client mutates must appear here: unknown tables
// invalidate nothing.
func DefaultTables() []config.TableConfig {
	return []config.TableConfig{
		{Name: "members", TimestampColumn: "updated_at", QueryKeys: []string{"members", "eligible-speakers"}},
		{Name: "talks", TimestampColumn: "updated_at", QueryKeys: []string{"talks", "upcoming-talks", "member-talk-history"}},
		{Name: "agendas", TimestampColumn: "updated_at", QueryKeys: []string{"agendas", "agenda-by-date"}},
		{Name: "actors", TimestampColumn: "updated_at", QueryKeys: []string{"actors"}},
		{Name: "topics", TimestampColumn: "updated_at", QueryKeys: []string{"topics"}},
		{Name: "hymns", QueryKeys: []string{"hymns"}},
		{Name: "wards", QueryKeys: []string{"wards", "ward-settings"}},
		{Name: "profiles", QueryKeys: []string{"profiles", "ward-users"}},
	}
}

// QueryKeysForTable returns the cached query keys for a table. Unknown
// tables (including the empty string) return an empty list, never an error:
// unrecognized change events must be ignored, not crash the feed handler.
func (m *InvalidationMap) QueryKeysForTable(table string) []string {
	keys, ok := m.keys[table]
	if !ok {
		return nil
	}
	return append([]string(nil), keys...)
}

// Tables returns the synced table names in sorted order.
func (m *InvalidationMap) Tables() []string {
	return append([]string(nil), m.tables...)
}

// InvalidateTable invalidates every key cached from one table.
func (m *InvalidationMap) InvalidateTable(inv Invalidator, table string) {
	for _, key := range m.keys[table] {
		inv.Invalidate(key)
	}
}

// InvalidateAll invalidates every key of every synced table. Used by the
// polling fallback and after a reconnect, when per-table information is not
// available.
func (m *InvalidationMap) InvalidateAll(inv Invalidator) {
	for _, table := range m.tables {
		m.InvalidateTable(inv, table)
	}
}
