// Package backendtest provides an in-memory backend for tests.
package backendtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"groundzero-sync-service/internal/backend"
)

// Call is one recorded backend call.
type Call struct {
	Op    string
	Table string
	ID    string
}

// Memory is a CloudBackend holding tables in maps. Fail, when set, is asked
// before every call and its error is returned instead of running it.
type Memory struct {
	mu     sync.Mutex
	tables map[string]map[string]backend.Record
	calls  []Call

	Fail func(op, table string) error
}

var _ backend.CloudBackend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{tables: make(map[string]map[string]backend.Record)}
}

// Put stores rec directly, bypassing Fail and the call log.
func (m *Memory) Put(table string, rec backend.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, _ := rec.ID()
	m.table(table)[id] = rec.Clone()
}

// Row returns a copy of the stored record.
func (m *Memory) Row(table, id string) (backend.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tables[table][id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Len is the number of rows in table.
func (m *Memory) Len(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

func (m *Memory) Fetch(_ context.Context, table string, opts backend.QueryOptions) ([]backend.Record, error) {
	if err := m.begin("fetch", table, ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.tables[table]))
	for id := range m.tables[table] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := []backend.Record{}
	for _, id := range ids {
		rec := m.tables[table][id]
		if matches(rec, opts.Filters) {
			out = append(out, rec.Clone())
		}
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, table, id string) (backend.Record, error) {
	if err := m.begin("get", table, id); err != nil {
		return nil, err
	}
	rec, ok := m.Row(table, id)
	if !ok {
		return nil, backend.ErrNotFound
	}
	return rec, nil
}

// Insert leaves an existing row alone, like the cloud's idempotent insert.
func (m *Memory) Insert(_ context.Context, table string, rec backend.Record) error {
	id, _ := rec.ID()
	if err := m.begin("insert", table, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == "" {
		id = fmt.Sprintf("row-%d", len(m.table(table))+1)
		rec = rec.Clone()
		rec["id"] = id
	}
	if _, exists := m.table(table)[id]; !exists {
		m.table(table)[id] = rec.Clone()
	}
	return nil
}

func (m *Memory) Update(_ context.Context, table, id string, patch backend.Record) error {
	if err := m.begin("update", table, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.table(table)[id]
	if !ok {
		return nil
	}
	for k, v := range patch {
		if k != "id" {
			rec[k] = v
		}
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, table, id string) error {
	if err := m.begin("delete", table, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.table(table), id)
	return nil
}

func (m *Memory) begin(op, table, id string) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: op, Table: table, ID: id})
	fail := m.Fail
	m.mu.Unlock()

	if fail != nil {
		return fail(op, table)
	}
	return nil
}

func (m *Memory) table(name string) map[string]backend.Record {
	t, ok := m.tables[name]
	if !ok {
		t = make(map[string]backend.Record)
		m.tables[name] = t
	}
	return t
}

func matches(rec backend.Record, filters map[string]any) bool {
	for k, v := range filters {
		if fmt.Sprint(rec[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}
