// Package store provides the persistence collaborators consumed by the
// ingest pattern: a MongoDB-backed store for production, an in-memory store
// for tests and store-less deployments, and the AES-GCM field encryptor.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	albon "github.com/coolguy916/Monitor-Framework-ALBON"
)

// MemoryStore is a map-backed Store implementation with equality-match
// filters. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]albon.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string][]albon.Record)}
}

func (m *MemoryStore) Insert(_ context.Context, table string, record albon.Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := make(albon.Record, len(record)+1)
	for k, v := range record {
		row[k] = v
	}

	id := uuid.NewString()
	row["_id"] = id
	m.tables[table] = append(m.tables[table], row)
	return id, nil
}

func (m *MemoryStore) Query(_ context.Context, table string, filter albon.Record, opts albon.QueryOptions) ([]albon.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []albon.Record
	for _, row := range m.tables[table] {
		if matches(row, filter) {
			out = append(out, copyRecord(row))
		}
	}

	if opts.SortField != "" {
		sort.SliceStable(out, func(i, j int) bool {
			less := compareValues(out[i][opts.SortField], out[j][opts.SortField])
			if opts.SortDescending {
				return !less
			}
			return less
		})
	}

	if opts.Skip > 0 {
		if opts.Skip >= int64(len(out)) {
			return nil, nil
		}
		out = out[opts.Skip:]
	}
	if opts.Limit > 0 && int64(len(out)) > opts.Limit {
		out = out[:opts.Limit]
	}

	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, table string, filter albon.Record, record albon.Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, row := range m.tables[table] {
		if matches(row, filter) {
			for k, v := range record {
				row[k] = v
			}
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) Delete(_ context.Context, table string, filter albon.Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.tables[table]
	kept := rows[:0]
	var count int64
	for _, row := range rows {
		if matches(row, filter) {
			count++
			continue
		}
		kept = append(kept, row)
	}
	m.tables[table] = kept
	return count, nil
}

// Count returns the number of rows in a table. Test helper.
func (m *MemoryStore) Count(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[table])
}

func matches(row, filter albon.Record) bool {
	for k, want := range filter {
		if row[k] != want {
			return false
		}
	}
	return true
}

func copyRecord(row albon.Record) albon.Record {
	out := make(albon.Record, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func compareValues(a, b any) bool {
	switch av := a.(type) {
	case int:
		if bv, ok := b.(int); ok {
			return av < bv
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return av < bv
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	}
	return false
}
