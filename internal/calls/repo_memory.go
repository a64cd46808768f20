package calls

import (
	"context"
	"sync"
)

// MemoryLogStore is an in-memory call log for tests. It mirrors the
// Postgres upsert semantics: one row per call id, and counts writes so
// tests can assert exactly-once persistence.
type MemoryLogStore struct {
	mu     sync.Mutex
	rows   map[string]Record
	writes int

	// FailNext makes the next write fail, for flush-failure tests.
	FailNext error
}

func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{rows: map[string]Record{}}
}

func (m *MemoryLogStore) UpsertCompleted(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return err
	}
	// Mirror the Postgres conflict clause: a replayed terminal event carrying
	// the sentinel owner or a zero duration must not degrade the stored row,
	// and the original started_at, direction and counterpart stay put.
	if prev, ok := m.rows[rec.ID]; ok {
		if rec.OwnerEmail == OwnerUnknown {
			rec.OwnerEmail = prev.OwnerEmail
		}
		if rec.DurationSeconds == 0 {
			rec.DurationSeconds = prev.DurationSeconds
		}
		rec.StartedAt = prev.StartedAt
		rec.Direction = prev.Direction
		rec.CounterpartNumber = prev.CounterpartNumber
	}
	m.rows[rec.ID] = rec
	m.writes++
	return nil
}

func (m *MemoryLogStore) Row(id string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	return rec, ok
}

func (m *MemoryLogStore) RowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *MemoryLogStore) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
