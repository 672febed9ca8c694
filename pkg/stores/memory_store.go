package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It does not survive a restart and is
// meant for tests and dry runs.
type MemoryStore struct {
	mu       sync.RWMutex
	updated  map[string]*PartitionEntry
	failures []*Failure
	marks    int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		updated: make(map[string]*PartitionEntry),
	}
}

func (m *MemoryStore) Init(context.Context) error    { return nil }
func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

// HealthCheck always succeeds.
func (m *MemoryStore) HealthCheck(context.Context) error { return nil }

// IsUpdated reports whether the partition is marked.
func (m *MemoryStore) IsUpdated(_ context.Context, partition string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.updated[partition]
	return ok, nil
}

// MarkUpdated marks the partition.
func (m *MemoryStore) MarkUpdated(_ context.Context, partition string) error {
	if partition == "" {
		return fmt.Errorf("partition name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.updated[partition] = &PartitionEntry{Partition: partition, UpdatedAt: time.Now()}
	m.marks++
	return nil
}

// Marks returns how many times MarkUpdated succeeded.
func (m *MemoryStore) Marks() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.marks
}

// ListUpdated returns the marked partitions ordered by update time.
func (m *MemoryStore) ListUpdated(context.Context) ([]*PartitionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*PartitionEntry, 0, len(m.updated))
	for _, e := range m.updated {
		copied := *e
		entries = append(entries, &copied)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].Partition < entries[j].Partition
		}
		return entries[i].UpdatedAt.Before(entries[j].UpdatedAt)
	})
	return entries, nil
}

// ClearRecord removes every mark.
func (m *MemoryStore) ClearRecord(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updated = make(map[string]*PartitionEntry)
	return nil
}

// RecordFailure appends a failure.
func (m *MemoryStore) RecordFailure(_ context.Context, failure *Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if failure.CreatedAt.IsZero() {
		failure.CreatedAt = time.Now()
	}
	failure.ID = int64(len(m.failures) + 1)
	copied := *failure
	m.failures = append(m.failures, &copied)
	return nil
}

// ListFailures returns the most recent failures first.
func (m *MemoryStore) ListFailures(_ context.Context, limit int) ([]*Failure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Failure
	for i := len(m.failures) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		copied := *m.failures[i]
		out = append(out, &copied)
	}
	return out, nil
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
