package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps records as JSON documents in memory. Records are copied
// on both Get and Set so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Collection]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Collection]map[string][]byte)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Get(ctx context.Context, collection Collection, id string, dst Record) (bool, error) {
	m.mu.RLock()
	data, ok := m.records[collection][id]
	m.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s %s: %w", collection, id, err)
	}
	return true, nil
}

func (m *MemoryStore) Set(ctx context.Context, collection Collection, record Record) error {
	id := record.EntityID()
	if id == "" {
		return fmt.Errorf("record in %s has no id", collection)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", collection, id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.records[collection] == nil {
		m.records[collection] = make(map[string][]byte)
	}
	m.records[collection][id] = data
	return nil
}

// Len returns the number of records in a collection.
func (m *MemoryStore) Len(collection Collection) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[collection])
}

// IDs returns the sorted identifiers of a collection.
func (m *MemoryStore) IDs(collection Collection) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.records[collection]))
	for id := range m.records[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListIDs is IDs behind the error-returning signature of persistent stores.
func (m *MemoryStore) ListIDs(ctx context.Context, collection Collection) ([]string, error) {
	return m.IDs(collection), nil
}

// Raw returns the stored JSON document, for comparing snapshots in tests.
func (m *MemoryStore) Raw(collection Collection, id string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.records[collection][id]
	return data, ok
}
