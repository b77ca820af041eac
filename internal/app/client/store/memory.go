package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

type memEntry struct {
	value   []byte
	seq     int64
	indexes Indexes
}

// MemoryStore хранилище в памяти; используется, когда база недоступна, и в тестах
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*memEntry
	seq  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]*memEntry)}
}

func (m *MemoryStore) Put(_ context.Context, collection, key string, value []byte, indexes Indexes) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.data[collection]
	if !ok {
		c = make(map[string]*memEntry)
		m.data[collection] = c
	}

	e, ok := c[key]
	if !ok {
		m.seq++
		e = &memEntry{seq: m.seq}
		c[key] = e
	}
	e.value = bytes.Clone(value)
	e.indexes = copyIndexes(indexes)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, collection, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[collection][key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

func (m *MemoryStore) Delete(_ context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data[collection], key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, collection string) ([]Item, error) {
	return m.collect(collection, func(*memEntry) bool { return true }), nil
}

func (m *MemoryStore) ListByIndex(_ context.Context, collection, index, value string) ([]Item, error) {
	return m.collect(collection, func(e *memEntry) bool {
		v, ok := e.indexes[index]
		return ok && v == value
	}), nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) collect(collection string, match func(*memEntry) bool) []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type seqItem struct {
		Item
		seq int64
	}

	var found []seqItem
	for k, e := range m.data[collection] {
		if match(e) {
			found = append(found, seqItem{Item: Item{Key: k, Value: bytes.Clone(e.value)}, seq: e.seq})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })

	items := make([]Item, 0, len(found))
	for _, f := range found {
		items = append(items, f.Item)
	}
	return items
}

func copyIndexes(in Indexes) Indexes {
	out := make(Indexes, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
