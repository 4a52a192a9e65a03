// Package rewards — memory.go содержит in-memory реализации хранилищ
// идемпотентности для тестов и режима STORAGE_DRIVER=memory.
package rewards

import (
	"context"
	"sync"
	"time"
)

// MemoryMarkers — потокобезопасное in-memory хранилище маркеров.
type MemoryMarkers struct {
	mu      sync.Mutex
	markers map[WindowKey]time.Time
}

// NewMemoryMarkers создаёт пустое хранилище маркеров.
func NewMemoryMarkers() *MemoryMarkers {
	return &MemoryMarkers{markers: make(map[WindowKey]time.Time)}
}

func (m *MemoryMarkers) Exists(_ context.Context, key WindowKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.markers[key]
	return ok, nil
}

func (m *MemoryMarkers) Put(_ context.Context, key WindowKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.markers[key]; !ok {
		m.markers[key] = time.Now()
	}
	return nil
}

func (m *MemoryMarkers) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for key, processedAt := range m.markers {
		if processedAt.Before(cutoff) {
			delete(m.markers, key)
			deleted++
		}
	}
	return deleted, nil
}

type dedupKey struct {
	userID    string
	requestID string
}

// MemoryDedup — in-memory хранилище request id.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[dedupKey]time.Time
}

// NewMemoryDedup создаёт пустое хранилище ключей дедупликации.
func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{seen: make(map[dedupKey]time.Time)}
}

func (m *MemoryDedup) Seen(_ context.Context, userID, requestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[dedupKey{userID, requestID}]
	return ok, nil
}

func (m *MemoryDedup) Record(_ context.Context, userID, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dedupKey{userID, requestID}
	if _, ok := m.seen[key]; !ok {
		m.seen[key] = time.Now()
	}
	return nil
}

func (m *MemoryDedup) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for key, at := range m.seen {
		if at.Before(cutoff) {
			delete(m.seen, key)
			deleted++
		}
	}
	return deleted, nil
}
