// Package invest — memory.go содержит in-memory хранилище позиций
// для тестов и режима STORAGE_DRIVER=memory.
package invest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryPositions — потокобезопасное in-memory хранилище позиций.
type MemoryPositions struct {
	mu        sync.Mutex
	positions map[string][]*Position
}

// NewMemoryPositions создаёт пустое хранилище.
func NewMemoryPositions() *MemoryPositions {
	return &MemoryPositions{positions: make(map[string][]*Position)}
}

func (m *MemoryPositions) Append(_ context.Context, pos *Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	pos.CreatedAt = time.Now()
	cp := *pos
	m.positions[pos.UserID] = append(m.positions[pos.UserID], &cp)
	return nil
}

func (m *MemoryPositions) List(_ context.Context, userID string) ([]*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Position, 0, len(m.positions[userID]))
	for _, p := range m.positions[userID] {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}
