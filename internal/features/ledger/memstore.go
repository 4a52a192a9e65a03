// Package ledger — memstore.go реализует Store в памяти.
// Используется в тестах и в режиме STORAGE_DRIVER=memory для локальной
// разработки без PostgreSQL. Семантика та же, что у PostgreSQL-реализации:
// колбэк работает на снимке записи, коммит обусловлен номером версии,
// при конкурентной записи — ограниченное число повторов.
package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"focusbank.ru/gating-engine/internal/common"
	"focusbank.ru/gating-engine/internal/metrics"
)

const memStoreMaxRetries = 5

// MemoryStore — потокобезопасное in-memory хранилище.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*BalanceRecord
	entries map[string][]*TransactionEntry
	nextID  int64

	// Вызывается между колбэком мутации и коммитом. Подменяется в тестах,
	// чтобы имитировать конкурентную запись в этом окне.
	beforeCommit func(userID string)
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*BalanceRecord),
		entries: make(map[string][]*TransactionEntry),
	}
}

func (s *MemoryStore) Provision(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[userID]; ok {
		return nil
	}
	s.records[userID] = &BalanceRecord{
		UserID:    userID,
		UpdatedAt: time.Now(),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*BalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Mutate(ctx context.Context, userID string, fn MutateFunc) (*BalanceRecord, *TransactionEntry, error) {
	for attempt := 0; attempt < memStoreMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		rec, entry, conflict, err := s.tryMutate(userID, fn)
		if err != nil {
			return nil, nil, err
		}
		if !conflict {
			return rec, entry, nil
		}

		// Конкурентная запись успела раньше — перечитаем и повторим
		metrics.LedgerConflictRetries.Inc()
	}

	metrics.LedgerConflictsExhausted.Inc()
	return nil, nil, common.ErrTransientConflict
}

// tryMutate — одна попытка: снимок под мьютексом, колбэк вне его,
// коммит только при неизменившейся версии.
func (s *MemoryStore) tryMutate(userID string, fn MutateFunc) (*BalanceRecord, *TransactionEntry, bool, error) {
	s.mu.Lock()
	cur, ok := s.records[userID]
	if !ok {
		s.mu.Unlock()
		return nil, nil, false, common.ErrUserNotFound
	}
	before := cur.Clone()
	s.mu.Unlock()

	rec := before.Clone()
	entry, err := fn(rec)
	if errors.Is(err, ErrNoMutation) {
		return before, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}

	if s.beforeCommit != nil {
		s.beforeCommit(userID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok = s.records[userID]
	if !ok {
		return nil, nil, false, common.ErrUserNotFound
	}
	if cur.Version != before.Version {
		return nil, nil, true, nil
	}

	rec.Version = before.Version + 1
	rec.UpdatedAt = time.Now()
	s.records[userID] = rec

	if entry != nil {
		s.nextID++
		entry.ID = s.nextID
		entry.UserID = userID
		entry.CreatedAt = rec.UpdatedAt
		s.entries[userID] = append(s.entries[userID], entry)
	}
	return rec.Clone(), entry, false, nil
}

func (s *MemoryStore) Entries(_ context.Context, userID string, limit int) ([]*TransactionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.entries[userID]
	out := make([]*TransactionEntry, 0, limit)
	// Новые первыми, как у PostgreSQL-реализации
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) UserIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
