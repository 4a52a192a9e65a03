package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusbank.ru/gating-engine/internal/common"
)

// bumpVersion имитирует конкурентную запись: прямо поднимает версию
// записи в окне между колбэком мутации и коммитом.
func bumpVersion(s *MemoryStore) func(string) {
	return func(userID string) {
		s.mu.Lock()
		s.records[userID].Version++
		s.mu.Unlock()
	}
}

func TestMutate_ConflictRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Provision(ctx, "u1"))

	// Конкурент побеждает на каждой попытке — повторы исчерпываются
	store.beforeCommit = bumpVersion(store)

	var calls int
	_, _, err := store.Mutate(ctx, "u1", func(rec *BalanceRecord) (*TransactionEntry, error) {
		calls++
		rec.Tokens += 10
		return &TransactionEntry{Type: TxReward, Amount: 10, BalanceAfter: rec.Tokens}, nil
	})
	require.ErrorIs(t, err, common.ErrTransientConflict)
	assert.Equal(t, memStoreMaxRetries, calls, "колбэк вызывается на каждой попытке")

	// Неуспешная мутация не оставляет следов: ни токенов, ни журнала
	rec, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, rec.Tokens)

	entries, err := store.Entries(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMutate_TransientConflictRecovers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Provision(ctx, "u1"))

	// Конкурент мешает только первой попытке
	fired := false
	bump := bumpVersion(store)
	store.beforeCommit = func(userID string) {
		if !fired {
			fired = true
			bump(userID)
		}
	}

	rec, entry, err := store.Mutate(ctx, "u1", func(rec *BalanceRecord) (*TransactionEntry, error) {
		rec.Tokens += 10
		return &TransactionEntry{Type: TxReward, Amount: 10, BalanceAfter: rec.Tokens}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.Tokens)
	require.NotNil(t, entry)

	// Ровно одна запись журнала, несмотря на повтор колбэка
	entries, err := store.Entries(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMutate_CallbackSeesFreshSnapshotOnRetry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Provision(ctx, "u1"))

	// Конкурент успевает зачислить 100 перед первым коммитом
	fired := false
	store.beforeCommit = func(userID string) {
		if fired {
			return
		}
		fired = true
		store.mu.Lock()
		other := store.records[userID].Clone()
		other.Tokens += 100
		other.Version++
		store.records[userID] = other
		store.mu.Unlock()
	}

	var seen []int64
	rec, _, err := store.Mutate(ctx, "u1", func(rec *BalanceRecord) (*TransactionEntry, error) {
		seen = append(seen, rec.Tokens)
		rec.Tokens += 10
		return &TransactionEntry{Type: TxReward, Amount: 10, BalanceAfter: rec.Tokens}, nil
	})
	require.NoError(t, err)

	// Повтор работает на перечитанном состоянии, а не на устаревшем снимке
	assert.Equal(t, []int64{0, 100}, seen)
	assert.Equal(t, int64(110), rec.Tokens)
}
