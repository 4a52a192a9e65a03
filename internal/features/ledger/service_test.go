package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusbank.ru/gating-engine/internal/common"
)

func newTestService(t *testing.T, userID string) *Service {
	t.Helper()
	svc := NewService(NewMemoryStore())
	require.NoError(t, svc.Provision(context.Background(), userID))
	return svc
}

func TestApply_CreditThenDebit(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "u1")

	res, err := svc.Apply(ctx, "u1", Credit(100, TxReward, RewardMeta{Minutes: 600}))
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.NewBalance)
	assert.Equal(t, int64(100), res.Entry.Amount)
	assert.Equal(t, int64(100), res.Entry.BalanceAfter)

	res, err = svc.Apply(ctx, "u1", Debit(30, TxWithdrawal, WithdrawalMeta{}))
	require.NoError(t, err)
	assert.Equal(t, int64(70), res.NewBalance)
	assert.Equal(t, int64(-30), res.Entry.Amount)

	balance, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)
}

func TestApply_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "u1")

	_, err := svc.Apply(ctx, "u1", Credit(10, TxPurchase, PurchaseMeta{}))
	require.NoError(t, err)

	_, err = svc.Apply(ctx, "u1", Debit(11, TxWithdrawal, WithdrawalMeta{}))
	require.ErrorIs(t, err, common.ErrInsufficientBalance)

	// Частичное списание не применяется: баланс и журнал нетронуты
	balance, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	history, err := svc.History(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestApply_InvalidAmount(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "u1")

	_, err := svc.Apply(ctx, "u1", Credit(0, TxReward, nil))
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, err = svc.Apply(ctx, "u1", Credit(-5, TxReward, nil))
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestApply_UnknownUser(t *testing.T) {
	svc := NewService(NewMemoryStore())

	_, err := svc.Apply(context.Background(), "ghost", Credit(5, TxReward, nil))
	assert.ErrorIs(t, err, common.ErrUserNotFound)
}

func TestProvision_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "u1")

	_, err := svc.Apply(ctx, "u1", Credit(42, TxPurchase, PurchaseMeta{}))
	require.NoError(t, err)

	// Повторный провижининг не обнуляет баланс
	require.NoError(t, svc.Provision(ctx, "u1"))
	balance, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance)
}

func TestHistory_NewestFirstWithSnapshots(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "u1")

	amounts := []int64{100, 50, 25}
	for _, a := range amounts {
		_, err := svc.Apply(ctx, "u1", Credit(a, TxReward, RewardMeta{}))
		require.NoError(t, err)
	}

	history, err := svc.History(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Новые первыми, balance_after — снимок на момент записи
	assert.Equal(t, int64(25), history[0].Amount)
	assert.Equal(t, int64(175), history[0].BalanceAfter)
	assert.Equal(t, int64(50), history[1].Amount)
	assert.Equal(t, int64(150), history[1].BalanceAfter)
}

func TestBalance_ConservesEntrySum(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "u1")

	_, err := svc.Apply(ctx, "u1", Credit(200, TxReward, RewardMeta{}))
	require.NoError(t, err)
	_, err = svc.Apply(ctx, "u1", Debit(80, TxUnlock, UnlockMeta{Package: "com.example.app"}))
	require.NoError(t, err)
	_, err = svc.Apply(ctx, "u1", Credit(15, TxPurchase, PurchaseMeta{}))
	require.NoError(t, err)

	history, err := svc.History(ctx, "u1", 100)
	require.NoError(t, err)

	var sum int64
	for _, e := range history {
		sum += e.Amount
	}
	balance, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, balance, sum, "баланс должен равняться сумме журнала")
}

func TestApply_ConcurrentDebits_OneWinner(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "u1")

	_, err := svc.Apply(ctx, "u1", Credit(100, TxPurchase, PurchaseMeta{}))
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Apply(ctx, "u1", Debit(60, TxWithdrawal, WithdrawalMeta{}))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, insufficient int
	for err := range results {
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, common.ErrInsufficientBalance)
			insufficient++
		}
	}

	// 100 токенов хватает ровно на одно списание по 60
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, insufficient)

	balance, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)
}

func TestDecodeMetadata_RoundTripByType(t *testing.T) {
	meta, err := DecodeMetadata(TxUnlock, []byte(`{"package":"com.example.app","display_name":"Example"}`))
	require.NoError(t, err)

	unlockMeta, ok := meta.(*UnlockMeta)
	require.True(t, ok)
	assert.Equal(t, "com.example.app", unlockMeta.Package)
	assert.Equal(t, TxUnlock, unlockMeta.TxType())

	_, err = DecodeMetadata(TxType("mystery"), []byte(`{}`))
	assert.Error(t, err)

	meta, err = DecodeMetadata(TxReward, nil)
	require.NoError(t, err)
	assert.Nil(t, meta)
}
