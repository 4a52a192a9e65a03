package unlocks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusbank.ru/gating-engine/internal/common"
	"focusbank.ru/gating-engine/internal/config"
	"focusbank.ru/gating-engine/internal/features/ledger"
	"focusbank.ru/gating-engine/internal/features/rewards"
)

// fakeEnforcement запоминает пуши enforced-набора.
type fakeEnforcement struct {
	mu     sync.Mutex
	pushes [][]string
	err    error
}

func (f *fakeEnforcement) SetLockedPackages(_ context.Context, _ string, packages []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, append([]string(nil), packages...))
	return f.err
}

func (f *fakeEnforcement) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeEnforcement) lastPush() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pushes) == 0 {
		return nil
	}
	return f.pushes[len(f.pushes)-1]
}

type unlocksFixture struct {
	svc         *Service
	store       ledger.Store
	ledger      *ledger.Service
	enforcement *fakeEnforcement
	now         time.Time
}

func newFixture(t *testing.T, balance int64) *unlocksFixture {
	t.Helper()

	cfg := &config.Config{
		UnlockCost:            20,
		UnlockDurationMinutes: 60,
	}
	store := ledger.NewMemoryStore()
	ledgerSvc := ledger.NewService(store)
	require.NoError(t, ledgerSvc.Provision(context.Background(), "u1"))
	if balance > 0 {
		_, err := ledgerSvc.Apply(context.Background(), "u1", ledger.Credit(balance, ledger.TxPurchase, ledger.PurchaseMeta{}))
		require.NoError(t, err)
	}

	f := &unlocksFixture{
		store:       store,
		ledger:      ledgerSvc,
		enforcement: &fakeEnforcement{},
		now:         time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(store, f.enforcement, rewards.NewMemoryDedup(), cfg)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func TestSpendUnlock_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	require.NoError(t, f.svc.Lock(ctx, "u1", "com.social.feed"))

	res, err := f.svc.SpendUnlock(ctx, "u1", "com.social.feed", "Лента", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(80), res.NewBalance)

	rec, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, rec.HasLocked("com.social.feed"))
	require.Len(t, rec.UnlockSessions, 1)
	assert.Equal(t, f.now.Add(time.Hour), rec.UnlockSessions[0].ExpiresAt)

	// До истечения реконсиляция — no-op
	f.now = f.now.Add(30 * time.Minute)
	require.NoError(t, f.svc.Reconcile(ctx, "u1"))
	rec, err = f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, rec.UnlockSessions, 1)
	assert.False(t, rec.HasLocked("com.social.feed"))

	// После истечения пакет возвращается в enforced-набор
	f.now = f.now.Add(31 * time.Minute)
	require.NoError(t, f.svc.Reconcile(ctx, "u1"))
	rec, err = f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, rec.UnlockSessions)
	assert.True(t, rec.HasLocked("com.social.feed"))
	assert.Equal(t, []string{"com.social.feed"}, f.enforcement.lastPush())

	// Баланс истечением не трогается: оплата за время, не возврат
	balance, err := f.ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(80), balance)
}

func TestSpendUnlock_InsufficientIsPolicyRefusal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 15)
	require.NoError(t, f.svc.Lock(ctx, "u1", "com.social.feed"))

	res, err := f.svc.SpendUnlock(ctx, "u1", "com.social.feed", "", "")
	require.NoError(t, err, "отказ по балансу — не ошибка")
	assert.False(t, res.Success)
	assert.Equal(t, int64(15), res.NewBalance)

	// Ни дебета, ни сессии, ни записи журнала
	rec, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), rec.Tokens)
	assert.Empty(t, rec.UnlockSessions)
	assert.True(t, rec.HasLocked("com.social.feed"))

	history, err := f.ledger.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ledger.TxPurchase, history[0].Type)
}

func TestSpendUnlock_ExactBalanceSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 20)

	res, err := f.svc.SpendUnlock(ctx, "u1", "com.social.feed", "", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, res.NewBalance)
}

func TestSpendUnlock_ConcurrentSpends_OneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 30) // хватает ровно на одну разблокировку по 20

	const workers = 5
	var wg sync.WaitGroup
	results := make(chan *Result, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.SpendUnlock(ctx, "u1", "com.social.feed", "", "")
			require.NoError(t, err)
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for res := range results {
		if res.Success {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	balance, err := f.ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestSpendUnlock_DuplicateRequestID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	res, err := f.svc.SpendUnlock(ctx, "u1", "com.social.feed", "", "req-1")
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = f.svc.SpendUnlock(ctx, "u1", "com.social.feed", "", "req-1")
	assert.ErrorIs(t, err, common.ErrDuplicateRequest)

	balance, err := f.ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(80), balance, "списание ровно одно")
}

func TestSpendUnlock_PushFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	f.enforcement.err = errors.New("enforcement down")

	res, err := f.svc.SpendUnlock(ctx, "u1", "com.social.feed", "", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(80), res.NewBalance)

	rec, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, rec.UnlockSessions, 1)
}

func TestSpendUnlock_EmptyPackage(t *testing.T) {
	f := newFixture(t, 100)

	_, err := f.svc.SpendUnlock(context.Background(), "u1", "", "", "")
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestSpendUnlock_DropsExpiredSessionOfSamePackage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	_, err := f.svc.SpendUnlock(ctx, "u1", "com.social.feed", "", "")
	require.NoError(t, err)

	// Сессия истекла, реконсиляция ещё не прошла — повторный спенд
	// выбрасывает истёкшую сессию вместо накопления дублей
	f.now = f.now.Add(2 * time.Hour)
	res, err := f.svc.SpendUnlock(ctx, "u1", "com.social.feed", "", "")
	require.NoError(t, err)
	assert.True(t, res.Success)

	rec, err := f.store.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rec.UnlockSessions, 1)
	assert.Equal(t, f.now.Add(time.Hour), rec.UnlockSessions[0].ExpiresAt)
}

func TestReconcile_NoExpired_NoPush(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	require.NoError(t, f.svc.Reconcile(ctx, "u1"))
	assert.Zero(t, f.enforcement.pushCount())
}

func TestLockAndUnlockPermanently(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	require.NoError(t, f.svc.LockMany(ctx, "u1", []string{"com.a", "com.b", "com.a"}))
	pkgs, err := f.svc.LockedPackages(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"com.a", "com.b"}, pkgs)

	// Повторный Lock без изменений не пушит
	pushesBefore := f.enforcement.pushCount()
	require.NoError(t, f.svc.Lock(ctx, "u1", "com.a"))
	assert.Equal(t, pushesBefore, f.enforcement.pushCount())

	// Ungoverned: бесплатно, без сессии, без записи журнала
	require.NoError(t, f.svc.UnlockPermanently(ctx, "u1", "com.a"))
	pkgs, err = f.svc.LockedPackages(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"com.b"}, pkgs)

	history, err := f.ledger.History(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	// Повторный UnlockPermanently идемпотентен
	require.NoError(t, f.svc.UnlockPermanently(ctx, "u1", "com.a"))
}
