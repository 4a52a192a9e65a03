package rewards

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusbank.ru/gating-engine/internal/common"
	"focusbank.ru/gating-engine/internal/config"
	"focusbank.ru/gating-engine/internal/features/ledger"
)

// fakeEngagement отдаёт фиксированные минуты либо ошибку.
type fakeEngagement struct {
	minutes int64
	err     error
	calls   int
}

func (f *fakeEngagement) Minutes(_ context.Context, _ string, _, _ int64) (int64, error) {
	f.calls++
	return f.minutes, f.err
}

type rewardsFixture struct {
	svc        *Service
	ledger     *ledger.Service
	markers    *MemoryMarkers
	engagement *fakeEngagement
	now        time.Time
}

func newFixture(t *testing.T) *rewardsFixture {
	t.Helper()

	cfg := &config.Config{
		RewardTokensPerHour: 10,
		MarkerRetention:     720 * time.Hour,
	}
	ledgerSvc := ledger.NewService(ledger.NewMemoryStore())
	require.NoError(t, ledgerSvc.Provision(context.Background(), "u1"))

	f := &rewardsFixture{
		ledger:     ledgerSvc,
		markers:    NewMemoryMarkers(),
		engagement: &fakeEngagement{},
		now:        time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(ledgerSvc, f.markers, NewMemoryDedup(), f.engagement, cfg)
	f.svc.now = func() time.Time { return f.now }
	return f
}

// window возвращает свежее окно [now-d, now) в миллисекундах.
func (f *rewardsFixture) window(d time.Duration) (int64, int64) {
	return common.WindowMillis(f.now, d)
}

func TestCreditWindow_FullHours(t *testing.T) {
	f := newFixture(t)
	f.engagement.minutes = 120
	start, end := f.window(2 * time.Hour)

	res, err := f.svc.CreditWindow(context.Background(), "u1", start, end, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.TokensAwarded)
	assert.Equal(t, int64(120), res.TotalMinutes)

	balance, err := f.ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)

	history, err := f.ledger.History(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ledger.TxReward, history[0].Type)

	meta, ok := history[0].Metadata.(ledger.RewardMeta)
	require.True(t, ok)
	assert.Equal(t, start, meta.WindowStart)
	assert.Equal(t, end, meta.WindowEnd)
}

func TestCreditWindow_PartialHoursBurn(t *testing.T) {
	f := newFixture(t)
	f.engagement.minutes = 45
	start, end := f.window(time.Hour)

	res, err := f.svc.CreditWindow(context.Background(), "u1", start, end, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.TokensAwarded)
	assert.Equal(t, int64(45), res.TotalMinutes)

	// Нулевое начисление: записи в журнале нет, но маркер есть,
	// чтобы окно не пересчитывалось заново
	history, err := f.ledger.History(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	exists, err := f.markers.Exists(context.Background(), WindowKey{UserID: "u1", WindowStart: start, WindowEnd: end})
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreditWindow_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.engagement.minutes = 180
	start, end := f.window(3 * time.Hour)

	first, err := f.svc.CreditWindow(context.Background(), "u1", start, end, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(30), first.TokensAwarded)

	// Повтор того же окна — no-op без похода к источнику минут
	callsBefore := f.engagement.calls
	second, err := f.svc.CreditWindow(context.Background(), "u1", start, end, nil)
	require.NoError(t, err)
	assert.Zero(t, second.TokensAwarded)
	assert.Zero(t, second.TotalMinutes)
	assert.Equal(t, callsBefore, f.engagement.calls)

	balance, err := f.ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
}

func TestCreditWindow_MinutesOverride(t *testing.T) {
	f := newFixture(t)
	f.engagement.minutes = 999
	start, end := f.window(time.Hour)

	override := int64(60)
	res, err := f.svc.CreditWindow(context.Background(), "u1", start, end, &override)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.TokensAwarded)
	assert.Zero(t, f.engagement.calls, "при override источник минут не вызывается")
}

func TestCreditWindow_InvalidWindow(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreditWindow(context.Background(), "u1", 1000, 1000, nil)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, err = f.svc.CreditWindow(context.Background(), "u1", 2000, 1000, nil)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestCreditWindow_NegativeMinutes(t *testing.T) {
	f := newFixture(t)
	override := int64(-5)
	start, end := f.window(time.Hour)

	_, err := f.svc.CreditWindow(context.Background(), "u1", start, end, &override)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestCreditWindow_StaleWindowRefused(t *testing.T) {
	f := newFixture(t)
	f.engagement.minutes = 120

	// Окно целиком старше горизонта хранения: начисления нет, даже
	// если маркера нет (он мог быть уже вычищен)
	stale := f.now.Add(-800 * time.Hour)
	start, end := common.WindowMillis(stale, time.Hour)

	res, err := f.svc.CreditWindow(context.Background(), "u1", start, end, nil)
	require.NoError(t, err)
	assert.Zero(t, res.TokensAwarded)

	balance, err := f.ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestCreditWindow_EngagementUnavailable(t *testing.T) {
	f := newFixture(t)
	f.engagement.err = errors.New("connection refused")
	start, end := f.window(time.Hour)

	_, err := f.svc.CreditWindow(context.Background(), "u1", start, end, nil)
	require.ErrorIs(t, err, common.ErrCollaboratorUnavailable)

	// Ошибка коллаборатора не оставляет ни маркера, ни записи
	exists, err := f.markers.Exists(context.Background(), WindowKey{UserID: "u1", WindowStart: start, WindowEnd: end})
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreditLastHour_WindowBounds(t *testing.T) {
	f := newFixture(t)
	f.engagement.minutes = 60

	res, err := f.svc.CreditLastHour(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.TokensAwarded)

	history, err := f.ledger.History(context.Background(), "u1", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)

	meta := history[0].Metadata.(ledger.RewardMeta)
	assert.Equal(t, f.now.UnixMilli(), meta.WindowEnd)
	assert.Equal(t, f.now.Add(-time.Hour).UnixMilli(), meta.WindowStart)
}

func TestCleanup_RemovesOldMarkers(t *testing.T) {
	f := newFixture(t)
	f.engagement.minutes = 60

	start, end := f.window(time.Hour)
	_, err := f.svc.CreditWindow(context.Background(), "u1", start, end, nil)
	require.NoError(t, err)

	// Сдвигаем «сейчас» далеко вперёд: маркер оказывается старше горизонта
	f.now = time.Now().Add(2000 * time.Hour)
	require.NoError(t, f.svc.Cleanup(context.Background()))

	exists, err := f.markers.Exists(context.Background(), WindowKey{UserID: "u1", WindowStart: start, WindowEnd: end})
	require.NoError(t, err)
	assert.False(t, exists)
}
