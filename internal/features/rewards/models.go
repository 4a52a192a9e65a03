// Package rewards управляет идемпотентным начислением наград за измеренное
// время вовлечённости. models.go описывает ключ окна, маркер и контракты
// хранилищ идемпотентности.
package rewards

import (
	"context"
	"time"
)

// WindowKey — детерминированный составной ключ окна награды.
// Границы окна — миллисекунды с эпохи, окно полуоткрытое [start, end).
type WindowKey struct {
	UserID      string
	WindowStart int64
	WindowEnd   int64
}

// CreditResult — результат начисления окна.
// Повторный вызов для уже начисленного окна возвращает нули (no-op, не ошибка).
type CreditResult struct {
	TokensAwarded int64 `json:"tokens_awarded"`
	TotalMinutes  int64 `json:"total_minutes"`
}

// MarkerStore хранит маркеры идемпотентности окон. Существование маркера —
// единственный источник истины «уже начислено»; маркер пишется ТОЛЬКО
// после коммита соответствующей мутации леджера.
type MarkerStore interface {
	// Exists сообщает, есть ли маркер для ключа.
	Exists(ctx context.Context, key WindowKey) (bool, error)
	// Put записывает маркер. Повторная запись того же ключа — no-op.
	Put(ctx context.Context, key WindowKey) error
	// DeleteOlderThan удаляет маркеры, обработанные до cutoff.
	// Возвращает число удалённых.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// DedupStore хранит client-supplied request id spend-операций
// (разблокировка, инвестиция, вывод, покупка). Живёт рядом с маркерами
// и чистится тем же горизонтом.
type DedupStore interface {
	Seen(ctx context.Context, userID, requestID string) (bool, error)
	Record(ctx context.Context, userID, requestID string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// EngagementSource — коллаборатор, отдающий измеренные минуты
// вовлечённости за окно [startMs, endMs). Вызывается ДО открытия
// транзакции леджера, с ограниченным таймаутом.
type EngagementSource interface {
	Minutes(ctx context.Context, userID string, startMs, endMs int64) (int64, error)
}
