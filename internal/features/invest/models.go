// Package invest управляет инвестиционным подледжером: вложения в фонды,
// вывод со спендируемого баланса, покупка токенов через платёжный шлюз.
// models.go описывает позицию, агрегаты и контракты коллабораторов.
package invest

import (
	"context"
	"time"
)

// Position — append-only запись одной покупки в фонд.
// Никогда не мутируется; чистая позиция по фонду — сумма записей.
type Position struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	FundID           string    `json:"fund_id"`
	FundName         string    `json:"fund_name"`
	Amount           int64     `json:"amount"` // Вложенные токены
	Units            float64   `json:"units"`  // amount / цена пая на момент покупки
	PaymentReference string    `json:"payment_reference,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Summary — производные агрегаты по позициям пользователя.
// Считаются полным сканом: позиций на пользователя мало и их число ограничено.
type Summary struct {
	TotalInvested int64              `json:"total_invested"`
	PositionCount int                `json:"position_count"`
	UniqueFunds   int                `json:"unique_funds"`
	AverageAmount float64            `json:"average_amount"`
	UnitsByFund   map[string]float64 `json:"units_by_fund"`
}

// PositionStore — append-only хранилище инвестиционных позиций.
type PositionStore interface {
	Append(ctx context.Context, pos *Position) error
	List(ctx context.Context, userID string) ([]*Position, error)
}

// ChargeResult — исход платежа от шлюза.
type ChargeResult struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

// PaymentGateway — платёжный коллаборатор. Движок потребляет только
// булев исход и ссылку; повторы платежа — не его забота. Вызывается
// ДО открытия транзакции леджера, с ограниченным таймаутом.
type PaymentGateway interface {
	Charge(ctx context.Context, userID string, amountTokens int64, destination string) (*ChargeResult, error)
}
