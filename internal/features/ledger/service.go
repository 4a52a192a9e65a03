// Package ledger — service.go содержит публичный контракт леджера:
// применение кредитов/дебетов, чтение баланса и истории.
package ledger

import (
	"context"

	log "github.com/sirupsen/logrus"

	"focusbank.ru/gating-engine/internal/common"
	"focusbank.ru/gating-engine/internal/metrics"
)

// Operation — одна операция леджера: кредит или дебет.
// Собирается конструкторами Credit/Debit, Amount всегда положительная.
type Operation struct {
	Type   TxType
	Amount int64
	Meta   Metadata
	debit  bool
	// minBalanceCheck=false позволяет увести баланс в минус.
	// Ни один текущий вызов этим не пользуется, но контракт это допускает.
	minBalanceCheck bool
}

// Credit — операция зачисления токенов.
func Credit(amount int64, t TxType, meta Metadata) Operation {
	return Operation{Type: t, Amount: amount, Meta: meta}
}

// Debit — операция списания токенов с проверкой достаточности баланса.
func Debit(amount int64, t TxType, meta Metadata) Operation {
	return Operation{Type: t, Amount: amount, Meta: meta, debit: true, minBalanceCheck: true}
}

// Result — результат применённой операции.
type Result struct {
	NewBalance int64
	Entry      *TransactionEntry
}

// Service — публичный вход леджера. Остальные модули либо вызывают
// Apply, либо строят сложные мутации напрямую через Store.Mutate.
type Service struct {
	store Store
}

// NewService создаёт сервис леджера.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Store возвращает атомарный примитив для модулей, которым нужна
// мутация нескольких полей записи разом (unlock-сессии, инвестиции).
func (s *Service) Store() Store {
	return s.store
}

// Provision создаёт запись баланса с нулевым балансом (идемпотентно).
func (s *Service) Provision(ctx context.Context, userID string) error {
	if err := s.store.Provision(ctx, userID); err != nil {
		return err
	}
	log.WithField("user_id", userID).Debug("Запись баланса провижинена")
	return nil
}

// Apply применяет одну операцию: в одной атомарной единице обновляет
// баланс и добавляет ровно одну запись журнала. При неуспехе — ноль записей.
//
// Дебет с проверкой падает с ErrInsufficientBalance, если amount больше
// текущего баланса; частичное списание не применяется никогда.
func (s *Service) Apply(ctx context.Context, userID string, op Operation) (*Result, error) {
	if op.Amount <= 0 {
		return nil, common.ErrInvalidAmount
	}

	rec, entry, err := s.store.Mutate(ctx, userID, func(rec *BalanceRecord) (*TransactionEntry, error) {
		signed := op.Amount
		if op.debit {
			if op.minBalanceCheck && op.Amount > rec.Tokens {
				return nil, common.ErrInsufficientBalance
			}
			signed = -op.Amount
		}
		rec.Tokens += signed
		return &TransactionEntry{
			Type:         op.Type,
			Amount:       signed,
			BalanceAfter: rec.Tokens,
			Metadata:     op.Meta,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.LedgerOperations.WithLabelValues(string(op.Type)).Inc()
	log.WithFields(log.Fields{
		"user_id": userID,
		"tx_type": op.Type,
		"amount":  entry.Amount,
		"balance": rec.Tokens,
	}).Info("Операция леджера применена")

	return &Result{NewBalance: rec.Tokens, Entry: entry}, nil
}

// Balance возвращает текущий баланс пользователя.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return rec.Tokens, nil
}

// Record возвращает полную запись баланса (enforced-набор, сессии).
func (s *Service) Record(ctx context.Context, userID string) (*BalanceRecord, error) {
	return s.store.Get(ctx, userID)
}

// History возвращает последние limit записей журнала (новые первыми).
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*TransactionEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.store.Entries(ctx, userID, limit)
}
