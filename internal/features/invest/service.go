// Package invest — service.go координирует инвестиционные операции.
// Внешние результаты (платёж) выясняются ДО открытия транзакции леджера;
// при сбое записи позиции после дебета выполняется компенсирующий возврат.
package invest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"focusbank.ru/gating-engine/internal/common"
	"focusbank.ru/gating-engine/internal/config"
	"focusbank.ru/gating-engine/internal/features/ledger"
	"focusbank.ru/gating-engine/internal/features/rewards"
	"focusbank.ru/gating-engine/internal/metrics"
)

// InvestResult — результат вложения.
type InvestResult struct {
	Success      bool   `json:"success"`
	InvestmentID string `json:"investment_id"`
	Message      string `json:"message"`
}

// WithdrawResult — результат вывода.
type WithdrawResult struct {
	Success    bool   `json:"success"`
	NewBalance int64  `json:"new_balance"`
	Message    string `json:"message"`
}

// PurchaseResult — результат покупки токенов через платёжный шлюз.
type PurchaseResult struct {
	Success    bool   `json:"success"`
	NewBalance int64  `json:"new_balance"`
	Reference  string `json:"reference"`
	Message    string `json:"message"`
}

// Service управляет инвестиционным подледжером.
type Service struct {
	ledger    *ledger.Service
	positions PositionStore
	gateway   PaymentGateway
	dedup     rewards.DedupStore
	cfg       *config.Config
}

// NewService создаёт сервис инвестиций.
func NewService(ledgerService *ledger.Service, positions PositionStore, gateway PaymentGateway, dedup rewards.DedupStore, cfg *config.Config) *Service {
	return &Service{
		ledger:    ledgerService,
		positions: positions,
		gateway:   gateway,
		dedup:     dedup,
		cfg:       cfg,
	}
}

// Invest переводит токены в именованную позицию фонда.
//
// Без paymentRef — финансирование с баланса: атомарная проверка и дебет,
// запись журнала типа investment с ОТРИЦАТЕЛЬНОЙ суммой.
// С paymentRef — внешний платёж, уже подтверждённый вызывающей стороной:
// баланс не трогаем, запись с ПОЛОЖИТЕЛЬНОЙ суммой (чтобы аудит различал
// источники взносов), и побочно mmfPreference = fundID.
func (s *Service) Invest(ctx context.Context, userID, fundID, fundName string, amount int64, unitPrice float64, paymentRef, requestID string) (*InvestResult, error) {
	if amount <= 0 || unitPrice <= 0 {
		return nil, common.ErrInvalidAmount
	}
	if err := s.checkRequestID(ctx, userID, requestID); err != nil {
		return nil, err
	}

	units := float64(amount) / unitPrice
	meta := ledger.InvestmentMeta{
		FundID:           fundID,
		FundName:         fundName,
		Units:            units,
		PaymentReference: paymentRef,
	}

	_, _, err := s.ledger.Store().Mutate(ctx, userID, func(rec *ledger.BalanceRecord) (*ledger.TransactionEntry, error) {
		if paymentRef == "" {
			if rec.Tokens < amount {
				return nil, common.ErrInsufficientBalance
			}
			rec.Tokens -= amount
			return &ledger.TransactionEntry{
				Type:         ledger.TxInvestment,
				Amount:       -amount,
				BalanceAfter: rec.Tokens,
				Metadata:     meta,
			}, nil
		}

		// Внешний взнос: баланс без изменений, положительная сумма в журнале
		rec.MMFPreference = fundID
		return &ledger.TransactionEntry{
			Type:         ledger.TxInvestment,
			Amount:       amount,
			BalanceAfter: rec.Tokens,
			Metadata:     meta,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.LedgerOperations.WithLabelValues(string(ledger.TxInvestment)).Inc()

	pos := &Position{
		ID:               uuid.NewString(),
		UserID:           userID,
		FundID:           fundID,
		FundName:         fundName,
		Amount:           amount,
		Units:            units,
		PaymentReference: paymentRef,
	}
	if err := s.positions.Append(ctx, pos); err != nil {
		return nil, s.compensatePosition(ctx, userID, amount, paymentRef, meta, err)
	}

	s.recordRequestID(ctx, userID, requestID)
	log.WithFields(log.Fields{
		"user_id": userID,
		"fund_id": fundID,
		"amount":  amount,
		"units":   units,
	}).Info("Инвестиция записана")

	return &InvestResult{
		Success:      true,
		InvestmentID: pos.ID,
		Message:      fmt.Sprintf("куплено %.4f паёв фонда %s", units, fundName),
	}, nil
}

// compensatePosition обрабатывает сбой записи позиции после коммита леджера.
// Для покупки с баланса — компенсирующий возврат токенов (как возврат
// ставки у казино при сбое генерации). Для внешнего взноса возврат
// невозможен: платёж уже финален, расхождение только логируется.
func (s *Service) compensatePosition(ctx context.Context, userID string, amount int64, paymentRef string, meta ledger.InvestmentMeta, cause error) error {
	if paymentRef != "" {
		log.WithError(cause).WithField("user_id", userID).
			Error("Позиция внешнего взноса не записана: требуется ручная сверка по журналу")
		return fmt.Errorf("позиция не записана: %w", cause)
	}

	meta.Reversal = true
	if _, err := s.ledger.Apply(ctx, userID, ledger.Credit(amount, ledger.TxInvestment, meta)); err != nil {
		log.WithError(err).WithField("user_id", userID).
			Error("Компенсирующий возврат не прошёл: требуется ручная сверка по журналу")
	}
	return fmt.Errorf("позиция не записана, токены возвращены: %w", cause)
}

// Withdraw выводит токены со спендируемого баланса. Не зависит от
// инвестиционных позиций: ликвидация позиций движком не моделируется.
func (s *Service) Withdraw(ctx context.Context, userID string, amount int64, payoutRef, requestID string) (*WithdrawResult, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount
	}
	if err := s.checkRequestID(ctx, userID, requestID); err != nil {
		return nil, err
	}

	res, err := s.ledger.Apply(ctx, userID, ledger.Debit(amount, ledger.TxWithdrawal, ledger.WithdrawalMeta{
		PayoutReference: payoutRef,
	}))
	if err != nil {
		return nil, err
	}

	s.recordRequestID(ctx, userID, requestID)
	return &WithdrawResult{
		Success:    true,
		NewBalance: res.NewBalance,
		Message:    fmt.Sprintf("выведено %s", common.FormatBalance(amount)),
	}, nil
}

// BuyTokens покупает токены через платёжный шлюз и зачисляет их на баланс.
// Исход платежа выясняется до открытия транзакции леджера; движок не
// инициирует повторы платежа сам.
func (s *Service) BuyTokens(ctx context.Context, userID string, amount int64, destination, requestID string) (*PurchaseResult, error) {
	if amount <= 0 {
		return nil, common.ErrInvalidAmount
	}
	if err := s.checkRequestID(ctx, userID, requestID); err != nil {
		return nil, err
	}

	charge, err := s.gateway.Charge(ctx, userID, amount, destination)
	if err != nil {
		metrics.CollaboratorErrors.WithLabelValues("payments").Inc()
		return nil, fmt.Errorf("платёжный шлюз: %w", common.ErrCollaboratorUnavailable)
	}
	if !charge.Success {
		// Отказ платежа — policy-результат, не ошибка движка
		return &PurchaseResult{Success: false, Message: charge.Message}, nil
	}

	res, err := s.ledger.Apply(ctx, userID, ledger.Credit(amount, ledger.TxPurchase, ledger.PurchaseMeta{
		Reference:   charge.Reference,
		Destination: destination,
	}))
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user_id":   userID,
			"reference": charge.Reference,
		}).Error("Платёж прошёл, но зачисление упало: требуется ручная сверка")
		return nil, err
	}

	s.recordRequestID(ctx, userID, requestID)
	return &PurchaseResult{
		Success:    true,
		NewBalance: res.NewBalance,
		Reference:  charge.Reference,
		Message:    fmt.Sprintf("зачислено %s", common.FormatBalance(amount)),
	}, nil
}

// Positions возвращает все позиции пользователя (старые первыми).
func (s *Service) Positions(ctx context.Context, userID string) ([]*Position, error) {
	return s.positions.List(ctx, userID)
}

// GetSummary считает производные агрегаты полным сканом позиций.
// Агрегаты рекомендательные: при недоступности хранилища деградируют
// до пустых значений вместо ошибки.
func (s *Service) GetSummary(ctx context.Context, userID string) *Summary {
	summary := &Summary{UnitsByFund: make(map[string]float64)}

	positions, err := s.positions.List(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Агрегаты недоступны, отдаём пустые")
		return summary
	}

	funds := make(map[string]struct{})
	for _, p := range positions {
		summary.TotalInvested += p.Amount
		summary.UnitsByFund[p.FundID] += p.Units
		funds[p.FundID] = struct{}{}
	}
	summary.PositionCount = len(positions)
	summary.UniqueFunds = len(funds)
	if len(positions) > 0 {
		summary.AverageAmount = float64(summary.TotalInvested) / float64(len(positions))
	}
	return summary
}

func (s *Service) checkRequestID(ctx context.Context, userID, requestID string) error {
	if requestID == "" {
		return nil
	}
	seen, err := s.dedup.Seen(ctx, userID, requestID)
	if err != nil {
		return err
	}
	if seen {
		return common.ErrDuplicateRequest
	}
	return nil
}

func (s *Service) recordRequestID(ctx context.Context, userID, requestID string) {
	if requestID == "" {
		return
	}
	if err := s.dedup.Record(ctx, userID, requestID); err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Request id не записан")
	}
}
