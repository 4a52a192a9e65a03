// Package ledger управляет балансом токенов и журналом транзакций.
// models.go описывает запись баланса, запись журнала и метаданные операций.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// TxType — тип операции в журнале транзакций.
type TxType string

const (
	TxReward     TxType = "reward"     // Награда за время вовлечённости
	TxUnlock     TxType = "unlock"     // Платная разблокировка приложения
	TxPurchase   TxType = "purchase"   // Покупка токенов через платёжный шлюз
	TxInvestment TxType = "investment" // Вложение в фонд (или внешний взнос)
	TxWithdrawal TxType = "withdrawal" // Вывод со спендируемого баланса
)

// Metadata — типизированные метаданные записи журнала.
// Вместо «строковых» словарей каждый тип транзакции имеет свою структуру,
// что даёт проверку полноты на этапе компиляции при отображении и аудите.
type Metadata interface {
	TxType() TxType
}

// RewardMeta — метаданные начисления награды за окно вовлечённости.
type RewardMeta struct {
	Minutes     int64 `json:"minutes"`      // Измеренные минуты за окно
	WindowStart int64 `json:"window_start"` // Начало окна, мс с эпохи
	WindowEnd   int64 `json:"window_end"`   // Конец окна, мс с эпохи
}

func (RewardMeta) TxType() TxType { return TxReward }

// UnlockMeta — метаданные платной разблокировки приложения.
type UnlockMeta struct {
	Package     string `json:"package"`      // Идентификатор пакета приложения
	DisplayName string `json:"display_name"` // Имя для отображения в истории
}

func (UnlockMeta) TxType() TxType { return TxUnlock }

// PurchaseMeta — метаданные покупки токенов.
type PurchaseMeta struct {
	Reference   string `json:"reference"`   // Ссылка на платёж от шлюза
	Destination string `json:"destination"` // Источник средств (номер, счёт)
}

func (PurchaseMeta) TxType() TxType { return TxPurchase }

// InvestmentMeta — метаданные инвестиционной операции.
// Положительная сумма записи = внешний взнос (paymentReference задан),
// отрицательная = покупка с баланса. Reversal выставляется у
// компенсирующей записи, если позицию не удалось сохранить.
type InvestmentMeta struct {
	FundID           string  `json:"fund_id"`
	FundName         string  `json:"fund_name"`
	Units            float64 `json:"units"`
	PaymentReference string  `json:"payment_reference,omitempty"`
	Reversal         bool    `json:"reversal,omitempty"`
}

func (InvestmentMeta) TxType() TxType { return TxInvestment }

// WithdrawalMeta — метаданные вывода токенов.
type WithdrawalMeta struct {
	PayoutReference string `json:"payout_reference"`
}

func (WithdrawalMeta) TxType() TxType { return TxWithdrawal }

// DecodeMetadata восстанавливает типизированные метаданные из JSON
// по типу транзакции. nil-байты дают nil-метаданные.
func DecodeMetadata(t TxType, raw []byte) (Metadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var meta Metadata
	switch t {
	case TxReward:
		meta = &RewardMeta{}
	case TxUnlock:
		meta = &UnlockMeta{}
	case TxPurchase:
		meta = &PurchaseMeta{}
	case TxInvestment:
		meta = &InvestmentMeta{}
	case TxWithdrawal:
		meta = &WithdrawalMeta{}
	default:
		return nil, fmt.Errorf("неизвестный тип транзакции: %q", t)
	}
	if err := json.Unmarshal(raw, meta); err != nil {
		return nil, fmt.Errorf("ошибка декодирования метаданных %q: %w", t, err)
	}
	return meta, nil
}

// UnlockSession — временное исключение пакета из enforcement.
// Встроена в запись баланса: должна мутироваться атомарно с балансом.
// Никогда не обновляется на месте — истечение обнаруживается, не мутируется.
type UnlockSession struct {
	Package    string    `json:"package"`
	UnlockedAt time.Time `json:"unlocked_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired сообщает, истекла ли сессия к моменту now (expiresAt <= now).
func (s UnlockSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// BalanceRecord — единственный мутируемый документ пользователя.
// Мутируется ТОЛЬКО внутри Store.Mutate (атомарный read-modify-write).
type BalanceRecord struct {
	UserID         string
	Tokens         int64 // Инвариант: никогда не уходит ниже нуля
	LockedApps     []string
	UnlockSessions []UnlockSession
	MMFPreference  string // Последний выбранный фонд, только рекомендательно
	Version        int64  // Версия для оптимистической блокировки
	UpdatedAt      time.Time
}

// HasLocked проверяет, входит ли пакет в enforced-набор.
func (r *BalanceRecord) HasLocked(pkg string) bool {
	for _, p := range r.LockedApps {
		if p == pkg {
			return true
		}
	}
	return false
}

// AddLocked добавляет пакет в enforced-набор (без дубликатов).
func (r *BalanceRecord) AddLocked(pkg string) {
	if !r.HasLocked(pkg) {
		r.LockedApps = append(r.LockedApps, pkg)
	}
}

// RemoveLocked убирает пакет из enforced-набора.
func (r *BalanceRecord) RemoveLocked(pkg string) {
	out := r.LockedApps[:0]
	for _, p := range r.LockedApps {
		if p != pkg {
			out = append(out, p)
		}
	}
	r.LockedApps = out
}

// Clone возвращает глубокую копию записи. Нужен хранилищам, чтобы
// колбэк мутации не трогал разделяемое состояние до коммита.
func (r *BalanceRecord) Clone() *BalanceRecord {
	cp := *r
	cp.LockedApps = append([]string(nil), r.LockedApps...)
	cp.UnlockSessions = append([]UnlockSession(nil), r.UnlockSessions...)
	return &cp
}

// TransactionEntry — неизменяемая запись журнала.
// Создаётся ровно одна на каждую мутацию баланса, никогда не
// обновляется и не удаляется.
type TransactionEntry struct {
	ID           int64     `json:"id"` // Порядок коммитов леджера (BIGSERIAL)
	UserID       string    `json:"user_id"`
	Type         TxType    `json:"type"`
	Amount       int64     `json:"amount"`        // Знаковая: положительная = кредит, отрицательная = дебет
	BalanceAfter int64     `json:"balance_after"` // Снимок баланса сразу после этой записи
	Metadata     Metadata  `json:"metadata"`      // Типизированные метаданные по Type
	CreatedAt    time.Time `json:"created_at"`
}
