// Package unlocks управляет платными разблокировками приложений.
// State-машина на (пользователь, пакет): Locked → Unlocked (активная
// сессия) → Locked (реконсиляция после истечения). Отдельное терминальное
// состояние Ungoverned — пакет выведен из-под управления навсегда.
package unlocks

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"focusbank.ru/gating-engine/internal/common"
	"focusbank.ru/gating-engine/internal/config"
	"focusbank.ru/gating-engine/internal/features/ledger"
	"focusbank.ru/gating-engine/internal/features/rewards"
	"focusbank.ru/gating-engine/internal/metrics"
)

// EnforcementSync — one-way пуш enforced-набора во внешний
// enforcement-коллаборатор. НЕ часть атомарной транзакции леджера:
// best-effort уведомление после коммита. Движок никогда не спрашивает
// коллаборатора о текущей истине, только пушит намерение.
type EnforcementSync interface {
	SetLockedPackages(ctx context.Context, userID string, packages []string) error
}

// Result — результат spend-операции разблокировки.
// Отказ по балансу — policy-решение, не ошибка.
type Result struct {
	Success    bool   `json:"success"`
	NewBalance int64  `json:"new_balance"`
	Message    string `json:"message"`
}

// Service управляет unlock-сессиями и enforced-набором.
type Service struct {
	store       ledger.Store
	enforcement EnforcementSync
	dedup       rewards.DedupStore
	cfg         *config.Config

	// Подменяется в тестах для контроля «сейчас».
	now func() time.Time
}

// NewService создаёт менеджер разблокировок.
func NewService(store ledger.Store, enforcement EnforcementSync, dedup rewards.DedupStore, cfg *config.Config) *Service {
	return &Service{
		store:       store,
		enforcement: enforcement,
		dedup:       dedup,
		cfg:         cfg,
		now:         time.Now,
	}
}

// SpendUnlock списывает стоимость разблокировки и выдаёт временную сессию.
// Атомарно в одной мутации леджера: проверка баланса, дебет, удаление
// пакета из enforced-набора, чистка истёкших сессий пакета, новая сессия.
//
// requestID (опционально) защищает от двойного списания при ретрае после
// неоднозначного сбоя: повтор того же id падает с ErrDuplicateRequest.
//
// Вебхук requestUnlock от enforcement-коллаборатора обрабатывается
// идентично этому вызову.
func (s *Service) SpendUnlock(ctx context.Context, userID, pkg, displayName, requestID string) (*Result, error) {
	if pkg == "" {
		return nil, fmt.Errorf("пустой идентификатор пакета: %w", common.ErrInvalidAmount)
	}
	if err := s.checkRequestID(ctx, userID, requestID); err != nil {
		return nil, err
	}

	cost := s.cfg.UnlockCost
	var balanceOnRefusal int64

	rec, _, err := s.store.Mutate(ctx, userID, func(rec *ledger.BalanceRecord) (*ledger.TransactionEntry, error) {
		if rec.Tokens < cost {
			balanceOnRefusal = rec.Tokens
			return nil, common.ErrInsufficientBalance
		}

		now := s.now()
		rec.Tokens -= cost
		rec.RemoveLocked(pkg)

		// Истёкшие сессии этого пакета выбрасываем, активные чужие не трогаем
		kept := rec.UnlockSessions[:0]
		for _, sess := range rec.UnlockSessions {
			if sess.Package == pkg && sess.Expired(now) {
				continue
			}
			kept = append(kept, sess)
		}
		rec.UnlockSessions = append(kept, ledger.UnlockSession{
			Package:    pkg,
			UnlockedAt: now,
			ExpiresAt:  now.Add(s.cfg.UnlockDuration()),
		})

		return &ledger.TransactionEntry{
			Type:         ledger.TxUnlock,
			Amount:       -cost,
			BalanceAfter: rec.Tokens,
			Metadata:     ledger.UnlockMeta{Package: pkg, DisplayName: displayName},
		}, nil
	})
	if errors.Is(err, common.ErrInsufficientBalance) {
		// Без дебета, без сессии, без записи журнала
		return &Result{
			Success:    false,
			NewBalance: balanceOnRefusal,
			Message:    fmt.Sprintf("нужно %s, на счёте %s", common.FormatBalance(cost), common.FormatBalance(balanceOnRefusal)),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	metrics.LedgerOperations.WithLabelValues(string(ledger.TxUnlock)).Inc()
	log.WithFields(log.Fields{
		"user_id": userID,
		"package": pkg,
		"balance": rec.Tokens,
	}).Info("Разблокировка выдана")

	// Спенд финален: неудача пуша НЕ откатывает мутацию,
	// конвергенция — на следующей реконсиляции.
	s.pushLockedSet(ctx, userID, rec.LockedApps)
	s.recordRequestID(ctx, userID, requestID)

	return &Result{
		Success:    true,
		NewBalance: rec.Tokens,
		Message:    fmt.Sprintf("%s разблокировано до %s", pkg, common.FormatDateTime(rec.UnlockSessions[len(rec.UnlockSessions)-1].ExpiresAt)),
	}, nil
}

// Reconcile возвращает пакеты истёкших сессий в enforced-набор одним
// атомарным апдейтом и пушит результат. No-op, если ничего не истекло.
// Безопасно вызывать сколь угодно часто и конкурентно со SpendUnlock:
// обе операции сериализуются через один примитив мутации.
func (s *Service) Reconcile(ctx context.Context, userID string) error {
	changed := false

	rec, _, err := s.store.Mutate(ctx, userID, func(rec *ledger.BalanceRecord) (*ledger.TransactionEntry, error) {
		now := s.now()
		var active []ledger.UnlockSession
		var expired []string
		for _, sess := range rec.UnlockSessions {
			if sess.Expired(now) {
				expired = append(expired, sess.Package)
			} else {
				active = append(active, sess)
			}
		}
		if len(expired) == 0 {
			return nil, ledger.ErrNoMutation
		}

		// Объединение с дедупликацией: AddLocked не создаёт дублей
		for _, pkg := range expired {
			rec.AddLocked(pkg)
		}
		rec.UnlockSessions = active
		changed = true
		return nil, nil
	})
	if err != nil {
		return err
	}

	if changed {
		log.WithFields(log.Fields{
			"user_id":  userID,
			"sessions": len(rec.UnlockSessions),
		}).Info("Истёкшие сессии возвращены в enforced-набор")
		s.pushLockedSet(ctx, userID, rec.LockedApps)
	}
	return nil
}

// Lock ставит пакет под enforcement без стоимости и без сессий.
func (s *Service) Lock(ctx context.Context, userID, pkg string) error {
	return s.editLockedSet(ctx, userID, func(rec *ledger.BalanceRecord) bool {
		if rec.HasLocked(pkg) {
			return false
		}
		rec.AddLocked(pkg)
		return true
	})
}

// LockMany ставит под enforcement несколько пакетов разом.
func (s *Service) LockMany(ctx context.Context, userID string, pkgs []string) error {
	return s.editLockedSet(ctx, userID, func(rec *ledger.BalanceRecord) bool {
		changed := false
		for _, pkg := range pkgs {
			if !rec.HasLocked(pkg) {
				rec.AddLocked(pkg)
				changed = true
			}
		}
		return changed
	})
}

// UnlockPermanently выводит пакет из-под управления навсегда (Ungoverned):
// без стоимости, без сессии, без ограничения по времени.
func (s *Service) UnlockPermanently(ctx context.Context, userID, pkg string) error {
	return s.editLockedSet(ctx, userID, func(rec *ledger.BalanceRecord) bool {
		if !rec.HasLocked(pkg) {
			return false
		}
		rec.RemoveLocked(pkg)
		return true
	})
}

// editLockedSet — общий каркас прямых правок enforced-набора:
// атомарная правка без записи журнала, затем пуш.
func (s *Service) editLockedSet(ctx context.Context, userID string, edit func(*ledger.BalanceRecord) bool) error {
	changed := false

	rec, _, err := s.store.Mutate(ctx, userID, func(rec *ledger.BalanceRecord) (*ledger.TransactionEntry, error) {
		if !edit(rec) {
			return nil, ledger.ErrNoMutation
		}
		changed = true
		return nil, nil
	})
	if err != nil {
		return err
	}
	if changed {
		s.pushLockedSet(ctx, userID, rec.LockedApps)
	}
	return nil
}

// LockedPackages возвращает текущий enforced-набор пользователя.
func (s *Service) LockedPackages(ctx context.Context, userID string) ([]string, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rec.LockedApps, nil
}

// pushLockedSet — best-effort пуш после коммита. Ошибка только логируется:
// enforcement-коллаборатор сойдётся на следующей реконсиляции.
func (s *Service) pushLockedSet(ctx context.Context, userID string, packages []string) {
	if err := s.enforcement.SetLockedPackages(ctx, userID, packages); err != nil {
		metrics.EnforcementSyncFailures.Inc()
		log.WithError(err).WithField("user_id", userID).Warn("Пуш enforced-набора не удался")
	}
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
	// Пишется после коммита, как маркер окна: тот же принятый риск
	if err := s.dedup.Record(ctx, userID, requestID); err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Request id не записан")
	}
}
