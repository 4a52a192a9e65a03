// Package rewards — service.go реализует протокол идемпотентного начисления.
// Порядок шагов критичен: маркер проверяется до всего, минуты берутся до
// открытия транзакции леджера, маркер пишется только после коммита кредита.
package rewards

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"focusbank.ru/gating-engine/internal/common"
	"focusbank.ru/gating-engine/internal/config"
	"focusbank.ru/gating-engine/internal/features/ledger"
	"focusbank.ru/gating-engine/internal/metrics"
)

// Service начисляет награды за окна вовлечённости.
type Service struct {
	ledger     *ledger.Service
	markers    MarkerStore
	dedup      DedupStore
	engagement EngagementSource
	cfg        *config.Config

	// Подменяется в тестах для контроля «сейчас».
	now func() time.Time
}

// NewService создаёт сервис наград.
func NewService(ledgerService *ledger.Service, markers MarkerStore, dedup DedupStore, engagement EngagementSource, cfg *config.Config) *Service {
	return &Service{
		ledger:     ledgerService,
		markers:    markers,
		dedup:      dedup,
		engagement: engagement,
		cfg:        cfg,
		now:        time.Now,
	}
}

// CreditWindow начисляет токены за окно [windowStart, windowEnd) не более
// одного раза. minutesOverride, если задан, используется вместо похода
// к источнику минут.
//
// Протокол:
//  1. маркер существует → {0,0}, леджер не трогаем (no-op, не ошибка);
//  2. минуты: override либо источник вовлечённости;
//  3. токены = floor(минуты/60) * ставка (неполные часы сгорают);
//  4. токены > 0 → кредит типа reward в леджер;
//  5. маркер пишется ТОЛЬКО после коммита шага 4 (при нуле — сразу,
//     чтобы не пересчитывать окно заново).
//
// Если шаг 4 прошёл, а запись маркера упала, повтор того же окна начислит
// ещё раз — принятый at-least-once риск только на падении записи маркера.
func (s *Service) CreditWindow(ctx context.Context, userID string, windowStart, windowEnd int64, minutesOverride *int64) (*CreditResult, error) {
	if windowEnd <= windowStart {
		return nil, fmt.Errorf("некорректное окно [%d, %d): %w", windowStart, windowEnd, common.ErrInvalidAmount)
	}

	// Жёсткая проверка давности НЕ зависит от маркера: окно старше
	// горизонта хранения не начисляется, даже если маркер уже вычищен.
	// Иначе удаление маркера открывало бы повторное начисление.
	cutoff := s.now().Add(-s.cfg.MarkerRetention)
	if common.MillisToTime(windowEnd).Before(cutoff) {
		log.WithFields(log.Fields{
			"user_id":    userID,
			"window_end": windowEnd,
		}).Warn("Окно старше горизонта хранения — начисление отклонено")
		return &CreditResult{}, nil
	}

	key := WindowKey{UserID: userID, WindowStart: windowStart, WindowEnd: windowEnd}
	exists, err := s.markers.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		metrics.RewardWindowsSkipped.Inc()
		return &CreditResult{}, nil
	}

	// Минуты берём до открытия транзакции леджера: ожидание внешнего
	// коллаборатора не должно держать никакую блокировку.
	var minutes int64
	if minutesOverride != nil {
		minutes = *minutesOverride
	} else {
		minutes, err = s.engagement.Minutes(ctx, userID, windowStart, windowEnd)
		if err != nil {
			metrics.CollaboratorErrors.WithLabelValues("engagement").Inc()
			return nil, fmt.Errorf("минуты вовлечённости: %w", common.ErrCollaboratorUnavailable)
		}
	}
	if minutes < 0 {
		return nil, common.ErrInvalidAmount
	}

	tokens := minutes / 60 * s.cfg.RewardTokensPerHour

	if tokens > 0 {
		_, err = s.ledger.Apply(ctx, userID, ledger.Credit(tokens, ledger.TxReward, ledger.RewardMeta{
			Minutes:     minutes,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
		}))
		if err != nil {
			return nil, err
		}
		metrics.RewardWindowsCredited.Inc()
	}

	if err := s.markers.Put(ctx, key); err != nil {
		// Кредит уже закоммичен — не откатываем. Повтор окна начислит
		// ещё раз; риск принят и ограничен этим единственным случаем.
		log.WithError(err).WithFields(log.Fields{
			"user_id":      userID,
			"window_start": windowStart,
			"window_end":   windowEnd,
		}).Error("Маркер не записан: повтор окна может начислить повторно")
	}

	log.WithFields(log.Fields{
		"user_id": userID,
		"minutes": minutes,
		"tokens":  tokens,
	}).Info("Окно вовлечённости обработано")

	return &CreditResult{TokensAwarded: tokens, TotalMinutes: minutes}, nil
}

// CreditLastHour начисляет за окно «последний час» относительно вызова.
func (s *Service) CreditLastHour(ctx context.Context, userID string) (*CreditResult, error) {
	start, end := common.WindowMillis(s.now(), time.Hour)
	return s.CreditWindow(ctx, userID, start, end, nil)
}

// CreditLastDay начисляет за окно «последние 24 часа» относительно вызова.
func (s *Service) CreditLastDay(ctx context.Context, userID string) (*CreditResult, error) {
	start, end := common.WindowMillis(s.now(), 24*time.Hour)
	return s.CreditWindow(ctx, userID, start, end, nil)
}

// Cleanup удаляет маркеры и ключи дедупликации старше горизонта хранения.
// Безопасно для корректности баланса: окна старше горизонта отклоняет
// жёсткая проверка давности в CreditWindow.
func (s *Service) Cleanup(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.MarkerRetention)

	markers, err := s.markers.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	keys, err := s.dedup.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"markers":      markers,
		"request_keys": keys,
	}).Info("Очистка идемпотентности выполнена")
	return nil
}
