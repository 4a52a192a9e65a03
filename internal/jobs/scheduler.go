// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: ежечасное начисление наград,
// периодическая реконсиляция истёкших сессий и ночная очистка маркеров.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"focusbank.ru/gating-engine/internal/config"
	"focusbank.ru/gating-engine/internal/features/ledger"
	"focusbank.ru/gating-engine/internal/features/rewards"
	"focusbank.ru/gating-engine/internal/features/unlocks"
)

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron           *cron.Cron
	store          ledger.Store
	rewardsService *rewards.Service
	unlocksService *unlocks.Service
}

// NewScheduler создаёт планировщик задач в часовом поясе из конфигурации.
func NewScheduler(cfg *config.Config, store ledger.Store, rewardsService *rewards.Service, unlocksService *unlocks.Service) *Scheduler {
	loc, err := time.LoadLocation(cfg.AppTimezone)
	if err != nil {
		log.WithError(err).Warnf("Не удалось загрузить %s, используем UTC+3", cfg.AppTimezone)
		loc = time.FixedZone("MSK", 3*60*60)
	}

	c := cron.New(cron.WithLocation(loc))

	return &Scheduler{
		cron:           c,
		store:          store,
		rewardsService: rewardsService,
		unlocksService: unlocksService,
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) {
	// Начисление за прошедший час всем известным пользователям.
	// Маркеры окон делают повторный запуск безопасным.
	s.cron.AddFunc("0 * * * *", func() {
		log.Debug("[CRON] Начисление наград за час")
		s.forEachUser(ctx, "начисления", func(userID string) error {
			_, err := s.rewardsService.CreditLastHour(ctx, userID)
			return err
		})
	})

	// Реконсиляция истёкших unlock-сессий каждые 5 минут
	s.cron.AddFunc("*/5 * * * *", func() {
		log.Debug("[CRON] Реконсиляция unlock-сессий")
		s.forEachUser(ctx, "реконсиляции", func(userID string) error {
			return s.unlocksService.Reconcile(ctx, userID)
		})
	})

	// Ночная очистка маркеров и ключей дедупликации
	s.cron.AddFunc("30 3 * * *", func() {
		log.Info("[CRON] Очистка идемпотентности")
		if err := s.rewardsService.Cleanup(ctx); err != nil {
			log.WithError(err).Error("[CRON] Ошибка очистки")
		}
	})

	s.cron.Start()
	log.Info("Планировщик задач запущен")
}

// forEachUser прогоняет задачу по всем пользователям. Ошибка одного
// пользователя не прерывает обход остальных.
func (s *Scheduler) forEachUser(ctx context.Context, label string, fn func(userID string) error) {
	userIDs, err := s.store.UserIDs(ctx)
	if err != nil {
		log.WithError(err).Errorf("[CRON] Ошибка получения пользователей для %s", label)
		return
	}
	for _, userID := range userIDs {
		if err := fn(userID); err != nil {
			log.WithError(err).WithField("user_id", userID).Errorf("[CRON] Ошибка %s", label)
		}
	}
}

// Stop останавливает планировщик.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
