// Package app инициализирует все компоненты движка.
// app.go — точка сборки: создаёт хранилище (Postgres или in-memory),
// сервисы, HTTP-сервер и планировщик, и применяет встроенные миграции.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"focusbank.ru/gating-engine/internal/clients"
	"focusbank.ru/gating-engine/internal/config"
	"focusbank.ru/gating-engine/internal/db/postgres"
	"focusbank.ru/gating-engine/internal/features/invest"
	"focusbank.ru/gating-engine/internal/features/ledger"
	"focusbank.ru/gating-engine/internal/features/rewards"
	"focusbank.ru/gating-engine/internal/features/unlocks"
	"focusbank.ru/gating-engine/internal/jobs"
	"focusbank.ru/gating-engine/internal/server"
)

// App содержит все компоненты движка.
type App struct {
	Server    *server.Server
	Handler   http.Handler
	Scheduler *jobs.Scheduler
	DB        *pgxpool.Pool // nil при STORAGE_DRIVER=memory
}

// New создаёт и инициализирует движок.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. Хранилище ===
	var (
		pool      *pgxpool.Pool
		store     ledger.Store
		markers   rewards.MarkerStore
		dedup     rewards.DedupStore
		positions invest.PositionStore
	)

	switch cfg.StorageDriver {
	case "memory":
		log.Warn("Хранилище in-memory: данные живут до перезапуска")
		store = ledger.NewMemoryStore()
		markers = rewards.NewMemoryMarkers()
		dedup = rewards.NewMemoryDedup()
		positions = invest.NewMemoryPositions()
	default:
		var err error
		pool, err = postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
		}
		if err := runMigrations(ctx, pool); err != nil {
			return nil, fmt.Errorf("ошибка миграций: %w", err)
		}
		store = ledger.NewPostgresStore(pool, cfg.LedgerMaxRetries)
		markers = rewards.NewPostgresMarkers(pool)
		dedup = rewards.NewPostgresDedup(pool)
		positions = invest.NewPostgresPositions(pool)
	}

	// === 2. Клиенты коллабораторов ===
	engagementClient := clients.NewEngagementClient(cfg.EngagementBaseURL, cfg.CollaboratorTimeout)
	enforcementClient := clients.NewEnforcementClient(cfg.EnforcementBaseURL, cfg.CollaboratorTimeout)
	paymentClient := clients.NewPaymentClient(cfg.PaymentBaseURL, cfg.CollaboratorTimeout)

	// === 3. Сервисы ===
	ledgerService := ledger.NewService(store)
	rewardsService := rewards.NewService(ledgerService, markers, dedup, engagementClient, cfg)
	unlocksService := unlocks.NewService(store, enforcementClient, dedup, cfg)
	investService := invest.NewService(ledgerService, positions, paymentClient, dedup, cfg)

	// === 4. HTTP-сервер ===
	srv := server.New(cfg, ledgerService, rewardsService, unlocksService, investService)

	// === 5. Планировщик задач ===
	scheduler := jobs.NewScheduler(cfg, store, rewardsService, unlocksService)

	return &App{
		Server:    srv,
		Handler:   srv.Router(),
		Scheduler: scheduler,
		DB:        pool,
	}, nil
}

// Close освобождает ресурсы движка.
func (a *App) Close() {
	a.Server.Close()
	if a.DB != nil {
		a.DB.Close()
	}
}

// runMigrations выполняет все SQL-миграции.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if err := postgres.EnsureMigrationTable(ctx, pool); err != nil {
		return err
	}

	// Выполняем миграции по порядку
	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001Balances},
		{2, migration002Transactions},
		{3, migration003RewardMarkers},
		{4, migration004RequestKeys},
		{5, migration005Positions},
	}

	for _, m := range migrations {
		if err := postgres.ExecMigrationSQL(ctx, pool, m.version, m.sql); err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
		log.Infof("Миграция %d применена", m.version)
	}

	return nil
}

// SQL-миграции встроены в код для упрощения деплоя.

var migration001Balances = `
CREATE TABLE IF NOT EXISTS balances (
    user_id VARCHAR(64) PRIMARY KEY,
    tokens BIGINT NOT NULL DEFAULT 0 CHECK (tokens >= 0),
    locked_apps TEXT[] NOT NULL DEFAULT '{}',
    unlock_sessions JSONB NOT NULL DEFAULT '[]',
    mmf_preference VARCHAR(64) NOT NULL DEFAULT '',
    version BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

var migration002Transactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id BIGSERIAL PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL REFERENCES balances(user_id),
    tx_type VARCHAR(32) NOT NULL,
    amount BIGINT NOT NULL,
    balance_after BIGINT NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_created
    ON transactions(user_id, created_at DESC);
`

var migration003RewardMarkers = `
CREATE TABLE IF NOT EXISTS reward_markers (
    user_id VARCHAR(64) NOT NULL,
    window_start BIGINT NOT NULL,
    window_end BIGINT NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, window_start, window_end)
);

CREATE INDEX IF NOT EXISTS idx_reward_markers_processed
    ON reward_markers(processed_at);
`

var migration004RequestKeys = `
CREATE TABLE IF NOT EXISTS request_keys (
    user_id VARCHAR(64) NOT NULL,
    request_id VARCHAR(128) NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, request_id)
);

CREATE INDEX IF NOT EXISTS idx_request_keys_processed
    ON request_keys(processed_at);
`

var migration005Positions = `
CREATE TABLE IF NOT EXISTS investment_positions (
    id UUID PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL REFERENCES balances(user_id),
    fund_id VARCHAR(64) NOT NULL,
    fund_name VARCHAR(255) NOT NULL DEFAULT '',
    amount BIGINT NOT NULL CHECK (amount > 0),
    units DOUBLE PRECISION NOT NULL,
    payment_reference VARCHAR(128),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_positions_user
    ON investment_positions(user_id, created_at);
`
