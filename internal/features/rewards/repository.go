// Package rewards — repository.go реализует хранилища идемпотентности
// поверх PostgreSQL: маркеры окон и ключи дедупликации запросов.
package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMarkers хранит маркеры в таблице reward_markers
// с составным первичным ключом (user_id, window_start, window_end).
type PostgresMarkers struct {
	db *pgxpool.Pool
}

// NewPostgresMarkers создаёт хранилище маркеров.
func NewPostgresMarkers(db *pgxpool.Pool) *PostgresMarkers {
	return &PostgresMarkers{db: db}
}

func (r *PostgresMarkers) Exists(ctx context.Context, key WindowKey) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM reward_markers
			WHERE user_id = $1 AND window_start = $2 AND window_end = $3
		)
	`, key.UserID, key.WindowStart, key.WindowEnd).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки маркера: %w", err)
	}
	return exists, nil
}

func (r *PostgresMarkers) Put(ctx context.Context, key WindowKey) error {
	// ON CONFLICT DO NOTHING: конкурентная двойная подача одного окна
	// оставляет один маркер, вторая запись — no-op.
	_, err := r.db.Exec(ctx, `
		INSERT INTO reward_markers (user_id, window_start, window_end)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, window_start, window_end) DO NOTHING
	`, key.UserID, key.WindowStart, key.WindowEnd)
	if err != nil {
		return fmt.Errorf("ошибка записи маркера: %w", err)
	}
	return nil
}

func (r *PostgresMarkers) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM reward_markers WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки маркеров: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PostgresDedup хранит request id spend-операций в таблице request_keys.
type PostgresDedup struct {
	db *pgxpool.Pool
}

// NewPostgresDedup создаёт хранилище ключей дедупликации.
func NewPostgresDedup(db *pgxpool.Pool) *PostgresDedup {
	return &PostgresDedup{db: db}
}

func (r *PostgresDedup) Seen(ctx context.Context, userID, requestID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM request_keys WHERE user_id = $1 AND request_id = $2)
	`, userID, requestID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки request id: %w", err)
	}
	return exists, nil
}

func (r *PostgresDedup) Record(ctx context.Context, userID, requestID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO request_keys (user_id, request_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, request_id) DO NOTHING
	`, userID, requestID)
	if err != nil {
		return fmt.Errorf("ошибка записи request id: %w", err)
	}
	return nil
}

func (r *PostgresDedup) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM request_keys WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки request id: %w", err)
	}
	return tag.RowsAffected(), nil
}
