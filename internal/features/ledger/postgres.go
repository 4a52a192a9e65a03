// Package ledger — postgres.go реализует Store поверх PostgreSQL (pgx).
// Мутация выполняется в транзакции БД: UPDATE записи обусловлен номером
// версии, при конкурентной записи — повтор с нарастающей паузой.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"focusbank.ru/gating-engine/internal/common"
	"focusbank.ru/gating-engine/internal/metrics"
)

// PostgresStore хранит записи баланса в таблицах balances/transactions.
type PostgresStore struct {
	db         *pgxpool.Pool
	maxRetries int
}

// NewPostgresStore создаёт хранилище леджера.
// maxRetries — сколько раз повторять мутацию при конфликте версий.
func NewPostgresStore(db *pgxpool.Pool, maxRetries int) *PostgresStore {
	return &PostgresStore{db: db, maxRetries: maxRetries}
}

func (s *PostgresStore) Provision(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO balances (user_id, tokens, locked_apps, unlock_sessions, mmf_preference, version)
		VALUES ($1, 0, '{}', '[]', '', 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("ошибка создания записи баланса: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*BalanceRecord, error) {
	return s.getRecord(ctx, s.db, userID)
}

// querier покрывает и пул, и открытую транзакцию.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) getRecord(ctx context.Context, q querier, userID string) (*BalanceRecord, error) {
	var (
		rec         BalanceRecord
		sessionsRaw []byte
	)
	err := q.QueryRow(ctx, `
		SELECT user_id, tokens, locked_apps, unlock_sessions, mmf_preference, version, updated_at
		FROM balances WHERE user_id = $1
	`, userID).Scan(
		&rec.UserID, &rec.Tokens, &rec.LockedApps, &sessionsRaw,
		&rec.MMFPreference, &rec.Version, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения записи баланса: %w", err)
	}
	if err := json.Unmarshal(sessionsRaw, &rec.UnlockSessions); err != nil {
		return nil, fmt.Errorf("ошибка декодирования unlock-сессий: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) Mutate(ctx context.Context, userID string, fn MutateFunc) (*BalanceRecord, *TransactionEntry, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		rec, entry, conflict, err := s.tryMutate(ctx, userID, fn)
		if err != nil {
			return nil, nil, err
		}
		if !conflict {
			return rec, entry, nil
		}

		// Конкурентная запись успела раньше — подождём и перечитаем.
		metrics.LedgerConflictRetries.Inc()
		time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
	}

	metrics.LedgerConflictsExhausted.Inc()
	log.WithField("user_id", userID).Warn("Исчерпаны повторы оптимистической блокировки")
	return nil, nil, common.ErrTransientConflict
}

// tryMutate — одна попытка мутации. conflict=true означает, что версия
// записи изменилась между чтением и записью, и нужен повтор.
func (s *PostgresStore) tryMutate(ctx context.Context, userID string, fn MutateFunc) (*BalanceRecord, *TransactionEntry, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, false, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	before, err := s.getRecord(ctx, tx, userID)
	if err != nil {
		return nil, nil, false, err
	}

	rec := before.Clone()
	entry, err := fn(rec)
	if errors.Is(err, ErrNoMutation) {
		// Менять нечего — отдаём прочитанное состояние без записи.
		return before, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}

	sessionsRaw, err := json.Marshal(rec.UnlockSessions)
	if err != nil {
		return nil, nil, false, fmt.Errorf("ошибка кодирования unlock-сессий: %w", err)
	}

	// Запись обусловлена версией: если её успели поменять — 0 строк.
	tag, err := tx.Exec(ctx, `
		UPDATE balances
		SET tokens = $2, locked_apps = $3, unlock_sessions = $4,
		    mmf_preference = $5, version = version + 1, updated_at = NOW()
		WHERE user_id = $1 AND version = $6
	`, userID, rec.Tokens, rec.LockedApps, sessionsRaw, rec.MMFPreference, before.Version)
	if err != nil {
		return nil, nil, false, fmt.Errorf("ошибка записи баланса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil, true, nil
	}
	rec.Version = before.Version + 1

	if entry != nil {
		entry.UserID = userID
		metaRaw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return nil, nil, false, fmt.Errorf("ошибка кодирования метаданных: %w", err)
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO transactions (user_id, tx_type, amount, balance_after, metadata)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, userID, string(entry.Type), entry.Amount, entry.BalanceAfter, metaRaw).Scan(&entry.ID, &entry.CreatedAt)
		if err != nil {
			return nil, nil, false, fmt.Errorf("ошибка записи журнала: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, false, fmt.Errorf("ошибка коммита: %w", err)
	}
	return rec, entry, false, nil
}

func (s *PostgresStore) Entries(ctx context.Context, userID string, limit int) ([]*TransactionEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, tx_type, amount, balance_after, metadata, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала: %w", err)
	}
	defer rows.Close()

	var entries []*TransactionEntry
	for rows.Next() {
		var (
			e       TransactionEntry
			txType  string
			metaRaw []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &txType, &e.Amount, &e.BalanceAfter, &metaRaw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи журнала: %w", err)
		}
		e.Type = TxType(txType)
		if e.Metadata, err = DecodeMetadata(e.Type, metaRaw); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id FROM balances ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка пользователей: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
