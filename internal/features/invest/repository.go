// Package invest — repository.go хранит позиции в PostgreSQL.
package invest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPositions — append-only таблица investment_positions.
type PostgresPositions struct {
	db *pgxpool.Pool
}

// NewPostgresPositions создаёт хранилище позиций.
func NewPostgresPositions(db *pgxpool.Pool) *PostgresPositions {
	return &PostgresPositions{db: db}
}

func (r *PostgresPositions) Append(ctx context.Context, pos *Position) error {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO investment_positions (id, user_id, fund_id, fund_name, amount, units, payment_reference)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		RETURNING created_at
	`, pos.ID, pos.UserID, pos.FundID, pos.FundName, pos.Amount, pos.Units, pos.PaymentReference).Scan(&pos.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи позиции: %w", err)
	}
	return nil
}

func (r *PostgresPositions) List(ctx context.Context, userID string) ([]*Position, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, fund_id, fund_name, amount, units, COALESCE(payment_reference, ''), created_at
		FROM investment_positions
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения позиций: %w", err)
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.ID, &p.UserID, &p.FundID, &p.FundName, &p.Amount, &p.Units, &p.PaymentReference, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования позиции: %w", err)
		}
		positions = append(positions, &p)
	}
	return positions, rows.Err()
}
