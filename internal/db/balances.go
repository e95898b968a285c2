package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/coinex/internal/history"
	"github.com/xtrntr/coinex/internal/models"
)

// CreateBalance opens a cash account for a user, leaving an existing one untouched
func (db *DB) CreateBalance(ctx context.Context, userID int64, amount decimal.Decimal) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO balances (user_id, amount) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING",
		userID, amount.String())
	if err != nil {
		return fmt.Errorf("failed to create balance: %w", err)
	}
	return nil
}

// Balance returns the cash a user holds
func (db *DB) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var amountStr string
	err := db.Pool.QueryRow(ctx, "SELECT amount::text FROM balances WHERE user_id = $1", userID).Scan(&amountStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, models.ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance: %w", err)
	}
	return amount, nil
}

// Debit takes amount from a user's cash. A ref seen before is a no-op.
func (db *DB) Debit(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error {
	return db.adjust(ctx, userID, amount.Neg(), ref, nil)
}

// Credit adds amount to a user's cash. A ref seen before is a no-op.
func (db *DB) Credit(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error {
	return db.adjust(ctx, userID, amount, ref, nil)
}

// Deposit credits cash and records the DEPOSIT in history in one transaction
func (db *DB) Deposit(ctx context.Context, userID int64, amount decimal.Decimal) (*models.TransactionHistory, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit must be positive", models.ErrInvalidOrder)
	}
	ref := "deposit:" + uuid.NewString()
	record := history.NewDepositRecord(userID, amount, ref, time.Now())
	if err := db.adjust(ctx, userID, amount, ref, record); err != nil {
		return nil, err
	}
	return record, nil
}

// adjust applies delta to a balance once per ref, optionally appending a
// history record in the same transaction
func (db *DB) adjust(ctx context.Context, userID int64, delta decimal.Decimal, ref string, record *models.TransactionHistory) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM balances WHERE user_id = $1)", userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check balance existence: %w", err)
	}
	if !exists {
		return models.ErrUserNotFound
	}

	tag, err := tx.Exec(ctx,
		"INSERT INTO balance_entries (ref, user_id, amount) VALUES ($1, $2, $3) ON CONFLICT (ref) DO NOTHING",
		ref, userID, delta.String())
	if err != nil {
		return fmt.Errorf("failed to record balance entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	tag, err = tx.Exec(ctx,
		"UPDATE balances SET amount = amount + $2, updated_at = NOW() WHERE user_id = $1 AND amount + $2 >= 0",
		userID, delta.String())
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %d cannot cover %s", models.ErrInsufficientBalance, userID, delta.Neg())
	}

	if record != nil {
		if err := insertHistory(ctx, tx, record); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
