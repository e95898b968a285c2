package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/coinex/internal/models"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func nullableCode(code string) *string {
	if code == "" {
		return nil
	}
	return &code
}

func insertHistory(ctx context.Context, q execer, h *models.TransactionHistory) error {
	if h.Ref == "" {
		return fmt.Errorf("%w: history record without ref", models.ErrDataIntegrity)
	}
	_, err := q.Exec(ctx, `
		INSERT INTO transaction_histories
			(ref, user_id, coin_code, transaction_type, amount, price, total_amount, commission, settled_amount, order_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (ref) DO NOTHING`,
		h.Ref, h.UserID, nullableCode(h.Code), string(h.Type),
		h.Amount.String(), h.Price.String(), h.TotalAmount.String(), h.Commission.String(), h.SettledAmount.String(),
		h.OrderTime, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// AppendHistory stores a settled record. A ref seen before is a no-op.
func (db *DB) AppendHistory(ctx context.Context, h *models.TransactionHistory) error {
	return insertHistory(ctx, db.Pool, h)
}

func historyWhere(f models.HistoryFilter) (string, []any) {
	conds := []string{"user_id = $1"}
	args := []any{f.UserID}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		conds = append(conds, fmt.Sprintf("created_at > $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		conds = append(conds, fmt.Sprintf("transaction_type = $%d", len(args)))
	}
	if f.Code != "" {
		args = append(args, f.Code)
		conds = append(conds, fmt.Sprintf("coin_code = $%d", len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// FindHistory returns the matching records newest first, plus the total
// number of matches ignoring Limit and Offset
func (db *DB) FindHistory(ctx context.Context, f models.HistoryFilter) ([]models.TransactionHistory, int, error) {
	where, args := historyWhere(f)

	var total int
	if err := db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM transaction_histories"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count history: %w", err)
	}

	query := `SELECT id, ref, user_id, COALESCE(coin_code, ''), transaction_type,
			amount::text, price::text, total_amount::text, commission::text, settled_amount::text,
			order_time, created_at
		FROM transaction_histories` + where + " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []models.TransactionHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read history: %w", err)
	}
	return records, total, nil
}

func scanHistory(rows pgx.Rows) (models.TransactionHistory, error) {
	var h models.TransactionHistory
	var typ string
	var amount, price, total, fee, settled string
	err := rows.Scan(&h.ID, &h.Ref, &h.UserID, &h.Code, &typ,
		&amount, &price, &total, &fee, &settled,
		&h.OrderTime, &h.CreatedAt)
	if err != nil {
		return h, fmt.Errorf("failed to scan history: %w", err)
	}
	h.Type = models.TransactionType(typ)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&h.Amount, amount},
		{&h.Price, price},
		{&h.TotalAmount, total},
		{&h.Commission, fee},
		{&h.SettledAmount, settled},
	} {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return h, fmt.Errorf("failed to parse history amount %q: %w", f.src, err)
		}
		*f.dst = v
	}
	return h, nil
}

// SumSettledByUser totals settled amounts per user for one transaction type.
// Cancellation records repeat fills that are already counted and are skipped.
func (db *DB) SumSettledByUser(ctx context.Context, typ models.TransactionType) (map[int64]decimal.Decimal, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT user_id, SUM(settled_amount)::text FROM transaction_histories
		 WHERE transaction_type = $1 AND ref NOT LIKE $2 GROUP BY user_id`,
		string(typ), models.CancelRefPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to sum history: %w", err)
	}
	defer rows.Close()

	sums := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var userID int64
		var sumStr string
		if err := rows.Scan(&userID, &sumStr); err != nil {
			return nil, fmt.Errorf("failed to scan sum: %w", err)
		}
		sum, err := decimal.NewFromString(sumStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse sum: %w", err)
		}
		sums[userID] = sum
	}
	return sums, rows.Err()
}
