package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xtrntr/coinex/internal/models"
)

// FindCoin looks up a tradable coin by code
func (db *DB) FindCoin(ctx context.Context, code string) (*models.Coin, error) {
	coin := &models.Coin{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, code, name FROM coins WHERE code = $1", code).Scan(&coin.ID, &coin.Code, &coin.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrAssetNotFound, code)
		}
		return nil, fmt.Errorf("failed to get coin: %w", err)
	}
	return coin, nil
}

// CreateCoin registers a coin, updating its name when the code already exists
func (db *DB) CreateCoin(ctx context.Context, code, name string) (*models.Coin, error) {
	coin := &models.Coin{}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO coins (code, name) VALUES ($1, $2)
		 ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, code, name`,
		code, name).Scan(&coin.ID, &coin.Code, &coin.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create coin: %w", err)
	}
	return coin, nil
}

// ListCoins returns every coin ordered by code
func (db *DB) ListCoins(ctx context.Context) ([]models.Coin, error) {
	rows, err := db.Pool.Query(ctx, "SELECT id, code, name FROM coins ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to list coins: %w", err)
	}
	defer rows.Close()

	var coins []models.Coin
	for rows.Next() {
		var c models.Coin
		if err := rows.Scan(&c.ID, &c.Code, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan coin: %w", err)
		}
		coins = append(coins, c)
	}
	return coins, rows.Err()
}
