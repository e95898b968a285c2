package kv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/coinex/internal/models"
)

// SaveTicker overwrites the latest snapshot of an asset
func (s *Store) SaveTicker(ctx context.Context, t models.Ticker) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticker: %w", err)
	}
	if err := s.rdb.Set(ctx, tickerKey(t.Code), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save ticker %s: %w", t.Code, err)
	}
	return nil
}

// FindTicker returns the latest snapshot of an asset
func (s *Store) FindTicker(ctx context.Context, code string) (*models.Ticker, error) {
	return getJSON[models.Ticker](ctx, s.rdb, tickerKey(code), models.ErrPriceNotFound)
}

// CurrentPrice returns the last traded price of an asset
func (s *Store) CurrentPrice(ctx context.Context, code string) (decimal.Decimal, error) {
	t, err := s.FindTicker(ctx, code)
	if err != nil {
		return decimal.Zero, err
	}
	return t.TradePrice, nil
}
