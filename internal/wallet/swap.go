package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/coinex/internal/commission"
	"github.com/xtrntr/coinex/internal/history"
	"github.com/xtrntr/coinex/internal/kv"
	"github.com/xtrntr/coinex/internal/models"
)

// SwapResult describes a completed swap
type SwapResult struct {
	GivenCode   string          `json:"givenCode"`
	GivenAmount decimal.Decimal `json:"givenAmount"`
	GivenPrice  decimal.Decimal `json:"givenCoinPrice"`
	TakenCode   string          `json:"takenCode"`
	TakenAmount decimal.Decimal `json:"takenAmount"`
	TakenPrice  decimal.Decimal `json:"takenCoinPrice"`
	Commission  decimal.Decimal `json:"commission"`
}

// Swap exchanges givenAmount of one held asset for another at live prices
func (l *Ledger) Swap(ctx context.Context, userID int64, givenCode string, givenAmount decimal.Decimal, takenCode string) (*SwapResult, error) {
	if givenCode == takenCode {
		return nil, fmt.Errorf("%w: cannot swap %s for itself", models.ErrInvalidOrder, givenCode)
	}
	if !givenAmount.IsPositive() {
		return nil, fmt.Errorf("%w: swap amount must be positive", models.ErrInvalidOrder)
	}

	unlock := l.locks.LockAll(userID, givenCode, takenCode)
	defer unlock()

	available, err := l.AvailableToSell(ctx, userID, givenCode)
	if err != nil {
		return nil, err
	}
	if available.LessThan(givenAmount) {
		return nil, models.ErrInsufficientHoldings
	}

	givenPrice, err := l.store.CurrentPrice(ctx, givenCode)
	if err != nil {
		return nil, err
	}
	takenPrice, err := l.store.CurrentPrice(ctx, takenCode)
	if err != nil {
		return nil, err
	}
	if !takenPrice.IsPositive() {
		return nil, fmt.Errorf("%w: no usable price for %s", models.ErrPriceNotFound, takenCode)
	}

	fee := commission.OrderCommission(givenPrice, givenAmount)
	takenAmount := givenAmount.Mul(givenPrice).Sub(fee).DivRound(takenPrice, 8)
	if !takenAmount.IsPositive() {
		return nil, fmt.Errorf("%w: swap yields nothing", models.ErrInvalidOrder)
	}

	ref := "swap:" + uuid.NewString()
	record := history.NewSwapRecord(userID, givenCode, givenAmount, givenPrice, fee, ref, time.Now())

	keys := []string{kv.WalletKey(userID, givenCode), kv.WalletKey(userID, takenCode)}
	err = l.store.Atomically(ctx, keys, func(tx *kv.Tx) error {
		if err := StageDispose(tx, userID, givenCode, givenAmount); err != nil {
			return err
		}
		if err := StageAcquire(tx, userID, takenCode, takenPrice, takenAmount); err != nil {
			return err
		}
		return tx.Enqueue(models.Settlement{ID: ref, UserID: userID, Credit: decimal.Zero, History: record})
	})
	if err != nil {
		return nil, err
	}
	l.notifier.Notify()

	l.log.Info("swap settled",
		zap.Int64("user_id", userID),
		zap.String("given", givenCode),
		zap.String("given_amount", givenAmount.String()),
		zap.String("taken", takenCode),
		zap.String("taken_amount", takenAmount.String()),
	)
	return &SwapResult{
		GivenCode:   givenCode,
		GivenAmount: givenAmount,
		GivenPrice:  givenPrice,
		TakenCode:   takenCode,
		TakenAmount: takenAmount,
		TakenPrice:  takenPrice,
		Commission:  fee,
	}, nil
}
