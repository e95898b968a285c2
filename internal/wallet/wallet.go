// Package wallet applies settled fills to user holdings and answers how much
// of an asset a user can still sell.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/coinex/internal/commission"
	"github.com/xtrntr/coinex/internal/kv"
	"github.com/xtrntr/coinex/internal/models"
)

// Notifier is woken after a settlement has been enqueued
type Notifier interface {
	Notify()
}

type nopNotifier struct{}

func (nopNotifier) Notify() {}

// Ledger owns every mutation of wallets
type Ledger struct {
	store    *kv.Store
	locks    *Locker
	notifier Notifier
	log      *zap.Logger
}

func NewLedger(store *kv.Store, locks *Locker, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, locks: locks, notifier: nopNotifier{}, log: logger.Named("wallet")}
}

// SetNotifier registers who is told about swap settlements
func (l *Ledger) SetNotifier(n Notifier) {
	l.notifier = n
}

// Locks returns the locker shared with other wallet writers
func (l *Ledger) Locks() *Locker {
	return l.locks
}

// StageAcquire stages adding amount bought at price to a holding. The wallet
// key must be watched by tx.
func StageAcquire(tx *kv.Tx, userID int64, code string, price, amount decimal.Decimal) error {
	w, err := tx.Wallet(userID, code)
	switch {
	case errors.Is(err, models.ErrWalletNotFound):
		w = &models.Wallet{UserID: userID, Code: code, Amount: decimal.Zero, AveragePrice: decimal.Zero}
	case err != nil:
		return err
	}

	avg, err := commission.CostBasisAverage(w.AveragePrice, w.Amount, price, amount)
	if err != nil {
		return fmt.Errorf("%w: acquire of %s %s: %v", models.ErrDataIntegrity, amount, code, err)
	}
	w.AveragePrice = avg
	w.Amount = w.Amount.Add(amount)
	return tx.PutWallet(w)
}

// StageDispose stages removing amount from a holding. The average price is
// kept; an emptied wallet is deleted.
func StageDispose(tx *kv.Tx, userID int64, code string, amount decimal.Decimal) error {
	w, err := tx.Wallet(userID, code)
	if errors.Is(err, models.ErrWalletNotFound) {
		return fmt.Errorf("%w: dispose of %s %s from missing wallet of user %d", models.ErrDataIntegrity, amount, code, userID)
	}
	if err != nil {
		return err
	}
	w.Amount = w.Amount.Sub(amount)
	return tx.PutWallet(w)
}

// Acquire records a purchase in its own transaction
func (l *Ledger) Acquire(ctx context.Context, userID int64, code string, price, amount decimal.Decimal) error {
	unlock := l.locks.Lock(userID, code)
	defer unlock()
	return l.store.Atomically(ctx, []string{kv.WalletKey(userID, code)}, func(tx *kv.Tx) error {
		return StageAcquire(tx, userID, code, price, amount)
	})
}

// Dispose records a sale in its own transaction
func (l *Ledger) Dispose(ctx context.Context, userID int64, code string, amount decimal.Decimal) error {
	unlock := l.locks.Lock(userID, code)
	defer unlock()
	return l.store.Atomically(ctx, []string{kv.WalletKey(userID, code)}, func(tx *kv.Tx) error {
		return StageDispose(tx, userID, code, amount)
	})
}

// AvailableToSell is the holding minus everything already offered in open asks
func (l *Ledger) AvailableToSell(ctx context.Context, userID int64, code string) (decimal.Decimal, error) {
	w, err := l.store.FindWallet(ctx, userID, code)
	if err != nil {
		return decimal.Zero, err
	}
	asks, err := l.store.FindOrdersByUserSideAndCode(ctx, userID, models.SideAsk, code)
	if err != nil {
		return decimal.Zero, err
	}
	available := w.Amount
	for _, o := range asks {
		available = available.Sub(o.Amount)
	}
	return available, nil
}

// Wallets lists the holdings of a user
func (l *Ledger) Wallets(ctx context.Context, userID int64) ([]models.Wallet, error) {
	wallets, err := l.store.FindWalletsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, models.ErrWalletNotFound
	}
	return wallets, nil
}
