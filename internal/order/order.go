// Package order accepts and cancels resting orders. Buy orders reserve cash
// up front; sell orders are checked against what the user can still sell.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/coinex/internal/commission"
	"github.com/xtrntr/coinex/internal/history"
	"github.com/xtrntr/coinex/internal/kv"
	"github.com/xtrntr/coinex/internal/metrics"
	"github.com/xtrntr/coinex/internal/models"
	"github.com/xtrntr/coinex/internal/retry"
	"github.com/xtrntr/coinex/internal/wallet"
)

// Balances is the user cash ledger
type Balances interface {
	Debit(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error
	Credit(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error
}

// Coins validates asset codes
type Coins interface {
	FindCoin(ctx context.Context, code string) (*models.Coin, error)
}

// Settler applies a settlement now and wakes the background worker
type Settler interface {
	Apply(ctx context.Context, st models.Settlement) error
	Notify()
}

// Request is the user input of a new order. Exactly one of Limit and Market is set.
type Request struct {
	Limit  decimal.Decimal `json:"limit"`
	Market decimal.Decimal `json:"market"`
	Amount decimal.Decimal `json:"amount"`
	Side   models.Side     `json:"orderType"`
}

// Validate checks the request shape
func (r Request) Validate() error {
	if _, err := models.ParseSide(string(r.Side)); err != nil {
		return err
	}
	if r.Limit.IsZero() == r.Market.IsZero() {
		return fmt.Errorf("%w: exactly one of limit and market must be set", models.ErrInvalidOrder)
	}
	if r.Limit.IsNegative() || r.Market.IsNegative() {
		return fmt.Errorf("%w: price must be positive", models.ErrInvalidOrder)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", models.ErrInvalidOrder)
	}
	return nil
}

type Service struct {
	store    *kv.Store
	ledger   *wallet.Ledger
	balances Balances
	coins    Coins
	settler  Settler
	log      *zap.Logger
	now      func() time.Time
}

func NewService(store *kv.Store, ledger *wallet.Ledger, balances Balances, coins Coins, settler Settler, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		ledger:   ledger,
		balances: balances,
		coins:    coins,
		settler:  settler,
		log:      logger.Named("order"),
		now:      time.Now,
	}
}

func reserveRef(id int64) string {
	return fmt.Sprintf("bid-reserve:%d", id)
}

func cancelRef(id int64) string {
	return fmt.Sprintf("%s%d", models.CancelRefPrefix, id)
}

// Create validates and persists a new order
func (s *Service) Create(ctx context.Context, userID int64, code string, req Request) (*models.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.coins.FindCoin(ctx, code); err != nil {
		return nil, err
	}

	o := &models.Order{
		LimitPrice:      req.Limit,
		MarketPrice:     req.Market,
		Amount:          req.Amount,
		CompletedAmount: decimal.Zero,
		Side:            req.Side,
		UserID:          userID,
		Code:            code,
		OrderTime:       s.now(),
	}

	var err error
	switch o.Side {
	case models.SideAsk:
		err = s.createAsk(ctx, o)
	case models.SideBid:
		err = s.createBid(ctx, o)
	}
	if err != nil {
		return nil, err
	}

	metrics.OrdersCreated.WithLabelValues(string(o.Side)).Inc()
	s.log.Info("order created",
		zap.Int64("order_id", o.ID),
		zap.Int64("user_id", userID),
		zap.String("code", code),
		zap.String("side", string(o.Side)),
		zap.String("price", o.Price().String()),
		zap.String("amount", o.Amount.String()),
	)
	return o, nil
}

func (s *Service) createAsk(ctx context.Context, o *models.Order) error {
	unlock := s.ledger.Locks().Lock(o.UserID, o.Code)
	defer unlock()

	available, err := s.ledger.AvailableToSell(ctx, o.UserID, o.Code)
	if errors.Is(err, models.ErrWalletNotFound) {
		return fmt.Errorf("%w: no %s held", models.ErrInsufficientHoldings, o.Code)
	}
	if err != nil {
		return err
	}
	if available.LessThan(o.Amount) {
		return fmt.Errorf("%w: %s available, %s requested", models.ErrInsufficientHoldings, available, o.Amount)
	}
	return s.store.CreateOrder(ctx, o)
}

func (s *Service) createBid(ctx context.Context, o *models.Order) error {
	id, err := s.store.NextOrderID(ctx)
	if err != nil {
		return err
	}
	o.ID = id

	reserve := commission.BuyTotalWithCommission(o.Price(), o.Amount)
	if err := s.balances.Debit(ctx, o.UserID, reserve, reserveRef(id)); err != nil {
		return err
	}

	if err := s.store.CreateOrder(ctx, o); err != nil {
		rollback := fmt.Sprintf("bid-reserve-rollback:%d", id)
		cerr := retry.Do(ctx, retry.DefaultPolicy, func() error {
			return s.balances.Credit(ctx, o.UserID, reserve, rollback)
		}, nil)
		if cerr != nil {
			s.log.Error("failed to release bid reservation",
				zap.Int64("order_id", id),
				zap.Int64("user_id", o.UserID),
				zap.String("amount", reserve.String()),
				zap.Error(cerr),
			)
		}
		return err
	}
	return nil
}

// Cancel removes a resting order of userID, refunding what a bid reserved
func (s *Service) Cancel(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	o, err := s.store.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, models.ErrNotOwner
	}

	unlock := s.ledger.Locks().Lock(o.UserID, o.Code)
	defer unlock()

	var st models.Settlement
	err = s.store.Atomically(ctx, []string{kv.OrderKey(orderID)}, func(tx *kv.Tx) error {
		cur, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		o = cur
		st = s.cancelSettlement(cur)
		tx.DeleteOrder(cur)
		return tx.Enqueue(st)
	})
	if err != nil {
		return nil, err
	}

	if err := s.settler.Apply(ctx, st); err != nil {
		s.log.Warn("cancel settlement deferred to worker", zap.String("settlement_id", st.ID), zap.Error(err))
	}
	s.settler.Notify()

	metrics.OrdersCancelled.Inc()
	s.log.Info("order cancelled",
		zap.Int64("order_id", orderID),
		zap.Int64("user_id", userID),
		zap.String("refund", st.Credit.String()),
	)
	return o, nil
}

func (s *Service) cancelSettlement(o *models.Order) models.Settlement {
	st := models.Settlement{ID: cancelRef(o.ID), UserID: o.UserID, Credit: decimal.Zero}
	if o.Side == models.SideBid {
		st.Credit = commission.BuyTotalWithCommission(o.Price(), o.Amount)
	}
	if o.CompletedAmount.IsPositive() {
		price := o.FillPrice
		if !price.IsPositive() {
			price = o.Price()
		}
		st.History = history.NewOrderRecord(o, o.CompletedAmount, price, st.ID, s.now())
	}
	return st
}

// List returns the open orders of a user, optionally on one asset only
func (s *Service) List(ctx context.Context, userID int64, code string) ([]models.Order, error) {
	orders, err := s.store.FindOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if code != "" {
		filtered := orders[:0]
		for _, o := range orders {
			if o.Code == code {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	if len(orders) == 0 {
		return nil, models.ErrOrderNotFound
	}
	return orders, nil
}
