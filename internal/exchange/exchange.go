// Package exchange matches resting orders against trades reported by the
// market feed and settles every fill.
package exchange

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

// Engine consumes trade ticks one at a time
type Engine struct {
	store    *kv.Store
	locks    *wallet.Locker
	notifier wallet.Notifier
	policy   retry.Policy
	ticks    chan models.Tick
	log      *zap.Logger
	now      func() time.Time
}

// NewEngine creates an engine with a tick queue of queueSize
func NewEngine(store *kv.Store, locks *wallet.Locker, notifier wallet.Notifier, queueSize int, logger *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		locks:    locks,
		notifier: notifier,
		policy:   retry.DefaultPolicy,
		ticks:    make(chan models.Tick, queueSize),
		log:      logger.Named("exchange"),
		now:      time.Now,
	}
}

// Enqueue queues a tick for matching, waiting while the queue is full. It
// fails only when ctx ends first, in which case the tick was not queued and
// the source must not acknowledge it.
func (e *Engine) Enqueue(ctx context.Context, tick models.Tick) error {
	select {
	case e.ticks <- tick:
		return nil
	default:
	}

	metrics.TickQueueFull.Inc()
	e.log.Debug("tick queue full, waiting", zap.String("code", tick.Code))
	select {
	case e.ticks <- tick:
		return nil
	case <-ctx.Done():
		metrics.TicksAbandoned.Inc()
		return fmt.Errorf("tick %s %s@%s not queued: %w", tick.Code, tick.Side, tick.TradePrice, ctx.Err())
	}
}

// Run matches queued ticks until ctx is done
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tick := <-e.ticks:
			if err := e.HandleTick(ctx, tick); err != nil {
				e.log.Error("tick not fully settled", zap.String("code", tick.Code), zap.Error(err))
			}
		}
	}
}

// Eligible reports whether a resting order crosses tradePrice. Bids fill at
// or below their price, asks at or above.
func Eligible(o *models.Order, tradePrice decimal.Decimal) bool {
	switch o.Side {
	case models.SideBid:
		return o.Price().GreaterThanOrEqual(tradePrice)
	case models.SideAsk:
		return o.Price().LessThanOrEqual(tradePrice)
	}
	return false
}

// HandleTick fills every eligible order on the tick's side. Each order is
// filled against the full tick volume.
func (e *Engine) HandleTick(ctx context.Context, tick models.Tick) error {
	metrics.TicksReceived.WithLabelValues("trade").Inc()

	orders, err := e.store.FindOrdersBySideAndCode(ctx, tick.Side, tick.Code)
	if err != nil {
		return fmt.Errorf("failed to load %s orders for %s: %w", tick.Side, tick.Code, err)
	}

	var errs []error
	for i := range orders {
		o := &orders[i]
		if !Eligible(o, tick.TradePrice) {
			continue
		}
		if err := e.fillOrder(ctx, o, tick); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SettlementPrice never lets a buyer pay above or a seller receive below the
// order price.
func SettlementPrice(o *models.Order, tradePrice decimal.Decimal) decimal.Decimal {
	if o.Side == models.SideBid {
		return decimal.Min(o.Price(), tradePrice)
	}
	return decimal.Max(o.Price(), tradePrice)
}

func (e *Engine) fillOrder(ctx context.Context, o *models.Order, tick models.Tick) error {
	start := time.Now()
	unlock := e.locks.Lock(o.UserID, o.Code)
	defer unlock()

	keys := []string{kv.OrderKey(o.ID), kv.WalletKey(o.UserID, o.Code)}
	var st *models.Settlement

	err := retry.Do(ctx, e.policy, func() error {
		st = nil
		return e.store.Atomically(ctx, keys, func(tx *kv.Tx) error {
			cur, err := tx.Order(o.ID)
			if errors.Is(err, models.ErrOrderNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			filled := decimal.Min(cur.Amount, tick.TradeVolume)
			price := SettlementPrice(cur, tick.TradePrice)

			fillPrice, err := commission.CostBasisAverage(cur.FillPrice, cur.CompletedAmount, price, filled)
			if err != nil {
				return fmt.Errorf("%w: order %d fill price: %v", models.ErrDataIntegrity, cur.ID, err)
			}
			cur.Fills++
			cur.FillPrice = fillPrice
			cur.CompletedAmount = cur.CompletedAmount.Add(filled)
			cur.Amount = cur.Amount.Sub(filled)
			if err := tx.PutOrder(cur); err != nil {
				return err
			}

			s := models.Settlement{ID: fmt.Sprintf("fill:%d:%d", cur.ID, cur.Fills), UserID: cur.UserID, Credit: decimal.Zero}
			switch cur.Side {
			case models.SideBid:
				err = wallet.StageAcquire(tx, cur.UserID, cur.Code, price, filled)
			case models.SideAsk:
				err = wallet.StageDispose(tx, cur.UserID, cur.Code, filled)
				s.Credit = commission.SellNetOfCommission(price, filled)
			}
			if err != nil {
				return err
			}
			s.History = history.NewOrderRecord(cur, filled, price, s.ID, e.now())
			if err := tx.Enqueue(s); err != nil {
				return err
			}
			st = &s
			return nil
		})
	}, func(err error, wait time.Duration) {
		e.log.Warn("retrying fill", zap.Int64("order_id", o.ID), zap.Duration("wait", wait), zap.Error(err))
	})

	if err != nil {
		metrics.FillsRejected.Inc()
		e.log.Error("fill rejected",
			zap.Int64("order_id", o.ID),
			zap.Int64("user_id", o.UserID),
			zap.String("code", o.Code),
			zap.String("trade_price", tick.TradePrice.String()),
			zap.String("trade_volume", tick.TradeVolume.String()),
			zap.Error(err),
		)
		if perr := e.store.PushFailedFill(ctx, kv.FailedFill{OrderID: o.ID, Tick: tick, Error: err.Error()}); perr != nil {
			e.log.Error("failed to dead-letter fill", zap.Int64("order_id", o.ID), zap.Error(perr))
		}
		return fmt.Errorf("fill of order %d: %w", o.ID, err)
	}
	if st == nil {
		return nil
	}

	metrics.FillsApplied.WithLabelValues(string(o.Side)).Inc()
	metrics.FillDuration.Observe(time.Since(start).Seconds())
	e.notifier.Notify()
	e.log.Info("order filled",
		zap.String("settlement_id", st.ID),
		zap.Int64("order_id", o.ID),
		zap.Int64("user_id", o.UserID),
		zap.String("code", o.Code),
		zap.String("side", string(o.Side)),
		zap.String("amount", st.History.Amount.String()),
		zap.String("price", st.History.Price.String()),
	)
	return nil
}
