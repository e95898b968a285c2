// Package ranking computes the return-on-investment leaderboard from settled
// history and marked-to-market holdings.
package ranking

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/coinex/internal/metrics"
	"github.com/xtrntr/coinex/internal/models"
)

// TopN is the leaderboard size
const TopN = 10

// Aggregates sums settled amounts per user for one transaction type
type Aggregates interface {
	SumSettledByUser(ctx context.Context, typ models.TransactionType) (map[int64]decimal.Decimal, error)
}

// Store holds wallets, live prices and the persisted leaderboard
type Store interface {
	AllWallets(ctx context.Context) ([]models.Wallet, error)
	CurrentPrice(ctx context.Context, code string) (decimal.Decimal, error)
	ReplaceRanking(ctx context.Context, entries []models.RankEntry) error
	Ranking(ctx context.Context) ([]models.RankEntry, error)
}

type Engine struct {
	history Aggregates
	store   Store
	log     *zap.Logger
}

func NewEngine(history Aggregates, store Store, logger *zap.Logger) *Engine {
	return &Engine{history: history, store: store, log: logger.Named("ranking")}
}

// Compute returns the current top users by ROI, highest first.
// Users without any buy history are not ranked.
func (e *Engine) Compute(ctx context.Context) ([]models.RankEntry, error) {
	bids, err := e.history.SumSettledByUser(ctx, models.TransactionBid)
	if err != nil {
		return nil, err
	}
	asks, err := e.history.SumSettledByUser(ctx, models.TransactionAsk)
	if err != nil {
		return nil, err
	}
	wallets, err := e.store.AllWallets(ctx)
	if err != nil {
		return nil, err
	}

	values := make(map[int64]decimal.Decimal)
	prices := make(map[string]decimal.Decimal)
	for _, w := range wallets {
		if _, ranked := bids[w.UserID]; !ranked {
			continue
		}
		price, ok := prices[w.Code]
		if !ok {
			price, err = e.store.CurrentPrice(ctx, w.Code)
			if errors.Is(err, models.ErrPriceNotFound) {
				e.log.Warn("no live price, holding left out of ranking", zap.String("code", w.Code), zap.Int64("user_id", w.UserID))
				continue
			}
			if err != nil {
				return nil, err
			}
			prices[w.Code] = price
		}
		values[w.UserID] = values[w.UserID].Add(w.Amount.Mul(price))
	}

	entries := make([]models.RankEntry, 0, len(bids))
	for userID, bidsTotal := range bids {
		if bidsTotal.IsZero() {
			continue
		}
		asksTotal := asks[userID]
		current := values[userID]
		roi := asksTotal.Add(current).Sub(bidsTotal).DivRound(bidsTotal, 8)
		entries = append(entries, models.RankEntry{
			UserID:       userID,
			ROI:          roi,
			BidsTotal:    bidsTotal,
			AsksTotal:    asksTotal,
			CurrentValue: current,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].ROI.Cmp(entries[j].ROI); c != 0 {
			return c > 0
		}
		return entries[i].UserID < entries[j].UserID
	})
	if len(entries) > TopN {
		entries = entries[:TopN]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// Refresh recomputes and replaces the persisted leaderboard
func (e *Engine) Refresh(ctx context.Context) error {
	entries, err := e.Compute(ctx)
	if err != nil {
		metrics.RankingRuns.WithLabelValues("error").Inc()
		return err
	}
	if err := e.store.ReplaceRanking(ctx, entries); err != nil {
		metrics.RankingRuns.WithLabelValues("error").Inc()
		return err
	}
	metrics.RankingRuns.WithLabelValues("ok").Inc()
	e.log.Debug("ranking refreshed", zap.Int("entries", len(entries)))
	return nil
}

// Top returns the persisted leaderboard
func (e *Engine) Top(ctx context.Context) ([]models.RankEntry, error) {
	return e.store.Ranking(ctx)
}

// Scheduler refreshes the leaderboard on a fixed interval
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	log      *zap.Logger
}

func NewScheduler(engine *Engine, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{engine: engine, interval: interval, log: logger.Named("ranking")}
}

// Run refreshes once immediately and then every interval until ctx is done.
// Failed runs are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.engine.Refresh(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("ranking refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
