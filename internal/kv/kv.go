// Package kv keeps the mutable exchange state in Redis: resting orders,
// wallets, ticker snapshots, the settlement outbox and the leaderboard.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xtrntr/coinex/internal/models"
)

const defaultMaxRetries = 16

// ErrConflict is returned when an optimistic transaction kept losing races
var ErrConflict = errors.New("kv: transaction conflict, retries exhausted")

// Store wraps a Redis client
type Store struct {
	rdb        redis.UniversalClient
	log        *zap.Logger
	maxRetries int
}

// New creates a store on top of an existing client
func New(rdb redis.UniversalClient, logger *zap.Logger) *Store {
	return &Store{rdb: rdb, log: logger, maxRetries: defaultMaxRetries}
}

// Client exposes the underlying client for health checks
func (s *Store) Client() redis.UniversalClient {
	return s.rdb
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

func OrderKey(id int64) string {
	return fmt.Sprintf("order:%d", id)
}

func WalletKey(userID int64, code string) string {
	return fmt.Sprintf("wallet:%d:%s", userID, code)
}

func sideIndexKey(side models.Side, code string) string {
	return fmt.Sprintf("orders:side:%s:%s", side, code)
}

func userIndexKey(userID int64) string {
	return fmt.Sprintf("orders:user:%d", userID)
}

func userWalletsKey(userID int64) string {
	return fmt.Sprintf("wallets:user:%d", userID)
}

func tickerKey(code string) string {
	return "ticker:" + code
}

const (
	orderSeqKey    = "order:seq"
	walletsKey     = "wallets"
	outboxKey      = "settlement:outbox"
	processingKey  = "settlement:processing"
	failedFillsKey = "fills:failed"
	rankingKey     = "ranking:top"
)

// Tx is a unit of work inside Atomically. Reads go through the watched
// connection; writes are staged and committed together in one MULTI/EXEC.
type Tx struct {
	ctx    context.Context
	tx     *redis.Tx
	writes []func(redis.Pipeliner)
}

// Atomically watches keys, runs fn and commits everything fn staged.
// fn may run several times when a watched key changes underneath it.
func (s *Store) Atomically(ctx context.Context, keys []string, fn func(tx *Tx) error) error {
	txf := func(rtx *redis.Tx) error {
		t := &Tx{ctx: ctx, tx: rtx}
		if err := fn(t); err != nil {
			return err
		}
		if len(t.writes) == 0 {
			return nil
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range t.writes {
				w(pipe)
			}
			return nil
		})
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

// Order reads an order under watch
func (t *Tx) Order(id int64) (*models.Order, error) {
	return getJSON[models.Order](t.ctx, t.tx, OrderKey(id), models.ErrOrderNotFound)
}

// Wallet reads a wallet under watch
func (t *Tx) Wallet(userID int64, code string) (*models.Wallet, error) {
	return getJSON[models.Wallet](t.ctx, t.tx, WalletKey(userID, code), models.ErrWalletNotFound)
}

// PutOrder stages an order write. An order with no remaining amount is deleted instead.
func (t *Tx) PutOrder(o *models.Order) error {
	if !o.Amount.IsPositive() {
		t.DeleteOrder(o)
		return nil
	}
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	id, side, code, userID := o.ID, o.Side, o.Code, o.UserID
	t.writes = append(t.writes, func(p redis.Pipeliner) {
		p.Set(t.ctx, OrderKey(id), data, 0)
		p.SAdd(t.ctx, sideIndexKey(side, code), id)
		p.SAdd(t.ctx, userIndexKey(userID), id)
	})
	return nil
}

// DeleteOrder stages removal of an order and its index entries
func (t *Tx) DeleteOrder(o *models.Order) {
	id, side, code, userID := o.ID, o.Side, o.Code, o.UserID
	t.writes = append(t.writes, func(p redis.Pipeliner) {
		p.Del(t.ctx, OrderKey(id))
		p.SRem(t.ctx, sideIndexKey(side, code), id)
		p.SRem(t.ctx, userIndexKey(userID), id)
	})
}

// PutWallet stages a wallet write. A zero wallet is deleted; a negative one is rejected.
func (t *Tx) PutWallet(w *models.Wallet) error {
	if w.Amount.IsNegative() {
		return fmt.Errorf("%w: wallet %d/%s would hold %s", models.ErrDataIntegrity, w.UserID, w.Code, w.Amount)
	}
	if w.Amount.IsZero() {
		t.DeleteWallet(w.UserID, w.Code)
		return nil
	}
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal wallet: %w", err)
	}
	key := WalletKey(w.UserID, w.Code)
	userID, code := w.UserID, w.Code
	t.writes = append(t.writes, func(p redis.Pipeliner) {
		p.Set(t.ctx, key, data, 0)
		p.SAdd(t.ctx, userWalletsKey(userID), code)
		p.SAdd(t.ctx, walletsKey, key)
	})
	return nil
}

// DeleteWallet stages removal of a wallet
func (t *Tx) DeleteWallet(userID int64, code string) {
	key := WalletKey(userID, code)
	t.writes = append(t.writes, func(p redis.Pipeliner) {
		p.Del(t.ctx, key)
		p.SRem(t.ctx, userWalletsKey(userID), code)
		p.SRem(t.ctx, walletsKey, key)
	})
}

// Enqueue stages a settlement onto the outbox
func (t *Tx) Enqueue(st models.Settlement) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement: %w", err)
	}
	t.writes = append(t.writes, func(p redis.Pipeliner) {
		p.RPush(t.ctx, outboxKey, data)
	})
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getJSON[T any](ctx context.Context, c getter, key string, notFound error) (*T, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return &v, nil
}

// mgetJSON loads every key that still exists, silently skipping vanished ones
func mgetJSON[T any](ctx context.Context, c redis.UniversalClient, keys []string) ([]T, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to mget: %w", err)
	}
	out := make([]T, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var item T
		if err := json.Unmarshal([]byte(str), &item); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", keys[i], err)
		}
		out = append(out, item)
	}
	return out, nil
}
