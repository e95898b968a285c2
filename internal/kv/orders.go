package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/coinex/internal/models"
)

// NextOrderID reserves a new order identifier
func (s *Store) NextOrderID(ctx context.Context) (int64, error) {
	id, err := s.rdb.Incr(ctx, orderSeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate order id: %w", err)
	}
	return id, nil
}

// CreateOrder persists a new resting order, assigning an ID when it has none
func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	if !o.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", models.ErrInvalidOrder)
	}
	if o.ID == 0 {
		id, err := s.NextOrderID(ctx)
		if err != nil {
			return err
		}
		o.ID = id
	}

	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, OrderKey(o.ID), data, 0)
		p.SAdd(ctx, sideIndexKey(o.Side, o.Code), o.ID)
		p.SAdd(ctx, userIndexKey(o.UserID), o.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// FindOrder retrieves an order by ID
func (s *Store) FindOrder(ctx context.Context, id int64) (*models.Order, error) {
	return getJSON[models.Order](ctx, s.rdb, OrderKey(id), models.ErrOrderNotFound)
}

// FindOrdersByUser retrieves every resting order of a user
func (s *Store) FindOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.findIndexed(ctx, userIndexKey(userID), nil)
}

// FindOrdersBySideAndCode retrieves every resting order on one side of an asset
func (s *Store) FindOrdersBySideAndCode(ctx context.Context, side models.Side, code string) ([]models.Order, error) {
	return s.findIndexed(ctx, sideIndexKey(side, code), nil)
}

// FindOrdersByUserSideAndCode retrieves a user's resting orders on one side of an asset
func (s *Store) FindOrdersByUserSideAndCode(ctx context.Context, userID int64, side models.Side, code string) ([]models.Order, error) {
	return s.findIndexed(ctx, userIndexKey(userID), func(o *models.Order) bool {
		return o.Side == side && o.Code == code
	})
}

// findIndexed loads the orders listed in an index set, oldest first
func (s *Store) findIndexed(ctx context.Context, index string, keep func(*models.Order) bool) ([]models.Order, error) {
	members, err := s.rdb.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", index, err)
	}
	keys := make([]string, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad order id %q in %s: %w", m, index, err)
		}
		keys = append(keys, OrderKey(id))
	}

	all, err := mgetJSON[models.Order](ctx, s.rdb, keys)
	if err != nil {
		return nil, err
	}
	orders := all[:0]
	for i := range all {
		if keep == nil || keep(&all[i]) {
			orders = append(orders, all[i])
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

// DecrementOrderAmount reduces the outstanding amount of an order. The order
// is deleted when nothing remains, in which case the returned order is nil.
func (s *Store) DecrementOrderAmount(ctx context.Context, id int64, delta decimal.Decimal) (*models.Order, error) {
	var remaining *models.Order
	err := s.Atomically(ctx, []string{OrderKey(id)}, func(tx *Tx) error {
		o, err := tx.Order(id)
		if err != nil {
			return err
		}
		o.Amount = o.Amount.Sub(delta)
		if !o.Amount.IsPositive() {
			tx.DeleteOrder(o)
			remaining = nil
			return nil
		}
		remaining = o
		return tx.PutOrder(o)
	})
	if err != nil {
		return nil, err
	}
	return remaining, nil
}

// DeleteOrder removes an order. Only one caller can delete a given order;
// later calls get ErrOrderNotFound.
func (s *Store) DeleteOrder(ctx context.Context, id int64) (*models.Order, error) {
	var deleted *models.Order
	err := s.Atomically(ctx, []string{OrderKey(id)}, func(tx *Tx) error {
		o, err := tx.Order(id)
		if err != nil {
			return err
		}
		deleted = o
		tx.DeleteOrder(o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}
