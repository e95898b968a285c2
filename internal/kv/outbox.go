package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xtrntr/coinex/internal/models"
)

// Claim moves the oldest pending settlement to the processing list.
// It returns ok=false when the outbox is empty. raw must be passed back to Ack.
func (s *Store) Claim(ctx context.Context) (st models.Settlement, raw string, ok bool, err error) {
	raw, err = s.rdb.LMove(ctx, outboxKey, processingKey, "LEFT", "RIGHT").Result()
	if errors.Is(err, redis.Nil) {
		return st, "", false, nil
	}
	if err != nil {
		return st, "", false, fmt.Errorf("failed to claim settlement: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return st, raw, true, fmt.Errorf("failed to decode settlement: %w", err)
	}
	return st, raw, true, nil
}

// Ack removes a settlement from the processing list once applied
func (s *Store) Ack(ctx context.Context, raw string) error {
	if err := s.rdb.LRem(ctx, processingKey, 1, raw).Err(); err != nil {
		return fmt.Errorf("failed to ack settlement: %w", err)
	}
	return nil
}

// Recover puts settlements left in processing by a crashed worker back at the
// head of the outbox. It returns how many were moved.
func (s *Store) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := s.rdb.LMove(ctx, processingKey, outboxKey, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to recover settlements: %w", err)
		}
		n++
	}
}

// Pending reports the outbox length
func (s *Store) Pending(ctx context.Context) (int64, error) {
	n, err := s.rdb.LLen(ctx, outboxKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox length: %w", err)
	}
	return n, nil
}

// FailedFill is a dead-letter entry for a fill that could not be applied
type FailedFill struct {
	OrderID int64       `json:"orderId"`
	Tick    models.Tick `json:"tick"`
	Error   string      `json:"error"`
}

// PushFailedFill records a rejected fill for operators
func (s *Store) PushFailedFill(ctx context.Context, f FailedFill) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal failed fill: %w", err)
	}
	if err := s.rdb.RPush(ctx, failedFillsKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push failed fill: %w", err)
	}
	return nil
}

// FailedFills lists dead-lettered fills, oldest first
func (s *Store) FailedFills(ctx context.Context) ([]FailedFill, error) {
	vals, err := s.rdb.LRange(ctx, failedFillsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read failed fills: %w", err)
	}
	out := make([]FailedFill, 0, len(vals))
	for _, v := range vals {
		var f FailedFill
		if err := json.Unmarshal([]byte(v), &f); err != nil {
			return nil, fmt.Errorf("failed to decode failed fill: %w", err)
		}
		out = append(out, f)
	}
	return out, nil
}
