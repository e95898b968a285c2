package kv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xtrntr/coinex/internal/models"
)

// ReplaceRanking swaps the persisted leaderboard for entries in one step.
// The new list is built under a temporary key and renamed over the old one.
func (s *Store) ReplaceRanking(ctx context.Context, entries []models.RankEntry) error {
	if len(entries) == 0 {
		if err := s.rdb.Del(ctx, rankingKey).Err(); err != nil {
			return fmt.Errorf("failed to clear ranking: %w", err)
		}
		return nil
	}

	vals := make([]interface{}, len(entries))
	for i, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal rank entry: %w", err)
		}
		vals[i] = data
	}

	tmp := rankingKey + ":tmp:" + uuid.NewString()
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, tmp, vals...)
		p.Rename(ctx, tmp, rankingKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace ranking: %w", err)
	}
	return nil
}

// Ranking reads the persisted leaderboard
func (s *Store) Ranking(ctx context.Context) ([]models.RankEntry, error) {
	vals, err := s.rdb.LRange(ctx, rankingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ranking: %w", err)
	}
	out := make([]models.RankEntry, 0, len(vals))
	for _, v := range vals {
		var e models.RankEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("failed to decode rank entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
