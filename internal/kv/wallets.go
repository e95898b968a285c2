package kv

import (
	"context"
	"fmt"
	"sort"

	"github.com/xtrntr/coinex/internal/models"
)

// FindWallet retrieves a single holding
func (s *Store) FindWallet(ctx context.Context, userID int64, code string) (*models.Wallet, error) {
	return getJSON[models.Wallet](ctx, s.rdb, WalletKey(userID, code), models.ErrWalletNotFound)
}

// FindWalletsByUser retrieves every holding of a user ordered by code
func (s *Store) FindWalletsByUser(ctx context.Context, userID int64) ([]models.Wallet, error) {
	codes, err := s.rdb.SMembers(ctx, userWalletsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read wallets of user %d: %w", userID, err)
	}
	keys := make([]string, len(codes))
	for i, c := range codes {
		keys[i] = WalletKey(userID, c)
	}
	wallets, err := mgetJSON[models.Wallet](ctx, s.rdb, keys)
	if err != nil {
		return nil, err
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].Code < wallets[j].Code })
	return wallets, nil
}

// AllWallets retrieves every holding on the exchange
func (s *Store) AllWallets(ctx context.Context) ([]models.Wallet, error) {
	keys, err := s.rdb.SMembers(ctx, walletsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet index: %w", err)
	}
	sort.Strings(keys)
	return mgetJSON[models.Wallet](ctx, s.rdb, keys)
}
