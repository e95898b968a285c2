package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/xtrntr/coinex/internal/auth"
	"github.com/xtrntr/coinex/internal/commission"
	"github.com/xtrntr/coinex/internal/config"
	"github.com/xtrntr/coinex/internal/db"
	"github.com/xtrntr/coinex/internal/kv"
	"github.com/xtrntr/coinex/internal/models"
	"github.com/xtrntr/coinex/internal/wallet"
)

var coins = []struct {
	code, name, price, prevClose string
}{
	{"KRW-BTC", "Bitcoin", "22525000", "22000000"},
	{"KRW-ETH", "Ethereum", "1650000", "1600000"},
	{"KRW-XRP", "Ripple", "650", "640"},
}

var traders = []struct {
	id      int64
	cash    string
	holding string
	amount  string
}{
	{1, "100000000", "KRW-BTC", "0.5"},
	{2, "50000000", "KRW-ETH", "10"},
}

// Seed the database and redis with coins, prices, cash and holdings
func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	ctx := context.Background()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.NewDB(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	if err := database.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	store := kv.New(rdb, zap.NewNop())
	ledger := wallet.NewLedger(store, wallet.NewLocker(), zap.NewNop())

	prices := map[string]decimal.Decimal{}
	for _, c := range coins {
		if _, err := database.CreateCoin(ctx, c.code, c.name); err != nil {
			log.Fatalf("Failed to create coin %s: %v", c.code, err)
		}
		price, prev := decimal.RequireFromString(c.price), decimal.RequireFromString(c.prevClose)
		prices[c.code] = price
		err := store.SaveTicker(ctx, models.Ticker{
			Code:             c.code,
			TradePrice:       price,
			PrevClosingPrice: prev,
			ChangeRate:       commission.ChangeRate(price, prev),
			Timestamp:        time.Now(),
		})
		if err != nil {
			log.Fatalf("Failed to save ticker %s: %v", c.code, err)
		}
	}

	verifier := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	for _, tr := range traders {
		if _, err := database.Balance(ctx, tr.id); err == nil {
			fmt.Printf("User %d already seeded, skipping\n", tr.id)
		} else {
			if err := database.CreateBalance(ctx, tr.id, decimal.RequireFromString(tr.cash)); err != nil {
				log.Fatalf("Failed to create balance for user %d: %v", tr.id, err)
			}
			if err := ledger.Acquire(ctx, tr.id, tr.holding, prices[tr.holding], decimal.RequireFromString(tr.amount)); err != nil {
				log.Fatalf("Failed to seed wallet for user %d: %v", tr.id, err)
			}
		}

		token, err := verifier.IssueToken(tr.id)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Printf("user %d token: %s\n", tr.id, token)
	}

	fmt.Println("Successfully seeded coins, prices, balances and wallets!")
}
