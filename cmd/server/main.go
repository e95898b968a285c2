package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xtrntr/coinex/internal/api"
	"github.com/xtrntr/coinex/internal/auth"
	"github.com/xtrntr/coinex/internal/config"
	"github.com/xtrntr/coinex/internal/db"
	"github.com/xtrntr/coinex/internal/exchange"
	"github.com/xtrntr/coinex/internal/feed"
	"github.com/xtrntr/coinex/internal/history"
	"github.com/xtrntr/coinex/internal/kv"
	"github.com/xtrntr/coinex/internal/logging"
	"github.com/xtrntr/coinex/internal/order"
	"github.com/xtrntr/coinex/internal/ranking"
	"github.com/xtrntr/coinex/internal/settlement"
	"github.com/xtrntr/coinex/internal/wallet"
)

// runner is a long-lived component supervised by the errgroup
type runner interface {
	Run(ctx context.Context) error
}

// Main entry point: wires storage, the settlement worker, the matching
// engine, the market feed and the HTTP server
func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	database, err := db.NewDB(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer database.Close()
	if cfg.Postgres.Migrate {
		if err := database.Migrate(ctx); err != nil {
			return err
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	store := kv.New(rdb, logger)
	if err := store.Ping(ctx); err != nil {
		return err
	}

	locks := wallet.NewLocker()
	ledger := wallet.NewLedger(store, locks, logger)
	processor := settlement.NewProcessor(store, database, database, cfg.Settlement.PollInterval, logger)
	processor.SetRecoverInterval(cfg.Settlement.RecoverInterval)
	ledger.SetNotifier(processor)

	engine := exchange.NewEngine(store, locks, processor, cfg.Engine.QueueSize, logger)
	orders := order.NewService(store, ledger, database, database, processor, logger)
	hist := history.NewService(database, database)
	ranker := ranking.NewEngine(database, store, logger)

	dispatcher := feed.NewDispatcher(engine, store, logger)
	var source runner
	switch cfg.Feed.Source {
	case config.FeedUpbit:
		source = feed.NewUpbitClient(cfg.Feed.URL, cfg.Feed.Codes, dispatcher, logger)
	case config.FeedKafka:
		source = feed.NewKafkaConsumer(cfg.Feed.Kafka.Brokers, cfg.Feed.Kafka.Topic, cfg.Feed.Kafka.GroupID, dispatcher, logger)
	}

	verifier := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	handler := api.NewHandler(orders, ledger, database, hist, ranker, logger)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewRouter(handler, verifier, logger),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return processor.Run(ctx) })
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return ranking.NewScheduler(ranker, cfg.Ranking.Interval, logger).Run(ctx) })
	if source != nil {
		g.Go(func() error { return source.Run(ctx) })
	} else {
		logger.Warn("market feed disabled, resting orders will not fill")
	}

	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", cfg.Server.Addr), zap.String("feed", cfg.Feed.Source))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
