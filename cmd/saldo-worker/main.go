package main

import (
	"context"
	"errors"
	"os"
	"time"

	"saldo/internal/amqp"
	"saldo/internal/cache"
	"saldo/internal/cli"
	"saldo/internal/events"
	"saldo/internal/events/kafka"
	"saldo/internal/log"
	"saldo/internal/services"
	"saldo/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, appLogger := cli.LoadAndValidateConfig()
	logger := appLogger.WithComponent(log.ComponentWorker)

	logger.Info("Starting saldo-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the balance sync worker")
		os.Exit(1)
	}

	store := cli.OpenStore(context.Background(), logger, cfg)

	var publisher events.Publisher = events.LogPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	resolver := services.NewCurrencyResolver(store.Store, cache.NewLRUCache[string](64, cfg.CurrencyCacheTTL))
	accounts := services.NewAccountService(store.Store, resolver, publisher, nil, cfg.BalanceFallbackCurrency)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		_ = cli.CloseAll(accounts.Close, store.Cleanup)
		os.Exit(1)
	}

	syncWorker := worker.NewSyncWorker(accounts)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		stats := syncWorker.Stats()
		logger.Info("Balance sync totals",
			"processed", stats.Processed,
			"dropped", stats.Dropped,
			"failed", stats.Failed)
		if err := cli.CloseAll(amqpClient.Close, accounts.Close, store.Cleanup); err != nil {
			logger.Error("Error releasing resources", "error", err)
		}
	})

	if err := amqpClient.ConsumeBalanceSync(ctx, syncWorker.HandleBalanceSync); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
		_ = cli.CloseAll(amqpClient.Close, accounts.Close, store.Cleanup)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("saldo-worker stopped")
}
