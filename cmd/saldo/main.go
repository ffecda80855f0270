package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/amqp"
	"saldo/internal/cache"
	"saldo/internal/cli"
	"saldo/internal/events"
	"saldo/internal/events/kafka"
	"saldo/internal/grpcserver"
	apphttp "saldo/internal/http"
	"saldo/internal/log"
	"saldo/internal/services"
)

const (
	cacheSize       = 512
	shutdownTimeout = 30 * time.Second
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()

	store := cli.OpenStore(context.Background(), logger, cfg)

	// Reference data caches
	caches := cache.NewManager()
	codeCache := cache.NewLRUCache[string](cacheSize, cfg.CurrencyCacheTTL)
	rateCache := cache.NewLRUCache[decimal.Decimal](cacheSize, cfg.RateCacheTTL)
	caches.Register("currencies", codeCache)
	caches.Register("rates", rateCache)
	caches.StartCleanup(time.Minute)

	resolver := services.NewCurrencyResolver(store.Store, codeCache)
	rates := services.NewRateLookup(store.Store, store.Store, cfg.ReferenceCurrency, rateCache)

	refresherCfg := services.DefaultRateRefresherConfig()
	refresherCfg.Interval = cfg.RateRefreshInterval
	refresher := services.NewRateRefresher(rates, refresherCfg)

	// Balance update events go to Kafka when brokers are configured, otherwise to the log.
	var publisher events.Publisher = events.LogPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("Kafka publisher enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	var queue services.BalanceSyncQueue
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		c, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, balance sync disabled", "error", err)
		} else {
			amqpClient = c
			queue = c
			logger.Info("AMQP balance sync enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	accounts := services.NewAccountService(store.Store, resolver, publisher, queue, cfg.BalanceFallbackCurrency)

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Balance:      services.NewBalanceService(store.Store, store.Store, store.Store, resolver, rates, cfg.BalanceFallbackCurrency),
		Analytics:    services.NewAnalyticsService(store.Store, resolver, rates, cfg.AnalyticsDefaultCurrencyID, cfg.AnalyticsFallbackCurrency),
		Accounts:     accounts,
		Transactions: services.NewTransactionService(store.Store, resolver, cfg.BalanceFallbackCurrency),
		Reference:    services.NewReferenceService(store.Store, store.Store, cfg.ReferenceCurrency),
		Health:       store.Store,
		Caches:       caches,
	}, apphttp.Options{
		Logger:                logger,
		RateLimit:             cfg.RateLimit,
		TrustedProxies:        cfg.TrustedProxies,
		DefaultBaseCurrencyID: cfg.DefaultBaseCurrencyID,
	})
	if err != nil {
		logger.Error("Failed to configure HTTP server", "error", err)
		os.Exit(1)
	}

	var grpcSrv *grpcserver.Server
	if cfg.GRPCAddr != "" {
		grpcSrv = grpcserver.New(cfg.GRPCAddr, store.Store, 15*time.Second)
	}

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if grpcSrv != nil {
			grpcSrv.Stop()
		}
		if err := refresher.Stop(ctx); err != nil {
			logger.Warn("Rate refresher stop error", "error", err)
		}
		caches.Stop()

		var closeAMQP func() error
		if amqpClient != nil {
			closeAMQP = amqpClient.Close
		}
		if err := cli.CloseAll(accounts.Close, closeAMQP, store.Cleanup); err != nil {
			logger.Error("Error releasing resources", "error", err)
		}
	})

	if err := refresher.Start(ctx); err != nil {
		logger.Warn("Rate refresher not started", "error", err)
	}

	if grpcSrv != nil {
		grpcLogger := logger.WithComponent(log.ComponentGRPC)
		go func() {
			grpcLogger.InfoContext(ctx, "Starting gRPC health server", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Start(); err != nil {
				grpcLogger.ErrorContext(ctx, "gRPC server error", "error", err, "addr", cfg.GRPCAddr)
			}
		}()
	}

	logger.Info("Starting saldo server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"reference_currency", cfg.ReferenceCurrency)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
