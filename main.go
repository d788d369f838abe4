package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	clts "whalewatch/clients"
	"whalewatch/config"
	"whalewatch/internal/app"
	"whalewatch/internal/store"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	// initTimeout bounds store setup at boot
	initTimeout = 30 * time.Second
)

func main() {
	// Load .env for local runs; deployed environments set real env vars.
	_ = godotenv.Load()

	var logger *zap.Logger
	var err error
	if os.Getenv("STAGE") == "PROD" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Load config from environment variables
	cfg := config.Load()
	logger.Info("starting whalewatch",
		zap.Bool("isProd", cfg.IsProd),
		zap.Int("watchedAddresses", len(cfg.Watch.Addresses)),
		zap.Int("vipAddresses", len(cfg.Watch.VIPAddresses)),
	)

	if cfg.Store.DSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}

	st, err := store.Open(logger, cfg)
	if err != nil {
		logger.Fatal("failed to open state store", zap.Error(err))
	}
	defer st.Close()

	initCtx, initCancel := context.WithTimeout(context.Background(), initTimeout)
	if err := st.Init(initCtx); err != nil {
		initCancel()
		logger.Fatal("failed to initialize state store", zap.Error(err))
	}
	// A corrupt store must never silently restart with empty cursors: that
	// would re-alert on all history or drop it, depending on lookback.
	if err := st.Verify(initCtx); err != nil {
		initCancel()
		logger.Fatal("state store verification failed", zap.Error(err))
	}
	initCancel()

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, cfg)
	defer clients.Notifier.Close()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(clients, cfg, st)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
}
