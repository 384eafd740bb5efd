package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"partner-portal/core"
)

func main() {
	cfg, err := core.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()
	defer logger.Sync()

	if err := cfg.Validate(logger); err != nil {
		logger.Fatal("refusing to start", zap.Error(err))
	}

	db, err := core.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()
	if err := core.EnsureSchema(ctx, db); err != nil {
		logger.Fatal("failed to ensure schema", zap.Error(err))
	}

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close()

	accounts := core.NewPgAccountRepository(db)
	hasher := core.BcryptHasher{}
	if err := core.BootstrapAdmin(ctx, accounts, hasher, cfg, logger); err != nil {
		logger.Fatal("bootstrap admin failed", zap.Error(err))
	}

	ledger := core.NewAttemptLedger(cfg.Security, core.WithLedgerLogger(logger.Named("ledger")))
	go ledger.RunJanitor(ctx, cfg.Security.SweepInterval)

	codec := core.NewHMACCodec(cfg.Security)
	gateway := core.NewSessionGateway(cfg.Security, codec, logger.Named("session"))
	activity := core.NewRedisActivityLog(redisClient)

	router := core.NewRouter(cfg, core.Portal{
		Gateway:  gateway,
		Logins:   core.NewLoginService(accounts, hasher, ledger, activity, logger.Named("login")),
		Accounts: accounts,
		Activity: activity,
		CSRF:     core.NewCSRFStore(cfg),
		Logger:   logger,
	})

	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("starting portal server", zap.String("addr", addr), zap.Bool("production", cfg.IsProduction()))
	if err := router.Run(addr); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
