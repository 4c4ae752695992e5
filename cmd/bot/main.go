package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"hars/internal/api"
	"hars/internal/bot"
	"hars/internal/config"
	"hars/internal/exchange"
	"hars/internal/models"
	"hars/internal/repository"
	"hars/internal/strategy"
	"hars/pkg/crypto"
	"hars/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.MustNew(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- биржевой адаптер ---
	adapter, err := buildAdapter(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize exchange adapter", zap.Error(err))
	}
	defer adapter.Close()

	// --- персистентность (опциональная) ---
	var store bot.RecordStore
	var notifRepo *repository.NotificationRepository
	if cfg.Database.Enabled {
		db, err := initDatabase(cfg)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		log.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

		execRepo := repository.NewExecutionRepository(db)
		notifRepo = repository.NewNotificationRepository(db)
		store = execRepo.Create
	} else {
		log.Info("running without database, execution audit log disabled")
	}

	// --- торговый конвейер ---
	riskCfg := bot.DefaultRiskConfig()
	riskCfg.SoftDrawdownLimit = cfg.Risk.SoftDrawdownLimit
	riskCfg.HardDrawdownLimit = cfg.Risk.HardDrawdownLimit
	riskCfg.APIFailureThreshold = cfg.Risk.APIFailureThreshold
	riskCfg.MaxSymbolExposureUSD = cfg.Risk.MaxSymbolExposureUSD
	riskCfg.MaxTotalExposureUSD = cfg.Risk.MaxTotalExposureUSD

	risk := bot.NewRiskBrain(riskCfg, log.Named("risk"))
	for _, symbol := range cfg.Trading.Symbols {
		risk.SetLiquidityEstimate(symbol, cfg.Risk.LiquidityEstimate(symbol))
	}
	portfolio := bot.NewPortfolio(log.Named("portfolio"))
	regimes := bot.NewRegimeEngine(bot.DefaultRegimeConfig())
	perf := bot.NewPerformanceTracker()

	registry := strategy.NewRegistry(
		strategy.NewMeanReversion(cfg.Trading.BaseSize),
		strategy.NewTrendContinuation(cfg.Trading.BaseSize),
		strategy.NewLiquidityRaid(cfg.Trading.BaseSize),
	)
	router := bot.NewRouter(bot.DefaultRouterConfig(), registry, log.Named("router"))

	var engine *bot.Engine
	reconcilerCfg := bot.DefaultReconcilerConfig()
	reconcilerCfg.PollInterval = cfg.Trading.PollInterval
	reconcilerCfg.StuckAfter = cfg.Trading.StuckAfter
	reconciler := bot.NewReconciler(reconcilerCfg, adapter, func(n models.Notification) {
		if engine != nil {
			engine.Notify(n)
		}
	}, log.Named("reconciler"))

	execution := bot.NewExecutionEngine(
		bot.DefaultExecutionConfig(), adapter, risk, reconciler, store, log.Named("execution"))

	// Фид нужен и в dry-run: paper-режим торгует симулированными
	// fill'ами по живым рыночным данным
	feed := exchange.NewPriceFeed(cfg.Exchange.WSURL, cfg.Trading.Symbols, exchange.DefaultFeedConfig())

	engineCfg := bot.DefaultEngineConfig(cfg.Trading.Symbols)
	engineCfg.TickInterval = cfg.Trading.TickInterval
	engineCfg.SyncInterval = cfg.Trading.SyncInterval

	var sink bot.NotificationSink
	if notifRepo != nil {
		sink = func(ctx context.Context, n models.Notification) {
			if err := notifRepo.Create(ctx, &n); err != nil {
				log.Warn("failed to persist notification", zap.Error(err))
			}
		}
	}

	engine = bot.NewEngine(engineCfg, adapter, feed, regimes, router, risk,
		execution, reconciler, portfolio, perf, sink, log.Named("engine"))

	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("trading engine exited", zap.Error(err))
		}
	}()

	// --- ops surface ---
	opsRouter := api.SetupRoutes(&api.Deps{Engine: engine, Log: log.Named("http")})
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      opsRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("ops server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("ops server failed", zap.Error(err))
		}
	}()

	// --- graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("ops server forced to shutdown", zap.Error(err))
	}

	log.Info("exited")
}

// buildAdapter выбирает paper или живой адаптер по DRY_RUN.
// Зашифрованный API-секрет расшифровывается ключом, выведенным
// PBKDF2 из passphrase и соли.
func buildAdapter(cfg *config.Config, log *zap.Logger) (exchange.Adapter, error) {
	if cfg.Exchange.DryRun {
		log.Warn("DRY_RUN enabled, using paper adapter - no live orders will be placed")
		return exchange.NewPaper(), nil
	}

	secret := cfg.Exchange.APISecret
	if cfg.Exchange.APISecretEncrypted != "" {
		salt, err := base64.StdEncoding.DecodeString(cfg.Exchange.KeySalt)
		if err != nil {
			return nil, fmt.Errorf("invalid KEY_SALT: %w", err)
		}
		key, err := crypto.DeriveKey(cfg.Exchange.KeyPassphrase, salt)
		if err != nil {
			return nil, fmt.Errorf("key derivation failed: %w", err)
		}
		secret, err = crypto.Decrypt(cfg.Exchange.APISecretEncrypted, key)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt API secret: %w", err)
		}
	}

	return exchange.NewLighter(cfg.Exchange.APIKey, secret, cfg.Exchange.BaseURL), nil
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
