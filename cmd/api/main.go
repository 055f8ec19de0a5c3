package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bimakw/chain-wallet/internal/application/services"
	"github.com/bimakw/chain-wallet/internal/config"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/infrastructure/cache"
	"github.com/bimakw/chain-wallet/internal/infrastructure/coingecko"
	"github.com/bimakw/chain-wallet/internal/infrastructure/database"
	"github.com/bimakw/chain-wallet/internal/infrastructure/ethereum"
	"github.com/bimakw/chain-wallet/internal/infrastructure/keystore"
	"github.com/bimakw/chain-wallet/internal/infrastructure/metrics"
	"github.com/bimakw/chain-wallet/internal/infrastructure/zeroex"
	"github.com/bimakw/chain-wallet/internal/presentation/handlers"
	"github.com/bimakw/chain-wallet/internal/presentation/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync()

	logger.Info("Starting chain-wallet API",
		zap.Int("port", cfg.API.Port),
		zap.String("namespace", cfg.Wallet.Namespace),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.NewPostgresDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Connect to Redis cache (optional)
	var redisCache *cache.RedisCache
	redisCache, err = cache.NewRedisCache(cfg.Redis, cfg.Redis.DefaultTTL, logger)
	if err != nil {
		logger.Warn("Failed to connect to Redis, running without cache", zap.Error(err))
		redisCache = nil
	} else {
		defer redisCache.Close()
	}

	// Connect to Ethereum node
	ethClient, err := ethereum.NewClient(cfg.Ethereum, cfg.Balance.WorkerCount, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Ethereum node", zap.Error(err))
	}
	defer ethClient.Close()

	aggregator := zeroex.NewClient(cfg.Swap, logger)
	market := coingecko.NewClient(cfg.Market, logger)
	walletMetrics := metrics.New(prometheus.DefaultRegisterer)

	// Create repositories
	walletRepo := database.NewWalletRepo(db.DB())
	usageRepo := database.NewTokenUsageRepo(db.DB())
	txRepo := database.NewTransactionRepo(db.DB())

	// Create services
	namespace := cfg.Wallet.Namespace
	sealer := keystore.NewSealer(keystore.ParamsFromConfig(cfg.Wallet))
	vault := services.NewVaultService(walletRepo, sealer, namespace, ethClient.ChainID(), logger)
	native := entities.NativeToken(cfg.Wallet.NativeSymbol, cfg.Wallet.NativeName)

	catalog := services.NewCatalogService(ethClient, market, usageRepo, redisCache, cfg.Market, native, namespace, cfg.Balance.WorkerCount, logger)
	balances := services.NewBalanceService(ethClient, market, catalog, cfg.Balance, walletMetrics, logger)
	submitter := services.NewSubmitter(ethClient, vault, txRepo, balances, namespace, cfg.Transaction.PollInterval, walletMetrics, logger)
	defer submitter.Close()
	transfers := services.NewTransferService(ethClient, balances, catalog, submitter, txRepo, cfg.Ethereum, namespace, walletMetrics, logger)
	swaps := services.NewSwapService(ethClient, aggregator, catalog, submitter, cfg.Swap, cfg.Ethereum, walletMetrics, logger)

	var synthesizer services.SeriesSynthesizer
	if cfg.Chart.SyntheticFallback {
		synthesizer = services.NewOscillatingSynthesizer()
	}
	charts := services.NewChartService(market, redisCache, cfg.Market, synthesizer, logger)

	if err := vault.Load(ctx); err != nil {
		logger.Fatal("Failed to load wallet", zap.Error(err))
	}
	if _, err := submitter.ResumePending(ctx); err != nil {
		logger.Warn("Failed to resume pending transactions", zap.Error(err))
	}

	// Create handlers
	walletHandler := handlers.NewWalletHandler(vault, logger, middleware.PasswordAttempts(cfg.API.PasswordAttempts))
	portfolioHandler := handlers.NewPortfolioHandler(balances, transfers, cfg.API.CORSOrigins, logger)
	tokenHandler := handlers.NewTokenHandler(catalog, charts, logger)
	transferHandler := handlers.NewTransferHandler(transfers, vault, catalog, logger)
	swapHandler := handlers.NewSwapHandler(swaps, vault, catalog, cfg.API.CORSOrigins, logger)

	var cacheChecker handlers.HealthChecker
	if redisCache != nil {
		cacheChecker = redisCache
	}
	healthHandler := handlers.NewHealthHandler(db, cacheChecker, ethClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.API.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", handlers.SessionHeader},
		ExposedHeaders: []string{handlers.SessionHeader, "X-Chart-Synthetic"},
		MaxAge:         300,
	}))

	// Health endpoints (no rate limiting)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/live", healthHandler.Live)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimiter(cfg.API.RateLimitRPS))

		walletHandler.RegisterRoutes(r)
		portfolioHandler.RegisterRoutes(r)
		tokenHandler.RegisterRoutes(r)
		transferHandler.RegisterRoutes(r)
		swapHandler.RegisterRoutes(r)
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	// Run server in goroutine
	go func() {
		logger.Info("API server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Received shutdown signal, shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	// pending transactions are picked up again on the next start
	cancel()
	vault.Lock()

	logger.Info("Server stopped")
}

func setupLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoding := "json"
	encoderConfig := zap.NewProductionEncoderConfig()
	if format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, _ := config.Build()
	return logger
}
