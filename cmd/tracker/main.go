package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bimakw/chain-wallet/internal/application/services"
	"github.com/bimakw/chain-wallet/internal/config"
	"github.com/bimakw/chain-wallet/internal/infrastructure/database"
	"github.com/bimakw/chain-wallet/internal/infrastructure/ethereum"
	"github.com/bimakw/chain-wallet/internal/infrastructure/metrics"
)

// The tracker settles pending transactions without serving the API. It
// never signs, so it runs without a vault.
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.Log.Level)
	defer logger.Sync()

	logger.Info("Starting chain-wallet tracker",
		zap.String("namespace", cfg.Wallet.Namespace),
		zap.Duration("resume_interval", cfg.Transaction.ResumeInterval),
	)

	// Setup context with cancellation
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

	// Connect to Ethereum node
	ethClient, err := ethereum.NewClient(cfg.Ethereum, cfg.Balance.WorkerCount, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Ethereum node", zap.Error(err))
	}
	defer ethClient.Close()

	txRepo := database.NewTransactionRepo(db.DB())
	submitter := services.NewSubmitter(
		ethClient,
		nil,
		txRepo,
		nil,
		cfg.Wallet.Namespace,
		cfg.Transaction.PollInterval,
		metrics.New(prometheus.DefaultRegisterer),
		logger,
	)

	// Start metrics server
	go startMetricsServer(cfg.Transaction.MetricsPort, logger)

	go resumeLoop(ctx, submitter, cfg.Transaction.ResumeInterval, logger)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Received shutdown signal, stopping tracker...")

	// Graceful shutdown
	cancel()
	submitter.Close()

	logger.Info("Tracker stopped")
}

// resumeLoop picks up pending transactions on start and then every
// interval. Transactions already tracked are skipped by the submitter.
func resumeLoop(ctx context.Context, submitter *services.Submitter, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := submitter.ResumePending(ctx); err != nil {
			logger.Error("Failed to resume pending transactions", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func setupLogger(level string) *zap.Logger {
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

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, _ := config.Build()
	return logger
}

func startMetricsServer(port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting metrics server", zap.String("addr", addr))

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Metrics server error", zap.Error(err))
	}
}
