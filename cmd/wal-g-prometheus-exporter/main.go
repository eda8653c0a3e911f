// cmd/wal-g-prometheus-exporter/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/camptocamp/wal-g-prometheus-exporter/internal/archive"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/backup"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/config"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/database"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/drivers"
	"github.com/camptocamp/wal-g-prometheus-exporter/internal/exporter"
)

// primaryPollInterval paces the wait-for-primary loop. A standby keeps
// the exporter idle so only the node doing the archiving reports.
const primaryPollInterval = 60 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No logger yet; stderr is all we have.
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	config.LoadFromEnv(cfg)

	logger := newLogger(cfg.Server.LogLevel)
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewPostgres(database.Config{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	waitForPrimary(ctx, db, logger)

	lister := backup.NewLister(cfg.WalG.Binary, cfg.WalG.Timeout,
		backup.WithListerLogger(logger))

	remote, err := drivers.NewSegmentLister(ctx, drivers.S3Options{
		Endpoint:  cfg.Remote.Endpoint,
		Region:    cfg.Remote.Region,
		AccessKey: cfg.Remote.AccessKey,
		SecretKey: cfg.Remote.SecretKey,
		Bucket:    cfg.Remote.Bucket,
		Prefix:    cfg.Remote.Prefix,
		PathStyle: cfg.Remote.PathStyle,
		PageRate:  cfg.Remote.ListPageRate,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("create segment lister", zap.Error(err))
	}

	state := archive.NewState(cfg.Archive.StatusDir, db, cfg.Archive.ArchiverStatusTTL,
		archive.WithStateLogger(logger))
	exp := exporter.New(state, lister, remote, logger)

	server := exporter.NewServer(cfg.Server.Port, exp, logger)

	// Handle shutdown gracefully
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	go func() {
		if err := exp.Run(ctx, exporter.RunOptions{
			Interval: cfg.Archive.RefreshInterval,
			WatchDir: cfg.Archive.StatusDir,
		}); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("tick loop stopped", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// waitForPrimary blocks until the connected node accepts writes.
// Standbys cannot run wal-g archiving, so starting the exporter there
// would only report a stale picture.
func waitForPrimary(ctx context.Context, db *database.Postgres, logger *zap.Logger) {
	for {
		primary, err := db.IsPrimary(ctx)
		if err != nil {
			logger.Warn("primary check failed", zap.Error(err))
		} else if primary {
			logger.Info("node is primary, starting exporter")
			return
		} else {
			logger.Info("node is standby, waiting",
				zap.Duration("retry_in", primaryPollInterval))
		}
		select {
		case <-ctx.Done():
			os.Exit(0)
		case <-time.After(primaryPollInterval):
		}
	}
}

func newLogger(level string) *zap.Logger {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := zapCfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}
