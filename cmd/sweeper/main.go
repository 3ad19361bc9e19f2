package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/ecomware/fulfillment-ledger/internal/config"
	"github.com/ecomware/fulfillment-ledger/internal/loyalty"
	"github.com/ecomware/fulfillment-ledger/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "sweeper", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	postgresURL, err := config.RequireEnv("POSTGRES_URL")
	if err != nil {
		logger.Error("missing configuration", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	cfg := config.LoadLoyalty()
	if cfg.PointsExpirationDays <= 0 {
		logger.Info("points expiration disabled, nothing to sweep")
		return
	}

	interval, err := time.ParseDuration(config.Env("SWEEP_INTERVAL", "1h"))
	if err != nil {
		logger.Error("invalid SWEEP_INTERVAL", "error", err)
		os.Exit(1)
	}

	svc := loyalty.NewService(loyalty.NewPostgresLedger(db), cfg, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting expiration sweeper", "interval", interval, "expiration_days", cfg.PointsExpirationDays)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweep := func() {
		expired, err := svc.ProcessExpiration(runCtx)
		if err != nil {
			logger.Error("expiration sweep failed", "error", err)
			return
		}
		logger.Info("expiration sweep finished", "expired_entries", expired)
	}

	sweep()
	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
