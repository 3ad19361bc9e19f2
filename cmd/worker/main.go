package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/segmentio/kafka-go"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/ecomware/fulfillment-ledger/internal/config"
	"github.com/ecomware/fulfillment-ledger/internal/loyalty"
	"github.com/ecomware/fulfillment-ledger/internal/messaging"
	"github.com/ecomware/fulfillment-ledger/internal/telemetry"
	"github.com/ecomware/fulfillment-ledger/internal/worker"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := otelruntime.Start(); err != nil {
		logger.Error("failed to start runtime metrics", "error", err)
		os.Exit(1)
	}

	kafkaBrokers, err := config.RequireEnv("KAFKA_BROKERS")
	if err != nil {
		logger.Error("missing configuration", "error", err)
		os.Exit(1)
	}

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

	brokers := strings.Split(kafkaBrokers, ",")
	var consumerOpts []messaging.ConsumerOption
	if config.Env("KAFKA_START_OFFSET", "earliest") == "latest" {
		consumerOpts = append(consumerOpts, messaging.WithStartOffset(kafka.LastOffset))
	}
	consumer := messaging.NewConsumer(brokers, config.Env("KAFKA_TASKS_TOPIC", "loyalty.tasks"), "loyalty-worker", consumerOpts...)
	defer func() { _ = consumer.Close() }()

	metrics, err := telemetry.NewTaskMetrics()
	if err != nil {
		logger.Error("failed to create task metrics", "error", err)
		os.Exit(1)
	}

	svc := loyalty.NewService(loyalty.NewPostgresLedger(db), config.LoadLoyalty(), logger)
	taskHandler := worker.NewTaskHandler(svc, worker.DefaultRetryPolicy(), metrics, logger)

	metricsServer := &http.Server{
		Addr:        ":" + config.Env("METRICS_PORT", "9091"),
		Handler:     metricsHandler,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting loyalty worker", "brokers", brokers)

	if err := consumer.Consume(runCtx, taskHandler.Handle); err != nil {
		if runCtx.Err() == context.Canceled {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
