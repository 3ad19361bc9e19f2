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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/ecomware/fulfillment-ledger/internal/config"
	"github.com/ecomware/fulfillment-ledger/internal/events"
	"github.com/ecomware/fulfillment-ledger/internal/loyalty"
	"github.com/ecomware/fulfillment-ledger/internal/messaging"
	"github.com/ecomware/fulfillment-ledger/internal/orders"
	"github.com/ecomware/fulfillment-ledger/internal/stock"
	"github.com/ecomware/fulfillment-ledger/internal/tasks"
	"github.com/ecomware/fulfillment-ledger/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "orders", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("orders", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := otelruntime.Start(); err != nil {
		logger.Error("failed to start runtime metrics", "error", err)
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

	bus := events.NewBus(logger)

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers != "" {
		brokers := strings.Split(kafkaBrokers, ",")
		producer := messaging.NewProducer(brokers, config.Env("KAFKA_TASKS_TOPIC", "loyalty.tasks"))
		defer func() { _ = producer.Close() }()
		tasks.NewDispatcher(producer, logger).Register(bus)
	} else {
		logger.Warn("KAFKA_BROKERS not set, loyalty tasks will not be dispatched")
	}

	loyaltyCfg := config.LoadLoyalty()

	repo := orders.NewOrderRepository(db)
	lifecycle := orders.NewLifecycle(db, repo, bus, logger)
	orderHandler := orders.NewHandler(repo, lifecycle, logger)

	ledger := loyalty.NewPostgresLedger(db)
	loyaltySvc := loyalty.NewService(ledger, loyaltyCfg, logger)
	loyaltyHandler := loyalty.NewHandler(loyaltySvc, repo, logger)

	stockHandler := stock.NewHandler(stock.NewGuard(db), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(orderHandler.HandleCreate))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(orderHandler.HandleList))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleGet))
	mux.HandleFunc("POST /orders/{id}/transition", telemetry.WithHTTPRoute(orderHandler.HandleTransition))
	mux.HandleFunc("GET /orders/{id}/history", telemetry.WithHTTPRoute(orderHandler.HandleHistory))
	mux.HandleFunc("POST /orders/{id}/refund-items", telemetry.WithHTTPRoute(orderHandler.HandleRefundItems))
	mux.HandleFunc("PATCH /orders/{id}/items/{itemId}", telemetry.WithHTTPRoute(orderHandler.HandleUpdateItem))
	mux.HandleFunc("POST /orders/{id}/pay", telemetry.WithHTTPRoute(orderHandler.HandleMarkPaid))
	mux.HandleFunc("DELETE /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleDelete))
	mux.HandleFunc("POST /loyalty/redeem", telemetry.WithHTTPRoute(loyaltyHandler.HandleRedeem))
	mux.HandleFunc("GET /loyalty/users/{id}/summary", telemetry.WithHTTPRoute(loyaltyHandler.HandleUserSummary))
	mux.HandleFunc("GET /stock/{sku}", telemetry.WithHTTPRoute(stockHandler.HandleGetStock))
	mux.HandleFunc("GET /products/{id}/stock", telemetry.WithHTTPRoute(stockHandler.HandleGetStockByID))
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	port := config.Env("PORT", "8081")

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "orders",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting orders service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
