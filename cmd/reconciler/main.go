package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marketsync/stock-reconciler/internal/api"
	"github.com/marketsync/stock-reconciler/internal/checkpoint"
	"github.com/marketsync/stock-reconciler/internal/config"
	"github.com/marketsync/stock-reconciler/internal/credentials"
	"github.com/marketsync/stock-reconciler/internal/ledger"
	"github.com/marketsync/stock-reconciler/internal/logging"
	"github.com/marketsync/stock-reconciler/internal/marketplace"
	"github.com/marketsync/stock-reconciler/internal/orders"
	"github.com/marketsync/stock-reconciler/internal/propagator"
	"github.com/marketsync/stock-reconciler/internal/retry"
	"github.com/marketsync/stock-reconciler/internal/syncer"
	"github.com/marketsync/stock-reconciler/internal/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.ServiceName)
	defer func() { _ = log.Sync() }()

	tp, err := initTracer(cfg)
	if err != nil {
		log.Fatal("failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error("error shutting down tracer", zap.Error(err))
		}
	}()

	mp, err := initMetrics(cfg)
	if err != nil {
		log.Fatal("failed to initialize metrics", zap.Error(err))
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			log.Error("error shutting down meter", zap.Error(err))
		}
	}()

	dbPool, err := initDB(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer dbPool.Close()

	if cfg.SecretKey == "" {
		log.Fatal("CREDENTIALS_SECRET_KEY is required")
	}
	cipher, err := credentials.NewCipher([]byte(cfg.SecretKey))
	if err != nil {
		log.Fatal("failed to initialize credentials cipher", zap.Error(err))
	}

	ledgerRepo := ledger.NewPostgresRepository(dbPool)
	credStore := credentials.NewPostgresStore(dbPool, cipher)
	cpStore := checkpoint.NewPostgresStore(dbPool)

	retryCfg := retry.Config{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Multiplier:  cfg.RetryMultiplier,
	}
	ozonPolicy := retry.NewPolicy("OZON", retry.OzonClassification(), retryCfg, log)
	yandexPolicy := retry.NewPolicy("YANDEX", retry.YandexClassification(), retryCfg, log)
	policies := map[string]*retry.Policy{"OZON": ozonPolicy, "YANDEX": yandexPolicy}

	ozon := marketplace.NewOzonClient(marketplace.OzonConfig{
		BaseURL:    cfg.OzonBaseURL,
		CompanyID:  cfg.CompanyID,
		Timeout:    cfg.APITimeout,
		Warehouses: cfg.OzonWarehouses,
	}, credStore, ozonPolicy, log)
	yandex := marketplace.NewYandexClient(marketplace.YandexConfig{
		BaseURL:    cfg.YandexBaseURL,
		CampaignID: cfg.YandexCampaignID,
		CompanyID:  cfg.CompanyID,
		Timeout:    cfg.APITimeout,
		Warehouses: cfg.YandexWarehouses,
	}, credStore, log)
	adapters := []marketplace.Adapter{ozon, yandex}

	orderEvents := transport.NewKafkaProducer(cfg.KafkaBrokers, transport.TopicOrderEvents)
	stockEvents := transport.NewKafkaProducer(cfg.KafkaBrokers, transport.TopicStockEvents)
	syncResponses := transport.NewKafkaProducer(cfg.KafkaBrokers, transport.TopicStockSyncResponse)
	producers := []*transport.KafkaProducer{orderEvents, stockEvents, syncResponses}

	auditPool := propagator.NewAuditPool(&propagator.LogSink{Log: log}, cfg.AuditWorkers, cfg.AuditQueueLen, log)
	prop := propagator.New(adapters, credStore, policies, auditPool, log)
	orderConsumer := orders.NewConsumer(ledgerRepo, stockEvents, log)
	publisher := orders.NewPublisher(orderEvents, log)

	coordinators := make(map[string]*syncer.Coordinator, len(adapters))
	for _, a := range adapters {
		coordinators[a.Marketplace()] = syncer.New(a, ledgerRepo, cpStore, credStore,
			policies[a.Marketplace()], syncResponses, stockEvents, log)
	}

	home, found := findAdapter(adapters, cfg.Marketplace)
	if !found {
		log.Fatal("unknown home marketplace", zap.String("marketplace", cfg.Marketplace))
	}
	backfill := orders.NewBackfillService(home, publisher, cpStore,
		policies[home.Marketplace()], cfg.CompanyID, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumers := []*transport.KafkaConsumer{
		transport.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID,
			transport.TopicOrderEvents, cfg.WorkerCount, orderConsumer.Handle, log),
		transport.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID,
			transport.TopicStockEvents, cfg.WorkerCount, prop.Handle, log),
		transport.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID,
			transport.TopicStockSync, 1, fanOutSyncRequests(coordinators), log),
	}
	for _, c := range consumers {
		go func(c *transport.KafkaConsumer) {
			if err := c.Run(ctx); err != nil {
				log.Error("consumer stopped", zap.Error(err))
			}
		}(c)
	}

	handler := api.NewHandler(cfg.ServiceName, coordinators[home.Marketplace()],
		backfill, tp.Tracer(cfg.ServiceName), log)
	router := api.NewRouter(handler)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			log.Error("consumer close failed", zap.Error(err))
		}
	}
	auditPool.Close()
	for _, p := range producers {
		if err := p.Close(); err != nil {
			log.Error("producer close failed", zap.Error(err))
		}
	}
}

func findAdapter(adapters []marketplace.Adapter, name string) (marketplace.Adapter, bool) {
	for _, a := range adapters {
		if strings.EqualFold(a.Marketplace(), name) {
			return a, true
		}
	}
	return nil, false
}

// fanOutSyncRequests hands one stock-sync message to every coordinator; each
// processes only the warehouses tagged with its own marketplace.
func fanOutSyncRequests(coordinators map[string]*syncer.Coordinator) transport.Handler {
	return func(ctx context.Context, msg transport.Message) error {
		var firstErr error
		for _, c := range coordinators {
			if err := c.HandleRequest(ctx, msg); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
}

func initDB(cfg config.Config, log *zap.Logger) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.DatabaseUser,
		cfg.DatabasePassword,
		cfg.DatabaseHost,
		cfg.DatabasePort,
		cfg.DatabaseName,
	)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			log.Info("connected to database")
			return pool, nil
		}
		log.Info("waiting for database", zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}

func initTracer(cfg config.Config) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetTracerProvider(tp)

	return tp, nil
}

func initMetrics(cfg config.Config) (*sdkmetric.MeterProvider, error) {
	ctx := context.Background()

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp, nil
}
