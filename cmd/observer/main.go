package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/fleet-observer/internal/alert"
	"github.com/xela07ax/fleet-observer/internal/evaluator"
	"github.com/xela07ax/fleet-observer/internal/exporter"
	"github.com/xela07ax/fleet-observer/internal/health"
	"github.com/xela07ax/fleet-observer/internal/infra"
	"github.com/xela07ax/fleet-observer/internal/infra/auth"
	"github.com/xela07ax/fleet-observer/internal/metricstore"
	"github.com/xela07ax/fleet-observer/internal/registry"
	"github.com/xela07ax/fleet-observer/internal/repository/postgres"
	"github.com/xela07ax/fleet-observer/internal/seeder"
	"github.com/xela07ax/fleet-observer/internal/server"
	"github.com/xela07ax/fleet-observer/internal/silence"
	"github.com/xela07ax/fleet-observer/internal/telemetry"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if cfg.Database.URL == "" {
		logger.Fatal("database.url (or DATABASE_URL env) is required")
	}
	db, err := postgres.Open(cfg.Database.URL, int(cfg.Database.MaxConns), int(cfg.Database.MinConns))
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	alertRepo := postgres.NewAlertRepo(db)
	silenceRepo := postgres.NewSilenceRepo(db)

	// Проверяем соединение с таймаутом
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := alertRepo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// Публичный ключ для проверки операторских токенов
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to load auth public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	// Контекст жизненного цикла фоновых горутин: SIGTERM -> cancel() останавливает циклы
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Метрики: собственные + экспортируемые SLO-пороги в одном регистри
	promReg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promReg)
	thresholds := exporter.New(exporter.NewPromWriter(promReg), logger)

	// 4. Реестр: первый Load обязан пройти — без снапшота нечего обслуживать
	store := registry.NewStore(cfg.Registry.SourcePath, logger)
	if _, err := store.Load(); err != nil {
		logger.Fatal("initial registry load failed", zap.Error(err))
	}
	thresholds.Export(store.Current())
	go store.Watch(appCtx, cfg.Registry.ReloadInterval)

	// Экспорт порогов привязан к публикациям реестра
	go func() {
		sub := store.Subscribe()
		for {
			select {
			case <-appCtx.Done():
				return
			case snap := <-sub:
				thresholds.Export(snap)
			}
		}
	}()

	// 5. Control Plane: заглушки алертов (Postgres -> Redis -> RAM)
	silenceMgr := silence.NewManager(rdb, silenceRepo, logger)
	if err := silenceMgr.Init(appCtx); err != nil {
		logger.Fatal("failed to init silence manager", zap.Error(err))
	}
	go silenceMgr.StartListener(appCtx)

	// 6. Диспетчер алертов (Batching + Drain + Redis handoff)
	dispatcher := alert.NewDispatcher(alertRepo, rdb, metrics, logger)
	dispatcher.Start()

	// 7. Metrics store: клиент + Retries + Circuit Breaker
	querier := metricstore.NewReliableQuerier(
		metricstore.NewPromClient(cfg.Metrics.QueryURL, cfg.Metrics.QueryTimeout, logger),
		metricstore.BreakerSettings{
			MaxRequests: cfg.Metrics.CBMaxRequests,
			Interval:    cfg.Metrics.CBInterval,
			Timeout:     cfg.Metrics.CBTimeout,
		},
	)

	// 8. Четыре независимых цикла
	aggregator := health.NewAggregator(cfg.Health.ProbeTimeout, metrics, logger)
	go aggregator.Run(appCtx, cfg.Health.CycleInterval, store.Current)

	seed := seeder.New(querier, seeder.Options{
		RpsThreshold:      cfg.Seeder.RpsThreshold,
		MaxAgentsPerCycle: cfg.Seeder.MaxAgentsPerCycle,
		RequestTimeout:    cfg.Seeder.RequestTimeout,
		RatePerSecond:     cfg.Seeder.RatePerSecond,
		DryRun:            cfg.Seeder.DryRun,
	}, metrics, logger)
	go seed.Run(appCtx, cfg.Seeder.CycleInterval, store.Current)

	burn := evaluator.New(
		querier,
		evaluator.DefaultPairs(cfg.Evaluator.FastMultiplier, cfg.Evaluator.SlowMultiplier),
		evaluator.FleetOptions{Budget: cfg.Evaluator.FleetBudget, Multiplier: cfg.Evaluator.FleetMultiplier},
		dispatcher,
		silenceMgr,
		metrics,
		logger,
	)
	go burn.Run(appCtx, cfg.Evaluator.TickInterval, store.Current)

	// 9. HTTP API
	api := server.New(
		logger,
		validator,
		server.NewRegistryHandler(store),
		server.NewFleetHandler(aggregator),
		server.NewSilenceHandler(silenceMgr, store, logger),
		promReg,
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("fleet observer started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-stop // Ждем сигнал
	logger.Info("fleet observer stopping...")

	cancel() // Останавливаем фоновые циклы

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Диспетчер последним: дописывает хвост буфера (Final Flush)
	dispatcher.Stop()
	logger.Info("fleet observer exited properly")
}
