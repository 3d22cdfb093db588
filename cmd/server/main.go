package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"p402-router/config"
	"p402-router/internal/api"
	"p402-router/internal/broker"
	"p402-router/internal/policy"
	"p402-router/internal/redisclient"
	"p402-router/internal/registry"
	"p402-router/internal/replay"
	"p402-router/internal/routing"
	"p402-router/internal/service"
	"p402-router/internal/store"
	"p402-router/internal/trace"
	"p402-router/internal/util"
	"p402-router/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting p402 router")

	tp, err := util.InitTracer("p402-router", cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRatio)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL, poolOptions(cfg))
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
		logger.Info("Migrations applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	var replayStore replay.Store
	switch cfg.Router.ReplayBackend {
	case "redis":
		replayStore = redisClient.Replay()
	case "memory":
		replayStore = replay.NewMemoryStore()
	default:
		replayStore = db.Replay()
	}
	replayGuard := replay.NewGuard(replayStore, cfg.Router.ReplayRetentionDays)

	settlement, err := service.NewSettlementBackend(cfg.Router.SettlementMode, cfg.Router.SettleTimeout)
	if err != nil {
		logger.Fatal("Invalid settlement configuration", zap.Error(err))
	}

	var oracle service.Oracle = service.NewSandboxOracle()
	if cfg.Router.OracleURL != "" {
		oracle = service.NewHTTPOracle(cfg.Router.OracleURL)
	}

	reg := registry.New(db, cfg.Router.LatencyNormalizer)
	if err := reg.Refresh(context.Background()); err != nil {
		logger.Error("Initial registry load failed", zap.Error(err))
	}
	logger.Info("Registry loaded", zap.Int("facilitators", reg.Size()))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	dispatcher := broker.NewDispatcher(cfg.Router.DispatchQueueSize, 4)
	dispatcher.Start(context.Background())

	deps := service.Dependencies{
		Routes:        db,
		Policies:      db,
		Events:        db,
		Policy:        policy.NewEngine(db, redisClient),
		Routing:       routing.NewEngine(reg),
		Replay:        replayGuard,
		Oracle:        oracle,
		Settlement:    settlement,
		Dispatcher:    dispatcher,
		Traces:        trace.NewBuilder(),
		VerifyTimeout: cfg.Router.VerifyTimeout,
		SettleTimeout: cfg.Router.SettleTimeout,
	}

	var producer *broker.Producer
	if cfg.Kafka.PublishEnabled {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		deps.Publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicEvents))
	}

	routerService := service.NewRouterService(deps)

	var wg sync.WaitGroup
	background := func(name string, run func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(workerCtx)
			logger.Info("Background job stopped", zap.String("job", name))
		}()
	}

	background("registry-refresher", worker.NewRegistryRefresher(reg, cfg.Router.RegistryRefresh).Run)
	background("health-poller", worker.NewHealthPoller(db, redisClient, cfg.Router.HealthPollInterval).Run)
	background("replay-sweeper", worker.NewReplaySweeper(replayGuard, redisClient, cfg.Router.ReplayRetentionDays, cfg.Router.ReplaySweepInterval).Run)

	var analyticsWorker *worker.AnalyticsWorker
	if cfg.Kafka.PublishEnabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
		analyticsWorker = worker.NewAnalyticsWorker(consumer, db, redisClient)
		background("analytics-worker", func(ctx context.Context) {
			if err := analyticsWorker.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Analytics worker error", zap.Error(err))
			}
		})
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(routerService, db, reg, redisClient)
	handler.AddReadinessCheck("database", db.Ping)
	handler.AddReadinessCheck("redis", redisClient.Ping)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if analyticsWorker != nil {
		_ = analyticsWorker.Stop()
	}
	wg.Wait()
	dispatcher.Stop()

	logger.Info("Server exited")
}

func poolOptions(cfg *config.Config) store.PoolOptions {
	return store.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
}
