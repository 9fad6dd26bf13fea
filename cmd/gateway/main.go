package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brickworks/orchestrator/cmd/gateway/internal/handlers"
	"github.com/brickworks/orchestrator/cmd/gateway/internal/middleware"
	"github.com/brickworks/orchestrator/internal/config"
	"github.com/brickworks/orchestrator/internal/db"
	"github.com/brickworks/orchestrator/internal/executor"
	"github.com/brickworks/orchestrator/internal/health"
	"github.com/brickworks/orchestrator/internal/memory"
	"github.com/brickworks/orchestrator/internal/orchestration"
	"github.com/brickworks/orchestrator/internal/session"
	"github.com/brickworks/orchestrator/internal/tracing"
	"github.com/brickworks/orchestrator/internal/ubic"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Configuration with hot reload
	cfgManager, err := config.NewManager(config.ConfigPath(), logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if err := cfgManager.Start(); err != nil {
		logger.Warn("Config file watching unavailable", zap.Error(err))
	}
	defer cfgManager.Stop()
	cfg := cfgManager.Current()

	// Tracing is on only when an OTLP endpoint is configured
	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if err := tracing.Initialize(tracing.Config{
		Enabled:      otlpEndpoint != "",
		ServiceName:  "brick-orchestrator",
		OTLPEndpoint: otlpEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed", zap.Error(err))
	}

	// Database
	dbClient, err := db.NewClient(&db.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxConnections:  cfg.Database.MaxConnections,
		IdleConnections: cfg.Database.IdleConnections,
		MaxLifetime:     time.Duration(cfg.Database.MaxLifetimeMs) * time.Millisecond,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbClient.Close()

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	// Stores and registry
	sessionStore := db.NewSessionStore(dbClient, logger)
	memoryStore := db.NewMemoryStore(dbClient, logger)
	registry := session.NewRegistry(cfg.Registry.MaxSessions, redisClient, logger)

	// Executor
	playbook, err := executor.LoadPlaybook(cfg.Executor.Playbook)
	if err != nil {
		logger.Warn("Failed to load analysis playbook, using defaults",
			zap.String("path", cfg.Executor.Playbook),
			zap.Error(err),
		)
		playbook = nil
	}
	analyzer := executor.NewAnalyzer(cfg.ExecutorTimeout(), playbook, logger)

	// Core services
	orchService := orchestration.NewService(sessionStore, registry, analyzer, cfg.Registry.HistoryWindow, logger)
	memService := memory.NewService(memoryStore, redisClient, logger)

	// Control plane
	bus := ubic.NewLocalBus(256, cfg.UBIC.SendRatePerSec, cfg.UBIC.SendBurst, logger)
	defer bus.Close()
	dedup := ubic.NewRedisDeduper(redisClient, cfg.DedupTTL())

	gateways := buildGateways(dedup, bus, cfgManager, dbClient, redisClient, orchService, memService, logger)

	// Bus delivery routes by target sub-service
	bus.Subscribe(func(msg ubic.Message) {
		for _, g := range gateways {
			if g.Service() == msg.Target {
				g.Receive(context.Background(), msg)
				return
			}
		}
		logger.Warn("Message for unknown target dropped", zap.String("target", msg.Target))
	})

	// Health
	healthManager := health.NewManager(logger)
	mustRegister(healthManager, health.NewDatabaseHealthChecker(dbClient.DB(), true), logger)
	mustRegister(healthManager, health.NewRedisHealthChecker(redisClient, false), logger)
	mustRegister(healthManager, health.NewCustomHealthChecker("executor", false, 2*time.Second,
		func(ctx context.Context) health.CheckResult {
			return health.CheckResult{
				Status:  health.StatusHealthy,
				Message: "Executor ready",
				Details: map[string]interface{}{
					"name":            analyzer.Name(),
					"supported_types": analyzer.SupportedTypes(),
				},
			}
		}), logger)
	healthManager.Start()
	defer healthManager.Stop()

	// Handlers
	orchHandler := handlers.NewOrchestrationHandler(orchService, logger)
	ubicHandler := handlers.NewUBICHandler(gateways, cfg.DrainTimeout(), logger)
	memHandler := handlers.NewMemoryHandler(memService, logger)

	// Middlewares
	tracingMW := middleware.NewTracingMiddleware(logger).Middleware
	validationMW := middleware.NewValidationMiddleware(logger).Middleware
	rateLimitMW := middleware.NewRateLimiter(redisClient, cfg.RateLimit.RequestsPerMinute, logger).Middleware
	wrap := func(h http.HandlerFunc) http.Handler {
		return tracingMW(middleware.MetricsMiddleware(validationMW(rateLimitMW(h))))
	}

	mux := http.NewServeMux()

	// Probes are unwrapped so they stay cheap
	mux.HandleFunc("GET /health", healthManager.HealthHandler())
	mux.HandleFunc("GET /readiness", healthManager.ReadinessHandler())

	// Orchestration endpoints
	mux.Handle("POST /api/v1/orchestration/sessions", wrap(orchHandler.StartSession))
	mux.Handle("GET /api/v1/orchestration/sessions", wrap(orchHandler.ListSessions))
	mux.Handle("GET /api/v1/orchestration/sessions/{id}", wrap(orchHandler.GetSession))
	mux.Handle("DELETE /api/v1/orchestration/sessions/{id}", wrap(orchHandler.CloseSession))
	mux.Handle("POST /api/v1/orchestration/sessions/{id}/analyze", wrap(orchHandler.ExecuteTask))

	// Control-plane endpoints, one family per sub-service
	mux.Handle("GET /api/v1/ubic/{service}/health", wrap(ubicHandler.Health))
	mux.Handle("GET /api/v1/ubic/{service}/capabilities", wrap(ubicHandler.Capabilities))
	mux.Handle("GET /api/v1/ubic/{service}/state", wrap(ubicHandler.State))
	mux.Handle("GET /api/v1/ubic/{service}/dependencies", wrap(ubicHandler.Dependencies))
	mux.Handle("POST /api/v1/ubic/{service}/message", wrap(ubicHandler.Receive))
	mux.Handle("POST /api/v1/ubic/{service}/send", wrap(ubicHandler.Send))
	mux.Handle("POST /api/v1/ubic/{service}/reload-config", wrap(ubicHandler.ReloadConfig))
	mux.Handle("POST /api/v1/ubic/{service}/shutdown", wrap(ubicHandler.Shutdown))
	mux.Handle("POST /api/v1/ubic/{service}/emergency-stop", wrap(ubicHandler.EmergencyStop))

	// Memory endpoints
	mux.Handle("PUT /api/v1/memory/{key}", wrap(memHandler.Put))
	mux.Handle("GET /api/v1/memory/{key}", wrap(memHandler.Get))
	mux.Handle("GET /api/v1/memory", wrap(memHandler.List))

	// Metrics on a separate listener
	go func() {
		addr := ":" + strconv.Itoa(cfg.Server.MetricsPort)
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics listener starting", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, metricsMux); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics listener failed", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Gateway starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start gateway", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Gateway shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway forced to shutdown", zap.Error(err))
	}

	// Drain sub-services after the HTTP surface stops accepting work
	for _, g := range gateways {
		report := g.Shutdown(shutdownCtx, cfg.DrainTimeout())
		if !report.Clean {
			logger.Warn("Sub-service drain incomplete",
				zap.String("service", report.Service),
				zap.Int64("pending", report.Pending),
			)
		}
	}

	logger.Info("Gateway stopped")
}

// buildGateways wires the four sub-service control planes, keyed by URL slug
func buildGateways(
	dedup ubic.Deduper,
	bus ubic.Bus,
	cfgManager *config.Manager,
	dbClient *db.Client,
	redisClient redis.UniversalClient,
	orchService *orchestration.Service,
	memService *memory.Service,
	logger *zap.Logger,
) map[string]*ubic.Gateway {
	const version = "1.0.0"

	dbDep := ubic.Dependency{
		Name: "postgres",
		Type: "database",
		Check: func(ctx context.Context) error {
			return dbClient.DB().PingContext(ctx)
		},
	}
	redisDep := ubic.Dependency{
		Name: "redis",
		Type: "cache",
		Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}
	reload := func() error {
		_, err := cfgManager.Reload()
		return err
	}

	core := ubic.NewGateway("I_CORE", version, dedup, bus, logger)
	core.SetDependencies([]ubic.Dependency{dbDep, redisDep})
	core.SetReloadFunc(reload)
	core.RegisterHandler("analysis.execute", func(ctx context.Context, msg ubic.Message) error {
		sessionID, _ := msg.Payload["session_id"].(string)
		analysisType, _ := msg.Payload["analysis_type"].(string)
		params, _ := msg.Payload["parameters"].(map[string]interface{})
		_, err := orchService.ExecuteTask(ctx, sessionID, analysisType, params)
		return err
	})
	core.RegisterHandler("session.close", func(ctx context.Context, msg ubic.Message) error {
		sessionID, _ := msg.Payload["session_id"].(string)
		_, err := orchService.CloseSession(ctx, sessionID)
		return err
	})

	mem := ubic.NewGateway("I_MEMORY", version, dedup, bus, logger)
	mem.SetDependencies([]ubic.Dependency{dbDep, redisDep})
	mem.SetReloadFunc(reload)
	mem.RegisterHandler("memory.store", func(ctx context.Context, msg ubic.Message) error {
		key, _ := msg.Payload["key"].(string)
		content, _ := msg.Payload["content"].(string)
		meta, _ := msg.Payload["metadata"].(map[string]interface{})
		return memService.Put(ctx, memory.Item{Key: key, Content: content, Metadata: meta})
	})

	assess := ubic.NewGateway("I_ASSESS", version, dedup, bus, logger)
	assess.SetDependencies([]ubic.Dependency{dbDep})
	assess.SetReloadFunc(reload)
	assess.RegisterHandler("assessment.request", func(ctx context.Context, msg ubic.Message) error {
		sessionID, _ := msg.Payload["session_id"].(string)
		if sessionID == "" {
			return fmt.Errorf("assessment requires a session_id")
		}
		_, err := orchService.GetSessionStatus(ctx, sessionID)
		return err
	})

	chat := ubic.NewGateway("I_CHAT", version, dedup, bus, logger)
	chat.SetDependencies([]ubic.Dependency{redisDep})
	chat.SetReloadFunc(reload)
	chat.RegisterHandler("chat.notify", func(ctx context.Context, msg ubic.Message) error {
		logger.Info("Chat notification",
			zap.String("source", msg.Source),
			zap.Any("payload", msg.Payload),
		)
		return nil
	})

	return map[string]*ubic.Gateway{
		"i-core":   core,
		"i-memory": mem,
		"i-assess": assess,
		"i-chat":   chat,
	}
}

func mustRegister(m *health.Manager, c health.Checker, logger *zap.Logger) {
	if err := m.RegisterChecker(c); err != nil {
		logger.Fatal("Failed to register health checker", zap.Error(err))
	}
}
