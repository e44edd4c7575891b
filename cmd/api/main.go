package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/aip-dev/registry/internal/api/handlers"
	redisCache "github.com/aip-dev/registry/internal/cache/redis"
	"github.com/aip-dev/registry/internal/embedding"
	"github.com/aip-dev/registry/internal/enrich"
	"github.com/aip-dev/registry/internal/events"
	"github.com/aip-dev/registry/internal/metrics"
	"github.com/aip-dev/registry/internal/middleware/auth"
	"github.com/aip-dev/registry/internal/middleware/ratelimit"
	"github.com/aip-dev/registry/internal/middleware/security"
	"github.com/aip-dev/registry/internal/middleware/validation"
	"github.com/aip-dev/registry/internal/registry"
	"github.com/aip-dev/registry/internal/reputation"
	"github.com/aip-dev/registry/internal/search/vector"
	"github.com/aip-dev/registry/internal/storage/sqlite"
	"github.com/aip-dev/registry/internal/webhook"
	"github.com/aip-dev/registry/pkg/config"
	appLogger "github.com/aip-dev/registry/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting AIP registry server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var cache *redisCache.Client
	if cfg.Redis.Enabled {
		cache, err = redisCache.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second,
		)
		if err != nil {
			appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer cache.Close()
	}

	var index *vector.Index
	if cfg.Vector.Enabled {
		embedder := embedding.NewClient(
			cfg.Embedding.APIKey,
			cfg.Embedding.Model,
			time.Duration(cfg.Embedding.TimeoutSec)*time.Second,
		)
		index, err = vector.NewIndex(
			cfg.Vector.Endpoint,
			cfg.Vector.CollectionName,
			cfg.Vector.VectorDim,
			embedder,
		)
		if err != nil {
			appLogger.Fatal("Failed to connect to vector store", zap.Error(err))
		}
		defer index.Close()

		if err := index.EnsureCollection(context.Background()); err != nil {
			appLogger.Fatal("Failed to prepare vector collection", zap.Error(err))
		}
	}

	bus := events.NewBus()

	webhookDispatcher := webhook.NewDispatcher(sqliteClient, webhook.Config{
		Timeout:     time.Duration(cfg.Webhook.TimeoutSec) * time.Second,
		MaxAttempts: cfg.Webhook.MaxAttempts,
		QueueSize:   cfg.Webhook.QueueSize,
	})
	webhookDispatcher.Start(bus)
	defer webhookDispatcher.Stop()

	engine := reputation.NewEngine(
		sqliteClient,
		cache,
		reputation.GoDispatcher{Timeout: time.Duration(cfg.Reputation.AsyncTimeoutSec) * time.Second},
		bus,
	)

	enricher := enrich.NewFetcher(sqliteClient)
	service := registry.NewService(sqliteClient, cache, engine, index, enricher, bus)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               appLogger.Log,
	})
	defer limiter.Stop()

	authz := auth.New(sqliteClient)

	app.Use(recover.New())
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		metrics.RequestDuration.WithLabelValues(
			c.Method(),
			c.Route().Path,
			strconv.Itoa(c.Response().StatusCode()),
		).Observe(time.Since(start).Seconds())
		return err
	})
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(authz.Optional())
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		MaxBodyBytes: cfg.Server.BodyLimit,
	}))

	agentsHandler := handlers.NewAgentsHandler(service)
	reviewsHandler := handlers.NewReviewsHandler(engine)
	reputationHandler := handlers.NewReputationHandler(engine)
	webhooksHandler := handlers.NewWebhooksHandler(sqliteClient)
	adminHandler := handlers.NewAdminHandler(sqliteClient)
	eventsHandler := handlers.NewEventsHandler(bus)

	api := app.Group("/api/v1")

	api.Post("/agents", authz.Require(auth.ScopeWrite), agentsHandler.Register)
	api.Get("/agents", agentsHandler.Search)
	api.Get("/agents/search/semantic", agentsHandler.SemanticSearch)
	api.Get("/agents/:id", agentsHandler.Get)
	api.Put("/agents/:id", authz.Require(auth.ScopeWrite), agentsHandler.Update)
	api.Delete("/agents/:id", authz.Require(auth.ScopeDelete), agentsHandler.Delete)
	api.Post("/agents/:id/metrics", authz.Require(auth.ScopeWrite), agentsHandler.ReportMetrics)

	api.Post("/agents/:id/reviews", reviewsHandler.Submit)
	api.Get("/agents/:id/reviews", reviewsHandler.List)

	api.Get("/agents/:id/reputation", reputationHandler.GetScore)
	api.Post("/agents/:id/reputation/recalculate", authz.Require(auth.ScopeWrite), reputationHandler.Recalculate)
	api.Get("/reputation/top", reputationHandler.Top)

	api.Post("/webhooks", authz.Require(auth.ScopeWrite), webhooksHandler.Create)
	api.Get("/webhooks", authz.Require(auth.ScopeWrite), webhooksHandler.List)
	api.Delete("/webhooks/:id", authz.Require(auth.ScopeWrite), webhooksHandler.Delete)

	api.Post("/admin/api-keys", authz.Require(auth.ScopeAdmin), adminHandler.CreateAPIKey)
	api.Get("/admin/api-keys", authz.Require(auth.ScopeAdmin), adminHandler.ListAPIKeys)
	api.Delete("/admin/api-keys/:id", authz.Require(auth.ScopeAdmin), adminHandler.RevokeAPIKey)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if err := sqliteClient.Ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(eventsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
