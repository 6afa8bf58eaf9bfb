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

	"social_client/internal/config"
	"social_client/internal/handler"
	"social_client/internal/middleware"
	"social_client/internal/repository"
	"social_client/internal/service"
	"social_client/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.New(cfg.Log.Level)
	if cfg.Log.Format == "json" {
		appLogger = logger.NewJSON(cfg.Log.Level)
	}

	userID, err := service.ResolveUserID(cfg.Session.UserID, cfg.Backend.Token)
	if err != nil {
		appLogger.Fatal("Failed to resolve session user", "error", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Журнал синхронизации в PostgreSQL (опционально)
	var dbPool *pgxpool.Pool
	if cfg.Database.DSN != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
		if err != nil {
			appLogger.Fatal("Invalid database DSN", "error", err)
		}
		poolCfg.MaxConns = int32(cfg.Database.MaxConnections)

		dbPool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			appLogger.Fatal("Failed to connect to database", "error", err)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			appLogger.Fatal("Failed to ping database", "error", err)
		}
		if err := repository.EnsureJournalSchema(ctx, dbPool); err != nil {
			appLogger.Fatal("Failed to prepare journal schema", "error", err)
		}
		appLogger.Info("Database connection established")
	}

	// Кэш профилей в Redis (опционально)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Fatal("Failed to connect to Redis", "error", err)
		}
		appLogger.Info("Redis connection established")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	sched := service.NewScheduler()

	// Инициализация репозиториев
	repos := repository.NewRepositories(cfg, dbPool, rdb, service.NewRetryPolicy(cfg.Sync).Backoff, appLogger)

	// Инициализация сервисов
	services := service.NewServices(repos, cfg, userID, sched, registry, appLogger)

	if err := services.Inbox.Refresh(ctx); err != nil {
		// список догонится при подключении push-канала
		appLogger.Warn("Initial conversation refresh failed", "error", err)
	}

	go func() {
		if err := repos.Push.Run(ctx, services.Router.Handle); err != nil && ctx.Err() == nil {
			appLogger.Error("Push channel stopped", "error", err)
		}
	}()

	// Инициализация handlers
	handlers := handler.NewHandlers(services, repos, userID, appLogger)
	authMiddleware := middleware.NewAuthMiddleware(cfg.Server.APIToken, appLogger)

	// Настройка роутера
	router := setupRouter(handlers, authMiddleware, registry, cfg, appLogger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		appLogger.Info("Starting local API", "addr", srv.Addr, "user_id", userID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Ожидание сигнала для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	stop()
	_ = repos.Push.Close()

	// отложенные повторы уже не нужны, начатые вызовы бэкенда дожидаемся
	sched.Stop()
	drained := make(chan struct{})
	go func() {
		sched.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		appLogger.Warn("Background calls still running at shutdown")
	}

	appLogger.Info("Client exited")
}

func setupRouter(
	handlers *handler.Handlers,
	authMiddleware *middleware.AuthMiddleware,
	registry *prometheus.Registry,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler())

	router.GET("/health", handlers.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	protected := router.Group("")
	protected.Use(authMiddleware.RequireAuth())

	protected.GET("/ws/view", handlers.WebSocket.HandleView)

	v1 := protected.Group("/api/v1")
	{
		conversations := v1.Group("/conversations")
		{
			conversations.GET("", handlers.Conversation.List)
			conversations.POST("/refresh", handlers.Conversation.Refresh)
			conversations.GET("/:id/messages", handlers.Conversation.Messages)
			conversations.POST("/:id/open", handlers.Conversation.Open)
			conversations.POST("/:id/close", handlers.Conversation.Close)
			conversations.POST("/:id/read", handlers.Conversation.MarkRead)
			conversations.POST("/:id/older", handlers.Conversation.LoadOlder)
			conversations.POST("/:id/typing", handlers.Conversation.Typing)
			conversations.DELETE("/:id", handlers.Conversation.Delete)
		}

		messages := v1.Group("/messages")
		{
			messages.POST("", handlers.Message.Send)
			messages.POST("/:clientId/retry", handlers.Message.Retry)
		}

		v1.GET("/journal", handlers.Journal.Recent)
		v1.POST("/session/logout", handlers.Session.Logout)
	}

	return router
}
