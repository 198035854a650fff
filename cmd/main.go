package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "transaction-api/docs"
	"transaction-api/internal/cache"
	"transaction-api/internal/client"
	"transaction-api/internal/config"
	"transaction-api/internal/controller"
	"transaction-api/internal/database"
	"transaction-api/internal/engine"
	"transaction-api/internal/external"
	"transaction-api/internal/middleware"
	"transaction-api/internal/monitoring"
	"transaction-api/internal/repository"
	"transaction-api/internal/scheduler"
	"transaction-api/internal/service"
	"transaction-api/pkg/logger"
)

// @title Transaction API
// @version 1.0
// @description Transaction processing service - records deposits, withdrawals, transfers and reversals against the account ledger, enforces transaction limits and exposes monitoring endpoints.

// @contact.name API Support
// @contact.email support@banking-platform.local

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8083
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
		"port":       cfg.Server.Port,
	}).Info("Starting Transaction API")

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApp(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.cleanup()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logrus.WithField("address", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	cancel()

	logrus.Info("Server exited")
}

// Application holds all application dependencies
type Application struct {
	config  *config.Config
	router  *gin.Engine
	cleanup func()
}

// initializeApp wires every layer together: storage, caches, the account
// service client, the transaction engine, services, background jobs and the
// HTTP surface. Order matters: repositories before services, services before
// controllers, scheduler last so every job dependency already exists.
func initializeApp(ctx context.Context, cfg *config.Config) (*Application, error) {
	logrus.Info("Initializing application dependencies...")

	db, err := database.Initialize(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	metrics := monitoring.NewPrometheusMetrics()

	cacheService := cache.NewCacheService(db.Redis, "transaction-api")
	accountCache := cache.NewAccountCache(cacheService, cfg.Cache.AccountTTL)
	limitCache := cache.NewLimitCache(cacheService, cfg.Cache.LimitsTTL)

	transactionRepo := repository.NewTransactionRepository(db.Mongo)
	limitRepo := repository.NewLimitRepository(db.Mongo)
	leaseRepo := repository.NewLeaseRepository(db.Redis)

	if err := transactionRepo.CreateIndexes(ctx); err != nil {
		return nil, fmt.Errorf("transaction indexes: %w", err)
	}
	if err := limitRepo.CreateIndexes(ctx); err != nil {
		return nil, fmt.Errorf("limit indexes: %w", err)
	}

	// Event publishing degrades to a no-op when the broker is unreachable;
	// the ledger stays available even if RabbitMQ is down at boot.
	var publisher external.EventPublisher
	if cfg.RabbitMQ.Enabled {
		publisher, err = external.NewEventPublisher(cfg.RabbitMQ)
		if err != nil {
			logrus.WithError(err).Warn("Event publisher unavailable, continuing without events")
			publisher = external.NewNoopPublisher()
		}
	} else {
		publisher = external.NewNoopPublisher()
	}

	notifier := external.NewNoopNotifier()
	if cfg.Alerting.WebhookURL != "" {
		notifier = external.NewWebhookNotifier(cfg.Alerting.WebhookURL)
	}

	auditService := service.NewAuditService(logger.AuditLogger(cfg.Logging), publisher)
	alertService := service.NewAlertService(cfg.Alerting, metrics, auditService, publisher, notifier)

	breaker := client.NewCircuitBreaker("account-service", cfg.CircuitBreaker)
	breaker.OnStateChange(func(from, to client.CircuitState) {
		metrics.SetCircuitBreakerState(to.String())
		logrus.WithFields(logrus.Fields{
			"breaker": "account-service",
			"from":    from.String(),
			"to":      to.String(),
		}).Warn("Circuit breaker state changed")
	})

	accountClient := client.NewAccountClient(
		cfg.AccountService,
		breaker,
		client.NewRetryPolicy(cfg.Retry),
		client.NewTokenProvider(cfg.Auth),
		accountCache,
		client.Observer{
			OnCall: func(operation string, duration time.Duration, err error) {
				metrics.RecordAccountServiceCall(operation, duration, err != nil)
			},
		},
	)

	limitService := service.NewLimitService(limitRepo, transactionRepo, limitCache)
	txEngine := engine.NewTransactionEngine(transactionRepo, accountClient, limitService, auditService, metrics, publisher, accountCache, cfg)
	transactionService := service.NewTransactionService(txEngine, transactionRepo, limitService, cfg)
	adminService := service.NewAdminService(limitRepo, transactionRepo, limitCache, txEngine, auditService, cfg)

	healthChecker := monitoring.NewHealthChecker(version, metrics)
	healthChecker.RegisterCheck(monitoring.NewDatabaseChecker("mongodb", db.HealthCheck), true)
	healthChecker.RegisterCheck(monitoring.NewCacheChecker("redis", cacheService), false)
	healthChecker.RegisterCheck(monitoring.NewExternalServiceChecker("account-service", accountClient.Ping), false)
	healthChecker.RegisterCheck(monitoring.NewSelfChecker(metrics), true)

	jobs := scheduler.NewScheduler(
		leaseRepo,
		transactionRepo,
		txEngine,
		accountClient,
		alertService,
		adminService,
		auditService,
		metrics,
		healthChecker,
		cfg.Limits.RetentionDays > 0,
		logrus.StandardLogger(),
	)
	if err := jobs.Start(); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	stopMetrics := make(chan struct{})
	if cfg.Monitoring.EnableMetrics {
		monitoring.StartSystemMetricsRecording(metrics, cfg.Monitoring.MetricsInterval, stopMetrics)
	}

	transactionController := controller.NewTransactionController(transactionService)
	adminController := controller.NewAdminController(adminService)
	monitoringController := controller.NewMonitoringController(alertService, adminService, healthChecker, metrics, breaker)
	healthController := controller.NewHealthController(healthChecker, controller.BuildInfo{
		Version:   version,
		BuildTime: buildTime,
		GitCommit: gitCommit,
	})

	authMW := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, auditService)
	loggingMW := middleware.NewLoggingMiddleware(logrus.StandardLogger(), auditService, metrics)
	rateLimitMW := middleware.NewRateLimitMiddleware(cfg.RateLimit, cacheService, logrus.StandardLogger())

	router := setupRouter(cfg, routerDeps{
		transactions: transactionController,
		admin:        adminController,
		monitoring:   monitoringController,
		health:       healthController,
		auth:         authMW,
		logging:      loggingMW,
		rateLimit:    rateLimitMW,
	})

	cleanup := func() {
		logrus.Info("Cleaning up application resources...")
		jobs.Stop()
		close(stopMetrics)
		auditService.Close()
		if err := publisher.Close(); err != nil {
			logrus.WithError(err).Warn("Event publisher close failed")
		}
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := db.Close(closeCtx); err != nil {
			logrus.WithError(err).Warn("Database close failed")
		}
	}

	return &Application{
		config:  cfg,
		router:  router,
		cleanup: cleanup,
	}, nil
}

type routerDeps struct {
	transactions *controller.TransactionController
	admin        *controller.AdminController
	monitoring   *controller.MonitoringController
	health       *controller.HealthController
	auth         *middleware.AuthMiddleware
	logging      *middleware.LoggingMiddleware
	rateLimit    *middleware.RateLimitMiddleware
}

// setupRouter configures the HTTP routes. Probes and swagger stay public,
// everything under /api/transactions requires an authenticated caller, admin
// and monitoring surfaces require the matching role.
func setupRouter(cfg *config.Config, deps routerDeps) *gin.Engine {
	router := gin.New()
	_ = router.SetTrustedProxies(cfg.Server.TrustedProxies)

	router.Use(requestid.New())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS())
	router.Use(middleware.BodySizeLimit())
	router.Use(deps.logging.RequestLogger())
	router.Use(deps.logging.Metrics())
	router.Use(deps.rateLimit.Limit())
	router.Use(deps.auth.Authenticate())
	router.Use(deps.logging.APIAudit())

	// Liveness probe, reachable without a token.
	router.GET("/api/transactions/health", deps.health.Health)

	actuator := router.Group("/actuator")
	{
		actuator.GET("/health", deps.health.ActuatorHealth)
		actuator.GET("/info", deps.health.ActuatorInfo)

		if cfg.Monitoring.EnableMetrics {
			protected := actuator.Group("", deps.auth.RequireRoles(middleware.RoleAdmin, middleware.RoleInternalService))
			protected.GET("/metrics", deps.monitoring.GetMetrics)
			protected.GET("/prometheus", gin.WrapH(promhttp.Handler()))
		}
	}

	if cfg.Server.EnableSwagger {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := router.Group("/api")
	{
		transactions := api.Group("/transactions", deps.auth.RequireAuthenticated())
		{
			transactions.POST("/deposit", deps.transactions.Deposit)
			transactions.POST("/withdraw", deps.transactions.Withdraw)
			transactions.POST("/transfer", deps.transactions.Transfer)
			transactions.POST("/:id/reverse", deps.transactions.Reverse)

			transactions.GET("", deps.transactions.GetMyTransactions)
			transactions.GET("/search", deps.transactions.Search)
			transactions.GET("/stats", deps.transactions.GetMyStats)
			transactions.GET("/limits", deps.transactions.GetLimits)
			transactions.GET("/account/:accountId", deps.transactions.GetAccountTransactions)
			transactions.GET("/account/:accountId/stats", deps.transactions.GetAccountStats)
			transactions.GET("/user/:userId", deps.auth.RequireRoles(middleware.RoleAdmin), deps.transactions.GetUserTransactions)
			transactions.GET("/:id", deps.transactions.GetTransaction)
			transactions.GET("/:id/reversals", deps.transactions.GetReversals)
			transactions.GET("/:id/reversed", deps.transactions.IsReversed)
		}

		admin := api.Group("/admin", deps.auth.RequireRoles(middleware.RoleAdmin))
		{
			admin.GET("/limits", deps.admin.ListLimits)
			admin.PUT("/limits", deps.admin.UpsertLimit)
			admin.GET("/limits/:accountType/:type", deps.admin.GetLimit)
			admin.DELETE("/limits/:accountType/:type", deps.admin.DeleteLimit)
			admin.POST("/retention", deps.admin.RunRetention)
			admin.GET("/transactions/status-counts", deps.admin.StatusCounts)
		}

		mon := api.Group("/monitoring", deps.auth.RequireRoles(middleware.RoleAdmin, middleware.RoleInternalService))
		{
			mon.GET("/health", deps.monitoring.GetHealth)
			mon.GET("/metrics", deps.monitoring.GetMetrics)
			mon.GET("/alerts", deps.monitoring.GetAlerts)
			mon.GET("/circuit-breaker", deps.monitoring.GetCircuitBreaker)
			mon.POST("/sweep", deps.monitoring.TriggerSweep)
		}
	}

	return router
}
