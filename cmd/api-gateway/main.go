package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/tutor-core-api/api/swagger"
	"github.com/noah-isme/tutor-core-api/internal/handler"
	internalmiddleware "github.com/noah-isme/tutor-core-api/internal/middleware"
	"github.com/noah-isme/tutor-core-api/internal/repository"
	"github.com/noah-isme/tutor-core-api/internal/service"
	"github.com/noah-isme/tutor-core-api/pkg/cache"
	"github.com/noah-isme/tutor-core-api/pkg/config"
	"github.com/noah-isme/tutor-core-api/pkg/database"
	"github.com/noah-isme/tutor-core-api/pkg/jobs"
	"github.com/noah-isme/tutor-core-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tutor-core-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tutor-core-api/pkg/middleware/requestid"
	"github.com/noah-isme/tutor-core-api/pkg/payment"
)

// @title Tutor Core API
// @version 1.0.0
// @description Scheduling and settlement core of the tutoring marketplace
// @BasePath /
// @schemes http https

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient := cache.Optional(ctx, cfg.Scheduling.CacheEnabled, cfg.Redis, logr)
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New()
	metrics := service.NewMetricsService()
	txRunner := database.NewTxRunner(db, 2)

	locker := repository.NewScheduleLocker(db)
	windowRepo := repository.NewRecurringWindowRepository(db)
	reservationRepo := repository.NewReservationRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	walletRepo := repository.NewWalletRepository(db)

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient, "tutor-core"), metrics, cfg.Scheduling.CacheTTL, logr, true)
	}

	generator := service.NewSlotGenerator(cfg.Scheduling.SessionDurationMinutes)
	availabilitySvc := service.NewAvailabilityService(windowRepo, reservationRepo, catalogRepo, cacheSvc, service.AvailabilityConfig{
		MaxRangeDays: cfg.Scheduling.MaxRangeDays,
		CacheTTL:     cfg.Scheduling.CacheTTL,
	}, validate, logr)
	windowSvc := service.NewRecurringWindowService(windowRepo, catalogRepo, locker, txRunner, availabilitySvc, validate, logr)

	walletSvc, err := service.NewWalletService(walletRepo, sessionRepo, reservationRepo, catalogRepo, txRunner, service.WalletConfig{
		PlatformFeePercent: decimal.NewFromFloat(cfg.Wallet.PlatformFeePercent),
		CapSessionOverrun:  cfg.Wallet.CapSessionOverrun,
	}, metrics, validate, logr)
	if err != nil {
		logr.Fatal("invalid wallet configuration", zap.Error(err))
	}

	creditQueue := jobs.NewQueue("wallet-credits", service.SettlementHandler(walletSvc, logr), jobs.QueueConfig{
		Workers:    cfg.Wallet.CreditWorkers,
		MaxRetries: cfg.Wallet.CreditRetries,
		RetryDelay: cfg.Wallet.CreditRetryDelay,
		Backoff:    true,
		DeadLetter: func(job jobs.Job, err error) {
			logr.Error("settlement abandoned", zap.String("job_id", job.ID), zap.Any("reservation_id", job.Payload), zap.Error(err))
		},
		Logger: logr,
	})
	// Stopped explicitly after the HTTP server has drained.
	creditQueue.Start(context.Background())

	reservationSvc := service.NewReservationService(reservationRepo, windowRepo, catalogRepo, locker, txRunner, generator,
		availabilitySvc, service.NewSettlementDispatcher(creditQueue, logr), metrics, validate, logr)
	sessionSvc := service.NewSessionService(sessionRepo, reservationSvc, txRunner, logr)

	gateway := payment.NewClient(cfg.Payment.BaseURL, cfg.Payment.APIKey, cfg.Payment.Timeout)
	subscriptionSvc := service.NewSubscriptionService(subscriptionRepo, reservationRepo, windowRepo, catalogRepo, locker, txRunner,
		gateway, generator, availabilitySvc, metrics, service.SubscriptionConfig{
			ReturnURL: cfg.Payment.ReturnURL,
			Currency:  cfg.Payment.Currency,
		}, validate, logr)
	paymentSvc := service.NewPaymentService(subscriptionRepo, reservationRepo, txRunner,
		payment.NewWebhookVerifier(cfg.Payment.WebhookSecret), availabilitySvc, metrics, validate, logr)

	authSvc := service.NewAuthService(service.AuthConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer, Leeway: cfg.JWT.Leeway})

	scheduler := jobs.NewScheduler(logr, 10*time.Minute)
	if cfg.Wallet.ReconcileEnabled {
		if err := service.ScheduleReconciliation(scheduler, cfg.Wallet.ReconcileCron, walletSvc, logr); err != nil {
			logr.Fatal("failed to schedule reconciliation", zap.Error(err))
		}
	}
	if cfg.Wallet.SweepEnabled {
		if err := service.ScheduleSettlementSweep(scheduler, cfg.Wallet.SweepCron, reservationRepo, walletSvc, service.SettlementSweepConfig{
			Grace:    cfg.Wallet.SweepGrace,
			Lookback: cfg.Wallet.SweepLookback,
		}, logr); err != nil {
			logr.Fatal("failed to schedule settlement sweep", zap.Error(err))
		}
	}
	scheduler.Start()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics, "/metrics", "/health", "/ready"))
	r.Use(internalmiddleware.WithResponseMeta())

	checks := []handler.DependencyCheck{{Name: "postgres", Probe: db.PingContext}}
	if redisClient != nil {
		checks = append(checks, handler.DependencyCheck{Name: "redis", Probe: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	metricsHandler := handler.NewMetricsHandler(metrics, checks...)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handler.Handlers{
		Availability:  handler.NewAvailabilityHandler(availabilitySvc, windowSvc),
		Subscriptions: handler.NewSubscriptionHandler(subscriptionSvc),
		Reservations:  handler.NewReservationHandler(reservationSvc),
		Sessions:      handler.NewSessionHandler(sessionSvc),
		Payments:      handler.NewPaymentHandler(paymentSvc),
		Wallets:       handler.NewWalletHandler(walletSvc),
		Metrics:       metricsHandler,
	}, internalmiddleware.JWT(authSvc))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	scheduler.Stop()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Wallet.DrainTimeout)
	defer cancelDrain()
	if err := creditQueue.Drain(drainCtx); err != nil {
		logr.Error("credit queue did not drain; the settlement sweep will pick up the rest", zap.Error(err))
	}
}
