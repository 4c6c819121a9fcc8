package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campbook/service-reservation/internal/adapter"
	"github.com/campbook/service-reservation/internal/application"
	"github.com/campbook/service-reservation/internal/config"
	reservationEvents "github.com/campbook/service-reservation/internal/events"
	"github.com/campbook/service-reservation/internal/handler"
	"github.com/campbook/service-reservation/internal/lease"
	"github.com/campbook/service-reservation/internal/repository"
	"github.com/campbook/service-reservation/internal/saga"
	"github.com/campbook/service-reservation/internal/worker"
	"github.com/campbook/service-reservation/pkg/auth"
	"github.com/campbook/service-reservation/pkg/database"
	"github.com/campbook/service-reservation/pkg/health"
	"github.com/campbook/service-reservation/pkg/kafka"
	"github.com/campbook/service-reservation/pkg/logger"
	"github.com/campbook/service-reservation/pkg/middleware"
	"github.com/campbook/service-reservation/pkg/obs"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "service-reservation"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.NewNamed(cfg.AppEnv, serviceName)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("starting "+serviceName,
		zap.String("port", cfg.Port),
		zap.String("gateway", cfg.GatewayConfig.Provider),
	)

	// Tracing is a no-op without an OTLP endpoint
	shutdownTracer, err := obs.InitTracer(context.Background(), serviceName, cfg.AppEnv, cfg.OTLPEndpoint)
	if err != nil {
		zapLogger.Fatal("failed to initialize tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// Connect to database
	dbConfig := database.PostgresConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.DBName,
		SSLMode:  cfg.DBConfig.SSLMode,
	}

	db, err := database.Connect(dbConfig, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run database migrations. The capacity guards live in the SQL schema, so
	// every environment uses the migration files.
	if err := database.RunMigrations(dbConfig.DatabaseURL(), "migrations", zapLogger); err != nil {
		zapLogger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(
		cfg.JWTConfig.Secret,
		15*time.Minute,
		7*24*time.Hour,
	)

	// Initialize Kafka producer
	kafkaProducer := kafka.NewProducer(cfg.KafkaConfig.Brokers, zapLogger)
	defer kafkaProducer.Close()
	publisher := reservationEvents.NewPublisher(kafkaProducer, zapLogger)

	// Initialize payment gateway
	gateway := newGateway(cfg, zapLogger)

	// Initialize repositories
	siteRepo := repository.NewGormSiteRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	// Initialize saga service
	refundSaga := saga.NewRefundSagaService(paymentRepo, gateway, nil, zapLogger)

	// Initialize application services
	settlementService := application.NewSettlementService(
		bookingRepo, paymentRepo, gateway, refundSaga, publisher,
		cfg.PlatformSharePercent, nil, zapLogger,
	)
	reservationService := application.NewReservationService(
		bookingRepo, siteRepo, settlementService, publisher,
		cfg.Currency, nil, zapLogger,
	)
	payoutService := application.NewPayoutService(ledgerRepo, reservationService, publisher, nil, zapLogger)
	siteService := application.NewSiteService(siteRepo, zapLogger)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()

	// Initialize Kafka consumer for campsite events
	consumerGroupID := cfg.KafkaConfig.GroupPrefix + "reservation-service"
	campsiteConsumer := reservationEvents.NewCampsiteEventConsumer(
		cfg.KafkaConfig.Brokers,
		consumerGroupID,
		siteService,
		zapLogger,
	)
	defer campsiteConsumer.Close()

	go func() {
		zapLogger.Info("starting campsite event consumer")
		if err := campsiteConsumer.Start(backgroundCtx); err != nil {
			if backgroundCtx.Err() == nil {
				zapLogger.Error("campsite event consumer failed", zap.Error(err))
			}
		}
	}()

	// Start background jobs, one holder per fleet via Redis leases
	rdb := lease.NewClient(cfg.RedisConfig.Addr, cfg.RedisConfig.Password, cfg.RedisConfig.DB)
	defer rdb.Close()
	runner := worker.NewRunner(lease.NewLocker(rdb), zapLogger,
		worker.NewExpiryReaper(reservationService, cfg.WorkerConfig.ReaperInterval, cfg.WorkerConfig.PendingGracePeriod, zapLogger),
		worker.NewPayoutSettler(payoutService, cfg.WorkerConfig.PayoutInterval, zapLogger),
	)
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := runner.Run(backgroundCtx); err != nil {
			zapLogger.Error("background workers failed", zap.Error(err))
		}
	}()

	// Initialize HTTP handlers
	bookingHandler := handler.NewBookingHandler(reservationService)
	paymentHandler := handler.NewPaymentHandler(settlementService, zapLogger)
	adminHandler := handler.NewAdminHandler(reservationService, payoutService)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(zapLogger))
	router.Use(middleware.LoggerMiddleware(zapLogger))
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	// Register health check routes
	healthHandler := health.NewHandler(db, serviceName)
	healthHandler.RegisterRoutes(router)

	// Register API routes
	apiV1 := router.Group("/api/v1")
	bookingHandler.RegisterRoutes(apiV1, jwtManager)
	paymentHandler.RegisterRoutes(apiV1, jwtManager)
	adminHandler.RegisterRoutes(apiV1, jwtManager)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		zapLogger.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down " + serviceName + "...")

	// Stop consumer and workers
	backgroundCancel()
	<-workersDone

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info(serviceName + " stopped")
}

// newGateway picks the payment gateway. The mock is meant for development
// and tests only.
func newGateway(cfg *config.ServiceConfig, logger *zap.Logger) adapter.PaymentGateway {
	gw := cfg.GatewayConfig
	if gw.Provider == "omise" {
		omiseGateway, err := adapter.NewOmiseGateway(adapter.OmiseConfig{
			PublicKey:     gw.OmisePublic,
			SecretKey:     gw.OmiseSecret,
			WebhookSecret: gw.WebhookSecret,
			SourceType:    gw.SourceType,
			ReturnURI:     gw.ReturnURI,
		}, logger)
		if err != nil {
			logger.Fatal("failed to initialize omise gateway", zap.Error(err))
		}
		return omiseGateway
	}
	if cfg.AppEnv == "production" {
		logger.Fatal("mock payment gateway is not allowed in production")
	}
	return adapter.NewMockGateway(gw.WebhookSecret, logger)
}
