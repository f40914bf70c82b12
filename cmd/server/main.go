package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"pitaxi/internal/app"
	"pitaxi/internal/auth"
	"pitaxi/internal/config"
	"pitaxi/internal/handler"
	"pitaxi/internal/kafka"
	"pitaxi/internal/logger"
	"pitaxi/internal/pinetwork"
	internalRedis "pitaxi/internal/redis"
	"pitaxi/internal/repository/postgres"
	"pitaxi/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()

	log := logger.New(cfg.ServiceName, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", logger.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Warning("failed to initialize New Relic", logger.Error(err))
		} else {
			log.Info("New Relic enabled", logger.String("app", cfg.NewRelic.AppName))
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		log.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	log.Info("connected to PostgreSQL")

	if err := app.RunMigrations(db, cfg.Database.MigrationsPath); err != nil {
		log.Error("failed to run migrations", logger.Error(err))
		os.Exit(1)
	}

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		log.Error("failed to connect to redis", logger.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info("connected to Redis")

	server, cleanup, err := wireServer(db, redisClient, nrApp, cfg, log)
	if err != nil {
		log.Error("failed to wire server", logger.Error(err))
		os.Exit(1)
	}
	defer cleanup()

	// Start server in goroutine.
	go func() {
		log.Info("starting server", logger.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", logger.Error(err))
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	log.Info("server exited")
}

// wireServer wires all dependencies and returns the HTTP server with a
// cleanup func for the background writers it started.
func wireServer(
	db *sql.DB,
	redisClient *redis.Client,
	nrApp *newrelic.Application,
	cfg *config.Config,
	log logger.ILogger,
) (*http.Server, func(), error) {
	store := postgres.NewStore(db)

	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient, cfg.Settlement.PricingCacheTTL)

	piClient, err := pinetwork.NewClient(cfg.Payment, nil)
	if err != nil {
		return nil, nil, err
	}
	issuer, err := auth.NewIssuer(cfg.Auth)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	var publisher service.EventPublisher
	if cfg.Kafka.Enabled {
		kp := kafka.NewPublisher(cfg.Kafka)
		publisher = kp
		cleanup = func() {
			if err := kp.Close(); err != nil {
				log.Warning("failed to close kafka publisher", logger.Error(err))
			}
		}
		log.Info("transparency stream enabled", logger.String("topic", cfg.Kafka.Topic))
	}

	// Initialize services.
	audit := service.NewAuditLog(store, publisher, log.With(logger.String("component", "audit")))
	surgeService := service.NewSurgeService(store, log)
	pricingService := service.NewPricingService(store, cacheStore, surgeService, audit, log.With(logger.String("component", "pricing")))
	escrowService := service.NewEscrowService(store, piClient, lockStore, audit, log.With(logger.String("component", "escrow")), service.EscrowConfig{
		TreasuryUID:    cfg.Payment.TreasuryWallet,
		LockTTL:        cfg.Settlement.LockTTL,
		NetworkTimeout: cfg.Payment.Timeout,
	})
	userService := service.NewUserService(store, piClient, issuer, log.With(logger.String("component", "user")))
	driverService := service.NewDriverService(store, audit, log.With(logger.String("component", "driver")))
	tripService := service.NewTripService(store, pricingService, escrowService, audit, log.With(logger.String("component", "trip")))
	disputeService := service.NewDisputeService(store, escrowService, audit, log.With(logger.String("component", "dispute")))

	router := app.NewRouter(app.RouterDeps{
		UserHandler:         handler.NewUserHandler(userService),
		PricingHandler:      handler.NewPricingHandler(pricingService),
		DriverHandler:       handler.NewDriverHandler(driverService),
		TripHandler:         handler.NewTripHandler(tripService, escrowService),
		PaymentHandler:      handler.NewPaymentHandler(escrowService),
		DisputeHandler:      handler.NewDisputeHandler(disputeService),
		TransparencyHandler: handler.NewTransparencyHandler(audit),
		TokenParser:         issuer,
		IdempotencyStore:    cacheStore,
		Logger:              log,
		NewRelicApp:         nrApp,
		AllowedOrigins:      cfg.Server.AllowedOrigins,
	})

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, cleanup, nil
}
