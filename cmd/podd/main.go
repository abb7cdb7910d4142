package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"pod-booking-backend/config"
	"pod-booking-backend/internal/api"
	"pod-booking-backend/internal/db"
	"pod-booking-backend/internal/events"
	"pod-booking-backend/internal/notification"
	"pod-booking-backend/internal/service"
	"pod-booking-backend/internal/store"
	"pod-booking-backend/internal/sweeper"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("configuration loaded", zap.String("path", configPath))

	location, err := time.LoadLocation(cfg.Booking.Timezone)
	if err != nil {
		logger.Fatal("invalid booking timezone", zap.String("timezone", cfg.Booking.Timezone), zap.Error(err))
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database, logger.Named("db"))
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	appStore := store.NewGormStore(gormDB)

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		logger.Fatal("failed to configure lock gateway", zap.Error(err))
	}
	provider, err := newProvider(cfg)
	if err != nil {
		logger.Fatal("failed to configure payment provider", zap.Error(err))
	}
	dedupe, closeDedupe, err := newDeduper(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to configure callback dedupe", zap.Error(err))
	}
	defer closeDedupe()

	bus := events.NewBus(logger.Named("events"))
	svc := service.Assemble(service.Options{
		Store:       appStore,
		Gateway:     gateway,
		Provider:    provider,
		Dedupe:      dedupe,
		Bus:         bus,
		MaxDuration: cfg.Booking.MaxDuration,
		SlotHorizon: cfg.Booking.SlotHorizon,
		Log:         logger,
	})

	publisher, err := newPublisher(cfg.Events, logger)
	if err != nil {
		logger.Fatal("failed to connect event broker", zap.Error(err))
	}
	if publisher != nil {
		bus.Forward(cfg.Events.Broker, publisher)
		defer publisher.Close()
	}

	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Warn("VAPID keys are not configured, push notifications are disabled")
	} else {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions, logger.Named("notification"))
		workerPool.Start(ctx)
		bus.Subscribe("notification", workerPool.HandleEvent)
	}

	sw := sweeper.New(cfg.Sweeper, cfg.Booking, appStore, svc, nil, logger.Named("sweeper"))
	go sw.Run(ctx)

	router := api.NewRouter(api.RouterOptions{
		Server:   cfg.Server,
		Service:  svc,
		Store:    appStore,
		Webpush:  webpushOptions,
		Location: location,
		Log:      logger.Named("api"),
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received, stopping services")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server Shutdown", zap.Error(err))
	}

	logger.Info("server gracefully stopped")
}
