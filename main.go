package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/JordanSekky/cereal/api"
	"github.com/JordanSekky/cereal/config"
	"github.com/JordanSekky/cereal/conversion"
	"github.com/JordanSekky/cereal/datastore"
	"github.com/JordanSekky/cereal/delivery"
	"github.com/JordanSekky/cereal/ingestion"
	rh "github.com/JordanSekky/cereal/route-handlers"
	"github.com/JordanSekky/cereal/scheduler"
	"github.com/JordanSekky/cereal/sources"
)

const (
	dbPingTimeout     = 5 * time.Second
	shutdownTimeout   = 15 * time.Second
	dbMaxOpenConns    = 25
	dbMaxIdleConns    = 25
	dbConnMaxLifetime = 5 * time.Minute
	fetchTimeout      = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration load failed")
	}

	setupLogging(cfg)

	db, err := setupDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database setup failed")
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelMigrate()
	if err := datastore.Migrate(migrateCtx, db); err != nil {
		log.Fatal().Err(err).Msg("Schema migration failed")
	}

	bookRepo := datastore.NewBookRepository(db)
	chapterRepo := datastore.NewChapterRepository(db)
	subscriberRepo := datastore.NewSubscriberRepository(db)
	subscriptionRepo := datastore.NewSubscriptionRepository(db)

	// Source providers share one client so fetch timeouts apply uniformly.
	fetchClient := &http.Client{Timeout: fetchTimeout}
	registry := sources.NewRegistry(
		sources.NewRoyalRoadProvider(fetchClient),
		sources.NewWordPressProvider(fetchClient),
	)

	converter := conversion.NewConverter()
	conversionWorker := conversion.NewWorker(bookRepo, chapterRepo, converter, log.Logger)

	engine := ingestion.NewEngine(chapterRepo, registry, log.Logger)
	hydrator := ingestion.NewHydrator(chapterRepo, registry, log.Logger)

	deliveryScheduler := delivery.NewScheduler(
		subscriptionRepo,
		chapterRepo,
		bookRepo,
		subscriberRepo,
		log.Logger,
		setupChannels(cfg)...,
	)

	orchestrator := scheduler.New(
		scheduler.Config{
			DiscoveryInterval:  cfg.DiscoveryInterval,
			HydrationInterval:  cfg.HydrationInterval,
			ConversionInterval: cfg.ConversionInterval,
			DeliveryInterval:   cfg.DeliveryInterval,
			IngestionWorkers:   cfg.IngestionWorkers,
			DeliveryWorkers:    cfg.DeliveryWorkers,
			UnitTimeout:        cfg.UnitTimeout,
			BackoffBase:        cfg.BackoffBase,
			BackoffMax:         cfg.BackoffMax,
		},
		bookRepo,
		subscriptionRepo,
		engine,
		hydrator,
		conversionWorker,
		deliveryScheduler,
		log.Logger,
	)

	bookHandler := rh.NewBookHandler(bookRepo)
	chapterHandler := rh.NewChapterHandler(bookRepo, chapterRepo)
	subscriberHandler := rh.NewSubscriberHandler(subscriberRepo)
	subscriptionHandler := rh.NewSubscriptionHandler(subscriptionRepo, bookRepo, subscriberRepo)

	apiRouter := api.SetupRoutes(
		bookHandler,
		chapterHandler,
		subscriberHandler,
		subscriptionHandler,
	)

	mainRouter := chi.NewRouter()
	mainRouter.Mount("/", apiRouter)

	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		orchestrator.Run(pipelineCtx)
	}()

	startServer(strconv.Itoa(cfg.Port), mainRouter)

	// The HTTP server is down; stop the pipeline loops and wait for
	// in-flight passes to finish.
	cancelPipeline()
	<-pipelineDone
	log.Info().Msg("Pipeline stopped")
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// setupChannels builds the delivery channels the configuration enables.
// Running with none is allowed but every delivery will fail as
// misconfigured, so it warrants a warning.
func setupChannels(cfg *config.Config) []delivery.Channel {
	var channels []delivery.Channel

	if cfg.MailgunAPIKey != "" && cfg.MailgunEndpoint != "" && cfg.FromEmail != "" {
		email := delivery.NewEmailChannel(cfg.MailgunEndpoint, cfg.MailgunAPIKey, cfg.FromEmail, nil)
		channels = append(channels, email)
	} else {
		log.Warn().Msg("Mailgun configuration incomplete; email delivery disabled")
	}

	if cfg.PushoverToken != "" {
		channels = append(channels, delivery.NewPushoverChannel(cfg.PushoverToken, nil))
	} else {
		log.Warn().Msg("CEREAL_PUSHOVER_TOKEN not set; pushover delivery disabled")
	}

	if len(channels) == 0 {
		log.Warn().Msg("No delivery channels configured; deliveries will fail until one is set")
	}
	return channels
}

func setupDatabase(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(dbMaxOpenConns)
	db.SetMaxIdleConns(dbMaxIdleConns)
	db.SetConnMaxLifetime(dbConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		db.Close() // Close unusable connection pool
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Database connection successful")
	return db, nil
}

func startServer(port string, router http.Handler) {
	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", port).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	<-shutdownSignal // Block until signal received
	log.Info().Msg("Shutdown signal received, initiating graceful shutdown")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("Server gracefully stopped")
}
