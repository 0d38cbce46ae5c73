package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/riftstats/rift-worker/internal/config"
	"github.com/riftstats/rift-worker/internal/database"
	"github.com/riftstats/rift-worker/internal/hub"
	"github.com/riftstats/rift-worker/internal/repository"
	"github.com/riftstats/rift-worker/internal/rift"
	"github.com/riftstats/rift-worker/internal/service"
	"github.com/riftstats/rift-worker/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setupLogging(cfg.LogLevel)

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	log.Info().Msg("database connected")

	// Run migrations
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return err
	}
	log.Info().Msg("migrations completed")

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(db)
	matchRepo := repository.NewMatchRepository(db)

	// Initialize the progress hub and the sync pipeline
	progressHub := hub.NewHub()
	riftClient := rift.NewClient(cfg.RiftAPIKey, cfg.RiftAPIBaseURL)
	processor := service.NewSyncProcessor(accountRepo, matchRepo, riftClient, progressHub)
	w := watcher.New(cfg, accountRepo, processor)

	// HTTP surface: websocket endpoint for dashboard clients plus health
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/ws", progressHub.ServeWS)
	router.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if err := sqlDB.PingContext(r.Context()); err != nil {
			http.Error(rw, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 3)
	go func() {
		errChan <- w.Start(ctx)
	}()
	go func() {
		errChan <- w.Sweep(ctx)
	}()
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or a fatal component error
	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown failed")
	}
	progressHub.Shutdown()

	select {
	case <-shutdownCtx.Done():
		log.Warn().Msg("shutdown timeout exceeded")
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("watcher error during shutdown")
		}
	}

	log.Info().Msg("application stopped")
	return nil
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
