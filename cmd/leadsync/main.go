package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vipul43/leadsync/internal/api"
	"github.com/vipul43/leadsync/internal/app"
	"github.com/vipul43/leadsync/internal/config"
	"github.com/vipul43/leadsync/internal/database"
	"github.com/vipul43/leadsync/internal/events"
	"github.com/vipul43/leadsync/internal/logging"
	"github.com/vipul43/leadsync/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	logging.Info().Msg("Database connected successfully")

	// Run migrations
	logging.Info().Msg("Running database migrations...")
	if err := database.RunMigrations(db); err != nil {
		return err
	}
	logging.Info().Msg("Migrations completed successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := app.Build(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer components.Close()

	// Sync result fan-out
	hub := events.NewHub(cfg.CORSAllowedOrigins)
	defer hub.Close()
	components.Reconciler.WithNotifiers(hub)

	if cfg.AMQPURL != "" {
		publisher, err := events.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			logging.Warn().Err(err).Msg("AMQP unavailable, sync events will not be published")
		} else {
			defer publisher.Close()
			components.Reconciler.WithNotifiers(publisher)
		}
	}

	router := api.NewRouter(api.Deps{
		Sync:               components.Reconciler,
		Checkpoints:        components.Checkpoints,
		Runs:               components.Runs,
		Leases:             components.Leases,
		Tenants:            components.Agencies,
		Leads:              components.Leads,
		DB:                 db,
		Feed:               hub,
		Auth:               api.NewAuthenticator(cfg.JWTSecret),
		ManychatSecret:     cfg.ManychatSecret,
		SyncTimeout:        cfg.SyncPassTimeout,
		ExposeStack:        !cfg.IsProduction(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		SyncRatePerMinute:  cfg.SyncRatePerMinute,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// the sync endpoint holds the request for a whole pass
		WriteTimeout: cfg.SyncPassTimeout + 30*time.Second,
	}

	w := watcher.New(cfg, components.Agencies, components.Checkpoints, components.Runs, components.Reconciler)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 2)
	go func() {
		logging.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	watcherDone := make(chan error, 1)
	go func() {
		watcherDone <- w.Start(ctx)
	}()

	watcherStopped := false

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		logging.Info().Msg("Shutdown signal received")
	case err := <-errChan:
		logging.Error().Err(err).Msg("HTTP server failed")
	case err := <-watcherDone:
		watcherStopped = true
		logging.Error().Err(err).Msg("Watcher stopped unexpectedly")
	}
	cancel()

	// Wait for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}

	if !watcherStopped {
		select {
		case <-shutdownCtx.Done():
			logging.Warn().Msg("Shutdown timeout exceeded")
		case err := <-watcherDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				logging.Error().Err(err).Msg("Watcher error")
			}
		}
	}

	logging.Info().Msg("Application stopped")
	return nil
}
