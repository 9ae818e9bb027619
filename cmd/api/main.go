package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-importer/internal/api"
	"github.com/dvloznov/finance-importer/internal/app"
	"github.com/dvloznov/finance-importer/internal/config"
	"github.com/dvloznov/finance-importer/internal/logger"
)

func main() {
	envFile := flag.String("env", "", "path to a .env file (defaults to ./.env)")
	port := flag.String("port", "", "HTTP server port (overrides PORT)")
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != "" {
		cfg.Port = *port
	}

	log := app.NewLogger(cfg)
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	if err := a.StartWorkers(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}
	scheduler, err := a.NewMaintenanceScheduler(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule pattern maintenance")
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.NewRouter(api.Deps{
			Store:     a.Store,
			Lifecycle: a.Lifecycle,
			Jobs:      a.Jobs,
			Enqueuer:  a,

			AllowedOrigins: cfg.CORSOrigins,
		}, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("backend", cfg.Backend).
			Str("maintenance_schedule", cfg.MaintenanceSchedule).
			Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// In-flight jobs finish before the store is closed.
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}
