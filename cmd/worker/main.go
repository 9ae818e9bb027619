package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-importer/internal/app"
	"github.com/dvloznov/finance-importer/internal/config"
	"github.com/dvloznov/finance-importer/internal/logger"
)

func main() {
	envFile := flag.String("env", "", "path to a .env file (defaults to ./.env)")
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

	log := app.NewLogger(cfg)
	if cfg.Backend == config.BackendMemory {
		log.Warn().Msg("memory backend shares nothing with other processes; only imports created here are processed")
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer a.Close()

	log.Info().Int("workers", cfg.Workers).Msg("Starting worker service")

	if err := a.StartWorkers(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	maintenance, err := a.NewMaintenanceScheduler(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule pattern maintenance")
	}
	sweeper, err := a.NewPendingSweeper(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule pending import sweep")
	}

	// Pick up imports left pending before this process started.
	if n, err := a.EnqueuePending(ctx); err != nil {
		log.Error().Err(err).Msg("Initial pending sweep failed")
	} else if n > 0 {
		log.Info().Int("queued", n).Msg("Queued pending imports")
	}

	maintenance.Start()
	sweeper.Start()

	log.Info().
		Str("maintenance_schedule", cfg.MaintenanceSchedule).
		Str("sweep_schedule", cfg.SweepSchedule).
		Msg("Worker service started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	sweeper.Stop()
	maintenance.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
