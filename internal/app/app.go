// Package app assembles the store, oracle, pipeline, job queue and
// maintenance components from a Config. All binaries start here.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/dvloznov/finance-importer/internal/categorize"
	"github.com/dvloznov/finance-importer/internal/config"
	"github.com/dvloznov/finance-importer/internal/dedupe"
	"github.com/dvloznov/finance-importer/internal/gcsuploader"
	bqstore "github.com/dvloznov/finance-importer/internal/infra/bigquery"
	"github.com/dvloznov/finance-importer/internal/infra/sqlite"
	"github.com/dvloznov/finance-importer/internal/jobs"
	"github.com/dvloznov/finance-importer/internal/jobs/inmemory"
	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/dvloznov/finance-importer/internal/maintenance"
	"github.com/dvloznov/finance-importer/internal/mapping"
	"github.com/dvloznov/finance-importer/internal/oracle"
	"github.com/dvloznov/finance-importer/internal/pipeline"
	"github.com/dvloznov/finance-importer/internal/store"
	"github.com/dvloznov/finance-importer/internal/store/memory"
)

// App holds the wired components.
type App struct {
	Config     *config.Config
	Store      store.Store
	Oracle     oracle.Oracle
	Files      *gcsuploader.FileStore
	Lifecycle  *pipeline.Lifecycle
	Runner     *pipeline.Runner
	Maintainer *maintenance.Maintainer
	Jobs       jobs.JobStore
	Queue      *inmemory.Queue
	Policy     jobs.RetryPolicy
}

// Options overrides components, mainly for tests. Nil fields are built
// from the Config.
type Options struct {
	Store  store.Store
	Oracle oracle.Oracle
	Files  pipeline.FileFetcher
}

// New builds an App. The caller owns it and must call Close.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	log := logger.Component(ctx, "app")
	a := &App{Config: cfg}

	var err error
	if a.Store = opts.Store; a.Store == nil {
		if a.Store, err = OpenStore(ctx, cfg); err != nil {
			return nil, err
		}
	}
	if a.Oracle = opts.Oracle; a.Oracle == nil {
		a.Oracle = NewOracle(ctx, cfg)
	}

	files := opts.Files
	if files == nil && cfg.GCSBucket != "" {
		a.Files, err = gcsuploader.NewFileStore(ctx, clientOptions(cfg)...)
		if err != nil {
			log.Warn().Err(err).Msg("object storage unavailable; gs:// imports will fail")
		} else {
			files = a.Files
		}
	}

	p := cfg.Pipeline
	a.Lifecycle = pipeline.NewLifecycle(a.Store)
	a.Runner = pipeline.NewRunner(a.Lifecycle, pipeline.NewImportPipeline(pipeline.Dependencies{
		Files:    files,
		Accounts: a.Store,
		Mapper:   mapping.NewInferrer(a.Oracle, a.Store, p.SampleSize),
		Categorizer: categorize.NewOrchestrator(a.Oracle, a.Store, categorize.Config{
			SimilarityThreshold: p.SimilarityThreshold,
			WindowSize:          p.WindowSize,
			ShortlistSize:       p.ShortlistSize,
			FewShotExamples:     p.FewShotExamples,
		}),
		Duplicates:  dedupe.NewDetector(a.Store),
		Progress:    a.Lifecycle,
		InvertsSign: p.InvertsSign,
	}))
	a.Maintainer = maintenance.NewMaintainer(a.Store, maintenance.Config{
		StaleAfter:     p.StaleAfter,
		DriftThreshold: p.DriftThreshold,
		MinOccurrences: p.MinOccurrences,
	})

	a.Policy = RetryPolicy(cfg)
	a.Jobs = inmemory.NewStore()
	a.Queue = inmemory.NewQueue(cfg.QueueSize, cfg.Workers, a.Jobs, a.Policy)
	return a, nil
}

// NewLogger builds the process logger from the log settings.
func NewLogger(cfg *config.Config) zerolog.Logger {
	return logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, JSON: !cfg.LogPretty})
}

// RetryPolicy retries transient oracle failures only.
func RetryPolicy(cfg *config.Config) jobs.RetryPolicy {
	policy := jobs.DefaultRetryPolicy(oracle.ErrUnavailable, oracle.ErrTimeout)
	if cfg.Pipeline.RetryMaxAttempts > 0 {
		policy.MaxAttempts = cfg.Pipeline.RetryMaxAttempts
	}
	if cfg.Pipeline.RetryBaseDelay > 0 {
		policy.BaseDelay = cfg.Pipeline.RetryBaseDelay
	}
	return policy
}

// OpenStore opens the configured storage backend.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := sqlite.OpenStore(ctx, cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return s, nil
	case config.BackendBigQuery:
		s, err := bqstore.NewStore(ctx, cfg.BigQueryProject, cfg.BigQueryDataset, clientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return s, nil
	case config.BackendMemory:
		return memory.New(), nil
	}
	return nil, fmt.Errorf("OpenStore: unknown backend %q", cfg.Backend)
}

// NewOracle connects to Gemini, or returns an offline oracle when no client
// can be created.
func NewOracle(ctx context.Context, cfg *config.Config) oracle.Oracle {
	o, err := oracle.NewGeminiOracle(ctx, oracle.GeminiConfig{
		APIKey:            cfg.GeminiAPIKey,
		Model:             cfg.GeminiModel,
		EmbeddingModel:    cfg.GeminiEmbeddingModel,
		Timeout:           cfg.OracleTimeout,
		RequestsPerSecond: cfg.OracleRPS,
		Burst:             cfg.OracleBurst,
		CacheTTL:          cfg.OracleCacheTTL,
	})
	if err != nil {
		log := logger.Component(ctx, "app")
		log.Warn().Err(err).Msg("language model unavailable; running offline")
		return oracle.Offline{Reason: err.Error()}
	}
	return o
}

func clientOptions(cfg *config.Config) []option.ClientOption {
	if cfg.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
}

// Close releases the store and file clients. It stops the queue first.
func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		errs = append(errs, a.Queue.Stop(ctx))
		cancel()
	}
	if a.Files != nil {
		errs = append(errs, a.Files.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
