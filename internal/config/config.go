// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendBigQuery = "bigquery"
	BackendMemory   = "memory"
)

// Pipeline holds the tuning shared by import processing and rule
// maintenance.
type Pipeline struct {
	SimilarityThreshold float64
	WindowSize          int
	ShortlistSize       int
	FewShotExamples     int
	SampleSize          int

	DriftThreshold float64
	MinOccurrences int
	StaleAfter     time.Duration

	DefaultCurrency string
	// InvertingAccountTypes lists account types whose single-column
	// amounts are recorded with the opposite sign.
	InvertingAccountTypes []string

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	PollCeiling      time.Duration
}

// InvertsSign reports whether accounts of the given type invert amounts.
func (p Pipeline) InvertsSign(accountType string) bool {
	t := strings.TrimSpace(accountType)
	for _, inv := range p.InvertingAccountTypes {
		if strings.EqualFold(inv, t) {
			return true
		}
	}
	return false
}

// Config is the full application configuration.
type Config struct {
	LogLevel  string
	LogPretty bool
	Port      string
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string

	Backend      string
	DatabasePath string

	BigQueryProject string
	BigQueryDataset string
	CredentialsFile string
	GCSBucket       string

	GeminiAPIKey         string
	GeminiModel          string
	GeminiEmbeddingModel string
	OracleTimeout        time.Duration
	OracleRPS            float64
	OracleBurst          int
	OracleCacheTTL       time.Duration

	NotionToken          string
	NotionTransactionsDB string

	MaintenanceSchedule string
	// SweepSchedule is how often a standalone worker looks for pending
	// imports that no job has picked up.
	SweepSchedule string
	Timezone      string
	Workers       int
	QueueSize     int
	// JobRetention is how long finished jobs stay queryable.
	JobRetention time.Duration

	Pipeline Pipeline
}

// DefaultPipeline returns the standard tuning.
func DefaultPipeline() Pipeline {
	return Pipeline{
		SimilarityThreshold:   0.85,
		WindowSize:            1000,
		ShortlistSize:         5,
		FewShotExamples:       5,
		SampleSize:            20,
		DriftThreshold:        0.40,
		MinOccurrences:        2,
		StaleAfter:            30 * 24 * time.Hour,
		DefaultCurrency:       "CHF",
		InvertingAccountTypes: []string{"credit_card"},
		RetryMaxAttempts:      3,
		RetryBaseDelay:        2 * time.Second,
		PollCeiling:           5 * time.Minute,
	}
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		LogLevel:            "info",
		Port:                "8080",
		CORSOrigins:         []string{"*"},
		Backend:             BackendSQLite,
		DatabasePath:        "./finance-importer.db",
		BigQueryDataset:     "finance",
		OracleTimeout:       30 * time.Second,
		OracleRPS:           5,
		OracleBurst:         1,
		OracleCacheTTL:      time.Hour,
		MaintenanceSchedule: "0 3 * * *",
		SweepSchedule:       "@every 30s",
		Timezone:            "UTC",
		Workers:             2,
		QueueSize:           100,
		JobRetention:        7 * 24 * time.Hour,
		Pipeline:            DefaultPipeline(),
	}
}

// Load reads the given .env files (or ./.env when none are named), then
// overlays environment variables on Default. A missing .env file is not an
// error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("Load: reading env file: %w", err)
	}

	def := Default()
	p := def.Pipeline
	cfg := &Config{
		LogLevel:  getEnv("LOG_LEVEL", def.LogLevel),
		LogPretty: getEnvAsBool("LOG_PRETTY", def.LogPretty),
		Port:      getEnv("PORT", def.Port),

		CORSOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", def.CORSOrigins),

		Backend:      strings.ToLower(getEnv("STORE_BACKEND", def.Backend)),
		DatabasePath: getEnv("DATABASE_PATH", def.DatabasePath),

		BigQueryProject: getEnv("BIGQUERY_PROJECT", getEnv("GOOGLE_CLOUD_PROJECT", "")),
		BigQueryDataset: getEnv("BIGQUERY_DATASET", def.BigQueryDataset),
		CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		GCSBucket:       getEnv("GCS_BUCKET", ""),

		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiModel:          getEnv("GEMINI_MODEL", ""),
		GeminiEmbeddingModel: getEnv("GEMINI_EMBEDDING_MODEL", ""),
		OracleTimeout:        getEnvAsDuration("ORACLE_TIMEOUT", def.OracleTimeout),
		OracleRPS:            getEnvAsFloat("ORACLE_REQUESTS_PER_SECOND", def.OracleRPS),
		OracleBurst:          getEnvAsInt("ORACLE_BURST", def.OracleBurst),
		OracleCacheTTL:       getEnvAsDuration("ORACLE_CACHE_TTL", def.OracleCacheTTL),

		NotionToken:          getEnv("NOTION_TOKEN", ""),
		NotionTransactionsDB: getEnv("NOTION_TRANSACTIONS_DB_ID", ""),

		MaintenanceSchedule: getEnv("PATTERN_MAINTENANCE_SCHEDULE", def.MaintenanceSchedule),
		SweepSchedule:       getEnv("PENDING_SWEEP_SCHEDULE", def.SweepSchedule),
		Timezone:            getEnv("TZ_NAME", def.Timezone),
		Workers:             getEnvAsInt("WORKERS", def.Workers),
		QueueSize:           getEnvAsInt("QUEUE_SIZE", def.QueueSize),
		JobRetention:        getEnvAsDuration("JOB_RETENTION", def.JobRetention),

		Pipeline: Pipeline{
			SimilarityThreshold:   getEnvAsFloat("SIMILARITY_THRESHOLD", p.SimilarityThreshold),
			WindowSize:            getEnvAsInt("SIMILARITY_WINDOW_SIZE", p.WindowSize),
			ShortlistSize:         getEnvAsInt("LLM_SHORTLIST_SIZE", p.ShortlistSize),
			FewShotExamples:       getEnvAsInt("LLM_FEW_SHOT_EXAMPLES", p.FewShotExamples),
			SampleSize:            getEnvAsInt("MAPPING_SAMPLE_SIZE", p.SampleSize),
			DriftThreshold:        getEnvAsFloat("PATTERN_DRIFT_THRESHOLD", p.DriftThreshold),
			MinOccurrences:        getEnvAsInt("PATTERN_MIN_OCCURRENCES", p.MinOccurrences),
			StaleAfter:            getEnvAsDuration("PATTERN_STALE_AFTER", p.StaleAfter),
			DefaultCurrency:       getEnv("DEFAULT_CURRENCY", p.DefaultCurrency),
			InvertingAccountTypes: getEnvAsList("INVERTING_ACCOUNT_TYPES", p.InvertingAccountTypes),
			RetryMaxAttempts:      getEnvAsInt("RETRY_MAX_ATTEMPTS", p.RetryMaxAttempts),
			RetryBaseDelay:        getEnvAsDuration("RETRY_BASE_DELAY", p.RetryBaseDelay),
			PollCeiling:           getEnvAsDuration("IMPORT_POLL_CEILING", p.PollCeiling),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and backend-specific requirements.
func (c *Config) Validate() error {
	var problems []string
	switch c.Backend {
	case BackendSQLite:
		if c.DatabasePath == "" {
			problems = append(problems, "DATABASE_PATH is required for the sqlite backend")
		}
	case BackendBigQuery:
		if c.BigQueryProject == "" {
			problems = append(problems, "BIGQUERY_PROJECT is required for the bigquery backend")
		}
	case BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE_BACKEND %q", c.Backend))
	}

	p := c.Pipeline
	if p.SimilarityThreshold <= 0 || p.SimilarityThreshold > 1 {
		problems = append(problems, "SIMILARITY_THRESHOLD must be in (0, 1]")
	}
	if p.DriftThreshold < 0 || p.DriftThreshold > 1 {
		problems = append(problems, "PATTERN_DRIFT_THRESHOLD must be in [0, 1]")
	}
	if p.MinOccurrences < 1 {
		problems = append(problems, "PATTERN_MIN_OCCURRENCES must be at least 1")
	}
	if c.Workers < 1 {
		problems = append(problems, "WORKERS must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
