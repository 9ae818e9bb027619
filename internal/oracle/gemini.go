package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const (
	// DefaultModelName is the default Gemini model used for mapping and
	// classification.
	DefaultModelName = "gemini-2.5-flash"
	// DefaultEmbeddingModel is the default Gemini embedding model.
	DefaultEmbeddingModel = "gemini-embedding-001"

	availabilityKey = "\x00available"
)

// GeminiConfig configures GeminiOracle.
type GeminiConfig struct {
	APIKey            string
	Model             string
	EmbeddingModel    string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	// CacheTTL bounds how long embeddings and the availability probe are
	// reused.
	CacheTTL time.Duration
}

func (c *GeminiConfig) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModelName
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = DefaultEmbeddingModel
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
}

// GeminiOracle implements Oracle on the Gemini API. Calls share one rate
// limiter and every call is bounded by the configured timeout.
type GeminiOracle struct {
	client  *genai.Client
	cfg     GeminiConfig
	limiter *rate.Limiter
	cache   *cache.Cache
}

// NewGeminiOracle creates a client. With an empty APIKey the SDK reads
// GOOGLE_API_KEY or GEMINI_API_KEY from the environment.
func NewGeminiOracle(ctx context.Context, cfg GeminiConfig) (*GeminiOracle, error) {
	cfg.applyDefaults()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiOracle: create genai client: %w", err)
	}

	return &GeminiOracle{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cache:   cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}, nil
}

var _ Oracle = (*GeminiOracle)(nil)

// InferMapping asks the model for the column layout of a CSV sample.
func (o *GeminiOracle) InferMapping(ctx context.Context, sampleCSV string) (MappingAnswer, error) {
	raw, err := o.generate(ctx, buildMappingPrompt(sampleCSV), true)
	if err != nil {
		return MappingAnswer{}, fmt.Errorf("InferMapping: %w", err)
	}

	clean := cleanModelJSON(raw)
	var ans MappingAnswer
	if err := json.Unmarshal([]byte(clean), &ans); err != nil {
		return MappingAnswer{}, fmt.Errorf("InferMapping: unmarshal JSON: %w: %v (raw response: %s)", ErrMalformedResponse, err, raw)
	}
	return ans, nil
}

// Classify sends a free-form prompt and returns the trimmed answer.
func (o *GeminiOracle) Classify(ctx context.Context, prompt string) (string, error) {
	raw, err := o.generate(ctx, prompt, false)
	if err != nil {
		return "", fmt.Errorf("Classify: %w", err)
	}
	return strings.TrimSpace(raw), nil
}

// Embed returns the embedding of text. Results are cached by text.
func (o *GeminiOracle) Embed(ctx context.Context, text string) ([]float32, error) {
	key := o.cfg.EmbeddingModel + "\x00" + text
	if v, ok := o.cache.Get(key); ok {
		return v.([]float32), nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("Embed: rate limit: %w", classify(err))
	}

	resp, err := o.client.Models.EmbedContent(ctx, o.cfg.EmbeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("Embed: embed content: %w", classify(err))
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("Embed: %w: no embedding values", ErrMalformedResponse)
	}

	vec := resp.Embeddings[0].Values
	o.cache.Set(key, vec, cache.DefaultExpiration)
	return vec, nil
}

// EmbeddingsAvailable probes the embedding model. A positive answer is
// cached; a negative one is re-checked on the next call.
func (o *GeminiOracle) EmbeddingsAvailable(ctx context.Context) bool {
	if _, ok := o.cache.Get(availabilityKey); ok {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	if _, err := o.client.Models.Get(ctx, o.cfg.EmbeddingModel, nil); err != nil {
		log := logger.Component(ctx, "oracle")
		log.Warn().Err(err).Str("model", o.cfg.EmbeddingModel).Msg("embedding model unavailable")
		return false
	}
	o.cache.Set(availabilityKey, true, time.Minute)
	return true
}

func (o *GeminiOracle) generate(ctx context.Context, prompt string, jsonOut bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", classify(err))
	}

	var cfg *genai.GenerateContentConfig
	if jsonOut {
		cfg = &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	}

	resp, err := o.client.Models.GenerateContent(ctx, o.cfg.Model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", classify(err))
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("generate content: %w: empty response from model", ErrMalformedResponse)
	}
	return text, nil
}

// classify tags a transport error with the oracle sentinel that describes
// it, keeping the original error in the chain.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusRequestTimeout || apiErr.Code == http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		default:
			return fmt.Errorf("%w: %w", ErrRejected, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
