package oracle

import (
	"context"
	"fmt"
)

// Offline is an Oracle with no model behind it. Every call fails with
// ErrUnavailable, so imports still run on cached mappings and rules.
type Offline struct {
	Reason string
}

var _ Oracle = Offline{}

func (o Offline) err(op string) error {
	if o.Reason == "" {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w: %s", op, ErrUnavailable, o.Reason)
}

func (o Offline) InferMapping(ctx context.Context, sampleCSV string) (MappingAnswer, error) {
	return MappingAnswer{}, o.err("InferMapping")
}

func (o Offline) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, o.err("Embed")
}

func (o Offline) EmbeddingsAvailable(ctx context.Context) bool { return false }

func (o Offline) Classify(ctx context.Context, prompt string) (string, error) {
	return "", o.err("Classify")
}
