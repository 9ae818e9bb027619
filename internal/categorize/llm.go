package categorize

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-importer/internal/domain"
)

// Classifier answers a free-form classification prompt.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// buildClassificationPrompt names only the shortlisted categories and shows
// similar past transactions with their labels.
func buildClassificationPrompt(c *domain.Candidate, options []domain.Category, examples []Neighbor, names map[string]string) string {
	var b strings.Builder
	b.WriteString("You categorize personal bank transactions.\n\n")
	fmt.Fprintf(&b, "Transaction: %q, %s %s on %s\n\n", c.Description, c.Amount.StringFixed(2), c.Direction, c.Date)

	if len(examples) > 0 {
		b.WriteString("Similar past transactions and their categories:\n")
		for _, ex := range examples {
			if name, ok := names[ex.CategoryID]; ok {
				fmt.Fprintf(&b, "- %q -> %s\n", ex.Description, name)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("Choose exactly one of these categories:\n")
	for _, o := range options {
		b.WriteString("- " + o.Name + "\n")
	}
	b.WriteString("\nAnswer with the category name only. No punctuation, no explanation.\n")
	return b.String()
}

// matchAnswer maps a model answer back onto one of the options, first by
// exact name and then case-insensitively.
func matchAnswer(answer string, options []domain.Category) (domain.Category, bool) {
	a := strings.TrimRight(strings.TrimSpace(answer), ".")
	a = strings.TrimSpace(strings.Trim(a, "\"'`*"))

	for _, o := range options {
		if o.Name == a {
			return o, true
		}
	}
	for _, o := range options {
		if strings.EqualFold(o.Name, a) {
			return o, true
		}
	}
	return domain.Category{}, false
}
