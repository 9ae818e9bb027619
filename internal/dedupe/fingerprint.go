// Package dedupe flags candidates that were already committed in an earlier
// import.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/shopspring/decimal"
)

// Fingerprint returns a stable hash of a transaction's date, amount rounded
// to cents, and lower-cased description with collapsed whitespace.
func Fingerprint(date civil.Date, amount decimal.Decimal, description string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(description)), " ")
	payload := date.String() + "|" + amount.StringFixed(2) + "|" + normalized
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// FingerprintLookup reports which fingerprints already belong to committed
// transactions.
type FingerprintLookup interface {
	ExistingFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error)
}

// Detector marks duplicates with a single batched lookup.
type Detector struct {
	lookup FingerprintLookup
}

// NewDetector creates a Detector backed by lookup.
func NewDetector(lookup FingerprintLookup) *Detector {
	return &Detector{lookup: lookup}
}

// MarkDuplicates sets Fingerprint on every candidate and IsDuplicate on those
// already committed or repeated earlier in the same batch. Flags are
// advisory; nothing is dropped.
func (d *Detector) MarkDuplicates(ctx context.Context, candidates []domain.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}

	unique := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		c.Fingerprint = Fingerprint(c.Date, c.Amount, c.Description)
		if !seen[c.Fingerprint] {
			seen[c.Fingerprint] = true
			unique = append(unique, c.Fingerprint)
		}
	}

	existing, err := d.lookup.ExistingFingerprints(ctx, unique)
	if err != nil {
		return fmt.Errorf("MarkDuplicates: lookup fingerprints: %w", err)
	}

	inBatch := make(map[string]bool, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		c.IsDuplicate = existing[c.Fingerprint] || inBatch[c.Fingerprint]
		inBatch[c.Fingerprint] = true
	}
	return nil
}
