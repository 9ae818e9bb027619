package dedupe

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/shopspring/decimal"
)

type mockLookup struct {
	known map[string]bool
	calls int
	err   error
}

func (m *mockLookup) ExistingFingerprints(ctx context.Context, fps []string) (map[string]bool, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]bool)
	for _, fp := range fps {
		if m.known[fp] {
			out[fp] = true
		}
	}
	return out, nil
}

var jan15 = civil.Date{Year: 2026, Month: 1, Day: 15}

func TestFingerprint_Stable(t *testing.T) {
	base := Fingerprint(jan15, decimal.RequireFromString("12.5"), "Coop  Basel")

	tests := []struct {
		name   string
		date   civil.Date
		amount string
		desc   string
		same   bool
	}{
		{"identical", jan15, "12.5", "Coop  Basel", true},
		{"case differs", jan15, "12.50", "COOP BASEL", true},
		{"whitespace differs", jan15, "12.500", "  coop\tbasel ", true},
		{"amount rounds to same cents", jan15, "12.501", "Coop Basel", true},
		{"different cents", jan15, "12.51", "Coop Basel", false},
		{"different day", civil.Date{Year: 2026, Month: 1, Day: 16}, "12.5", "Coop Basel", false},
		{"different text", jan15, "12.5", "Coop Zurich", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fingerprint(tt.date, decimal.RequireFromString(tt.amount), tt.desc)
			if (got == base) != tt.same {
				t.Errorf("Fingerprint same = %v, want %v", got == base, tt.same)
			}
		})
	}
}

func TestMarkDuplicates(t *testing.T) {
	committed := Fingerprint(jan15, decimal.RequireFromString("12.50"), "Coop")
	lookup := &mockLookup{known: map[string]bool{committed: true}}
	d := NewDetector(lookup)

	candidates := []domain.Candidate{
		{ID: "row-2", Date: jan15, Amount: decimal.RequireFromString("12.50"), Description: "Coop"},
		{ID: "row-3", Date: jan15, Amount: decimal.RequireFromString("7.10"), Description: "Migros"},
		{ID: "row-4", Date: jan15, Amount: decimal.RequireFromString("7.10"), Description: "migros"},
	}

	if err := d.MarkDuplicates(context.Background(), candidates); err != nil {
		t.Fatalf("MarkDuplicates() error = %v", err)
	}
	if lookup.calls != 1 {
		t.Errorf("expected a single batched lookup, got %d", lookup.calls)
	}

	want := []bool{true, false, true}
	for i, c := range candidates {
		if c.Fingerprint == "" {
			t.Errorf("[%d] fingerprint not set", i)
		}
		if c.IsDuplicate != want[i] {
			t.Errorf("[%d] IsDuplicate = %v, want %v", i, c.IsDuplicate, want[i])
		}
	}
	if len(candidates) != 3 {
		t.Error("duplicates must not be dropped")
	}
}

func TestMarkDuplicates_LookupError(t *testing.T) {
	d := NewDetector(&mockLookup{err: errors.New("boom")})
	candidates := []domain.Candidate{{Date: jan15, Amount: decimal.NewFromInt(1), Description: "x"}}
	if err := d.MarkDuplicates(context.Background(), candidates); err == nil {
		t.Error("expected error from failing lookup")
	}
}

func TestMarkDuplicates_Empty(t *testing.T) {
	lookup := &mockLookup{}
	if err := NewDetector(lookup).MarkDuplicates(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if lookup.calls != 0 {
		t.Errorf("empty batch should not query, got %d calls", lookup.calls)
	}
}
