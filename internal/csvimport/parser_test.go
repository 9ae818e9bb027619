package csvimport

import (
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/shopspring/decimal"
)

var swissMapping = domain.ColumnMapping{
	DateColumn:        "Date",
	DescriptionColumn: "Description",
	AmountType:        domain.AmountSingle,
	AmountColumn:      "Amount",
	DateFormat:        "%Y-%m-%d",
	AmountFormat:      domain.AmountFormatEU,
}

func TestParse_SemicolonEUFile(t *testing.T) {
	content := []byte("Date;Description;Amount\n2026-01-15;Coop;-12,50\n")

	res, err := Parse(content, swissMapping, AccountContext{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(res.Candidates))
	}

	c := res.Candidates[0]
	if c.Date != (civil.Date{Year: 2026, Month: 1, Day: 15}) {
		t.Errorf("date = %v, want 2026-01-15", c.Date)
	}
	if c.Description != "Coop" {
		t.Errorf("description = %q, want Coop", c.Description)
	}
	if !c.Amount.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("amount = %s, want 12.50", c.Amount)
	}
	if c.Direction != domain.DirectionExpense {
		t.Errorf("direction = %s, want expense", c.Direction)
	}
	if c.ID == "" {
		t.Error("candidate ID should be set")
	}
}

func TestParse_SignInversion(t *testing.T) {
	content := []byte("Date,Description,Amount\n2026-01-15,Refund,-50.00\n2026-01-16,Shop,20.00\n")
	m := swissMapping
	m.AmountFormat = domain.AmountFormatUS

	res, err := Parse(content, m, AccountContext{InvertSign: true})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(res.Candidates))
	}
	if got := res.Candidates[0].Direction; got != domain.DirectionIncome {
		t.Errorf("raw -50 with inversion: direction = %s, want income", got)
	}
	if got := res.Candidates[1].Direction; got != domain.DirectionExpense {
		t.Errorf("raw 20 with inversion: direction = %s, want expense", got)
	}
	if !res.Candidates[0].Amount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("amount = %s, want 50", res.Candidates[0].Amount)
	}
}

func TestParse_SplitColumns(t *testing.T) {
	content := []byte(strings.Join([]string{
		"Booking date;Text;Details;Debit;Credit",
		"15.01.2026;TWINT;Coffee Bar;4,50;",
		"16.01.2026;Salary;;;5.000,00",
		"17.01.2026;Card;Shop;-30,00;",
	}, "\n"))
	m := domain.ColumnMapping{
		DateColumn:                 "booking date",
		DescriptionColumn:          "Text",
		DescriptionSecondaryColumn: "Details",
		AmountType:                 domain.AmountSplit,
		DebitColumn:                "Debit",
		CreditColumn:               "Credit",
		DateFormat:                 "%d.%m.%Y",
		AmountFormat:               domain.AmountFormatEU,
	}

	res, err := Parse(content, m, AccountContext{InvertSign: true})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d (warnings %v)", len(res.Candidates), res.Warnings)
	}

	want := []struct {
		desc      string
		amount    string
		direction domain.Direction
	}{
		{"TWINT Coffee Bar", "4.50", domain.DirectionExpense},
		{"Salary", "5000", domain.DirectionIncome},
		{"Card Shop", "30", domain.DirectionExpense},
	}
	for i, w := range want {
		c := res.Candidates[i]
		if c.Description != w.desc {
			t.Errorf("[%d] description = %q, want %q", i, c.Description, w.desc)
		}
		if !c.Amount.Equal(decimal.RequireFromString(w.amount)) {
			t.Errorf("[%d] amount = %s, want %s", i, c.Amount, w.amount)
		}
		if c.Direction != w.direction {
			t.Errorf("[%d] direction = %s, want %s", i, c.Direction, w.direction)
		}
	}
}

func TestParse_RowWarnings(t *testing.T) {
	content := []byte(strings.Join([]string{
		"Date;Description;Amount",
		"2026-01-15;Coop;-12,50",
		";Opening balance;100,00",
		"not a date;Broken;1,00",
		"2026-01-16;;5,00",
		"2026-01-17;Zero;0,00",
		"2026-01-18;No amount;",
		"2026-01-19;Migros;-3,20",
	}, "\n"))

	res, err := Parse(content, swissMapping, AccountContext{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Candidates) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(res.Candidates))
	}
	if len(res.Warnings) != 5 {
		t.Errorf("expected 5 warnings, got %d: %v", len(res.Warnings), res.Warnings)
	}
	if res.Warnings[0].Line != 3 {
		t.Errorf("first warning line = %d, want 3", res.Warnings[0].Line)
	}
}

func TestParse_IgnorePatterns(t *testing.T) {
	content := []byte(strings.Join([]string{
		"Date;Description;Amount",
		"2026-01-15;Coop;-12,50",
		"2026-01-15;Transfer to savings;-500,00",
		"2026-01-16;total spent;-500,00",
	}, "\n"))

	tests := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{"exact case drops row", []string{"Transfer to savings"}, []string{"Coop", "total spent"}},
		{"substring drops row", []string{"savings"}, []string{"Coop", "total spent"}},
		{"different case keeps row", []string{"TRANSFER TO SAVINGS"}, []string{"Coop", "Transfer to savings", "total spent"}},
		{"capitalized pattern keeps lower-case row", []string{"Total"}, []string{"Coop", "Transfer to savings", "total spent"}},
		{"empty pattern ignored", []string{""}, []string{"Coop", "Transfer to savings", "total spent"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse(content, swissMapping, AccountContext{IgnorePatterns: tt.patterns})
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			var got []string
			for _, c := range res.Candidates {
				got = append(got, c.Description)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("descriptions = %v, want %v", got, tt.want)
			}
			if len(res.Warnings) != 0 {
				t.Errorf("ignored rows should not warn, got %v", res.Warnings)
			}
		})
	}
}

func TestParse_Scenarios(t *testing.T) {
	type row struct {
		amount    string
		direction domain.Direction
	}
	plainComma := domain.ColumnMapping{
		DateColumn:        "date",
		DescriptionColumn: "description",
		AmountType:        domain.AmountSingle,
		AmountColumn:      "amount",
		DateFormat:        "%Y-%m-%d",
		AmountFormat:      domain.AmountFormatPlain,
	}

	tests := []struct {
		name    string
		content string
		mapping domain.ColumnMapping
		acct    AccountContext
		want    []row
	}{
		{
			name:    "comma plain file on checking account",
			content: "date,description,amount\n2026-01-15,Coffee Shop,-5.50\n2026-01-16,Salary,3000.00\n",
			mapping: plainComma,
			want:    []row{{"5.50", domain.DirectionExpense}, {"3000.00", domain.DirectionIncome}},
		},
		{
			name:    "same file on inverting account",
			content: "date,description,amount\n2026-01-15,Coffee Shop,-5.50\n2026-01-16,Salary,3000.00\n",
			mapping: plainComma,
			acct:    AccountContext{InvertSign: true},
			want:    []row{{"5.50", domain.DirectionIncome}, {"3000.00", domain.DirectionExpense}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse([]byte(tt.content), tt.mapping, tt.acct)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(res.Candidates) != len(tt.want) {
				t.Fatalf("got %d candidates, want %d", len(res.Candidates), len(tt.want))
			}
			for i, w := range tt.want {
				c := res.Candidates[i]
				if !c.Amount.Equal(decimal.RequireFromString(w.amount)) || c.Direction != w.direction {
					t.Errorf("candidate %d = (%s, %s), want (%s, %s)", i, c.Amount, c.Direction, w.amount, w.direction)
				}
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		mapping domain.ColumnMapping
	}{
		{"empty file", "", swissMapping},
		{"header only", "Date;Description;Amount\n", swissMapping},
		{"missing amount column", "Date;Description;Value\n2026-01-15;Coop;1,00\n", swissMapping},
		{"every row bad", "Date;Description;Amount\nxx;Coop;1,00\nyy;Migros;2,00\n", swissMapping},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content), tt.mapping, AccountContext{})
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %v", err)
			}
		})
	}
}

func TestParse_IsDeterministic(t *testing.T) {
	content := []byte("Date;Description;Amount\n2026-01-15;Coop;-12,50\n2026-01-16;Migros;-7,10\n")

	first, err := Parse(content, swissMapping, AccountContext{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := Parse(content, swissMapping, AccountContext{})
	if err != nil {
		t.Fatal(err)
	}
	for i := range first.Candidates {
		a, b := first.Candidates[i], second.Candidates[i]
		if a.ID != b.ID || a.Date != b.Date || !a.Amount.Equal(b.Amount) || a.Description != b.Description {
			t.Errorf("candidate %d differs between runs: %+v vs %+v", i, a, b)
		}
	}
}
