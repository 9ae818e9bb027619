package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Direction is the money-flow direction of a transaction. Amounts are always
// stored as positive magnitudes; the sign lives here.
type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == DirectionIncome || d == DirectionExpense
}

// Method records which categorization phase assigned a category.
type Method string

const (
	MethodPattern   Method = "pattern"
	MethodEmbedding Method = "embedding"
	MethodLLM       Method = "llm"
)

// Candidate is a staged, not-yet-committed transaction produced by the row
// parser and enriched by duplicate detection and categorization.
type Candidate struct {
	ID          string          `json:"id"`
	Line        int             `json:"line"`
	Date        civil.Date      `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Direction   Direction       `json:"direction"`

	Fingerprint string `json:"fingerprint"`
	IsDuplicate bool   `json:"is_duplicate"`

	CategoryID    string    `json:"category_id,omitempty"`
	CategorizedBy Method    `json:"categorized_by,omitempty"`
	PatternID     string    `json:"pattern_id,omitempty"`
	Confidence    float64   `json:"confidence,omitempty"`
	Embedding     []float32 `json:"embedding,omitempty"`
}

// Categorized reports whether a category has been assigned.
func (c *Candidate) Categorized() bool {
	return c.CategoryID != ""
}

// Assign records a category decision on the candidate.
func (c *Candidate) Assign(categoryID string, method Method, confidence float64) {
	c.CategoryID = categoryID
	c.CategorizedBy = method
	c.Confidence = confidence
}

// Transaction is a committed ledger entry.
type Transaction struct {
	ID          string
	AccountID   string
	ImportID    string
	Date        civil.Date
	Description string
	Amount      decimal.Decimal
	Direction   Direction
	CategoryID  string
	Fingerprint string
	Embedding   []float32
	CreatedAt   time.Time
}

// LabeledVector is an embedding with the category it was assigned to.
type LabeledVector struct {
	CategoryID  string
	Description string
	Vector      []float32
}
