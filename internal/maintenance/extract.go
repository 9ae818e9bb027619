package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/store"
)

// noiseTokens are words common to bank descriptions that say nothing about
// the merchant.
var noiseTokens = map[string]bool{
	"CARD": true, "KARTE": true, "DEBIT": true, "CREDIT": true, "PAYMENT": true,
	"ZAHLUNG": true, "PURCHASE": true, "EINKAUF": true, "POS": true, "SEPA": true,
	"TRANSFER": true, "VISA": true, "MASTERCARD": true, "MAESTRO": true, "TWINT": true,
	"THE": true, "AND": true, "FROM": true, "DER": true, "DIE": true, "DAS": true,
}

// merchantKey returns the first word of description that looks like a
// merchant name: letters only, at least three of them, and not noise.
func merchantKey(description string) string {
	for _, field := range strings.FieldsFunc(description, func(r rune) bool {
		return unicode.IsSpace(r) || r == '*' || r == ',' || r == '/' || r == ':'
	}) {
		word := strings.ToUpper(strings.Trim(field, ".-_#'\""))
		if len([]rune(word)) < 3 || noiseTokens[word] {
			continue
		}
		if strings.IndexFunc(word, func(r rune) bool { return !unicode.IsLetter(r) }) >= 0 {
			continue
		}
		return word
	}
	return ""
}

type extractGroup struct {
	key       string
	direction domain.Direction
	total     int
	byCat     map[string]int
}

// ExtractRules learns machine rules from committed, categorized
// transactions. A merchant key becomes a rule when at least MinOccurrences
// transactions carry it and a strict majority share one category. The
// majority share becomes the rule's confidence. Keys already covered by any
// rule are skipped.
func (m *Maintainer) ExtractRules(ctx context.Context) (int, error) {
	txs, err := m.store.ListTransactions(ctx, store.TransactionFilter{CategorizedOnly: true})
	if err != nil {
		return 0, fmt.Errorf("ExtractRules: list transactions: %w", err)
	}
	existing, err := m.store.ListAllPatterns(ctx)
	if err != nil {
		return 0, fmt.Errorf("ExtractRules: list patterns: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, p := range existing {
		known[strings.ToUpper(strings.TrimSpace(p.Text))] = true
	}

	groups := make(map[string]*extractGroup)
	var order []string
	for _, tx := range txs {
		key := merchantKey(tx.Description)
		if key == "" || known[key] {
			continue
		}
		gk := string(tx.Direction) + "|" + key
		g, ok := groups[gk]
		if !ok {
			g = &extractGroup{key: key, direction: tx.Direction, byCat: make(map[string]int)}
			groups[gk] = g
			order = append(order, gk)
		}
		g.total++
		g.byCat[tx.CategoryID]++
	}

	learned := 0
	for _, gk := range order {
		g := groups[gk]
		if g.total < m.cfg.MinOccurrences || known[g.key] {
			continue
		}
		bestCat, bestCount := "", 0
		for cat, n := range g.byCat {
			if n > bestCount || (n == bestCount && cat < bestCat) {
				bestCat, bestCount = cat, n
			}
		}
		if bestCount < m.cfg.MinOccurrences || bestCount*2 <= g.total {
			continue
		}

		p := &domain.Pattern{
			CategoryID: bestCat,
			Text:       g.key,
			Source:     domain.SourceMachine,
			Confidence: float64(bestCount) / float64(g.total),
		}
		if err := m.store.CreatePattern(ctx, p); err != nil {
			if errors.Is(err, store.ErrDuplicateRule) {
				continue
			}
			return learned, fmt.Errorf("ExtractRules: create pattern %q: %w", g.key, err)
		}
		known[g.key] = true
		learned++
	}
	return learned, nil
}
