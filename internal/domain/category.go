package domain

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Category is a user-defined label scoped to one direction.
type Category struct {
	ID        string
	Name      string
	Direction Direction
	Embedding []float32
	CreatedAt time.Time
}

// PatternSource distinguishes user-authored rules from learned ones.
type PatternSource string

const (
	SourceHuman   PatternSource = "human"
	SourceMachine PatternSource = "machine"
)

// Pattern is a text rule that assigns CategoryID to any description
// containing Text as a whole word, case-insensitively.
type Pattern struct {
	ID         string
	CategoryID string
	Text       string
	Source     PatternSource
	MatchCount int64
	Confidence float64
	CreatedAt  time.Time
}

// Matches reports whether the rule applies to description.
func (p Pattern) Matches(description string) bool {
	return ContainsWord(description, p.Text)
}

// ContainsWord reports whether word occurs in text, ignoring case, with no
// letter, digit or underscore directly adjacent to the occurrence.
func ContainsWord(text, word string) bool {
	w := strings.ToLower(strings.TrimSpace(word))
	if w == "" {
		return false
	}
	s := strings.ToLower(text)

	for off := 0; off < len(s); {
		i := strings.Index(s[off:], w)
		if i < 0 {
			return false
		}
		start := off + i
		end := start + len(w)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		off = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}
