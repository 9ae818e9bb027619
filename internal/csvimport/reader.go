// Package csvimport reads bank CSV exports and turns their rows into
// candidate transactions using a column mapping.
package csvimport

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// delimiters in tie-break order.
var delimiters = []rune{';', ',', '\t', '|'}

// Row is one data record with its 1-based line number in the file.
type Row struct {
	Line   int
	Fields []string
}

// Table is a decoded CSV file: a header and its data rows.
type Table struct {
	Delimiter rune
	Header    []string
	Rows      []Row
}

// DetectDelimiter picks the delimiter that occurs most often, outside
// quotes, in the first line. Semicolon wins ties.
func DetectDelimiter(content []byte) rune {
	content = bytes.TrimPrefix(content, utf8BOM)
	line := content
	if i := bytes.IndexAny(content, "\r\n"); i >= 0 {
		line = content[:i]
	}

	counts := make(map[rune]int, len(delimiters))
	inQuotes := false
	for _, r := range string(line) {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[r]++
		}
	}

	best, bestCount := ',', 0
	for _, d := range delimiters {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

// ReadTable decodes content with the given delimiter. The first non-empty
// record is the header; fully blank records are dropped.
func ReadTable(content []byte, delimiter rune) (*Table, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, &ParseError{Reason: "file is empty"}
	}
	if delimiter == 0 {
		delimiter = DetectDelimiter(content)
	}

	r := csv.NewReader(bytes.NewReader(content))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("read header: %v", err)}
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	t := &Table{Delimiter: delimiter, Header: header}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var csvErr *csv.ParseError
			line := 0
			if errors.As(err, &csvErr) {
				line = csvErr.StartLine
			}
			return nil, &ParseError{Line: line, Reason: fmt.Sprintf("malformed record: %v", err)}
		}
		line, _ := r.FieldPos(0)
		if blank(record) {
			continue
		}
		t.Rows = append(t.Rows, Row{Line: line, Fields: record})
	}
	return t, nil
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Index returns the position of the named column, matching exactly first
// and then case-insensitively. It returns -1 when the column is absent.
func (t *Table) Index(name string) int {
	return ColumnIndex(t.Header, name)
}

// ColumnIndex is Index for a bare header.
func ColumnIndex(header []string, name string) int {
	name = strings.TrimSpace(name)
	if name == "" {
		return -1
	}
	for i, h := range header {
		if h == name {
			return i
		}
	}
	for i, h := range header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

// Field returns the trimmed value at index i, or "" when the row is short.
func (r Row) Field(i int) string {
	if i < 0 || i >= len(r.Fields) {
		return ""
	}
	return strings.TrimSpace(r.Fields[i])
}

// Encode renders the header and the given rows back to CSV text.
func (t *Table) Encode(rows []Row) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = t.Delimiter
	_ = w.Write(t.Header)
	for _, row := range rows {
		_ = w.Write(row.Fields)
	}
	w.Flush()
	return buf.String()
}
