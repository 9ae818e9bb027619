package oracle

import (
	"strings"
)

// buildMappingPrompt asks the model to describe the layout of a CSV sample.
func buildMappingPrompt(sampleCSV string) string {
	var b strings.Builder
	b.WriteString("You are analyzing a bank statement export in CSV format.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Identify which columns hold the booking date, the description and the amount.\n")
	b.WriteString("- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n")
	b.WriteString("- Output a single JSON object.\n\n")
	b.WriteString("The object must have these fields:\n")
	b.WriteString("- \"date_column\": string, exact header name of the booking date column\n")
	b.WriteString("- \"description_column\": string, exact header name of the main description column\n")
	b.WriteString("- \"description_secondary_column\": string or null, a second text column worth appending\n")
	b.WriteString("- \"amount_type\": \"single\" if one signed amount column exists, \"split\" for separate debit/credit columns\n")
	b.WriteString("- \"amount_column\": string or null, required when amount_type is \"single\"\n")
	b.WriteString("- \"debit_column\": string or null, required when amount_type is \"split\"\n")
	b.WriteString("- \"credit_column\": string or null, required when amount_type is \"split\"\n")
	b.WriteString("- \"date_format\": strftime format of the date values, e.g. \"%d.%m.%Y\"\n")
	b.WriteString("- \"amount_format\": \"eu\" for 1.234,56, \"us\" for 1,234.56, \"plain\" otherwise\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Copy header names exactly as they appear in the first line.\n")
	b.WriteString("- Some rows may belong to grouped transactions and have no date; ignore them when choosing formats.\n")
	b.WriteString("- Prefer the booking date over the value date when both exist.\n\n")
	b.WriteString("Return ONLY valid raw JSON.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n\n")
	b.WriteString("CSV sample:\n")
	b.WriteString(sampleCSV)
	return b.String()
}

// cleanModelJSON strips Markdown fences and surrounding prose from a JSON
// answer, keeping the outermost object or array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	open := strings.IndexAny(s, "{[")
	if open == -1 {
		return s
	}
	closer := "}"
	if s[open] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(s, closer); end > open {
		s = s[open : end+1]
	}
	return strings.TrimSpace(s)
}
