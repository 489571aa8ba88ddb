package normalize

import (
	"strings"

	"github.com/toricodesthings/compound-association-service/internal/identifier"
)

// OCR often mangles the "p" in a header cell reading "Example".
var (
	exampleHeaders = []string{"Example", "Exam~le", "Examole", "Examnle"}
	nameHeaders    = []string{"Name", "Compound", "Cpd"}
)

// TableColumns turns an extracted table (header row first) into text lines
// for pairing: each data row yields its example label, then its compound
// name with spaces removed. Tables without both columns yield nothing.
func TableColumns(rows [][]string) []string {
	if len(rows) < 2 {
		return nil
	}
	exampleIdx, nameIdx := -1, -1
	for i, h := range rows[0] {
		if containsAny(h, exampleHeaders) {
			exampleIdx = i
		}
		if containsAny(h, nameHeaders) {
			nameIdx = i
		}
	}
	if exampleIdx < 0 || nameIdx < 0 || exampleIdx == nameIdx {
		return nil
	}

	var out []string
	for _, row := range rows[1:] {
		if ex := cell(row, exampleIdx); ex != "" {
			if strings.Contains(ex, identifier.Prefix) {
				out = append(out, ex)
			} else if id, ok := identifier.Parse(ex); ok {
				out = append(out, id.Key())
			}
		}
		if name := strings.ReplaceAll(cell(row, nameIdx), " ", ""); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(row[i], "\n", " "))
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
