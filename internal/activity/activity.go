// Package activity parses identifier-to-activity lines out of tables, text
// layers, and OCR output.
package activity

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/toricodesthings/compound-association-service/internal/identifier"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

// Shape names the line layout a pattern expects.
type Shape int

const (
	// Comma is a table row flattened to "<id>,<value>".
	Comma Shape = iota
	// Whitespace is a text-layer line "<id> <value>".
	Whitespace
	// Loose is an OCR line with thousands separators already stripped.
	Loose
)

func (s Shape) String() string {
	switch s {
	case Comma:
		return "comma"
	case Whitespace:
		return "whitespace"
	case Loose:
		return "loose"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

var (
	commaLineRegex      = regexp.MustCompile(`^(Example\s+)?([0-9A-Z]+),(\d{1,3}(?:,\d{3})*|\d+|[\d.,]+)$`)
	whitespaceLineRegex = regexp.MustCompile(`^(Example\s+)?([0-9A-Z]+)\s+(\d{1,3}(?:,\d{3})*|\d+|[\d.,]+)$`)
	looseLineRegex      = regexp.MustCompile(`^(Example\s+)?([0-9A-Z]+)\s+(\d+(?:\.\d+)?)$`)
)

// Mapping is identifier key to activity value. Values never contain
// thousands separators.
type Mapping map[string]string

// Entry is one mapping row with its parsed identifier.
type Entry struct {
	ID    identifier.Identifier
	Value string
}

// Entries returns the mapping sorted by identifier.
func (m Mapping) Entries() []Entry {
	out := make([]Entry, 0, len(m))
	for k, v := range m {
		out = append(out, Entry{ID: identifier.Canonical(k), Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return identifier.Less(out[i].ID, out[j].ID) })
	return out
}

// Records converts the mapping into activity extraction records.
func (m Mapping) Records() []types.ExtractionRecord {
	entries := m.Entries()
	out := make([]types.ExtractionRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, types.ExtractionRecord{
			Identifier: e.ID,
			Field:      types.FieldActivity,
			Value:      e.Value,
			Source:     types.SourceActivity,
		})
	}
	return out
}

// Extract matches each line against the pattern for shape. Lines that do not
// match are ignored. The first value seen for an identifier is kept.
func Extract(lines []string, shape Shape) Mapping {
	m := Mapping{}
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		var match []string
		switch shape {
		case Comma:
			match = commaLineRegex.FindStringSubmatch(line)
		case Whitespace:
			match = whitespaceLineRegex.FindStringSubmatch(line)
		case Loose:
			match = looseLineRegex.FindStringSubmatch(strings.ReplaceAll(line, ",", ""))
		}
		if match == nil {
			continue
		}
		id := identifier.Canonical(match[2])
		if _, seen := m[id.Key()]; seen {
			continue
		}
		m[id.Key()] = strings.ReplaceAll(match[3], ",", "")
	}
	return m
}

// ExtractTable parses flattened table rows.
func ExtractTable(lines []string) Mapping { return Extract(lines, Comma) }

// ExtractText parses text-layer lines.
func ExtractText(lines []string) Mapping { return Extract(lines, Whitespace) }

// ExtractLoose parses OCR lines.
func ExtractLoose(lines []string) Mapping { return Extract(lines, Loose) }

// WriteCSV writes the "Molecule ID,Activity" artifact, sorted by identifier.
func WriteCSV(w io.Writer, m Mapping) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Molecule ID", "Activity"}); err != nil {
		return err
	}
	for _, e := range m.Entries() {
		if err := cw.Write([]string{e.ID.String(), e.Value}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
