// Package pairing walks normalized text and attaches the compound name found
// in each "Example" block to that block's identifier.
package pairing

import (
	"context"
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/toricodesthings/compound-association-service/internal/identifier"
	"github.com/toricodesthings/compound-association-service/internal/logging"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

// MinNameLength is the shortest name written to artifacts and the final
// table.
const MinNameLength = 4

// Compound is one candidate returned by a name extractor.
type Compound struct {
	Names []string `json:"names"`
}

// NameExtractor finds chemical-name candidates in a paragraph.
type NameExtractor interface {
	ExtractNames(ctx context.Context, paragraph string) ([]Compound, error)
}

// NameExtractorFunc adapts a function to NameExtractor.
type NameExtractorFunc func(ctx context.Context, paragraph string) ([]Compound, error)

func (f NameExtractorFunc) ExtractNames(ctx context.Context, paragraph string) ([]Compound, error) {
	return f(ctx, paragraph)
}

type Pair struct {
	ID   identifier.Identifier
	Name string
}

// Pairer holds the extractor used for every block.
type Pairer struct {
	extractor NameExtractor
	log       logging.Logger
}

func New(extractor NameExtractor, log logging.Logger) *Pairer {
	return &Pairer{extractor: extractor, log: logging.OrNop(log)}
}

// Pair scans lines in order. A line containing "Example" opens a block whose
// identifier is the line's last token. The next line, joined with the one
// after it unless that one opens a new block, is handed to the extractor.
// At most one name is accepted per block; extractor failures yield none.
func (p *Pairer) Pair(ctx context.Context, lines []string) []Pair {
	var (
		out     []Pair
		current string
		open    bool
	)
	for i, line := range lines {
		if ctx.Err() != nil {
			break
		}
		if strings.Contains(line, identifier.Prefix) {
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			current = fields[len(fields)-1]
			open = true
			continue
		}
		if !open {
			continue
		}

		paragraph := line
		if i < len(lines)-1 && !strings.Contains(lines[i+1], identifier.Prefix) {
			paragraph += " " + lines[i+1]
		}
		open = false

		name, ok := p.firstName(ctx, paragraph)
		if !ok {
			continue
		}
		out = append(out, Pair{
			ID:   identifier.Canonical(identifier.Prefix + " " + current),
			Name: name,
		})
	}
	return out
}

func (p *Pairer) firstName(ctx context.Context, paragraph string) (string, bool) {
	compounds, err := p.extractor.ExtractNames(ctx, paragraph)
	if err != nil {
		p.log.Warn("name extraction failed", logging.String("collaborator", "chemner"), logging.Int("paragraph_len", len(paragraph)), logging.Err(err))
		return "", false
	}
	for _, c := range compounds {
		if len(c.Names) == 0 {
			continue
		}
		name, _, _ := strings.Cut(strings.TrimSpace(c.Names[0]), " ")
		if name == "" {
			continue
		}
		return name, true
	}
	return "", false
}

// Records converts pairs into name extraction records.
func Records(pairs []Pair) []types.ExtractionRecord {
	out := make([]types.ExtractionRecord, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, types.ExtractionRecord{
			Identifier: p.ID,
			Field:      types.FieldName,
			Value:      p.Name,
			Source:     types.SourcePairing,
		})
	}
	return out
}

// LongEnough reports whether name is kept in written output.
func LongEnough(name string) bool {
	return utf8.RuneCountInString(name) >= MinNameLength
}

// WriteCSV writes the "Example;Molecule" artifact in discovery order,
// skipping names shorter than MinNameLength.
func WriteCSV(w io.Writer, pairs []Pair) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write([]string{"Example", "Molecule"}); err != nil {
		return err
	}
	for _, p := range pairs {
		if !LongEnough(p.Name) {
			continue
		}
		if err := cw.Write([]string{p.ID.String(), p.Name}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
