package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/toricodesthings/compound-association-service/internal/identifier"
)

var ErrInvalidRange = errors.New("invalid page range")

// PageRange is 1-based and inclusive. All means "every page"; Start/End are
// then filled in once the page count is known.
type PageRange struct {
	Start int  `json:"start" yaml:"start"`
	End   int  `json:"end" yaml:"end"`
	All   bool `json:"all" yaml:"all"`
}

// ParseRange accepts "all" or "start:end".
func ParseRange(s string) (PageRange, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "all") {
		return PageRange{All: true}, nil
	}
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return PageRange{}, fmt.Errorf("%w: %q (want start:end or all)", ErrInvalidRange, s)
	}
	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return PageRange{}, fmt.Errorf("%w: start %q", ErrInvalidRange, lo)
	}
	end, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return PageRange{}, fmt.Errorf("%w: end %q", ErrInvalidRange, hi)
	}
	r := PageRange{Start: start, End: end}
	if err := r.Validate(0); err != nil {
		return PageRange{}, err
	}
	return r, nil
}

// Validate checks bounds. pageCount <= 0 skips the upper-bound check.
func (r PageRange) Validate(pageCount int) error {
	if r.All {
		return nil
	}
	if r.Start < 1 {
		return fmt.Errorf("%w: start %d must be >= 1", ErrInvalidRange, r.Start)
	}
	if r.End < r.Start {
		return fmt.Errorf("%w: end %d before start %d", ErrInvalidRange, r.End, r.Start)
	}
	if pageCount > 0 && r.End > pageCount {
		return fmt.Errorf("%w: end %d beyond last page %d", ErrInvalidRange, r.End, pageCount)
	}
	return nil
}

// Resolve turns an All range into a concrete one.
func (r PageRange) Resolve(pageCount int) (PageRange, error) {
	if r.All {
		if pageCount < 1 {
			return PageRange{}, fmt.Errorf("%w: document has no pages", ErrInvalidRange)
		}
		return PageRange{Start: 1, End: pageCount}, nil
	}
	return r, r.Validate(pageCount)
}

// Pages lists every page number in a resolved range.
func (r PageRange) Pages() []int {
	if r.All || r.End < r.Start {
		return nil
	}
	out := make([]int, 0, r.End-r.Start+1)
	for p := r.Start; p <= r.End; p++ {
		out = append(out, p)
	}
	return out
}

func (r PageRange) String() string {
	if r.All {
		return "all"
	}
	return fmt.Sprintf("%d:%d", r.Start, r.End)
}

type OutputFormat string

const (
	FormatDefault OutputFormat = "default"
	FormatSMI     OutputFormat = "smi"
	FormatSDF     OutputFormat = "sdf"
	FormatXLSX    OutputFormat = "xlsx"
)

func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatDefault, nil
	case FormatDefault, FormatSMI, FormatSDF, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want default, smi, sdf or xlsx)", s)
	}
}

// DocumentJob is one unit of fleet work. It is consumed exactly once.
type DocumentJob struct {
	ID           string       `json:"id"`
	FilePath     string       `json:"filePath"`
	PageRange    PageRange    `json:"pageRange"`
	OutputFormat OutputFormat `json:"outputFormat"`
}

// Field names the attribute an ExtractionRecord contributes.
type Field string

const (
	FieldName      Field = "name"
	FieldActivity  Field = "activity"
	FieldStructure Field = "structure"
)

// Sources recorded on ExtractionRecords.
const (
	SourceActivity = "activity"
	SourcePairing  = "pairing"
	SourceOPSIN    = "opsin"
	SourceImage    = "image"
)

// ExtractionRecord is one fact contributed by one extractor. Records are
// never mutated after creation.
type ExtractionRecord struct {
	Identifier identifier.Identifier
	Field      Field
	Value      string
	Source     string
}

// Hybrid PDF text extraction.

type HybridProcessorOptions struct {
	MinWordsThreshold int
	PageSeparator     string
	Pages             []int
	OCRModel          *string
}

type PageExtractionResult struct {
	PageNumber int    `json:"pageNumber"`
	Text       string `json:"text"`
	Method     string `json:"method"` // "text-layer" | "needs-ocr" | "ocr"
	WordCount  int    `json:"wordCount"`
}

type HybridExtractionResult struct {
	Success        bool                   `json:"success"`
	Text           string                 `json:"text"`
	Pages          []PageExtractionResult `json:"pages"`
	TotalPages     int                    `json:"totalPages"`
	TextLayerPages int                    `json:"textLayerPages"`
	OCRPages       int                    `json:"ocrPages"`
	Error          *string                `json:"error,omitempty"`
}
