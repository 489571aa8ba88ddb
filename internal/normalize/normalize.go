// Package normalize rewrites noisy OCR or text-layer output into canonical,
// line-oriented text from which identifiers and compound names are parsed.
//
// The rewrite is an ordered list of pure passes. Later passes assume earlier
// ones have run, so Passes must not be reordered.
package normalize

import (
	"strings"
)

// Pass is one text-to-text rewrite.
type Pass struct {
	Name  string
	Apply func(string) string
}

// Passes is the canonical rewrite chain, in order.
var Passes = []Pass{
	{Name: "page-numbers", Apply: StripPageNumbers},
	{Name: "trailing-whitespace", Apply: TrimTrailingWhitespace},
	{Name: "hyphen-breaks", Apply: JoinHyphenBreaks},
	{Name: "confusions", Apply: FixConfusions},
	{Name: "bracket-spacing", Apply: CollapseBracketSpacing},
	{Name: "hyphen-digit-spacing", Apply: CollapseHyphenDigitSpacing},
	{Name: "colons", Apply: StripColons},
	{Name: "charset", Apply: KeepCanonicalLines},
	{Name: "min-length", Apply: DropShortLines},
}

// maxRounds bounds how often the chain is repeated. Real text settles in
// two or three rounds.
const maxRounds = 8

// Normalize runs the chain until its output stops changing, so that
// Normalize(Normalize(x)) == Normalize(x). A later pass can expose work for
// an earlier one: dropping a colon can leave trailing whitespace or a
// spaced bracket behind. It never fails; the worst case is "".
func Normalize(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	for range maxRounds {
		next := apply(text)
		if next == text {
			break
		}
		text = next
	}
	return text
}

func apply(text string) string {
	for _, p := range Passes {
		text = p.Apply(text)
	}
	return text
}

// Lines splits text into trimmed, non-empty lines.
func Lines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
