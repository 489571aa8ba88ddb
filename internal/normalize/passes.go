package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinLineLength is the shortest line kept by DropShortLines.
const MinLineLength = 5

var (
	digitsOnlyRegex    = regexp.MustCompile(`^\s*\d+\s*$`)
	dashedNumberRegex  = regexp.MustCompile(`^\s*-\s*\d+\s*-\s*$`)
	marginNumberRegex  = regexp.MustCompile(`^\d+\s+([^-,a-zA-Z\s])`)
	openBracketRegex   = regexp.MustCompile(`([(\[{])\s+`)
	closeBracketRegex  = regexp.MustCompile(`\s+([)\]}])`)
	hyphenSpaceRegex   = regexp.MustCompile(`\s*-\s*`)
	hyphenLSpaceRegex  = regexp.MustCompile(`-l\s+`)
	commaSpaceRegex    = regexp.MustCompile(`\s*,\s*`)
	leadingLHyphen     = regexp.MustCompile(`\bl-`)
	preparationColon   = regexp.MustCompile(`Preparation of:\s*`)
	canonicalLineRegex = regexp.MustCompile(`^[a-zA-Z0-9,\-()\[\]{}.\s]+$`)
)

// confusion is a literal substring rewrite. Every entry only fires inside a
// chemical-name context, never on a bare character.
type confusion struct{ from, to string }

// "l" read instead of "1" and "v" read instead of "y".
var ocrConfusions = []confusion{
	{"lH", "1H"},
	{"(l(", "(1("},
	{")l)", ")1)"},
	{"-l-", "-1-"},
	{"-l)", "-1)"},
	{"(l-", "(1-"},
	{"yl)", "y1)"},
	{"l,", "1,"},
	{",l", ",1"},
	{"cvc", "cyc"},
	{"nvl", "nyl"},
	{"xvc", "xyc"},
	{"pvr", "pyr"},
	{"zvl", "zyl"},
	{"hvl", "hyl"},
}

// Bracket and hyphen contexts from ocrConfusions. Collapsing spacing can
// create them after FixConfusions has run, so the spacing passes repeat them.
var bracketConfusions = []confusion{
	{"(l(", "(1("},
	{")l)", ")1)"},
	{"-l-", "-1-"},
	{"-l)", "-1)"},
	{"(l-", "(1-"},
}

// Once spacing is canonical, "y1" is always the alkyl suffix "yl" and "-IH"
// is an indicated hydrogen.
var spacedConfusions = []confusion{
	{"y1", "yl"},
	{"-IH", "-1H"},
}

// StripPageNumbers removes page-number artifacts that follow a line break:
// lines of bare digits, digits wrapped in dashes, and margin line numbers in
// front of a name fragment.
func StripPageNumbers(text string) string {
	lines := strings.Split(text, "\n")
	for i := 1; i < len(lines); i++ {
		l := lines[i]
		if digitsOnlyRegex.MatchString(l) || dashedNumberRegex.MatchString(l) {
			lines[i] = ""
			continue
		}
		for {
			loc := marginNumberRegex.FindStringSubmatchIndex(l)
			if loc == nil {
				break
			}
			l = l[loc[2]:]
		}
		lines[i] = l
	}
	return strings.Join(lines, "\n")
}

// TrimTrailingWhitespace strips spaces and tabs at the end of every line.
func TrimTrailingWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\f\v")
	}
	return strings.Join(lines, "\n")
}

// JoinHyphenBreaks glues a line ending in "<non-space>-" to the next
// non-blank line, keeping the hyphen and inserting no space.
func JoinHyphenBreaks(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		for endsWithBreak(line) {
			j := i + 1
			for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
				j++
			}
			if j >= len(lines) {
				break
			}
			line += strings.TrimLeft(lines[j], " \t")
			i = j
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func endsWithBreak(line string) bool {
	n := len(line)
	if n < 2 || line[n-1] != '-' {
		return false
	}
	c := line[n-2]
	return c != ' ' && c != '\t'
}

// FixConfusions rewrites OCR character confusions ("l" for "1", "v" for
// "y") inside chemical-name contexts.
func FixConfusions(text string) string {
	return applyConfusions(text, ocrConfusions)
}

func applyConfusions(text string, table []confusion) string {
	for _, c := range table {
		// Overlapping hits such as "(l(l(" need a second sweep.
		for strings.Contains(text, c.from) {
			text = strings.ReplaceAll(text, c.from, c.to)
		}
	}
	return text
}

// CollapseBracketSpacing removes whitespace after opening and before closing
// brackets.
func CollapseBracketSpacing(text string) string {
	text = openBracketRegex.ReplaceAllString(text, "$1")
	text = closeBracketRegex.ReplaceAllString(text, "$1")
	return applyConfusions(text, bracketConfusions)
}

// CollapseHyphenDigitSpacing removes whitespace around hyphens and inside
// comma-separated digit groups, then repairs confusions that only become
// unambiguous once that spacing is gone. Rewrites that produce digits run
// before the digit groups are joined.
func CollapseHyphenDigitSpacing(text string) string {
	text = hyphenSpaceRegex.ReplaceAllString(text, "-")
	text = hyphenLSpaceRegex.ReplaceAllString(text, "-1")
	text = leadingLHyphen.ReplaceAllString(text, "1-")
	text = applyConfusions(text, bracketConfusions)
	text = joinDigitGroups(text)
	return applyConfusions(text, spacedConfusions)
}

// joinDigitGroups drops the whitespace around every comma that sits between
// two digits. Matches are checked against their neighbours rather than
// captured, so "1 , 2 , 3" joins in one sweep.
func joinDigitGroups(text string) string {
	locs := commaSpaceRegex.FindAllStringIndex(text, -1)
	if locs == nil {
		return text
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		if start == 0 || end >= len(text) || !isDigit(text[start-1]) || !isDigit(text[end]) {
			continue
		}
		b.WriteString(text[last:start])
		b.WriteByte(',')
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// StripColons removes every colon. "Preparation of:" keeps its word
// boundary instead.
func StripColons(text string) string {
	text = preparationColon.ReplaceAllString(text, "Preparation of ")
	text = strings.ReplaceAll(text, ":", "")
	return strings.ReplaceAll(text, "Preparation ofN", "Preparation of N")
}

// KeepCanonicalLines drops blank lines and any line with characters outside
// the canonical name alphabet.
func KeepCanonicalLines(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		if canonicalLineRegex.MatchString(strings.TrimSpace(l)) {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// DropShortLines drops lines shorter than MinLineLength runes.
func DropShortLines(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, l := range lines {
		if utf8.RuneCountInString(strings.TrimSpace(l)) >= MinLineLength {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
