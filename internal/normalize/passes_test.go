package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripPageNumbers(t *testing.T) {
	t.Parallel()

	in := "Title\n12\n- 4 -\n5 (S)-2-aminopropanoic acid\n7"
	assert.Equal(t, "Title\n\n\n(S)-2-aminopropanoic acid\n", StripPageNumbers(in))

	// Only lines after a break qualify.
	assert.Equal(t, "12345\nabc", StripPageNumbers("12345\nabc"))

	// A number glued to a letter, hyphen or comma is part of a name.
	assert.Equal(t, "x\n2-chloro\n3,4-diol\n4 methyl", StripPageNumbers("x\n2-chloro\n3,4-diol\n4 methyl"))
}

func TestTrimTrailingWhitespace(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc\n  def\n", TrimTrailingWhitespace("abc  \n  def\t\n"))
}

func TestJoinHyphenBreaks(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2-chloro-4-methyl\nfoo -\nbar", JoinHyphenBreaks("2-chloro-\n\n  4-methyl\nfoo -\nbar"))
	assert.Equal(t, "a-b-c", JoinHyphenBreaks("a-\nb-\nc"))
	assert.Equal(t, "trailing-", JoinHyphenBreaks("trailing-"))
}

func TestFixConfusions(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"4-(l-methylethyl)": "4-(1-methylethy1)",
		"2-pvridinvl":       "2-pyridinyl",
		"cvclohexane":       "cyclohexane",
		"(l(l(":             "(1(1(",
		"indol-lH":          "indol-1H",
		"2,l-dimethyl":      "2,1-dimethyl",
		"ethylene":          "ethylene",
	}
	for in, want := range tests {
		assert.Equal(t, want, FixConfusions(in), in)
	}
}

func TestCollapseBracketSpacing(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "(4-chloro [a] {b})", CollapseBracketSpacing("( 4-chloro [ a ] { b } )"))
	// Collapsing exposes confusions FixConfusions could not see.
	assert.Equal(t, "abcde(1(xyz", CollapseBracketSpacing("abcde( l(xyz"))
	assert.Equal(t, "abcde)1)xyz", CollapseBracketSpacing("abcde)l )xyz"))
}

func TestCollapseHyphenDigitSpacing(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2-chloro 1,2,3-triazole ethyl-1H",
		CollapseHyphenDigitSpacing("2 - chloro 1 , 2 , 3-triazole ethy1 -IH"))
	assert.Equal(t, "1-methyl", CollapseHyphenDigitSpacing("l-methyl"))
	assert.Equal(t, "3-1propyl", CollapseHyphenDigitSpacing("3-l propyl"))
	assert.Equal(t, "abcdef-1) xyz", CollapseHyphenDigitSpacing("abcdef - l) xyz"))
	assert.Equal(t, "abcde2,1-ycv", CollapseHyphenDigitSpacing("abcde2, l-ycv"))
	assert.Equal(t, "a, 1 ,b 3,4", CollapseHyphenDigitSpacing("a, 1 ,b 3 , 4"))
	// "yl" restored after the confusion pass turned "yl," into "y1,".
	assert.Equal(t, "methyl,ethyl", CollapseHyphenDigitSpacing(FixConfusions("methyl,ethyl")))
}

func TestStripColons(t *testing.T) {
	t.Parallel()

	in := "Preparation of: 4-ol\nExample 3: x\nPreparation of:N-oxide"
	assert.Equal(t, "Preparation of 4-ol\nExample 3 x\nPreparation of N-oxide", StripColons(in))
}

func TestKeepCanonicalLines(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ok line\n  (R)-x  ", KeepCanonicalLines("ok line\n\nbad; line\n  (R)-x  \nprice $5"))
}

func TestDropShortLines(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abcde", DropShortLines("abcd\nabcde\n  ab  \n"))
}

func TestPassOrder(t *testing.T) {
	names := make([]string, 0, len(Passes))
	for _, p := range Passes {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{
		"page-numbers",
		"trailing-whitespace",
		"hyphen-breaks",
		"confusions",
		"bracket-spacing",
		"hyphen-digit-spacing",
		"colons",
		"charset",
		"min-length",
	}, names)
}
