// Package identifier models compound labels such as "Example 12" or
// "Example 12A" and the total order used to sort every output table.
package identifier

import (
	"regexp"
	"strconv"
	"strings"
)

// Prefix is the literal word every canonical identifier starts with.
const Prefix = "Example"

var (
	wsRegex     = regexp.MustCompile(`\s+`)
	prefixRegex = regexp.MustCompile(`(?i)^example`)
	indexRegex  = regexp.MustCompile(`^Example\s*(\d+)([A-Za-z]*)`)
)

// Identifier is immutable once constructed. The zero value is an
// unrecognised, empty identifier.
type Identifier struct {
	key    string
	index  int
	suffix string
	valid  bool
}

// Parse canonicalises token and extracts its numeric index and suffix.
// ok is false when no numeric index can be found.
func Parse(token string) (Identifier, bool) {
	id := Canonical(token)
	return id, id.valid
}

// Canonical always returns an Identifier. Tokens without a numeric index
// are kept (they sort last) so they can be inspected rather than dropped.
func Canonical(token string) Identifier {
	key := EnsurePrefix(token)
	if key == "" {
		return Identifier{}
	}

	m := indexRegex.FindStringSubmatch(key)
	if m == nil {
		return Identifier{key: key}
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return Identifier{key: key}
	}

	// "Example12", "example 12" and "Example 12" are the same compound, as
	// are "12a" and "12A".
	suffix := strings.ToUpper(m[2])
	key = Prefix + " " + m[1] + suffix + key[len(m[0]):]
	return Identifier{key: key, index: n, suffix: suffix, valid: true}
}

// EnsurePrefix collapses runs of whitespace and prepends "Example " when
// the token does not already start with it. A prefix in any case is
// rewritten to "Example".
func EnsurePrefix(token string) string {
	s := strings.TrimSpace(wsRegex.ReplaceAllString(token, " "))
	if s == "" {
		return ""
	}
	if prefixRegex.MatchString(s) {
		return Prefix + s[len(Prefix):]
	}
	return Prefix + " " + s
}

func (id Identifier) String() string { return id.key }

// Key is the join key used across extractors.
func (id Identifier) Key() string { return id.key }

func (id Identifier) Index() int { return id.index }

func (id Identifier) Suffix() string { return id.suffix }

// Valid reports whether a numeric index was recognised.
func (id Identifier) Valid() bool { return id.valid }

func (id Identifier) IsZero() bool { return id.key == "" }

// Compare orders by numeric index, then suffix (empty first). Identifiers
// without an index sort after all indexed ones. Remaining ties fall back to
// the canonical text so the order is total.
func Compare(a, b Identifier) int {
	switch {
	case a.valid && !b.valid:
		return -1
	case !a.valid && b.valid:
		return 1
	}
	if a.valid {
		if a.index != b.index {
			if a.index < b.index {
				return -1
			}
			return 1
		}
		if c := strings.Compare(a.suffix, b.suffix); c != 0 {
			return c
		}
	}
	return strings.Compare(a.key, b.key)
}

// Less reports whether a sorts before b.
func Less(a, b Identifier) bool { return Compare(a, b) < 0 }

var fileNameRegex = regexp.MustCompile(`(?i)(?:^|[^a-z])(?:example|ex)[_\- ]?(\d+[A-Za-z]?)(?:[^A-Za-z0-9]|$)`)

// FromFileName recovers an identifier embedded in an artifact name, e.g.
// "p12_Example_7B.png" or "ex-7b.png". Segmenters that know which compound
// an image depicts name their output this way.
func FromFileName(name string) (Identifier, bool) {
	m := fileNameRegex.FindStringSubmatch(name)
	if m == nil {
		return Identifier{}, false
	}
	return Parse(m[1])
}
