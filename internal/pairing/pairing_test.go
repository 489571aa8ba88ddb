package pairing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/compound-association-service/internal/identifier"
	"github.com/toricodesthings/compound-association-service/internal/logging"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

type recordingExtractor struct {
	seen    []string
	respond func(paragraph string) ([]Compound, error)
}

func (r *recordingExtractor) ExtractNames(_ context.Context, paragraph string) ([]Compound, error) {
	r.seen = append(r.seen, paragraph)
	return r.respond(paragraph)
}

// firstWord returns the paragraph's first word as the only candidate.
func firstWord(paragraph string) ([]Compound, error) {
	return []Compound{{Names: []string{paragraph}}}, nil
}

func TestPairBasic(t *testing.T) {
	t.Parallel()

	ex := &recordingExtractor{respond: firstWord}
	lines := []string{
		"Example 1",
		"2-chlorophenol prepared as follows",
		"stirred for 2 h",
		"Example 2A",
		"ethyl-acetate derivative",
	}
	pairs := New(ex, logging.NewNopLogger()).Pair(context.Background(), lines)

	require.Len(t, pairs, 2)
	assert.Equal(t, "Example 1", pairs[0].ID.String())
	assert.Equal(t, "2-chlorophenol", pairs[0].Name)
	assert.Equal(t, "Example 2A", pairs[1].ID.String())
	assert.Equal(t, "ethyl-acetate", pairs[1].Name)

	assert.Equal(t, []string{
		"2-chlorophenol prepared as follows stirred for 2 h",
		"ethyl-acetate derivative",
	}, ex.seen)
}

func TestPairDoesNotJoinAcrossBlocks(t *testing.T) {
	t.Parallel()

	ex := &recordingExtractor{respond: firstWord}
	lines := []string{"Example 5", "4-chlorophenol derivative", "Example 6", "x"}
	New(ex, nil).Pair(context.Background(), lines)

	require.Len(t, ex.seen, 2)
	assert.Equal(t, "4-chlorophenol derivative", ex.seen[0])
	assert.NotContains(t, ex.seen[0], "Example")
	assert.Equal(t, "x", ex.seen[1])
}

func TestPairOneNamePerBlock(t *testing.T) {
	t.Parallel()

	ex := &recordingExtractor{respond: func(string) ([]Compound, error) {
		return []Compound{{}, {Names: []string{"toluene", "benzene"}}, {Names: []string{"xylene"}}}, nil
	}}
	pairs := New(ex, nil).Pair(context.Background(), []string{"Example 3", "a b", "c d"})
	require.Len(t, pairs, 1)
	assert.Equal(t, "toluene", pairs[0].Name)
}

func TestPairExtractorFailureYieldsNoName(t *testing.T) {
	t.Parallel()

	ex := &recordingExtractor{respond: func(p string) ([]Compound, error) {
		if strings.HasPrefix(p, "bad") {
			return nil, errors.New("upstream 503")
		}
		return firstWord(p)
	}}
	lines := []string{"Example 1", "bad paragraph", "Example 2", "good-name here"}
	pairs := New(ex, nil).Pair(context.Background(), lines)
	require.Len(t, pairs, 1)
	assert.Equal(t, "Example 2", pairs[0].ID.String())
}

func TestPairSkipsBlankLeadingName(t *testing.T) {
	t.Parallel()

	ex := &recordingExtractor{respond: func(string) ([]Compound, error) {
		return []Compound{
			{Names: nil},
			{Names: []string{"   ", "ignored"}},
			{Names: []string{"2-chlorophenol derivative"}},
		}, nil
	}}
	pairs := New(ex, nil).Pair(context.Background(), []string{"Example 4", "some paragraph"})
	require.Len(t, pairs, 1)
	assert.Equal(t, "2-chlorophenol", pairs[0].Name)
}

func TestPairIgnoresTextBeforeFirstBlock(t *testing.T) {
	t.Parallel()

	ex := &recordingExtractor{respond: firstWord}
	pairs := New(ex, nil).Pair(context.Background(), []string{"preamble text", "more preamble"})
	assert.Empty(t, pairs)
	assert.Empty(t, ex.seen)
}

func TestPairIdentifierAlwaysFromExampleLine(t *testing.T) {
	t.Parallel()

	ex := &recordingExtractor{respond: firstWord}
	lines := []string{"Example 10", "alpha-name one", "Example 11", "beta-name two", "Example 12"}
	pairs := New(ex, nil).Pair(context.Background(), lines)
	for _, p := range pairs {
		assert.True(t, strings.HasPrefix(p.ID.String(), identifier.Prefix+" "))
		_, ok := identifier.Parse(p.ID.String())
		assert.True(t, ok)
	}
	assert.Len(t, pairs, 2)
}

func TestPairStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := &recordingExtractor{respond: firstWord}
	assert.Empty(t, New(ex, nil).Pair(ctx, []string{"Example 1", "name-here"}))
}

func TestRecords(t *testing.T) {
	t.Parallel()

	recs := Records([]Pair{{ID: identifier.Canonical("1"), Name: "phenol"}})
	require.Len(t, recs, 1)
	assert.Equal(t, types.FieldName, recs[0].Field)
	assert.Equal(t, types.SourcePairing, recs[0].Source)
}

func TestWriteCSVDropsShortNames(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	pairs := []Pair{
		{ID: identifier.Canonical("2"), Name: "phenol"},
		{ID: identifier.Canonical("1"), Name: "HCl"},
	}
	require.NoError(t, WriteCSV(&buf, pairs))
	assert.Equal(t, "Example;Molecule\nExample 2;phenol\n", buf.String())
}

func TestNameExtractorFunc(t *testing.T) {
	f := NameExtractorFunc(func(context.Context, string) ([]Compound, error) {
		return []Compound{{Names: []string{"x"}}}, nil
	})
	got, err := f.ExtractNames(context.Background(), "p")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
