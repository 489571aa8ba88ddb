package activity

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/compound-association-service/internal/types"
)

func TestExtractTable(t *testing.T) {
	t.Parallel()

	lines := []string{
		"Molecule ID,Activity",
		"Example 12,1,234",
		"3A,0.5",
		"7,250",
		"Example 8,",
		"Example 9,12 nM",
		"",
	}
	got := ExtractTable(lines)
	assert.Equal(t, Mapping{
		"Example 12": "1234",
		"Example 3A": "0.5",
		"Example 7":  "250",
	}, got)
}

func TestExtractText(t *testing.T) {
	t.Parallel()

	lines := []string{
		"Example 7 45",
		"  Example 11   1,200  ",
		"Example 13 12.5 nM",
		"Table 1 lists activities",
	}
	assert.Equal(t, Mapping{
		"Example 7":  "45",
		"Example 11": "1200",
	}, ExtractText(lines))
}

func TestExtractLoose(t *testing.T) {
	t.Parallel()

	lines := []string{"Example 9 1,234.5", "4B 17", "Example 10 1.2.3"}
	assert.Equal(t, Mapping{
		"Example 9":  "1234.5",
		"Example 4B": "17",
	}, ExtractLoose(lines))
}

func TestExtractFirstValueWins(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Mapping{"Example 1": "5"}, ExtractTable([]string{"1,5", "Example 1,6"}))
}

func TestExtractNoMatches(t *testing.T) {
	t.Parallel()
	assert.Empty(t, ExtractText(nil))
	assert.Empty(t, ExtractLoose([]string{"nothing here"}))
}

func TestEntriesSorted(t *testing.T) {
	t.Parallel()

	m := Mapping{"Example 10": "5", "Example 2": "7", "Example 2A": "1"}
	entries := m.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "Example 2", entries[0].ID.String())
	assert.Equal(t, "Example 2A", entries[1].ID.String())
	assert.Equal(t, "Example 10", entries[2].ID.String())

	recs := m.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, types.FieldActivity, recs[0].Field)
	assert.Equal(t, types.SourceActivity, recs[0].Source)
	assert.Equal(t, "7", recs[0].Value)
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, Mapping{"Example 10": "5", "Example 2": "7"}))
	assert.Equal(t, "Molecule ID,Activity\nExample 2,7\nExample 10,5\n", buf.String())
}

func TestShapeString(t *testing.T) {
	assert.Equal(t, "comma", Comma.String())
	assert.Equal(t, "loose", Loose.String())
	assert.Equal(t, "shape(9)", Shape(9).String())
}
