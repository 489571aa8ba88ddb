package structured

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/compound-association-service/internal/extract"
)

func job(t *testing.T, body string) extract.Job {
	t.Helper()
	p := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return extract.Job{LocalPath: p, FileName: "in.csv"}
}

func TestCSVComma(t *testing.T) {
	t.Parallel()

	res, err := NewCSV(0).Extract(context.Background(), job(t, "Example,IC50\nExample 1,\"1,234\"\n"))
	require.NoError(t, err)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, [][]string{{"Example", "IC50"}, {"Example 1", "1,234"}}, res.Tables[0].Rows)
	assert.Equal(t, "Example IC50\nExample 1 1,234", res.Text)
	assert.Equal(t, ",", res.Metadata["delimiter"])
}

func TestCSVSemicolon(t *testing.T) {
	t.Parallel()

	res, err := NewCSV(0).Extract(context.Background(), job(t, "Example;Molecule\nExample 2;phenol\n"))
	require.NoError(t, err)
	assert.Equal(t, ";", res.Metadata["delimiter"])
	require.Len(t, res.Tables, 1)
}

func TestCSVSingleColumnIsText(t *testing.T) {
	t.Parallel()

	res, err := NewCSV(0).Extract(context.Background(), job(t, "just one column\n"))
	require.NoError(t, err)
	assert.Empty(t, res.Tables)
	assert.Equal(t, "just one column", res.Text)
}
