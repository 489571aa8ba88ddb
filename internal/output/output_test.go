package output

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/toricodesthings/compound-association-service/internal/identifier"
	"github.com/toricodesthings/compound-association-service/internal/reconcile"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

func sampleTable() reconcile.Table {
	return reconcile.Table{Rows: []reconcile.Row{
		{ID: identifier.Canonical("1"), Name: "toluene", Structure: "Cc1ccccc1", Activity: "12"},
		{ID: identifier.Canonical("2"), Name: "mystery"},
	}}
}

func TestWriteSMI(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteSMI(&buf, sampleTable()))
	assert.Equal(t, "Cc1ccccc1\tExample 1\n", buf.String())
}

func TestWriteSDF(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteSDF(&buf, sampleTable(), reconcile.TableOptions{}))
	out := buf.String()

	assert.Equal(t, 2, strings.Count(out, "$$$$\n"))
	assert.Equal(t, 2, strings.Count(out, "M  END\n"))
	assert.True(t, strings.HasPrefix(out, "toluene\n"))
	assert.Contains(t, out, "> <Smiles>\nCc1ccccc1\n\n")
	assert.Contains(t, out, "> <Example>\nExample 2\n\n")
	assert.Contains(t, out, "> <Activity Type>\nIC50\n\n")
}

func TestWriteDefaultIsNoop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path, err := Write(dir, "doc_1_2_association", types.FormatDefault, sampleTable(), reconcile.TableOptions{})
	require.NoError(t, err)
	assert.Empty(t, path)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteFormats(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, f := range []types.OutputFormat{types.FormatSMI, types.FormatSDF, types.FormatXLSX} {
		path, err := Write(dir, "doc_1_2_association", f, sampleTable(), reconcile.TableOptions{})
		require.NoError(t, err, f)
		assert.Equal(t, filepath.Join(dir, "doc_1_2_association"+Extension(f)), path)
		assert.FileExists(t, path)
	}
}

func TestWriteXLSX(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, WriteXLSX(path, sampleTable(), reconcile.TableOptions{ActivityUnit: "uM"}))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, reconcile.Header, rows[0])
	assert.Equal(t, []string{"Example 1", "Cc1ccccc1", "toluene", "12", "IC50", "uM"}, rows[1])
}
