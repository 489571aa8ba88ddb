// Package output renders an association table in the requested format.
package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/toricodesthings/compound-association-service/internal/reconcile"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

const sheetName = "Association"

// Extension returns the file extension of the format-specific output, or ""
// for the default format, whose output is the association CSV itself.
func Extension(f types.OutputFormat) string {
	switch f {
	case types.FormatSMI:
		return ".smi"
	case types.FormatSDF:
		return ".sdf"
	case types.FormatXLSX:
		return ".xlsx"
	default:
		return ""
	}
}

// Write renders t as dir/<base><ext> and returns the path. The default
// format writes nothing and returns "".
func Write(dir, base string, format types.OutputFormat, t reconcile.Table, opts reconcile.TableOptions) (string, error) {
	ext := Extension(format)
	if ext == "" {
		return "", nil
	}
	path := filepath.Join(dir, base+ext)

	if format == types.FormatXLSX {
		if err := WriteXLSX(path, t, opts); err != nil {
			return "", err
		}
		return path, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	w := bufio.NewWriter(f)
	switch format {
	case types.FormatSMI:
		err = WriteSMI(w, t)
	case types.FormatSDF:
		err = WriteSDF(w, t, opts)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return path, nil
}

// WriteSMI writes "<smiles>\t<identifier>" for every row with a structure.
func WriteSMI(w io.Writer, t reconcile.Table) error {
	for _, r := range t.Rows {
		if r.Structure == "" {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", r.Structure, r.ID); err != nil {
			return err
		}
	}
	return nil
}

// WriteSDF writes one record per row. Coordinates are not generated: each
// record carries an empty V2000 connection table with the structure as a
// Smiles data item, which structure toolkits can expand on import.
func WriteSDF(w io.Writer, t reconcile.Table, opts reconcile.TableOptions) error {
	for _, r := range t.Rows {
		rec := opts.Record(r)
		var b strings.Builder
		b.WriteString(sdfLine(r.Name))
		b.WriteString("\n  assoc\n\n")
		b.WriteString("  0  0  0  0  0  0  0  0  0  0999 V2000\n")
		b.WriteString("M  END\n")
		for i, col := range reconcile.Header {
			fmt.Fprintf(&b, "> <%s>\n%s\n\n", col, sdfLine(rec[i]))
		}
		b.WriteString("$$$$\n")
		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}

// sdfLine keeps a value on one line.
func sdfLine(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(s)
}

// WriteXLSX stores the table, header first, on a single sheet.
func WriteXLSX(path string, t reconcile.Table, opts reconcile.TableOptions) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	write := func(row int, vals []string) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		cells := make([]any, len(vals))
		for i, v := range vals {
			cells[i] = v
		}
		return f.SetSheetRow(sheetName, cell, &cells)
	}
	if err := write(1, reconcile.Header); err != nil {
		return err
	}
	for i, r := range t.Rows {
		if err := write(i+2, opts.Record(r)); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}
