package tables

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const emptySheet = "No_Tables"

// SheetName names the j-th table (1-based) found on a page.
func SheetName(page, j int) string {
	return fmt.Sprintf("Page_%d_Table_%d", page, j)
}

// WriteWorkbook stores each table with more than one row on its own sheet.
// Extracted tables that continue across pages usually lose their header, so
// a table whose header width differs from the last seen header is given that
// header instead. A workbook without tables has a single empty sheet.
func WriteWorkbook(path string, tables []Table) error {
	f := excelize.NewFile()
	defer f.Close()

	var (
		prevHeader []string
		perPage    = map[int]int{}
		written    int
	)
	for _, t := range tables {
		if len(t.Rows) <= 1 {
			continue
		}
		rows := make([][]string, len(t.Rows))
		copy(rows, t.Rows)
		if prevHeader != nil && len(rows[0]) != len(prevHeader) {
			rows[0] = prevHeader
		} else {
			prevHeader = rows[0]
		}

		perPage[t.Page]++
		name := SheetName(t.Page, perPage[t.Page])
		if err := addSheet(f, written, name); err != nil {
			return err
		}
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return err
			}
			vals := make([]any, len(row))
			for k, v := range row {
				vals[k] = v
			}
			if err := f.SetSheetRow(name, cell, &vals); err != nil {
				return fmt.Errorf("write %s row %d: %w", name, i+1, err)
			}
		}
		written++
	}
	if written == 0 {
		if err := addSheet(f, 0, emptySheet); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// addSheet renames the default sheet for the first table and appends after.
func addSheet(f *excelize.File, n int, name string) error {
	if n == 0 {
		if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
		return nil
	}
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("new sheet %s: %w", name, err)
	}
	return nil
}

// ReadWorkbook loads every non-empty sheet back as a table. The page number
// is recovered from Page_i_Table_j sheet names and is 0 otherwise.
func ReadWorkbook(path string) ([]Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var out []Table
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		out = append(out, Table{Page: pageOf(sheet), Rows: rows})
	}
	return out, nil
}

func pageOf(sheet string) int {
	rest, ok := strings.CutPrefix(sheet, "Page_")
	if !ok {
		return 0
	}
	num, _, _ := strings.Cut(rest, "_")
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0
	}
	return n
}

// Lines flattens tables to comma-joined rows. In-cell line breaks become
// spaces and carriage returns are dropped.
func Lines(tables []Table) []string {
	var out []string
	for _, t := range tables {
		for _, row := range t.Rows {
			cells := make([]string, len(row))
			for i, c := range row {
				c = strings.ReplaceAll(c, "\r", "")
				cells[i] = strings.ReplaceAll(c, "\n", " ")
			}
			out = append(out, strings.Join(cells, ","))
		}
	}
	return out
}

// WorkbookLines writes tables to path and reads them back as lines, so the
// lines reflect exactly what the stored workbook holds.
func WorkbookLines(path string, tables []Table) ([]string, error) {
	if err := WriteWorkbook(path, tables); err != nil {
		return nil, err
	}
	stored, err := ReadWorkbook(path)
	if err != nil {
		return nil, err
	}
	return Lines(stored), nil
}
