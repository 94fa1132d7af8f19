// Package report writes tabular pipeline output as CSV files and XLSX
// workbooks. Every file is overwritten and always carries its header row.
package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Table is a named result set with a fixed header.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// WriteCSV writes t to path, creating parent directories.
func WriteCSV(path string, t Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		return eris.Wrapf(err, "report: write header of %s", t.Name)
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Header) {
			return eris.Errorf("report: %s row %d has %d fields, want %d", t.Name, i+1, len(row), len(t.Header))
		}
		if err := w.Write(row); err != nil {
			return eris.Wrapf(err, "report: write %s row %d", t.Name, i+1)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "report: flush %s", path)
	}
	return eris.Wrapf(f.Close(), "report: close %s", path)
}

// WriteCSVDir writes each table to dir/<name>.csv and returns the paths.
func WriteCSVDir(dir string, tables ...Table) ([]string, error) {
	paths := make([]string, 0, len(tables))
	for _, t := range tables {
		p := filepath.Join(dir, t.Name+".csv")
		if err := WriteCSV(p, t); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// WriteXLSX writes one sheet per table. Numeric cells are stored as numbers.
func WriteXLSX(path string, tables ...Table) error {
	if len(tables) == 0 {
		return eris.New("report: workbook needs at least one table")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create dir for %s", path)
	}

	file := xlsx.NewFile()
	for _, t := range tables {
		sheet, err := file.AddSheet(sheetName(t.Name))
		if err != nil {
			return eris.Wrapf(err, "report: add sheet %s", t.Name)
		}
		header := sheet.AddRow()
		for _, h := range t.Header {
			header.AddCell().SetString(h)
		}
		for _, r := range t.Rows {
			row := sheet.AddRow()
			for _, v := range r {
				cell := row.AddCell()
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					cell.SetFloat(f)
				} else {
					cell.SetString(v)
				}
			}
		}
	}

	if err := file.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

// Excel limits sheet names to 31 characters.
func sheetName(name string) string {
	if len(name) > 31 {
		return name[:31]
	}
	return name
}

// Float formats f with the shortest exact representation.
func Float(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// NullFloat formats f, or "" when nil.
func NullFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return Float(*f)
}

// Int formats n.
func Int[T ~int | ~int64](n T) string {
	return strconv.FormatInt(int64(n), 10)
}

// Bool formats b as 1 or 0.
func Bool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
