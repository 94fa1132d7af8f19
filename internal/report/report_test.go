package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/search-eval/internal/fetcher"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteCSV_OverwritesWithHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "daily_kpis.csv")

	first := Table{Name: "daily_kpis", Header: []string{"day", "ctr"}, Rows: [][]string{{"2006-03-01", "0.5"}, {"2006-03-02", ""}}}
	require.NoError(t, WriteCSV(path, first))
	assert.Equal(t, [][]string{{"day", "ctr"}, {"2006-03-01", "0.5"}, {"2006-03-02", ""}}, readCSV(t, path))

	second := Table{Name: "daily_kpis", Header: []string{"day", "ctr"}}
	require.NoError(t, WriteCSV(path, second))
	assert.Equal(t, [][]string{{"day", "ctr"}}, readCSV(t, path))
}

func TestWriteCSV_RaggedRow(t *testing.T) {
	err := WriteCSV(filepath.Join(t.TempDir(), "x.csv"), Table{Name: "x", Header: []string{"a", "b"}, Rows: [][]string{{"1"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 1 has 1 fields, want 2")
}

func TestWriteCSVDir(t *testing.T) {
	dir := t.TempDir()
	paths, err := WriteCSVDir(dir,
		Table{Name: "a", Header: []string{"x"}},
		Table{Name: "b", Header: []string{"y"}, Rows: [][]string{{"1"}}},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.csv")}, paths)
	assert.Equal(t, [][]string{{"y"}, {"1"}}, readCSV(t, paths[1]))
}

func TestWriteXLSX_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	err := WriteXLSX(path,
		Table{Name: "daily_kpis", Header: []string{"day", "n_events"}, Rows: [][]string{{"2006-03-01", "12"}}},
		Table{Name: "top_good_queries", Header: []string{"query_norm"}, Rows: [][]string{{"weather"}}},
	)
	require.NoError(t, err)

	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"day", "n_events"}, {"2006-03-01", "12"}}, rows)

	rows, err = fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: "top_good_queries"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"query_norm"}, {"weather"}}, rows)

	_, err = fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetIndex: 5})
	assert.Error(t, err)
}

func TestWriteXLSX_NoTables(t *testing.T) {
	assert.Error(t, WriteXLSX(filepath.Join(t.TempDir(), "x.xlsx")))
}

func TestFormatters(t *testing.T) {
	half := 0.5
	assert.Equal(t, "0.5", NullFloat(&half))
	assert.Equal(t, "", NullFloat(nil))
	assert.Equal(t, "0.3333333333333333", Float(1.0/3))
	assert.Equal(t, "1", Float(1))
	assert.Equal(t, "42", Int(int64(42)))
	assert.Equal(t, "7", Int(7))
	assert.Equal(t, "1", Bool(true))
	assert.Equal(t, "0", Bool(false))
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "short", sheetName("short"))
	assert.Len(t, sheetName("a_very_long_sheet_name_that_excel_rejects"), 31)
}
