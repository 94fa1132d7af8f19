package evalset

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/fetcher"
	"github.com/sells-group/search-eval/internal/report"
)

// EnrichedFile is the default output name of Enrich.
const EnrichedFile = "eval_candidates_enriched.csv"

var metaColumns = []string{"candidate_url", "candidate_title", "candidate_ia_url"}

// DocMeta describes a query-log document.
type DocMeta struct {
	DocID string `json:"doc_id"`
	URL   string `json:"url"`
	Title string `json:"title"`
	IAURL string `json:"ia_url"`
}

// EnrichResult reports an Enrich run.
type EnrichResult struct {
	Rows     int     `json:"rows"`
	Matched  int     `json:"matched"`
	Coverage float64 `json:"coverage"`
}

// Enrich left-joins the candidates CSV at in with document metadata on
// candidate_doc_id and writes the result to out with three extra columns.
// Coverage is the share of rows that received a URL.
func Enrich(ctx context.Context, in, metaPath, out string) (*EnrichResult, error) {
	header, rows, err := readCSVFile(ctx, in)
	if err != nil {
		return nil, err
	}
	docCol := indexOf(header, "candidate_doc_id")
	if docCol < 0 {
		return nil, eris.Errorf("evalset: %s has no candidate_doc_id column", filepath.Base(in))
	}

	meta, err := LoadDocMeta(ctx, metaPath)
	if err != nil {
		return nil, err
	}

	table := report.Table{Name: "eval_candidates_enriched", Header: append(append([]string{}, header...), metaColumns...)}
	res := &EnrichResult{Rows: len(rows)}
	width := len(header)
	for _, r := range rows {
		// Short rows are padded so the output keeps a fixed width.
		row := make([]string, width+len(metaColumns))
		copy(row, r[:min(len(r), width)])
		if m, ok := meta[cell(r, docCol)]; ok {
			row[width], row[width+1], row[width+2] = m.URL, m.Title, m.IAURL
			if m.URL != "" {
				res.Matched++
			}
		}
		table.Rows = append(table.Rows, row)
	}
	if res.Rows > 0 {
		res.Coverage = float64(res.Matched) / float64(res.Rows)
	}

	if err := report.WriteCSV(out, table); err != nil {
		return nil, err
	}
	zap.L().Info("evalset: candidates enriched",
		zap.Int("rows", res.Rows),
		zap.Int("matched", res.Matched),
		zap.Float64("coverage", res.Coverage),
	)
	return res, nil
}

// LoadDocMeta reads document metadata keyed by doc_id from a .jsonl, .csv or
// .xlsx file. Tabular files need a header naming doc_id, url, title and
// ia_url; missing columns stay empty.
func LoadDocMeta(ctx context.Context, path string) (map[string]DocMeta, error) {
	out := map[string]DocMeta{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "evalset: open %s", path)
		}
		defer f.Close() //nolint:errcheck

		docs, errs := fetcher.DecodeJSONLines[DocMeta](ctx, f)
		for d := range docs {
			out[d.DocID] = d
		}
		if err := <-errs; err != nil {
			return nil, err
		}
		return out, nil

	case ".csv":
		header, rows, err := readCSVFile(ctx, path)
		if err != nil {
			return nil, err
		}
		return metaFromRows(path, header, rows)

	case ".xlsx":
		rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return out, nil
		}
		return metaFromRows(path, rows[0], rows[1:])

	default:
		return nil, eris.Errorf("evalset: unsupported metadata file %s", path)
	}
}

func metaFromRows(path string, header []string, rows [][]string) (map[string]DocMeta, error) {
	id := indexOf(header, "doc_id")
	if id < 0 {
		return nil, eris.Errorf("evalset: %s has no doc_id column", filepath.Base(path))
	}
	url, title, ia := indexOf(header, "url"), indexOf(header, "title"), indexOf(header, "ia_url")

	out := make(map[string]DocMeta, len(rows))
	for _, r := range rows {
		m := DocMeta{DocID: cell(r, id), URL: cell(r, url), Title: cell(r, title), IAURL: cell(r, ia)}
		if m.DocID != "" {
			out[m.DocID] = m
		}
	}
	return out, nil
}

func readCSVFile(ctx context.Context, path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "evalset: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	headerCh := make(chan []string, 1)
	recs, errs := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{HasHeader: true, HeaderCh: headerCh})

	var rows [][]string
	for r := range recs {
		rows = append(rows, r)
	}
	if err := <-errs; err != nil {
		return nil, nil, err
	}

	var header []string
	select {
	case header = <-headerCh:
	default:
		return nil, nil, eris.Errorf("evalset: %s is empty", filepath.Base(path))
	}
	return header, rows, nil
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
