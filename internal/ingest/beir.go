package ingest

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/db"
	"github.com/sells-group/search-eval/internal/fetcher"
	"github.com/sells-group/search-eval/internal/model"
	"github.com/sells-group/search-eval/internal/progress"
	"github.com/sells-group/search-eval/internal/store"
)

// DefaultIteration is stored for qrels files without an iteration column.
const DefaultIteration = "0"

// Splits lists the qrels splits a BEIR dataset may ship.
var Splits = []string{"test", "train", "dev"}

var (
	docCols   = []string{"doc_id", "title", "text"}
	queryCols = []string{"query_id", "text"}
	qrelCols  = []string{"query_id", "doc_id", "relevance", "iteration"}
)

// BEIROptions configures LoadBEIR. Dir wins over URL when both are set.
type BEIROptions struct {
	Dir       string
	URL       string
	CacheDir  string
	Split     string
	BatchSize int
	Progress  io.Writer
	Opener    *fetcher.Opener
}

// BEIRResult reports a BEIR load.
type BEIRResult struct {
	Docs    int64  `json:"docs"`
	Queries int64  `json:"queries"`
	Qrels   int64  `json:"qrels"`
	Split   string `json:"split"`
}

// beirFiles are the three inputs of a BEIR dataset.
type beirFiles struct {
	corpus  string
	queries string
	qrels   string
}

type beirDoc struct {
	ID    string `json:"_id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

type beirQuery struct {
	ID   string `json:"_id"`
	Text string `json:"text"`
}

// LoadBEIR clears docs, queries and qrels and reloads them from a BEIR
// dataset in one transaction. Only queries that appear in the split's qrels
// are kept.
func LoadBEIR(ctx context.Context, st *store.DB, opts BEIROptions) (*BEIRResult, error) {
	if !validSplit(opts.Split) {
		return nil, eris.Errorf("ingest: unknown split %q (want one of %s)", opts.Split, strings.Join(Splits, ", "))
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10_000
	}
	log := zap.L().With(zap.String("stage", "ingest-beir"), zap.String("split", opts.Split))
	start := time.Now()

	root, err := resolveDataset(ctx, opts)
	if err != nil {
		return nil, err
	}
	files, err := locateBEIR(root, opts.Split)
	if err != nil {
		return nil, err
	}
	log.Info("ingest: loading dataset", zap.String("root", root))

	qrels, err := readQrels(ctx, files.qrels)
	if err != nil {
		return nil, err
	}
	splitQueries := make(map[string]bool, len(qrels))
	for _, q := range qrels {
		splitQueries[q.QueryID] = true
	}

	tables := []string{"docs", "docs_fts", "queries", "qrels"}
	err = st.ReplaceAll(ctx, tables, func(tx *sql.Tx) error {
		if err := loadCorpus(ctx, tx, files.corpus, opts); err != nil {
			return err
		}
		if err := loadQueries(ctx, tx, files.queries, splitQueries, opts.BatchSize); err != nil {
			return err
		}
		rows := make([][]any, 0, len(qrels))
		for _, q := range qrels {
			rows = append(rows, []any{q.QueryID, q.DocID, q.Relevance, q.Iteration})
		}
		if _, err := db.InsertRows(ctx, tx, "qrels", qrelCols, rows); err != nil {
			return eris.Wrap(err, "ingest: insert qrels")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &BEIRResult{Split: opts.Split}
	if res.Docs, err = st.Count(ctx, "docs"); err != nil {
		return nil, err
	}
	if res.Queries, err = st.Count(ctx, "queries"); err != nil {
		return nil, err
	}
	if res.Qrels, err = st.Count(ctx, "qrels"); err != nil {
		return nil, err
	}

	log.Info("ingest: dataset loaded",
		zap.Int64("docs", res.Docs),
		zap.Int64("queries", res.Queries),
		zap.Int64("qrels", res.Qrels),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func validSplit(s string) bool {
	for _, v := range Splits {
		if s == v {
			return true
		}
	}
	return false
}

// resolveDataset returns a local directory holding the dataset, downloading
// and extracting the archive when only a URL is given.
func resolveDataset(ctx context.Context, opts BEIROptions) (string, error) {
	if opts.Dir != "" {
		info, err := os.Stat(opts.Dir)
		if err != nil {
			return "", eris.Wrapf(err, "ingest: dataset dir %s", opts.Dir)
		}
		if !info.IsDir() {
			return "", eris.Errorf("ingest: dataset dir %s is not a directory", opts.Dir)
		}
		return opts.Dir, nil
	}
	if opts.URL == "" {
		return "", eris.New("ingest: dataset dir or url is required")
	}

	opener := opts.Opener
	if opener == nil {
		opener = fetcher.NewOpener()
	}
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join("data", "datasets")
	}

	archive, err := opener.Fetch(ctx, opts.URL, cacheDir)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(filepath.Ext(archive), ".zip") {
		return filepath.Dir(archive), nil
	}

	dest := strings.TrimSuffix(archive, filepath.Ext(archive))
	if _, err := fetcher.ExtractZIP(archive, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func locateBEIR(root, split string) (beirFiles, error) {
	var (
		f   beirFiles
		err error
	)
	if f.corpus, err = fetcher.FindFile(root, "corpus.jsonl"); err != nil {
		return f, err
	}
	if f.queries, err = fetcher.FindFile(root, "queries.jsonl"); err != nil {
		return f, err
	}
	if f.qrels, err = fetcher.FindFile(root, split+".tsv"); err != nil {
		return f, err
	}
	return f, nil
}

// readQrels parses a BEIR qrels TSV (query-id, corpus-id, score).
func readQrels(ctx context.Context, path string) ([]model.Qrel, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer fh.Close() //nolint:errcheck

	// Releases the reader goroutine when a bad row ends the loop early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows, errs := fetcher.StreamCSV(ctx, fh, fetcher.CSVOptions{
		Delimiter: '\t',
		HasHeader: true,
		TrimSpace: true,
		NoQuotes:  true,
	})

	var out []model.Qrel
	line := 1
	for row := range rows {
		line++
		if len(row) < 3 {
			return nil, eris.Errorf("ingest: %s line %d: want 3 fields, got %d", filepath.Base(path), line, len(row))
		}
		rel, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: %s line %d: score", filepath.Base(path), line)
		}
		out = append(out, model.Qrel{
			QueryID:   row[0],
			DocID:     row[1],
			Relevance: rel,
			Iteration: DefaultIteration,
		})
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	return out, nil
}

func loadCorpus(ctx context.Context, tx *sql.Tx, path string, opts BEIROptions) error {
	fh, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "ingest: open %s", path)
	}
	defer fh.Close() //nolint:errcheck

	bar := progress.New(opts.Progress, -1, "ingest corpus")
	defer bar.Finish() //nolint:errcheck

	batcher := NewBatcher(opts.BatchSize, func(ctx context.Context, batch [][]any) error {
		if _, err := db.InsertRows(ctx, tx, "docs", docCols, batch); err != nil {
			return eris.Wrap(err, "ingest: insert docs")
		}
		if _, err := db.InsertRows(ctx, tx, "docs_fts", docCols, batch); err != nil {
			return eris.Wrap(err, "ingest: index docs")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	docs, errs := fetcher.DecodeJSONLines[beirDoc](ctx, fh)
	for d := range docs {
		if d.ID == "" {
			return eris.New("ingest: corpus record without _id")
		}
		if err := batcher.Add(ctx, []any{d.ID, d.Title, d.Text}); err != nil {
			return err
		}
		_ = bar.Add(1)
	}
	if err := <-errs; err != nil {
		return err
	}
	return batcher.Close(ctx)
}

func loadQueries(ctx context.Context, tx *sql.Tx, path string, keep map[string]bool, batchSize int) error {
	fh, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "ingest: open %s", path)
	}
	defer fh.Close() //nolint:errcheck

	batcher := NewBatcher(batchSize, func(ctx context.Context, batch [][]any) error {
		_, err := db.InsertRows(ctx, tx, "queries", queryCols, batch)
		return eris.Wrap(err, "ingest: insert queries")
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queries, errs := fetcher.DecodeJSONLines[beirQuery](ctx, fh)
	for q := range queries {
		if !keep[q.ID] {
			continue
		}
		if err := batcher.Add(ctx, []any{q.ID, q.Text}); err != nil {
			return err
		}
	}
	if err := <-errs; err != nil {
		return err
	}
	return batcher.Close(ctx)
}
