package ingest

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rotisserie/eris"

	"github.com/sells-group/search-eval/internal/fetcher"
	"github.com/sells-group/search-eval/internal/model"
)

// Source formats accepted by NewSource.
const (
	FormatJSONL = "jsonl"
	FormatAOL   = "aol"
)

// Source yields query-log records in log order.
type Source interface {
	Records(ctx context.Context) (<-chan model.LogRecord, <-chan error)
}

// NewSource returns the Source for format reading from r.
func NewSource(format string, r io.Reader) (Source, error) {
	switch format {
	case FormatJSONL:
		return &JSONLSource{r: r}, nil
	case FormatAOL:
		return &AOLSource{r: r}, nil
	default:
		return nil, eris.Errorf("ingest: unknown query log format %q", format)
	}
}

// JSONLSource reads one JSON record per line:
// {"user_id","query_id","query","query_orig","time","items":[{"doc_id","rank","clicked"}]}.
type JSONLSource struct {
	r io.Reader
}

type jsonlRecord struct {
	UserID    string          `json:"user_id"`
	QueryID   string          `json:"query_id"`
	Query     string          `json:"query"`
	QueryOrig string          `json:"query_orig"`
	Time      string          `json:"time"`
	Items     []model.LogItem `json:"items"`
}

func (s *JSONLSource) Records(ctx context.Context) (<-chan model.LogRecord, <-chan error) {
	outCh := make(chan model.LogRecord, 64)
	errCh := make(chan error, 1)

	lines, lineErrs := fetcher.DecodeJSONLines[jsonlRecord](ctx, s.r)

	go func() {
		defer close(outCh)
		defer close(errCh)

		n := 0
		for raw := range lines {
			n++
			rec, err := raw.toRecord()
			if err != nil {
				errCh <- eris.Wrapf(err, "ingest: record %d", n)
				return
			}
			select {
			case outCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "ingest: context cancelled")
				return
			}
		}
		if err := <-lineErrs; err != nil {
			errCh <- err
		}
	}()

	return outCh, errCh
}

func (r jsonlRecord) toRecord() (model.LogRecord, error) {
	if r.UserID == "" {
		return model.LogRecord{}, eris.New("missing user_id")
	}
	ts, err := parseTime(r.Time)
	if err != nil {
		return model.LogRecord{}, err
	}

	orig := r.QueryOrig
	if orig == "" {
		orig = r.Query
	}
	norm := r.Query
	if norm == "" {
		norm = NormalizeQuery(orig)
	}
	qid := r.QueryID
	if qid == "" {
		qid = QueryID(norm)
	}

	return model.LogRecord{
		UserID:    r.UserID,
		QueryID:   qid,
		Query:     norm,
		QueryOrig: orig,
		Time:      ts,
		Items:     r.Items,
	}, nil
}

// AOLSource reads the raw AOL tab-separated log with header
// AnonID, Query, QueryTime, ItemRank, ClickURL. Consecutive rows sharing
// (AnonID, Query, QueryTime) are one search event; each row with a ClickURL
// is a clicked item.
type AOLSource struct {
	r io.Reader
}

const (
	aolAnonID = iota
	aolQuery
	aolQueryTime
	aolItemRank
	aolClickURL
)

func (s *AOLSource) Records(ctx context.Context) (<-chan model.LogRecord, <-chan error) {
	outCh := make(chan model.LogRecord, 64)
	errCh := make(chan error, 1)

	rows, rowErrs := fetcher.StreamCSV(ctx, s.r, fetcher.CSVOptions{
		Delimiter: '\t',
		HasHeader: true,
		NoQuotes:  true,
	})

	go func() {
		defer close(outCh)
		defer close(errCh)

		var (
			cur     *model.LogRecord
			curKey  string
			lineNum = 1
		)
		emit := func() bool {
			if cur == nil {
				return true
			}
			select {
			case outCh <- *cur:
				cur = nil
				return true
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "ingest: context cancelled")
				return false
			}
		}

		for row := range rows {
			lineNum++
			if len(row) < aolQueryTime+1 {
				errCh <- eris.Errorf("ingest: aol line %d: want at least 3 fields, got %d", lineNum, len(row))
				return
			}

			key := row[aolAnonID] + "\x00" + row[aolQuery] + "\x00" + row[aolQueryTime]
			if cur == nil || key != curKey {
				if !emit() {
					return
				}
				rec, err := newAOLRecord(row)
				if err != nil {
					errCh <- eris.Wrapf(err, "ingest: aol line %d", lineNum)
					return
				}
				cur, curKey = &rec, key
			}

			if len(row) > aolClickURL && strings.TrimSpace(row[aolClickURL]) != "" {
				rank, err := strconv.Atoi(strings.TrimSpace(row[aolItemRank]))
				if err != nil {
					errCh <- eris.Wrapf(err, "ingest: aol line %d: item rank", lineNum)
					return
				}
				cur.Items = append(cur.Items, model.LogItem{
					DocID:   strings.TrimSpace(row[aolClickURL]),
					Rank:    rank,
					Clicked: true,
				})
			}
		}
		if err := <-rowErrs; err != nil {
			errCh <- err
			return
		}
		emit()
	}()

	return outCh, errCh
}

func newAOLRecord(row []string) (model.LogRecord, error) {
	ts, err := parseTime(row[aolQueryTime])
	if err != nil {
		return model.LogRecord{}, err
	}
	orig := row[aolQuery]
	if orig == "-" {
		// AOL marks queries removed by the anonymizer with a dash.
		orig = ""
	}
	norm := NormalizeQuery(orig)
	return model.LogRecord{
		UserID:    strings.TrimSpace(row[aolAnonID]),
		QueryID:   QueryID(norm),
		Query:     norm,
		QueryOrig: orig,
		Time:      ts,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, eris.New("missing time")
	}
	ts, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse time %q", s)
	}
	return ts.UTC(), nil
}
