package ingest

import (
	"context"
	"database/sql"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/search-eval/internal/db"
	"github.com/sells-group/search-eval/internal/model"
	"github.com/sells-group/search-eval/internal/progress"
	"github.com/sells-group/search-eval/internal/store"
)

var (
	searchEventCols = []string{"event_id", "user_id", "query_id", "query_norm", "query_orig", "ts"}
	clickEventCols  = []string{"event_id", "user_id", "query_id", "doc_id", "rank"}
)

// QueryLogOptions configures LoadQueryLog.
type QueryLogOptions struct {
	// Limit caps the number of records read; 0 reads the whole source.
	Limit     int
	BatchSize int
	// Reset clears both event tables before loading. Otherwise event ids
	// continue after the current maximum.
	Reset    bool
	Progress io.Writer
}

// QueryLogResult reports a query-log load.
type QueryLogResult struct {
	Records      int   `json:"records"`
	SearchEvents int64 `json:"search_events"`
	ClickEvents  int64 `json:"click_events"`
}

// eventRows is one record rendered into table rows.
type eventRows struct {
	search []any
	clicks [][]any
}

// LoadQueryLog streams src into search_events and click_events. One goroutine
// reads the source into a bounded channel; the caller's goroutine is the only
// writer. Only clicked items become click rows.
func LoadQueryLog(ctx context.Context, st *store.DB, src Source, opts QueryLogOptions) (*QueryLogResult, error) {
	if opts.BatchSize <= 0 {
		return nil, eris.New("ingest: batch size must be > 0")
	}
	log := zap.L().With(zap.String("stage", "ingest-qlog"))
	start := time.Now()

	if opts.Reset {
		err := st.InTx(ctx, func(tx *sql.Tx) error {
			for _, t := range []string{"click_events", "search_events"} {
				if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
					return eris.Wrapf(err, "ingest: clear %s", t)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	var nextID int64
	if err := st.SQL().QueryRowContext(ctx, "SELECT COALESCE(MAX(event_id), 0) FROM search_events").Scan(&nextID); err != nil {
		return nil, eris.Wrap(err, "ingest: max event id")
	}

	batcher := NewBatcher(opts.BatchSize, func(ctx context.Context, batch []eventRows) error {
		return writeEvents(ctx, st, batch)
	})

	bar := progress.New(opts.Progress, int64(opts.Limit), "ingest qlog")
	records := make(chan model.LogRecord, opts.BatchSize)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(records)

		srcCtx, cancel := context.WithCancel(gctx)
		defer cancel()

		recs, errs := src.Records(srcCtx)
		n := 0
		for rec := range recs {
			select {
			case records <- rec:
			case <-gctx.Done():
				return gctx.Err()
			}
			n++
			if opts.Limit > 0 && n >= opts.Limit {
				// Stop the source; its pending error is cancellation.
				return nil
			}
		}
		return <-errs
	})

	var result QueryLogResult
	g.Go(func() error {
		for rec := range records {
			nextID++
			if err := batcher.Add(gctx, toEventRows(nextID, rec)); err != nil {
				return err
			}
			result.Records++
			_ = bar.Add(1)
		}
		return batcher.Close(gctx)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	_ = bar.Finish()

	var err error
	if result.SearchEvents, err = st.Count(ctx, "search_events"); err != nil {
		return nil, err
	}
	if result.ClickEvents, err = st.Count(ctx, "click_events"); err != nil {
		return nil, err
	}

	log.Info("ingest: query log loaded",
		zap.Int("records", result.Records),
		zap.Int64("search_events", result.SearchEvents),
		zap.Int64("click_events", result.ClickEvents),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &result, nil
}

func toEventRows(eventID int64, rec model.LogRecord) eventRows {
	ev := eventRows{
		search: []any{
			eventID,
			rec.UserID,
			nullable(rec.QueryID),
			rec.Query,
			rec.QueryOrig,
			rec.Time.UTC().Format(store.TimeLayout),
		},
	}
	for _, c := range rec.Clicks() {
		ev.clicks = append(ev.clicks, []any{eventID, rec.UserID, nullable(rec.QueryID), c.DocID, c.Rank})
	}
	return ev
}

func writeEvents(ctx context.Context, st *store.DB, batch []eventRows) error {
	searches := make([][]any, 0, len(batch))
	var clicks [][]any
	for _, ev := range batch {
		searches = append(searches, ev.search)
		clicks = append(clicks, ev.clicks...)
	}

	return st.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := db.InsertRows(ctx, tx, "search_events", searchEventCols, searches); err != nil {
			return eris.Wrap(err, "ingest: flush search events")
		}
		if _, err := db.InsertRows(ctx, tx, "click_events", clickEventCols, clicks); err != nil {
			return eris.Wrap(err, "ingest: flush click events")
		}
		return nil
	})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
