package retrieval

import (
	"context"
	"database/sql"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/db"
	"github.com/sells-group/search-eval/internal/model"
	"github.com/sells-group/search-eval/internal/progress"
	"github.com/sells-group/search-eval/internal/store"
)

// DefaultTopK is the number of candidates kept per query.
const DefaultTopK = 10

var candidateCols = []string{"query_id", "doc_id", "rank", "source"}

// Options configures Generate.
type Options struct {
	TopK int
	// Replace deletes the engine's existing candidates first. Otherwise rows
	// are appended and reruns duplicate them.
	Replace  bool
	Progress io.Writer
}

// Result reports a Generate run.
type Result struct {
	Source     string `json:"source"`
	Queries    int    `json:"queries"`
	Candidates int64  `json:"candidates"`
	// Total counts every row of candidates after the run, all sources.
	Total int64 `json:"total"`
}

// Generate ranks every query with eng and stores the top-K per query with
// ranks 1..K. All searches finish before the candidates are written in one
// transaction.
func Generate(ctx context.Context, st *store.DB, eng Engine, opts Options) (*Result, error) {
	if opts.TopK <= 0 {
		return nil, eris.Errorf("retrieval: topk must be > 0, got %d", opts.TopK)
	}
	log := zap.L().With(zap.String("stage", "candidates"), zap.String("source", eng.Source()))
	start := time.Now()

	queries, err := LoadQueries(ctx, st.SQL())
	if err != nil {
		return nil, err
	}

	bar := progress.New(opts.Progress, int64(len(queries)), "candidates")
	var rows [][]any
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "retrieval: cancelled")
		}
		hits, err := eng.Search(ctx, q.Text, opts.TopK)
		if err != nil {
			return nil, eris.Wrapf(err, "retrieval: query %s", q.QueryID)
		}
		for i, h := range hits {
			if i >= opts.TopK {
				break
			}
			rows = append(rows, []any{q.QueryID, h.DocID, i + 1, eng.Source()})
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	res := &Result{Source: eng.Source(), Queries: len(queries)}
	err = st.InTx(ctx, func(tx *sql.Tx) error {
		if opts.Replace {
			if _, err := tx.ExecContext(ctx, "DELETE FROM candidates WHERE source = ?", eng.Source()); err != nil {
				return eris.Wrap(err, "retrieval: clear candidates")
			}
		}
		n, err := db.InsertRows(ctx, tx, "candidates", candidateCols, rows)
		if err != nil {
			return err
		}
		res.Candidates = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Total, err = st.Count(ctx, "candidates"); err != nil {
		return nil, err
	}
	log.Info("retrieval: candidates written",
		zap.Int("queries", res.Queries),
		zap.Int64("candidates", res.Candidates),
		zap.Int64("total", res.Total),
		zap.Bool("replace", opts.Replace),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// LoadQueries returns all benchmark queries, numeric ids in numeric order.
func LoadQueries(ctx context.Context, q store.Querier) ([]model.Query, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT query_id, COALESCE(text, '')
		FROM queries
		ORDER BY CAST(query_id AS INTEGER), query_id`)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: query queries")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Query
	for rows.Next() {
		var m model.Query
		if err := rows.Scan(&m.QueryID, &m.Text); err != nil {
			return nil, eris.Wrap(err, "retrieval: scan query")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "retrieval: iterate queries")
}

// LoadCandidates returns the candidates of source ordered by query and rank.
func LoadCandidates(ctx context.Context, q store.Querier, source string) ([]model.Candidate, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT query_id, doc_id, rank, source
		FROM candidates
		WHERE source = ?
		ORDER BY CAST(query_id AS INTEGER), query_id, rank`, source)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: query candidates")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(&c.QueryID, &c.DocID, &c.Rank, &c.Source); err != nil {
			return nil, eris.Wrap(err, "retrieval: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "retrieval: iterate candidates")
}
