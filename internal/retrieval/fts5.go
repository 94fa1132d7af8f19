package retrieval

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/search-eval/internal/store"
)

// SourceFTS5 labels candidates ranked by SQLite FTS5.
const SourceFTS5 = "bm25"

// FTS5 ranks documents with the bm25() function of the docs_fts index.
// bm25() returns lower-is-better values, so scores are negated.
type FTS5 struct {
	q store.Querier
}

// NewFTS5 creates an engine over the docs_fts table reachable through q.
func NewFTS5(q store.Querier) *FTS5 {
	return &FTS5{q: q}
}

func (e *FTS5) Source() string { return SourceFTS5 }

func (e *FTS5) Close() error { return nil }

// MatchExpr renders text as an FTS5 expression of quoted terms joined by OR.
// Returns "" when text has no terms.
func MatchExpr(text string) string {
	terms := Terms(text)
	for i, t := range terms {
		terms[i] = `"` + t + `"`
	}
	return strings.Join(terms, " OR ")
}

func (e *FTS5) Search(ctx context.Context, text string, k int) ([]Hit, error) {
	expr := MatchExpr(text)
	if expr == "" || k <= 0 {
		return nil, nil
	}

	rows, err := e.q.QueryContext(ctx, `
		SELECT doc_id, -bm25(docs_fts) AS score
		FROM docs_fts
		WHERE docs_fts MATCH ?
		ORDER BY bm25(docs_fts), doc_id
		LIMIT ?`, expr, k)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: fts5 search")
	}
	defer rows.Close() //nolint:errcheck

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.DocID, &h.Score); err != nil {
			return nil, eris.Wrap(err, "retrieval: scan fts5 hit")
		}
		hits = append(hits, h)
	}
	return hits, eris.Wrap(rows.Err(), "retrieval: iterate fts5 hits")
}
