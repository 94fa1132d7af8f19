package querylog

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"

	"github.com/sells-group/search-eval/internal/store"
)

// featuresSQL left-joins clicks onto every sessionized event, so events
// without clicks keep their row. A stored rank of 0 counts as rank 1.
const featuresSQL = `
INSERT INTO query_click_features
	(event_id, session_id, user_id, query_norm, ts, day, has_click, n_clicks, best_click_rank, reciprocal_rank)
SELECT
	s.event_id,
	s.session_id,
	s.user_id,
	s.query_norm,
	s.ts,
	substr(s.ts, 1, 10),
	CASE WHEN c.n_clicks > 0 THEN 1 ELSE 0 END,
	COALESCE(c.n_clicks, 0),
	c.best_rank,
	CASE WHEN c.n_clicks > 0 THEN 1.0 / MAX(COALESCE(c.best_rank, 1), 1) END
FROM search_events_sess s
LEFT JOIN (
	SELECT event_id, COUNT(*) AS n_clicks, MIN(rank) AS best_rank
	FROM click_events
	GROUP BY event_id
) c ON c.event_id = s.event_id`

// ExtractFeatures rebuilds query_click_features, one row per sessionized
// event.
func ExtractFeatures(ctx context.Context, st *store.DB) (int64, error) {
	var n int64
	err := st.ReplaceAll(ctx, []string{"query_click_features"}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, featuresSQL)
		if err != nil {
			return eris.Wrap(err, "querylog: click features")
		}
		n, err = res.RowsAffected()
		return eris.Wrap(err, "querylog: click features rows")
	})
	return n, err
}
