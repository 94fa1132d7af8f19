// Package querylog derives sessions, click features, session metrics and
// daily KPIs from raw search and click events, and exports the query-log
// reports. Every derived table is recomputed wholesale inside one
// transaction.
package querylog

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/search-eval/internal/store"
)

// DefaultGap is the inactivity gap after which a new session starts.
const DefaultGap = 30 * time.Minute

// sessionizeSQL orders each user's events by (ts, event_id). An event starts
// a new session when it has no predecessor or its gap from the predecessor is
// strictly greater than the threshold.
const sessionizeSQL = `
INSERT INTO search_events_sess (event_id, user_id, session_seq, session_id, query_norm, ts, gap_secs)
WITH ordered AS (
	SELECT
		event_id,
		user_id,
		query_norm,
		ts,
		CAST(strftime('%s', ts) AS INTEGER)
			- CAST(strftime('%s', LAG(ts) OVER w) AS INTEGER) AS gap_secs
	FROM search_events
	WINDOW w AS (PARTITION BY user_id ORDER BY ts, event_id)
),
flagged AS (
	SELECT
		*,
		CASE WHEN gap_secs IS NULL OR gap_secs > ? THEN 1 ELSE 0 END AS new_session
	FROM ordered
),
numbered AS (
	SELECT
		*,
		SUM(new_session) OVER (
			PARTITION BY user_id ORDER BY ts, event_id
			ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW
		) AS session_seq
	FROM flagged
)
SELECT
	event_id,
	user_id,
	session_seq,
	user_id || ':' || session_seq,
	query_norm,
	ts,
	gap_secs
FROM numbered`

// Sessionize rebuilds search_events_sess from search_events. Returns the
// number of tagged events.
func Sessionize(ctx context.Context, st *store.DB, gap time.Duration) (int64, error) {
	if gap <= 0 {
		return 0, eris.Errorf("querylog: session gap must be > 0, got %s", gap)
	}

	var n int64
	err := st.ReplaceAll(ctx, []string{"search_events_sess"}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sessionizeSQL, int64(gap/time.Second))
		if err != nil {
			return eris.Wrap(err, "querylog: sessionize")
		}
		n, err = res.RowsAffected()
		return eris.Wrap(err, "querylog: sessionize rows")
	})
	return n, err
}
