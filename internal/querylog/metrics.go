package querylog

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"

	"github.com/sells-group/search-eval/internal/model"
	"github.com/sells-group/search-eval/internal/store"
)

// Sessions are grouped directly and bucketed by the day of their first
// event. Empty normalized queries do not count as distinct queries.
const sessionMetricsSQL = `
INSERT INTO session_metrics
	(session_id, user_id, session_start, session_end, session_day,
	 n_queries, n_distinct_queries, no_click_session, possible_reformulation)
SELECT
	session_id,
	user_id,
	MIN(ts),
	MAX(ts),
	substr(MIN(ts), 1, 10),
	COUNT(*),
	COUNT(DISTINCT NULLIF(query_norm, '')),
	CASE WHEN MAX(has_click) = 0 THEN 1 ELSE 0 END,
	CASE WHEN COUNT(DISTINCT NULLIF(query_norm, '')) > 1 THEN 1 ELSE 0 END
FROM query_click_features
GROUP BY session_id, user_id`

// Query-side metrics use each event's own day over events with a non-empty
// normalized query; session-side metrics use the session's start day. Days
// present on either side are reported.
const dailyKPIsSQL = `
INSERT INTO daily_kpis (day, n_events, ctr, mrr, n_sessions, no_click_rate, reformulation_rate)
WITH q AS (
	SELECT
		day,
		COUNT(*) AS n_events,
		AVG(has_click) AS ctr,
		AVG(reciprocal_rank) AS mrr
	FROM query_click_features
	WHERE COALESCE(query_norm, '') <> ''
	GROUP BY day
),
s AS (
	SELECT
		session_day AS day,
		COUNT(*) AS n_sessions,
		AVG(no_click_session) AS no_click_rate,
		AVG(possible_reformulation) AS reformulation_rate
	FROM session_metrics
	GROUP BY session_day
),
days AS (
	SELECT day FROM q
	UNION
	SELECT day FROM s
)
SELECT
	d.day,
	COALESCE(q.n_events, 0),
	q.ctr,
	q.mrr,
	COALESCE(s.n_sessions, 0),
	s.no_click_rate,
	s.reformulation_rate
FROM days d
LEFT JOIN q ON q.day = d.day
LEFT JOIN s ON s.day = d.day
ORDER BY d.day`

// BuildSessionMetrics rebuilds session_metrics from query_click_features.
func BuildSessionMetrics(ctx context.Context, st *store.DB) (int64, error) {
	return rebuild(ctx, st, "session_metrics", sessionMetricsSQL)
}

// BuildDailyKPIs rebuilds daily_kpis from query_click_features and
// session_metrics.
func BuildDailyKPIs(ctx context.Context, st *store.DB) (int64, error) {
	return rebuild(ctx, st, "daily_kpis", dailyKPIsSQL)
}

func rebuild(ctx context.Context, st *store.DB, table, query string) (int64, error) {
	var n int64
	err := st.ReplaceAll(ctx, []string{table}, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query)
		if err != nil {
			return eris.Wrapf(err, "querylog: build %s", table)
		}
		n, err = res.RowsAffected()
		return eris.Wrapf(err, "querylog: %s rows", table)
	})
	return n, err
}

// DailyKPIs returns the daily rollup ordered by day.
func DailyKPIs(ctx context.Context, q store.Querier) ([]model.DailyKPI, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT day, n_events, ctr, mrr, n_sessions, no_click_rate, reformulation_rate
		FROM daily_kpis
		ORDER BY day`)
	if err != nil {
		return nil, eris.Wrap(err, "querylog: query daily kpis")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DailyKPI
	for rows.Next() {
		var (
			k                     model.DailyKPI
			ctr, mrr, noClk, refm sql.NullFloat64
		)
		if err := rows.Scan(&k.Day, &k.NEvents, &ctr, &mrr, &k.NSessions, &noClk, &refm); err != nil {
			return nil, eris.Wrap(err, "querylog: scan daily kpi")
		}
		k.CTR = floatPtr(ctr)
		k.MRR = floatPtr(mrr)
		k.NoClickRate = floatPtr(noClk)
		k.ReformulationRate = floatPtr(refm)
		out = append(out, k)
	}
	return out, eris.Wrap(rows.Err(), "querylog: iterate daily kpis")
}

// SessionMetrics returns every session ordered by user and start.
func SessionMetrics(ctx context.Context, q store.Querier) ([]model.SessionMetric, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT session_id, user_id, session_start, session_end, session_day,
		       n_queries, n_distinct_queries, no_click_session, possible_reformulation
		FROM session_metrics
		ORDER BY user_id, session_start, session_id`)
	if err != nil {
		return nil, eris.Wrap(err, "querylog: query session metrics")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SessionMetric
	for rows.Next() {
		var m model.SessionMetric
		if err := rows.Scan(&m.SessionID, &m.UserID, &m.SessionStart, &m.SessionEnd, &m.SessionDay,
			&m.NQueries, &m.NDistinctQueries, &m.NoClickSession, &m.PossibleReformulation); err != nil {
			return nil, eris.Wrap(err, "querylog: scan session metric")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "querylog: iterate session metrics")
}

// SessionEvents returns the sessionized events ordered by user and time.
func SessionEvents(ctx context.Context, q store.Querier) ([]model.SessionEvent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT event_id, user_id, session_seq, session_id, COALESCE(query_norm, ''), ts, gap_secs
		FROM search_events_sess
		ORDER BY user_id, ts, event_id`)
	if err != nil {
		return nil, eris.Wrap(err, "querylog: query session events")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SessionEvent
	for rows.Next() {
		var (
			e   model.SessionEvent
			gap sql.NullInt64
		)
		if err := rows.Scan(&e.EventID, &e.UserID, &e.SessionSeq, &e.SessionID, &e.QueryNorm, &e.TS, &gap); err != nil {
			return nil, eris.Wrap(err, "querylog: scan session event")
		}
		if gap.Valid {
			g := gap.Int64
			e.GapSecs = &g
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "querylog: iterate session events")
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
