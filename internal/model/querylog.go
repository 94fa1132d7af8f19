package model

import "time"

// SearchEvent is one query issuance in a search log.
type SearchEvent struct {
	EventID   int64     `json:"event_id"`
	UserID    string    `json:"user_id"`
	QueryID   string    `json:"query_id"`
	QueryNorm string    `json:"query_norm"`
	QueryOrig string    `json:"query_orig"`
	TS        time.Time `json:"ts"`
}

// ClickEvent is one click on a ranked result of a SearchEvent.
type ClickEvent struct {
	EventID int64  `json:"event_id"`
	UserID  string `json:"user_id"`
	QueryID string `json:"query_id"`
	DocID   string `json:"doc_id"`
	Rank    int    `json:"rank"`
}

// LogItem is a ranked result shown for a logged query.
type LogItem struct {
	DocID   string `json:"doc_id"`
	Rank    int    `json:"rank"`
	Clicked bool   `json:"clicked"`
}

// LogRecord is a query-log record as yielded by a source, before event ids
// are assigned.
type LogRecord struct {
	UserID    string    `json:"user_id"`
	QueryID   string    `json:"query_id"`
	Query     string    `json:"query"`
	QueryOrig string    `json:"query_orig"`
	Time      time.Time `json:"time"`
	Items     []LogItem `json:"items"`
}

// Clicks returns the clicked items of the record.
func (r LogRecord) Clicks() []LogItem {
	var out []LogItem
	for _, it := range r.Items {
		if it.Clicked {
			out = append(out, it)
		}
	}
	return out
}

// DailyKPI is one row of the daily KPI rollup.
type DailyKPI struct {
	Day               string   `json:"day"`
	NEvents           int64    `json:"n_events"`
	CTR               *float64 `json:"ctr"`
	MRR               *float64 `json:"mrr"`
	NSessions         int64    `json:"n_sessions"`
	NoClickRate       *float64 `json:"no_click_rate"`
	ReformulationRate *float64 `json:"reformulation_rate"`
}

// QueryStat aggregates click features for one normalized query.
type QueryStat struct {
	QueryNorm string   `json:"query_norm"`
	NEvents   int64    `json:"n_events"`
	NClicked  int64    `json:"n_clicked"`
	CTR       float64  `json:"ctr"`
	MRR       *float64 `json:"mrr"`
}

// SessionMetric is the per-session rollup.
type SessionMetric struct {
	SessionID             string `json:"session_id"`
	UserID                string `json:"user_id"`
	SessionStart          string `json:"session_start"`
	SessionEnd            string `json:"session_end"`
	SessionDay            string `json:"session_day"`
	NQueries              int64  `json:"n_queries"`
	NDistinctQueries      int64  `json:"n_distinct_queries"`
	NoClickSession        bool   `json:"no_click_session"`
	PossibleReformulation bool   `json:"possible_reformulation"`
}

// SessionEvent is a search event tagged with its session.
type SessionEvent struct {
	EventID    int64  `json:"event_id"`
	UserID     string `json:"user_id"`
	SessionSeq int64  `json:"session_seq"`
	SessionID  string `json:"session_id"`
	QueryNorm  string `json:"query_norm"`
	TS         string `json:"ts"`
	GapSecs    *int64 `json:"gap_secs"`
}
