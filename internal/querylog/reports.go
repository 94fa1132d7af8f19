package querylog

import (
	"context"
	"database/sql"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/model"
	"github.com/sells-group/search-eval/internal/report"
	"github.com/sells-group/search-eval/internal/store"
)

// Report file names, without extension.
const (
	ReportDailyKPIs   = "daily_kpis"
	ReportPerQueryAll = "per_query_all"
	ReportTopGood     = "top_good_queries"
	ReportTopBad      = "top_bad_queries"
	WorkbookName      = "query_log_report.xlsx"
)

var (
	dailyKPIHeader = []string{"day", "n_events", "ctr", "mrr", "n_sessions", "no_click_rate", "reformulation_rate"}
	queryHeader    = []string{"query_norm", "n_events", "n_clicked", "ctr", "mrr"}
)

// ReportOptions configures ExportReports.
type ReportOptions struct {
	Dir       string
	TopN      int
	MinEvents int
	XLSX      bool
}

// QueryStats aggregates click features per normalized query, ordered by
// event count descending then query text.
func QueryStats(ctx context.Context, q store.Querier) ([]model.QueryStat, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT
			query_norm,
			COUNT(*) AS n_events,
			SUM(has_click) AS n_clicked,
			AVG(has_click) AS ctr,
			AVG(reciprocal_rank) AS mrr
		FROM query_click_features
		WHERE COALESCE(query_norm, '') <> ''
		GROUP BY query_norm
		ORDER BY n_events DESC, query_norm`)
	if err != nil {
		return nil, eris.Wrap(err, "querylog: query stats")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.QueryStat
	for rows.Next() {
		var (
			s   model.QueryStat
			mrr sql.NullFloat64
		)
		if err := rows.Scan(&s.QueryNorm, &s.NEvents, &s.NClicked, &s.CTR, &mrr); err != nil {
			return nil, eris.Wrap(err, "querylog: scan query stat")
		}
		s.MRR = floatPtr(mrr)
		out = append(out, s)
	}
	return out, eris.Wrap(rows.Err(), "querylog: iterate query stats")
}

// TopQueries returns up to n queries with at least minEvents events, ordered
// by CTR (descending when good, ascending otherwise) then by event count.
func TopQueries(stats []model.QueryStat, n, minEvents int, good bool) []model.QueryStat {
	var eligible []model.QueryStat
	for _, s := range stats {
		if s.NEvents >= int64(minEvents) {
			eligible = append(eligible, s)
		}
	}
	sortQueries(eligible, good)
	if n >= 0 && len(eligible) > n {
		eligible = eligible[:n]
	}
	return eligible
}

// ExportReports writes the daily KPI, per-query and top-N reports to
// opts.Dir and, when requested, a workbook holding all four. Returns the
// written paths.
func ExportReports(ctx context.Context, st *store.DB, opts ReportOptions) ([]string, error) {
	kpis, err := DailyKPIs(ctx, st.SQL())
	if err != nil {
		return nil, err
	}
	stats, err := QueryStats(ctx, st.SQL())
	if err != nil {
		return nil, err
	}

	tables := []report.Table{
		dailyKPITable(kpis),
		queryTable(ReportPerQueryAll, stats),
		queryTable(ReportTopGood, TopQueries(stats, opts.TopN, opts.MinEvents, true)),
		queryTable(ReportTopBad, TopQueries(stats, opts.TopN, opts.MinEvents, false)),
	}

	paths, err := report.WriteCSVDir(opts.Dir, tables...)
	if err != nil {
		return paths, err
	}
	if opts.XLSX {
		p := filepath.Join(opts.Dir, WorkbookName)
		if err := report.WriteXLSX(p, tables...); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}

	zap.L().Info("querylog: reports written",
		zap.String("dir", opts.Dir),
		zap.Int("days", len(kpis)),
		zap.Int("queries", len(stats)),
	)
	return paths, nil
}

func dailyKPITable(kpis []model.DailyKPI) report.Table {
	t := report.Table{Name: ReportDailyKPIs, Header: dailyKPIHeader}
	for _, k := range kpis {
		t.Rows = append(t.Rows, []string{
			k.Day,
			report.Int(k.NEvents),
			report.NullFloat(k.CTR),
			report.NullFloat(k.MRR),
			report.Int(k.NSessions),
			report.NullFloat(k.NoClickRate),
			report.NullFloat(k.ReformulationRate),
		})
	}
	return t
}

func queryTable(name string, stats []model.QueryStat) report.Table {
	t := report.Table{Name: name, Header: queryHeader}
	for _, s := range stats {
		t.Rows = append(t.Rows, []string{
			s.QueryNorm,
			report.Int(s.NEvents),
			report.Int(s.NClicked),
			report.Float(s.CTR),
			report.NullFloat(s.MRR),
		})
	}
	return t
}

func sortQueries(stats []model.QueryStat, good bool) {
	sort.SliceStable(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.CTR != b.CTR {
			if good {
				return a.CTR > b.CTR
			}
			return a.CTR < b.CTR
		}
		if a.NEvents != b.NEvents {
			return a.NEvents > b.NEvents
		}
		return a.QueryNorm < b.QueryNorm
	})
}
