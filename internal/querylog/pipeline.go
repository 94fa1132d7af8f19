package querylog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/store"
)

// Options configures Run.
type Options struct {
	Gap     time.Duration
	Reports ReportOptions
}

// Result counts the rows each stage produced.
type Result struct {
	SessionEvents int64    `json:"session_events"`
	Features      int64    `json:"features"`
	Sessions      int64    `json:"sessions"`
	Days          int64    `json:"days"`
	Files         []string `json:"files"`
}

// Run executes sessionize, click features, session metrics and daily KPIs in
// order, then exports the reports.
func Run(ctx context.Context, st *store.DB, opts Options) (*Result, error) {
	log := zap.L().With(zap.String("stage", "metrics"))
	if opts.Gap == 0 {
		opts.Gap = DefaultGap
	}

	var (
		res Result
		err error
	)
	steps := []struct {
		name string
		out  *int64
		fn   func() (int64, error)
	}{
		{"sessionize", &res.SessionEvents, func() (int64, error) { return Sessionize(ctx, st, opts.Gap) }},
		{"click_features", &res.Features, func() (int64, error) { return ExtractFeatures(ctx, st) }},
		{"session_metrics", &res.Sessions, func() (int64, error) { return BuildSessionMetrics(ctx, st) }},
		{"daily_kpis", &res.Days, func() (int64, error) { return BuildDailyKPIs(ctx, st) }},
	}
	for _, s := range steps {
		start := time.Now()
		if *s.out, err = s.fn(); err != nil {
			return nil, err
		}
		log.Info("querylog: step complete",
			zap.String("step", s.name),
			zap.Int64("rows", *s.out),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	if res.Files, err = ExportReports(ctx, st, opts.Reports); err != nil {
		return nil, err
	}
	return &res, nil
}
