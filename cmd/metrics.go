package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/search-eval/internal/querylog"
	"github.com/sells-group/search-eval/internal/store"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Sessionize the query log and build click features, session metrics and daily KPIs",
	Long: "Recomputes search_events_sess, query_click_features, session_metrics and daily_kpis, " +
		"then writes daily_kpis.csv, per_query_all.csv, top_good_queries.csv and top_bad_queries.csv.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cmd.Flags().Changed("gap") {
			cfg.Session.Gap, _ = cmd.Flags().GetDuration("gap")
		}
		cfg.Reports.TopN = intFlag(cmd, "top-n", cfg.Reports.TopN)
		cfg.Reports.MinEvents = intFlag(cmd, "min-events", cfg.Reports.MinEvents)
		if cmd.Flags().Changed("xlsx") {
			cfg.Reports.XLSX, _ = cmd.Flags().GetBool("xlsx")
		}
		if err := cfg.Validate("metrics"); err != nil {
			return err
		}

		st, err := openQueryLog(cmd)
		if err != nil {
			return err
		}
		defer closeStore(st)

		return track(ctx, st, "metrics", func(ctx context.Context) (*store.RunResult, string, error) {
			res, err := querylog.Run(ctx, st, querylog.Options{
				Gap: cfg.Session.Gap,
				Reports: querylog.ReportOptions{
					Dir:       stringFlag(cmd, "out", cfg.Output.Dir),
					TopN:      cfg.Reports.TopN,
					MinEvents: cfg.Reports.MinEvents,
					XLSX:      cfg.Reports.XLSX,
				},
			})
			if err != nil {
				return nil, "", eris.Wrap(err, "metrics")
			}
			return &store.RunResult{
					Rows: res.Features,
					Metadata: map[string]any{
						"gap":            cfg.Session.Gap.String(),
						"session_events": res.SessionEvents,
						"sessions":       res.Sessions,
						"days":           res.Days,
						"files":          res.Files,
					},
				},
				kv("session_events", res.SessionEvents, "features", res.Features,
					"sessions", res.Sessions, "days", res.Days, "files", len(res.Files)),
				nil
		})
	},
}

func init() {
	metricsCmd.Flags().String("db", "", "query-log database path (default store.path)")
	metricsCmd.Flags().String("out", "", "report directory (default output.dir)")
	metricsCmd.Flags().Duration("gap", 0, "inactivity gap that starts a new session (default session.gap)")
	metricsCmd.Flags().Int("top-n", 0, "rows in the top good/bad query reports (default reports.top_n)")
	metricsCmd.Flags().Int("min-events", 0, "min events for a query to be ranked (default reports.min_events)")
	metricsCmd.Flags().Bool("xlsx", false, "also write query_log_report.xlsx")
	rootCmd.AddCommand(metricsCmd)
}
