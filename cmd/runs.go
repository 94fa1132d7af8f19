package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/search-eval/internal/model"
	"github.com/sells-group/search-eval/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded pipeline runs",
	Long:  "Lists the pipeline_runs log of the query-log database, or of the evaluation database with --eval.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		evalDB, _ := cmd.Flags().GetBool("eval")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		open := openQueryLog
		if evalDB {
			open = openEval
		}
		st, err := open(cmd)
		if err != nil {
			return err
		}
		defer closeStore(st)

		runs, err := store.NewRunLog(st).List(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().String("db", "", "database path (default store.path, or store.eval_path with --eval)")
	runsCmd.Flags().Bool("eval", false, "read the evaluation database")
	runsCmd.Flags().Int("limit", 50, "max number of runs to display (0 = all)")
	runsCmd.Flags().Bool("json", false, "print runs as JSON")
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.PipelineRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTAGE\tSTATUS\tROWS\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t----\t-------\t--------\t-----")

	for _, r := range runs {
		dur := ""
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}

		errMsg := r.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Stage,
			r.Status,
			r.Rows,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			dur,
			errMsg,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
