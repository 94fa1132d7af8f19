package main

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/search-eval/internal/evalset"
	"github.com/sells-group/search-eval/internal/store"
)

var evalsetCmd = &cobra.Command{
	Use:   "evalset",
	Short: "Sample query-log events into a human annotation set",
	Long: "Draws a seeded sample of events with and without clicks and writes eval_queries.csv " +
		"and eval_candidates.csv with one clicked positive and random negatives per event.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opts := evalset.Options{
			NEvents:       intFlag(cmd, "n-events", cfg.EvalSet.NEvents),
			ClickedEvents: intFlag(cmd, "clicked-events", cfg.EvalSet.ClickedEvents),
			NegPerQuery:   intFlag(cmd, "neg-per-query", cfg.EvalSet.NegPerQuery),
			Seed:          int64Flag(cmd, "seed", cfg.EvalSet.Seed),
			Dir:           stringFlag(cmd, "out", cfg.Output.EvalDir),
		}

		st, err := openQueryLog(cmd)
		if err != nil {
			return err
		}
		defer closeStore(st)

		return track(ctx, st, "evalset", func(ctx context.Context) (*store.RunResult, string, error) {
			set, files, err := evalset.Build(ctx, st.SQL(), opts)
			if err != nil {
				return nil, "", eris.Wrap(err, "evalset")
			}
			return &store.RunResult{
					Rows: int64(len(set.Candidates)),
					Metadata: map[string]any{
						"events": len(set.Events),
						"seed":   opts.Seed,
						"files":  files,
					},
				},
				kv("events", len(set.Events), "candidates", len(set.Candidates), "dir", opts.Dir),
				nil
		})
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Join the annotation candidates with document metadata",
	Long: "Left-joins eval_candidates.csv with a document metadata file (JSONL, CSV or XLSX with " +
		"doc_id, url, title, ia_url) and writes eval_candidates_enriched.csv.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dir := stringFlag(cmd, "out", cfg.Output.EvalDir)
		in := stringFlag(cmd, "candidates", filepath.Join(dir, evalset.CandidatesFile))
		meta, _ := cmd.Flags().GetString("docs")
		out := filepath.Join(dir, evalset.EnrichedFile)

		st, err := openQueryLog(cmd)
		if err != nil {
			return err
		}
		defer closeStore(st)

		return track(ctx, st, "enrich", func(ctx context.Context) (*store.RunResult, string, error) {
			res, err := evalset.Enrich(ctx, in, meta, out)
			if err != nil {
				return nil, "", eris.Wrap(err, "enrich")
			}
			return &store.RunResult{
					Rows: int64(res.Rows),
					Metadata: map[string]any{
						"matched":  res.Matched,
						"coverage": res.Coverage,
						"output":   out,
					},
				},
				kv("rows", res.Rows, "matched", res.Matched, "coverage", res.Coverage),
				nil
		})
	},
}

func init() {
	evalsetCmd.Flags().String("db", "", "query-log database path (default store.path)")
	evalsetCmd.Flags().String("out", "", "output directory (default output.eval_dir)")
	evalsetCmd.Flags().Int("n-events", 0, "events to sample (default evalset.n_events)")
	evalsetCmd.Flags().Int("clicked-events", 0, "sampled events with clicks (default evalset.clicked_events)")
	evalsetCmd.Flags().Int("neg-per-query", 0, "random negatives per event (default evalset.neg_per_query)")
	evalsetCmd.Flags().Int64("seed", 0, "sampling seed (default evalset.seed)")

	enrichCmd.Flags().String("db", "", "query-log database path for the run log (default store.path)")
	enrichCmd.Flags().String("out", "", "directory holding eval_candidates.csv (default output.eval_dir)")
	enrichCmd.Flags().String("candidates", "", "candidates CSV (default <out>/eval_candidates.csv)")
	enrichCmd.Flags().String("docs", "", "document metadata file (required)")
	_ = enrichCmd.MarkFlagRequired("docs")

	rootCmd.AddCommand(evalsetCmd)
	rootCmd.AddCommand(enrichCmd)
}
