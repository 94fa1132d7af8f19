package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/search-eval/internal/retrieval"
	"github.com/sells-group/search-eval/internal/store"
)

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "Rank documents for every query with BM25 and store the top-K",
	Long: "Runs every query through the fts5 (SQLite bm25, source bm25) or bluge (source " +
		"bluge_bm25) engine and appends ranks 1..K to candidates. --replace clears the source first.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		replace, _ := cmd.Flags().GetBool("replace")
		cfg.Candidates.TopK = intFlag(cmd, "topk", cfg.Candidates.TopK)
		cfg.Candidates.Engine = stringFlag(cmd, "engine", cfg.Candidates.Engine)
		if err := cfg.Validate("candidates"); err != nil {
			return err
		}

		st, err := openEval(cmd)
		if err != nil {
			return err
		}
		defer closeStore(st)

		return track(ctx, st, "candidates", func(ctx context.Context) (*store.RunResult, string, error) {
			eng, err := retrieval.NewEngine(ctx, cfg.Candidates.Engine, st)
			if err != nil {
				return nil, "", err
			}
			defer eng.Close() //nolint:errcheck

			res, err := retrieval.Generate(ctx, st, eng, retrieval.Options{
				TopK:     cfg.Candidates.TopK,
				Replace:  replace,
				Progress: progressOut(cmd),
			})
			if err != nil {
				return nil, "", eris.Wrap(err, "candidates")
			}
			return &store.RunResult{
					Rows: res.Candidates,
					Metadata: map[string]any{
						"source":  res.Source,
						"topk":    cfg.Candidates.TopK,
						"queries": res.Queries,
						"replace": replace,
						"total":   res.Total,
					},
				},
				kv("source", res.Source, "queries", res.Queries, "candidates", res.Candidates, "total", res.Total),
				nil
		})
	},
}

func init() {
	candidatesCmd.Flags().String("db", "", "evaluation database path (default store.eval_path)")
	candidatesCmd.Flags().Int("topk", 0, "candidates per query (default candidates.topk)")
	candidatesCmd.Flags().String("engine", "", "fts5 or bluge (default candidates.engine)")
	candidatesCmd.Flags().Bool("replace", false, "delete the engine's existing candidates first")
	rootCmd.AddCommand(candidatesCmd)
}
