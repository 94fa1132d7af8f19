package main

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/search-eval/internal/evaluation"
	"github.com/sells-group/search-eval/internal/report"
	"github.com/sells-group/search-eval/internal/retrieval"
	"github.com/sells-group/search-eval/internal/store"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score candidates and judge picks against qrels",
	Long: "Computes precision@K, recall@K, reciprocal rank and nDCG@K of a candidate source for " +
		"every query with a relevant qrel, plus judge precision and recall when --model is set. " +
		"Writes eval_per_query and eval_summary tables and CSVs.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		modelName, _ := cmd.Flags().GetString("model")
		promptV := ""
		if modelName != "" {
			promptV = stringFlag(cmd, "prompt-v", cfg.Judge.PromptVersion)
		}
		opts := evaluation.Options{
			Source:  stringFlag(cmd, "source", retrieval.SourceFTS5),
			K:       intFlag(cmd, "topk", cfg.Candidates.TopK),
			Model:   modelName,
			PromptV: promptV,
			Dir:     stringFlag(cmd, "out", cfg.Output.EvalDir),
		}

		st, err := openEval(cmd)
		if err != nil {
			return err
		}
		defer closeStore(st)

		return track(ctx, st, "evaluate", func(ctx context.Context) (*store.RunResult, string, error) {
			res, err := evaluation.Evaluate(ctx, st, opts)
			if err != nil {
				return nil, "", eris.Wrap(err, "evaluate")
			}
			s := res.Summary
			return &store.RunResult{
					Rows: int64(len(res.Rows)),
					Metadata: map[string]any{
						"source":   s.Source,
						"k":        s.K,
						"model":    s.Model,
						"prompt_v": s.PromptV,
						"mrr":      s.MRR,
						"files":    res.Files,
					},
				},
				kv("queries", s.NQueries, "judged", s.NJudged,
					"p@k", report.Float(s.MeanPrecision), "r@k", report.Float(s.MeanRecall),
					"mrr", report.Float(s.MRR), "ndcg@k", report.Float(s.MeanNDCG),
					"judge_p", report.NullFloat(s.JudgePrecision), "judge_r", report.NullFloat(s.JudgeRecall)),
				nil
		})
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Export single-relevant queries where the judge picked another doc",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		limit, _ := cmd.Flags().GetInt("limit")
		opts := evaluation.InspectOptions{
			Model:   stringFlag(cmd, "model", cfg.Judge.Model),
			PromptV: stringFlag(cmd, "prompt-v", cfg.Judge.PromptVersion),
			Limit:   limit,
			Out:     stringFlag(cmd, "out", filepath.Join(cfg.Output.EvalDir, evaluation.InspectFile)),
		}

		st, err := openEval(cmd)
		if err != nil {
			return err
		}
		defer closeStore(st)

		return track(ctx, st, "inspect", func(ctx context.Context) (*store.RunResult, string, error) {
			n, err := evaluation.Inspect(ctx, st.SQL(), opts)
			if err != nil {
				return nil, "", eris.Wrap(err, "inspect")
			}
			return &store.RunResult{
					Rows:     int64(n),
					Metadata: map[string]any{"model": opts.Model, "prompt_v": opts.PromptV, "output": opts.Out},
				},
				kv("rows", n, "output", opts.Out),
				nil
		})
	},
}

func init() {
	evaluateCmd.Flags().String("db", "", "evaluation database path (default store.eval_path)")
	evaluateCmd.Flags().String("source", "", "candidate source to score (default bm25)")
	evaluateCmd.Flags().Int("topk", 0, "cutoff K (default candidates.topk)")
	evaluateCmd.Flags().String("model", "", "judge model whose picks are scored; empty skips judge metrics")
	evaluateCmd.Flags().String("prompt-v", "", "prompt version of the picks (default judge.prompt_version)")
	evaluateCmd.Flags().String("out", "", "CSV directory (default output.eval_dir)")

	inspectCmd.Flags().String("db", "", "evaluation database path (default store.eval_path)")
	inspectCmd.Flags().String("model", "", "judge model (default judge.model)")
	inspectCmd.Flags().String("prompt-v", "", "prompt version (default judge.prompt_version)")
	inspectCmd.Flags().Int("limit", 10, "max rows to export")
	inspectCmd.Flags().String("out", "", "output CSV (default <output.eval_dir>/inspect_missed_positive_nrel1.csv)")

	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(inspectCmd)
}
