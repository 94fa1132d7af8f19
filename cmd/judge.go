package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/judge"
	"github.com/sells-group/search-eval/internal/retrieval"
	"github.com/sells-group/search-eval/internal/store"
)

var judgeSetCmd = &cobra.Command{
	Use:   "judge-set",
	Short: "Build the K-slot judge set from qrels and candidates",
	Long: "For each query with at least one relevant qrel, takes every relevant doc plus the " +
		"best-ranked non-relevant candidates of --source up to K, and deals them into seeded " +
		"random slots in judge_items_for_llm.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opts := judge.SetOptions{
			Source: stringFlag(cmd, "source", retrieval.SourceFTS5),
			TopK:   intFlag(cmd, "topk", cfg.Candidates.TopK),
			Seed:   int64Flag(cmd, "seed", cfg.Judge.Seed),
		}

		st, err := openEval(cmd)
		if err != nil {
			return err
		}
		defer closeStore(st)

		return track(ctx, st, "judge-set", func(ctx context.Context) (*store.RunResult, string, error) {
			res, err := judge.BuildSet(ctx, st, opts)
			if err != nil {
				return nil, "", eris.Wrap(err, "judge-set")
			}
			return &store.RunResult{
					Rows: res.Items,
					Metadata: map[string]any{
						"source":  opts.Source,
						"topk":    opts.TopK,
						"seed":    opts.Seed,
						"queries": res.Queries,
						"skipped": res.Skipped,
					},
				},
				kv("judge_set", res.Rows, "queries", res.Queries, "items", res.Items, "skipped", res.Skipped),
				nil
		})
	},
}

var judgeCmd = &cobra.Command{
	Use:   "judge",
	Short: "Ask an LLM to pick the relevant slots of every judge item",
	Long: "Renders the versioned prompt for each query in judge_items_for_llm, asks the configured " +
		"provider (ollama, openai or anthropic) for exactly n_rel slots and stores the picks. " +
		"Earlier picks of the same model and prompt version are replaced.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cfg.Judge.Provider = stringFlag(cmd, "provider", cfg.Judge.Provider)
		cfg.Judge.Model = stringFlag(cmd, "model", cfg.Judge.Model)
		cfg.Judge.BaseURL = stringFlag(cmd, "base-url", cfg.Judge.BaseURL)
		cfg.Judge.PromptVersion = stringFlag(cmd, "prompt-v", cfg.Judge.PromptVersion)
		cfg.Judge.PromptsFile = stringFlag(cmd, "prompts", cfg.Judge.PromptsFile)
		cfg.Judge.MaxAttempts = intFlag(cmd, "max-attempts", cfg.Judge.MaxAttempts)
		if cmd.Flags().Changed("sleep") {
			cfg.Judge.Sleep, _ = cmd.Flags().GetDuration("sleep")
		}
		limit, _ := cmd.Flags().GetInt("limit")
		if err := cfg.Validate("judge"); err != nil {
			return err
		}

		prompts := judge.DefaultPrompts()
		if cfg.Judge.PromptsFile != "" {
			p, err := judge.LoadPrompts(cfg.Judge.PromptsFile)
			if err != nil {
				return err
			}
			prompts = p
		}

		gen, err := judge.NewGenerator(cfg.Judge)
		if err != nil {
			return err
		}

		st, err := openEval(cmd)
		if err != nil {
			return err
		}
		defer closeStore(st)

		zap.L().Info("judge: starting",
			zap.String("provider", cfg.Judge.Provider),
			zap.String("model", cfg.Judge.Model),
			zap.String("prompt_v", cfg.Judge.PromptVersion),
		)

		return track(ctx, st, "judge", func(ctx context.Context) (*store.RunResult, string, error) {
			res, err := judge.Run(ctx, st, gen, judge.RunOptions{
				Model:         cfg.Judge.Model,
				PromptVersion: cfg.Judge.PromptVersion,
				Prompts:       prompts,
				TextChars:     cfg.Judge.TextChars,
				Sleep:         cfg.Judge.Sleep,
				MaxAttempts:   cfg.Judge.MaxAttempts,
				Limit:         limit,
				Progress:      progressOut(cmd),
			})
			if err != nil {
				return nil, "", eris.Wrap(err, "judge")
			}
			return &store.RunResult{
					Rows: res.Picks,
					Metadata: map[string]any{
						"provider":  cfg.Judge.Provider,
						"model":     res.Model,
						"prompt_v":  res.PromptV,
						"queries":   res.Queries,
						"fallbacks": res.Fallbacks,
					},
				},
				kv("model", res.Model, "prompt_v", res.PromptV, "queries", res.Queries,
					"fallbacks", res.Fallbacks, "picks", res.Picks),
				nil
		})
	},
}

func init() {
	judgeSetCmd.Flags().String("db", "", "evaluation database path (default store.eval_path)")
	judgeSetCmd.Flags().String("source", "", "candidate source to fill from (default bm25)")
	judgeSetCmd.Flags().Int("topk", 0, "slots per query (default candidates.topk)")
	judgeSetCmd.Flags().Int64("seed", 0, "slot shuffle seed (default judge.seed)")

	judgeCmd.Flags().String("db", "", "evaluation database path (default store.eval_path)")
	judgeCmd.Flags().String("provider", "", "ollama, openai or anthropic (default judge.provider)")
	judgeCmd.Flags().String("model", "", "judge model (default judge.model)")
	judgeCmd.Flags().String("base-url", "", "provider base URL (default judge.base_url)")
	judgeCmd.Flags().String("prompt-v", "", "prompt version tag (default judge.prompt_version)")
	judgeCmd.Flags().String("prompts", "", "YAML prompt catalog (default judge.prompts_file)")
	judgeCmd.Flags().Int("max-attempts", 0, "calls per query on transient errors (default judge.max_attempts)")
	judgeCmd.Flags().Duration("sleep", 0, "pause after each call (default judge.sleep)")
	judgeCmd.Flags().Int("limit", 0, "judge at most this many queries, 0 = all")

	rootCmd.AddCommand(judgeSetCmd)
	rootCmd.AddCommand(judgeCmd)
}
