package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/search-eval/internal/fetcher"
	"github.com/sells-group/search-eval/internal/ingest"
	"github.com/sells-group/search-eval/internal/store"
)

var ingestQlogCmd = &cobra.Command{
	Use:   "ingest-qlog",
	Short: "Load a query log into search_events and click_events",
	Long: "Streams a JSONL or raw AOL query log into the query-log database. Event ids continue " +
		"after the current maximum unless --reset clears both tables first.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		input, _ := cmd.Flags().GetString("input")
		reset, _ := cmd.Flags().GetBool("reset")
		cfg.Ingest.Format = stringFlag(cmd, "format", cfg.Ingest.Format)
		cfg.Ingest.Limit = intFlag(cmd, "limit", cfg.Ingest.Limit)
		cfg.Ingest.BatchSize = intFlag(cmd, "batch", cfg.Ingest.BatchSize)
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		rc, err := fetcher.NewOpener().Open(ctx, input)
		if err != nil {
			return err
		}
		defer rc.Close() //nolint:errcheck

		src, err := ingest.NewSource(cfg.Ingest.Format, rc)
		if err != nil {
			return err
		}

		st, err := openQueryLog(cmd)
		if err != nil {
			return err
		}
		defer closeStore(st)

		return track(ctx, st, "ingest-qlog", func(ctx context.Context) (*store.RunResult, string, error) {
			res, err := ingest.LoadQueryLog(ctx, st, src, ingest.QueryLogOptions{
				Limit:     cfg.Ingest.Limit,
				BatchSize: cfg.Ingest.BatchSize,
				Reset:     reset,
				Progress:  progressOut(cmd),
			})
			if err != nil {
				return nil, "", eris.Wrap(err, "ingest-qlog")
			}
			return &store.RunResult{
					Rows: res.SearchEvents + res.ClickEvents,
					Metadata: map[string]any{
						"input":         input,
						"format":        cfg.Ingest.Format,
						"records":       res.Records,
						"search_events": res.SearchEvents,
						"click_events":  res.ClickEvents,
					},
				},
				kv("search_events", res.SearchEvents, "click_events", res.ClickEvents),
				nil
		})
	},
}

var ingestBEIRCmd = &cobra.Command{
	Use:   "ingest-beir",
	Short: "Load a BEIR dataset into docs, queries and qrels",
	Long: "Reads corpus.jsonl, queries.jsonl and qrels/<split>.tsv from a dataset directory or " +
		"archive URL (http, https, ftp or file). Existing docs, queries and qrels are replaced.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dir, _ := cmd.Flags().GetString("dataset-dir")
		opts := ingest.BEIROptions{
			Dir:       dir,
			URL:       stringFlag(cmd, "url", cfg.Dataset.URL),
			CacheDir:  cfg.Dataset.CacheDir,
			Split:     stringFlag(cmd, "split", cfg.Dataset.Split),
			BatchSize: intFlag(cmd, "batch", cfg.Ingest.BatchSize),
			Progress:  progressOut(cmd),
		}
		if opts.BatchSize <= 0 {
			return eris.Errorf("ingest-beir: batch must be > 0, got %d", opts.BatchSize)
		}

		st, err := openEval(cmd)
		if err != nil {
			return err
		}
		defer closeStore(st)

		return track(ctx, st, "ingest-beir", func(ctx context.Context) (*store.RunResult, string, error) {
			res, err := ingest.LoadBEIR(ctx, st, opts)
			if err != nil {
				return nil, "", eris.Wrap(err, "ingest-beir")
			}
			return &store.RunResult{
					Rows: res.Docs + res.Queries + res.Qrels,
					Metadata: map[string]any{
						"split":   res.Split,
						"docs":    res.Docs,
						"queries": res.Queries,
						"qrels":   res.Qrels,
					},
				},
				kv("split", res.Split, "docs", res.Docs, "queries", res.Queries, "qrels", res.Qrels),
				nil
		})
	},
}

func init() {
	ingestQlogCmd.Flags().String("db", "", "query-log database path (default store.path)")
	ingestQlogCmd.Flags().String("input", "", "query log path or URL, .gz accepted (required)")
	ingestQlogCmd.Flags().String("format", "", "input format: jsonl or aol (default ingest.format)")
	ingestQlogCmd.Flags().Int("limit", 0, "max records to read, 0 = all (default ingest.limit)")
	ingestQlogCmd.Flags().Int("batch", 0, "rows per insert batch (default ingest.batch_size)")
	ingestQlogCmd.Flags().Bool("reset", false, "clear search_events and click_events first")
	_ = ingestQlogCmd.MarkFlagRequired("input")

	ingestBEIRCmd.Flags().String("db", "", "evaluation database path (default store.eval_path)")
	ingestBEIRCmd.Flags().String("dataset-dir", "", "local BEIR dataset directory; wins over --url")
	ingestBEIRCmd.Flags().String("url", "", "dataset archive URL (default dataset.url)")
	ingestBEIRCmd.Flags().String("split", "", "qrels split: test, train or dev (default dataset.split)")
	ingestBEIRCmd.Flags().Int("batch", 0, "rows per insert batch (default ingest.batch_size)")

	rootCmd.AddCommand(ingestQlogCmd)
	rootCmd.AddCommand(ingestBEIRCmd)
}
