package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/search-eval/internal/evaluation"
	"github.com/sells-group/search-eval/internal/publish"
	"github.com/sells-group/search-eval/internal/querylog"
	"github.com/sells-group/search-eval/internal/store"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Copy daily KPIs and evaluation results into the Postgres warehouse",
	Long: "Upserts daily_kpis (from store.path) and eval_summary (from store.eval_path) into " +
		"publish.schema and replaces the matching eval_per_query rows. The schema is created on first use.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		withKPIs, _ := cmd.Flags().GetBool("kpis")
		withEval, _ := cmd.Flags().GetBool("eval")
		if !withKPIs && !withEval {
			return eris.New("publish: nothing to publish, enable --kpis or --eval")
		}
		cfg.Publish.DatabaseURL = stringFlag(cmd, "database-url", cfg.Publish.DatabaseURL)
		cfg.Publish.Schema = stringFlag(cmd, "schema", cfg.Publish.Schema)
		if err := cfg.Validate("publish"); err != nil {
			return err
		}

		pool, err := warehousePool(ctx, cfg.Publish.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		pub, err := publish.New(pool, cfg.Publish.Schema)
		if err != nil {
			return err
		}
		if err := pub.EnsureSchema(ctx); err != nil {
			return err
		}

		var kpiStore, evalStore *store.DB
		if withKPIs {
			if kpiStore, err = store.OpenMigrated(ctx, stringFlag(cmd, "db", cfg.Store.Path), store.KindQueryLog); err != nil {
				return err
			}
			defer closeStore(kpiStore)
		}
		if withEval {
			if evalStore, err = store.OpenMigrated(ctx, stringFlag(cmd, "eval-db", cfg.Store.EvalPath), store.KindEval); err != nil {
				return err
			}
			defer closeStore(evalStore)
		}

		logStore := evalStore
		if logStore == nil {
			logStore = kpiStore
		}

		return track(ctx, logStore, "publish", func(ctx context.Context) (*store.RunResult, string, error) {
			meta := map[string]any{"schema": pub.Schema()}
			var rows, kpis, perQuery int64

			if kpiStore != nil {
				days, err := querylog.DailyKPIs(ctx, kpiStore.SQL())
				if err != nil {
					return nil, "", err
				}
				if kpis, err = pub.PublishKPIs(ctx, days); err != nil {
					return nil, "", eris.Wrap(err, "publish")
				}
				rows += kpis
				meta["daily_kpis"] = kpis
			}

			if evalStore != nil {
				summary, err := evaluation.LoadSummary(ctx, evalStore.SQL())
				if err != nil {
					return nil, "", err
				}
				perRows, err := evaluation.LoadPerQuery(ctx, evalStore.SQL())
				if err != nil {
					return nil, "", err
				}
				res, err := pub.PublishEval(ctx, *summary, perRows)
				if err != nil {
					return nil, "", eris.Wrap(err, "publish")
				}
				perQuery = res.PerQuery
				rows += res.Summary + res.PerQuery
				meta["eval_summary"] = res.Summary
				meta["eval_per_query"] = res.PerQuery
				meta["source"] = summary.Source
				meta["model"] = summary.Model
			}

			return &store.RunResult{Rows: rows, Metadata: meta},
				kv("schema", pub.Schema(), "daily_kpis", kpis, "eval_per_query", perQuery),
				nil
		})
	},
}

// warehousePool connects to the Postgres warehouse and pings it.
func warehousePool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "publish: parse database url")
	}
	poolCfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "publish: create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "publish: ping database")
	}

	fmt.Println("Connected to warehouse")
	return pool, nil
}

func init() {
	publishCmd.Flags().String("db", "", "query-log database path (default store.path)")
	publishCmd.Flags().String("eval-db", "", "evaluation database path (default store.eval_path)")
	publishCmd.Flags().String("database-url", "", "Postgres URL (default publish.database_url)")
	publishCmd.Flags().String("schema", "", "warehouse schema (default publish.schema)")
	publishCmd.Flags().Bool("kpis", true, "publish daily KPIs")
	publishCmd.Flags().Bool("eval", true, "publish the stored evaluation")
	rootCmd.AddCommand(publishCmd)
}
