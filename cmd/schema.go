package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/store"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create or upgrade the query-log and evaluation databases",
	Long:  "Applies the embedded migrations to store.path (query log) and store.eval_path (evaluation). Safe to rerun.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		targets := []struct {
			path string
			kind store.Kind
		}{
			{stringFlag(cmd, "db", cfg.Store.Path), store.KindQueryLog},
			{stringFlag(cmd, "eval-db", cfg.Store.EvalPath), store.KindEval},
		}
		for _, t := range targets {
			st, err := store.OpenMigrated(ctx, t.path, t.kind)
			if err != nil {
				return err
			}
			tables, err := st.Tables(ctx)
			closeStore(st)
			if err != nil {
				return err
			}

			zap.L().Info("schema ready", zap.String("kind", string(t.kind)), zap.String("path", t.path))
			_, _ = fmt.Fprintf(os.Stdout, "%s (%s): %s\n", t.path, t.kind, strings.Join(tables, ", "))
		}
		return nil
	},
}

func init() {
	schemaCmd.Flags().String("db", "", "query-log database path (default store.path)")
	schemaCmd.Flags().String("eval-db", "", "evaluation database path (default store.eval_path)")
	rootCmd.AddCommand(schemaCmd)
}
