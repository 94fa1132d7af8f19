package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/store"
)

// openQueryLog opens the query-log database: --db when set, store.path
// otherwise.
func openQueryLog(cmd *cobra.Command) (*store.DB, error) {
	return store.OpenMigrated(cmd.Context(), stringFlag(cmd, "db", cfg.Store.Path), store.KindQueryLog)
}

// openEval opens the evaluation database: --db when set, store.eval_path
// otherwise.
func openEval(cmd *cobra.Command) (*store.DB, error) {
	return store.OpenMigrated(cmd.Context(), stringFlag(cmd, "db", cfg.Store.EvalPath), store.KindEval)
}

// track records fn in the run log of st and prints its summary line on
// success.
func track(ctx context.Context, st *store.DB, stage string, fn func(ctx context.Context) (*store.RunResult, string, error)) error {
	var line string
	err := store.NewRunLog(st).Track(ctx, stage, func(ctx context.Context) (*store.RunResult, error) {
		res, summary, err := fn(ctx)
		line = summary
		return res, err
	})
	if err != nil {
		return err
	}
	printSummary(os.Stdout, stage, line)
	return nil
}

func printSummary(w io.Writer, stage, line string) {
	_, _ = fmt.Fprintf(w, "%s done: %s\n", stage, line)
}

// kv renders alternating keys and values as "k1=v1 k2=v2".
func kv(pairs ...any) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%v=%v", pairs[i], pairs[i+1])
	}
	return b.String()
}

// progressOut is where progress bars render; nil hides them.
func progressOut(cmd *cobra.Command) io.Writer {
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		return nil
	}
	return os.Stderr
}

// stringFlag returns the flag value when it was set on the command line.
func stringFlag(cmd *cobra.Command, name, fallback string) string {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		return f.Value.String()
	}
	return fallback
}

func intFlag(cmd *cobra.Command, name string, fallback int) int {
	if cmd.Flags().Changed(name) {
		if v, err := cmd.Flags().GetInt(name); err == nil {
			return v
		}
	}
	return fallback
}

func int64Flag(cmd *cobra.Command, name string, fallback int64) int64 {
	if cmd.Flags().Changed(name) {
		if v, err := cmd.Flags().GetInt64(name); err == nil {
			return v
		}
	}
	return fallback
}

func closeStore(st *store.DB) {
	if err := st.Close(); err != nil {
		zap.L().Warn("close database", zap.String("path", st.Path()), zap.Error(err))
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("quiet", false, "hide progress bars")
}
