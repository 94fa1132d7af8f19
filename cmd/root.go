package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "search-eval",
	Short: "Query-log analytics and relevance evaluation pipeline",
	Long: "Ingests search query logs and BEIR benchmarks into SQLite, derives sessions, click " +
		"features and daily KPIs, generates BM25 candidates, collects LLM relevance judgments " +
		"and scores rankings against qrels.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
