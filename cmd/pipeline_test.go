package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/search-eval/internal/evaluation"
	"github.com/sells-group/search-eval/internal/store"
)

var scifactFixture = map[string]string{
	"corpus.jsonl": `{"_id":"d1","title":"Vitamin D","text":"Vitamin D deficiency is linked to bone loss."}
{"_id":"d2","title":"Statins","text":"Statins lower cholesterol in adults."}
{"_id":"d3","title":"Vitamin C","text":"Vitamin C and cholesterol in the bones of adults."}
{"_id":"d4","title":"Diet","text":"Diet, cholesterol and vitamin intake."}
{"_id":"d5","title":"Sleep","text":"Sleep duration affects memory consolidation."}
`,
	"queries.jsonl": `{"_id":"1","text":"vitamin d and bones"}
{"_id":"2","text":"statins and cholesterol"}
`,
	"qrels/test.tsv": "query-id\tcorpus-id\tscore\n1\td1\t1\n2\td2\t1\n",
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(append(args, "--quiet"))
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	return rootCmd.ExecuteContext(context.Background())
}

func TestEvalPipeline(t *testing.T) {
	tmp := t.TempDir()
	dataset := filepath.Join(tmp, "scifact")
	for name, body := range scifactFixture {
		p := filepath.Join(dataset, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	evalDB := filepath.Join(tmp, "eval.db")
	outDir := filepath.Join(tmp, "out")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && strings.Contains(body.Prompt, "Exactly 1 of the following 3 documents") {
			calls.Add(1)
		}
		_, _ = w.Write([]byte(`{"response":"{\"slots\":[1]}","done":true}`))
	}))
	defer srv.Close()

	require.NoError(t, execute(t, "schema", "--db", filepath.Join(tmp, "local.db"), "--eval-db", evalDB))
	require.NoError(t, execute(t, "ingest-beir", "--db", evalDB, "--dataset-dir", dataset, "--split", "test"))
	require.NoError(t, execute(t, "candidates", "--db", evalDB, "--topk", "3", "--engine", "fts5"))
	require.NoError(t, execute(t, "judge-set", "--db", evalDB, "--topk", "3", "--seed", "7"))
	require.NoError(t, execute(t, "judge", "--db", evalDB, "--provider", "ollama",
		"--base-url", srv.URL, "--model", "tiny", "--prompt-v", "v1", "--sleep", "0s"))
	require.NoError(t, execute(t, "evaluate", "--db", evalDB, "--topk", "3",
		"--model", "tiny", "--prompt-v", "v1", "--out", outDir))

	assert.Equal(t, int32(2), calls.Load())

	st, err := store.Open(evalDB)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	ctx := context.Background()

	for table, want := range map[string]int64{
		"docs":                5,
		"queries":             2,
		"candidates":          6,
		"judge_items_for_llm": 6,
		"ollama_picks":        2,
		"eval_per_query":      2,
		"eval_summary":        1,
		"pipeline_runs":       5,
	} {
		n, err := st.Count(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, want, n, table)
	}

	summary, err := evaluation.LoadSummary(ctx, st.SQL())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.NQueries)
	assert.Equal(t, 2, summary.NJudged)
	assert.Equal(t, "tiny", summary.Model)
	require.NotNil(t, summary.JudgePrecision)

	var failed int
	require.NoError(t, st.SQL().QueryRow(`SELECT COUNT(*) FROM pipeline_runs WHERE status <> 'complete'`).Scan(&failed))
	assert.Zero(t, failed)

	for _, name := range []string{evaluation.PerQueryFile, evaluation.SummaryFile} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}
}

func TestPublish_NothingSelected(t *testing.T) {
	err := execute(t, "publish", "--kpis=false", "--eval=false")
	assert.ErrorContains(t, err, "nothing to publish")
}

func TestKV(t *testing.T) {
	assert.Equal(t, "search_events=3 click_events=5", kv("search_events", 3, "click_events", int64(5)))
	assert.Equal(t, "", kv())
	assert.Equal(t, "a=1", kv("a", 1, "dangling"))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, "candidates", "queries=2")
	assert.Equal(t, "candidates done: queries=2\n", buf.String())
}

func TestFlagFallbacks(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().String("db", "", "")
	cmd.Flags().Int("topk", 0, "")
	cmd.Flags().Int64("seed", 0, "")

	assert.Equal(t, "cfg.db", stringFlag(cmd, "db", "cfg.db"))
	assert.Equal(t, 10, intFlag(cmd, "topk", 10))
	assert.Equal(t, int64(7), int64Flag(cmd, "seed", 7))
	assert.Equal(t, "x", stringFlag(cmd, "missing", "x"))

	require.NoError(t, cmd.Flags().Parse([]string{"--db", "other.db", "--topk", "0", "--seed", "3"}))
	assert.Equal(t, "other.db", stringFlag(cmd, "db", "cfg.db"))
	assert.Equal(t, 0, intFlag(cmd, "topk", 10))
	assert.Equal(t, int64(3), int64Flag(cmd, "seed", 7))
}
