package evalset

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/search-eval/internal/db"
	"github.com/sells-group/search-eval/internal/report"
	"github.com/sells-group/search-eval/internal/store"
)

// seedLog inserts 20 events; even ids have clicks on two docs, every fifth
// event has an empty query.
func seedLog(t *testing.T) *store.DB {
	t.Helper()
	ctx := context.Background()
	st, err := store.OpenMigrated(ctx, filepath.Join(t.TempDir(), "qlog.db"), store.KindQueryLog)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	var searches, clicks [][]any
	for i := 1; i <= 20; i++ {
		q := fmt.Sprintf("query %d", i)
		if i%5 == 0 {
			q = " "
		}
		searches = append(searches, []any{int64(i), "u1", q, fmt.Sprintf("2006-03-01 10:%02d:00", 60-i*2)})
		if i%2 == 0 {
			clicks = append(clicks,
				[]any{int64(i), "u1", fmt.Sprintf("doc-%d-b", i), 4},
				[]any{int64(i), "u1", fmt.Sprintf("doc-%d-a", i), 2},
			)
		}
	}
	_, err = db.InsertRows(ctx, st.SQL(), "search_events", []string{"event_id", "user_id", "query_norm", "ts"}, searches)
	require.NoError(t, err)
	_, err = db.InsertRows(ctx, st.SQL(), "click_events", []string{"event_id", "user_id", "doc_id", "rank"}, clicks)
	require.NoError(t, err)
	return st
}

func TestSample_MixAndOrder(t *testing.T) {
	st := seedLog(t)

	set, err := Sample(context.Background(), st.SQL(), Options{NEvents: 6, ClickedEvents: 4, NegPerQuery: 3, Seed: 7})
	require.NoError(t, err)
	require.Len(t, set.Events, 6)

	nClicked := 0
	for i, e := range set.Events {
		assert.NotEqual(t, 0, e.EventID%5, "empty queries are never sampled")
		if e.HasClick {
			nClicked++
		}
		if i > 0 {
			assert.LessOrEqual(t, set.Events[i-1].TS, e.TS)
		}
	}
	assert.Equal(t, 4, nClicked)

	perEvent := map[int64][]Row{}
	for _, c := range set.Candidates {
		perEvent[c.EventID] = append(perEvent[c.EventID], c)
	}
	for _, e := range set.Events {
		rows := perEvent[e.EventID]
		if e.HasClick {
			require.Len(t, rows, 4)
			assert.Equal(t, SourceClickedBest, rows[0].Source)
			assert.Equal(t, fmt.Sprintf("doc-%d-a", e.EventID), rows[0].DocID)
			require.NotNil(t, rows[0].RankIfClicked)
			assert.Equal(t, 2, *rows[0].RankIfClicked)
			rows = rows[1:]
		} else {
			require.Len(t, rows, 3)
		}
		seen := map[string]bool{}
		for _, r := range rows {
			assert.Equal(t, SourceRandomNegative, r.Source)
			assert.Nil(t, r.RankIfClicked)
			assert.False(t, seen[r.DocID], "negatives are distinct")
			assert.NotEqual(t, fmt.Sprintf("doc-%d-a", e.EventID), r.DocID, "positive is not a negative")
			seen[r.DocID] = true
		}
	}
}

func TestSample_Deterministic(t *testing.T) {
	st := seedLog(t)
	opts := Options{NEvents: 8, ClickedEvents: 5, NegPerQuery: 4, Seed: 42}

	a, err := Sample(context.Background(), st.SQL(), opts)
	require.NoError(t, err)
	b, err := Sample(context.Background(), st.SQL(), opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	opts.Seed = 43
	c, err := Sample(context.Background(), st.SQL(), opts)
	require.NoError(t, err)
	assert.NotEqual(t, a.Candidates, c.Candidates)
}

func TestSample_FewerEventsThanRequested(t *testing.T) {
	st := seedLog(t)

	// 8 clicked and 8 unclicked events have non-empty queries.
	set, err := Sample(context.Background(), st.SQL(), Options{NEvents: 200, ClickedEvents: 120, NegPerQuery: 100, Seed: 7})
	require.NoError(t, err)
	assert.Len(t, set.Events, 16)

	// The pool holds 20 docs; a clicked event excludes its positive.
	counts := map[int64]int{}
	for _, c := range set.Candidates {
		if c.Source == SourceRandomNegative {
			counts[c.EventID]++
		}
	}
	for _, e := range set.Events {
		if e.HasClick {
			assert.Equal(t, 19, counts[e.EventID])
		} else {
			assert.Equal(t, 20, counts[e.EventID])
		}
	}
}

func TestSample_BadOptions(t *testing.T) {
	st := seedLog(t)
	_, err := Sample(context.Background(), st.SQL(), Options{NEvents: 5, ClickedEvents: 6})
	assert.Error(t, err)
	_, err = Sample(context.Background(), st.SQL(), Options{NEvents: 5, ClickedEvents: 2, NegPerQuery: -1})
	assert.Error(t, err)
}

func TestBuild_WritesFiles(t *testing.T) {
	st := seedLog(t)
	dir := filepath.Join(t.TempDir(), "inputs")

	set, paths, err := Build(context.Background(), st.SQL(), Options{NEvents: 4, ClickedEvents: 2, NegPerQuery: 1, Seed: 7, Dir: dir})
	require.NoError(t, err)
	require.Len(t, paths, 2)

	queries := readCSV(t, paths[0])
	assert.Equal(t, queryHeader, queries[0])
	assert.Len(t, queries, len(set.Events)+1)

	cands := readCSV(t, paths[1])
	assert.Equal(t, candidateHeader, cands[0])
	assert.Len(t, cands, len(set.Candidates)+1)
	for _, r := range cands[1:] {
		assert.Equal(t, "", r[5])
		assert.Equal(t, "", r[6])
		if r[3] == SourceRandomNegative {
			assert.Equal(t, "", r[4])
		} else {
			assert.Equal(t, "2", r[4])
		}
	}
}

func TestEnrich(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, CandidatesFile)
	require.NoError(t, report.WriteCSV(in, report.Table{
		Name:   "eval_candidates",
		Header: candidateHeader,
		Rows: [][]string{
			{"1", "weather", "d1", SourceClickedBest, "1", "", ""},
			{"1", "weather", "d2", SourceRandomNegative, "", "", ""},
			{"2", "news", "d9", SourceRandomNegative, "", "", ""},
			{"2", "news", "d3", SourceRandomNegative, "", "", ""},
		},
	}))

	meta := filepath.Join(dir, "docs.jsonl")
	require.NoError(t, os.WriteFile(meta, []byte(
		`{"doc_id":"d1","url":"http://a","title":"A","ia_url":"http://ia/a"}`+"\n"+
			`{"doc_id":"d3","url":"","title":"C","ia_url":""}`+"\n"+
			`{"doc_id":"d2","url":"http://b","title":"B","ia_url":"http://ia/b"}`+"\n"), 0o644))

	out := filepath.Join(dir, EnrichedFile)
	res, err := Enrich(context.Background(), in, meta, out)
	require.NoError(t, err)
	assert.Equal(t, &EnrichResult{Rows: 4, Matched: 2, Coverage: 0.5}, res)

	rows := readCSV(t, out)
	assert.Equal(t, append(append([]string{}, candidateHeader...), metaColumns...), rows[0])
	assert.Equal(t, []string{"1", "weather", "d1", SourceClickedBest, "1", "", "", "http://a", "A", "http://ia/a"}, rows[1])
	assert.Equal(t, []string{"2", "news", "d9", SourceRandomNegative, "", "", "", "", "", ""}, rows[3])
	assert.Equal(t, "C", rows[4][8])
}

func TestLoadDocMeta_CSVAndXLSX(t *testing.T) {
	dir := t.TempDir()
	tbl := report.Table{
		Name:   "docs",
		Header: []string{"title", "doc_id", "url"},
		Rows:   [][]string{{"A", "d1", "http://a"}, {"B", "d2", ""}},
	}

	csvPath := filepath.Join(dir, "docs.csv")
	require.NoError(t, report.WriteCSV(csvPath, tbl))
	xlsxPath := filepath.Join(dir, "docs.xlsx")
	require.NoError(t, report.WriteXLSX(xlsxPath, tbl))

	for _, p := range []string{csvPath, xlsxPath} {
		meta, err := LoadDocMeta(context.Background(), p)
		require.NoError(t, err, p)
		assert.Equal(t, map[string]DocMeta{
			"d1": {DocID: "d1", URL: "http://a", Title: "A"},
			"d2": {DocID: "d2", Title: "B"},
		}, meta, p)
	}

	_, err := LoadDocMeta(context.Background(), filepath.Join(dir, "docs.parquet"))
	assert.Error(t, err)
}

func TestEnrich_MissingDocColumn(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "x.csv")
	require.NoError(t, report.WriteCSV(in, report.Table{Name: "x", Header: []string{"a"}, Rows: [][]string{{"1"}}}))

	_, err := Enrich(context.Background(), in, filepath.Join(dir, "m.jsonl"), filepath.Join(dir, "out.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidate_doc_id column")
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
