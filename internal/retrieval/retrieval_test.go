package retrieval

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/search-eval/internal/db"
	"github.com/sells-group/search-eval/internal/store"
)

func newCorpusDB(t *testing.T) *store.DB {
	t.Helper()
	ctx := context.Background()
	st, err := store.OpenMigrated(ctx, filepath.Join(t.TempDir(), "eval.db"), store.KindEval)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	docs := [][]any{
		{"d1", "Vitamin D and bone density", "Vitamin D supplementation improves bone density in elderly adults."},
		{"d2", "Statins", "Statins reduce LDL cholesterol."},
		{"d3", "Fractures", "Bone fractures in children heal quickly."},
		{"d4", "Sleep", "Sleep duration and memory consolidation."},
	}
	cols := []string{"doc_id", "title", "text"}
	_, err = db.InsertRows(ctx, st.SQL(), "docs", cols, docs)
	require.NoError(t, err)
	_, err = db.InsertRows(ctx, st.SQL(), "docs_fts", cols, docs)
	require.NoError(t, err)

	_, err = db.InsertRows(ctx, st.SQL(), "queries", []string{"query_id", "text"}, [][]any{
		{"10", "cholesterol statins"},
		{"2", "vitamin D bone"},
		{"3", "!!! ???"},
		{"4", "quantum chromodynamics"},
	})
	require.NoError(t, err)
	return st
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"vitamin", "d", "bone", "density"}, Terms("Vitamin-D  bone, density; BONE"))
	assert.Empty(t, Terms("!!! ???"))
	assert.Equal(t, []string{"covid", "19"}, Terms("COVID-19"))
}

func TestMatchExpr(t *testing.T) {
	assert.Equal(t, `"vitamin" OR "d"`, MatchExpr(`Vitamin "D"`))
	assert.Equal(t, `"near" OR "and" OR "not"`, MatchExpr("NEAR AND NOT"))
	assert.Equal(t, "", MatchExpr("*"))
}

func TestNewEngine_Unknown(t *testing.T) {
	st := newCorpusDB(t)
	_, err := NewEngine(context.Background(), "tfidf", st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown engine")
}

func TestEngines_Search(t *testing.T) {
	st := newCorpusDB(t)
	ctx := context.Background()

	for _, name := range []string{EngineFTS5, EngineBluge} {
		t.Run(name, func(t *testing.T) {
			eng, err := NewEngine(ctx, name, st)
			require.NoError(t, err)
			defer eng.Close() //nolint:errcheck

			hits, err := eng.Search(ctx, "vitamin D bone", 10)
			require.NoError(t, err)
			require.NotEmpty(t, hits)
			assert.Equal(t, "d1", hits[0].DocID)
			ids := map[string]bool{}
			for i, h := range hits {
				ids[h.DocID] = true
				assert.Greater(t, h.Score, 0.0)
				if i > 0 {
					assert.GreaterOrEqual(t, hits[i-1].Score, h.Score)
				}
			}
			assert.True(t, ids["d3"])
			assert.False(t, ids["d4"])

			hits, err = eng.Search(ctx, "vitamin D bone", 1)
			require.NoError(t, err)
			assert.Len(t, hits, 1)

			hits, err = eng.Search(ctx, "!!!", 10)
			require.NoError(t, err)
			assert.Empty(t, hits)

			hits, err = eng.Search(ctx, "quantum chromodynamics", 10)
			require.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

func TestGenerate_AppendAndReplace(t *testing.T) {
	st := newCorpusDB(t)
	ctx := context.Background()
	eng := NewFTS5(st.SQL())

	res, err := Generate(ctx, st, eng, Options{TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, SourceFTS5, res.Source)
	assert.Equal(t, 4, res.Queries)
	assert.Equal(t, int64(3), res.Candidates) // d1,d3 for "2"; d2 for "10"
	assert.Equal(t, int64(3), res.Total)

	cands, err := LoadCandidates(ctx, st.SQL(), SourceFTS5)
	require.NoError(t, err)
	require.Len(t, cands, 3)
	// Numeric query ids sort numerically.
	assert.Equal(t, "2", cands[0].QueryID)
	assert.Equal(t, "d1", cands[0].DocID)
	assert.Equal(t, 1, cands[0].Rank)
	assert.Equal(t, 2, cands[1].Rank)
	assert.Equal(t, "10", cands[2].QueryID)
	assert.Equal(t, "d2", cands[2].DocID)

	// Appending duplicates.
	res, err = Generate(ctx, st, eng, Options{TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Total)

	// Replace clears only this source.
	_, err = st.SQL().Exec("INSERT INTO candidates (query_id, doc_id, rank, source) VALUES ('2', 'd4', 1, 'manual')")
	require.NoError(t, err)
	res, err = Generate(ctx, st, eng, Options{TopK: 2, Replace: true})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Total)
}

func TestGenerate_Bluge(t *testing.T) {
	st := newCorpusDB(t)
	ctx := context.Background()

	eng, err := NewEngine(ctx, EngineBluge, st)
	require.NoError(t, err)
	defer eng.Close() //nolint:errcheck

	res, err := Generate(ctx, st, eng, Options{TopK: 10})
	require.NoError(t, err)
	assert.Equal(t, SourceBluge, res.Source)

	cands, err := LoadCandidates(ctx, st.SQL(), SourceBluge)
	require.NoError(t, err)
	perQuery := map[string]int{}
	for _, c := range cands {
		perQuery[c.QueryID]++
		assert.Equal(t, perQuery[c.QueryID], c.Rank)
	}
	assert.LessOrEqual(t, perQuery["2"], 10)
	assert.Zero(t, perQuery["3"])
}

func TestGenerate_BadTopK(t *testing.T) {
	st := newCorpusDB(t)
	_, err := Generate(context.Background(), st, NewFTS5(st.SQL()), Options{})
	assert.Error(t, err)
}
