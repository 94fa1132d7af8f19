// Package judge builds the slot lists shown to an external relevance judge,
// collects the judge's picks and parses its replies.
package judge

import (
	"context"
	"database/sql"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/db"
	"github.com/sells-group/search-eval/internal/model"
	"github.com/sells-group/search-eval/internal/retrieval"
	"github.com/sells-group/search-eval/internal/store"
)

var (
	judgeSetCols  = []string{"query_id", "doc_id", "is_rel", "cand_rank"}
	judgeItemCols = []string{"query_id", "n_rel", "slot", "doc_id", "is_rel"}
)

// fillItemText copies query and doc text onto freshly inserted items.
const fillItemText = `
UPDATE judge_items_for_llm SET
	query_text = (SELECT q.text FROM queries q WHERE q.query_id = judge_items_for_llm.query_id),
	title      = (SELECT d.title FROM docs d WHERE d.doc_id = judge_items_for_llm.doc_id),
	text       = (SELECT d.text FROM docs d WHERE d.doc_id = judge_items_for_llm.doc_id)`

// SetOptions configures BuildSet.
type SetOptions struct {
	Source string
	TopK   int
	Seed   int64
}

// SetResult reports a BuildSet run.
type SetResult struct {
	Rows    int64 `json:"rows"`
	Queries int64 `json:"queries"`
	Items   int64 `json:"items"`
	// Skipped counts queries with relevant docs that could not be filled to
	// TopK, or that have TopK or more relevant docs.
	Skipped int `json:"skipped"`
}

// BuildSet picks TopK docs per judged query: every relevant doc, then the
// best-ranked non-relevant candidates of the source. Each query's docs are
// then dealt into slots 1..TopK by a shuffle seeded from Seed and the query
// id. judge_set and judge_items_for_llm are replaced together.
func BuildSet(ctx context.Context, st *store.DB, opts SetOptions) (*SetResult, error) {
	if opts.TopK <= 0 {
		return nil, eris.Errorf("judge: topk must be > 0, got %d", opts.TopK)
	}
	if opts.Source == "" {
		return nil, eris.New("judge: candidate source is required")
	}
	log := zap.L().With(zap.String("stage", "judge-set"), zap.String("source", opts.Source))
	start := time.Now()

	qrels, err := retrieval.LoadQrels(ctx, st.SQL())
	if err != nil {
		return nil, err
	}
	cands, err := retrieval.LoadCandidates(ctx, st.SQL(), opts.Source)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, eris.Errorf("judge: no candidates for source %q", opts.Source)
	}

	judged := retrieval.GroupRelevant(qrels)
	byQuery := retrieval.ByQuery(cands)

	var (
		setRows  [][]any
		itemRows [][]any
		res      SetResult
	)
	for _, qid := range judged.QueryIDs {
		picked, ok := selectDocs(qid, judged.Grades[qid], byQuery[qid], opts.TopK)
		if !ok {
			res.Skipped++
			log.Debug("judge: query skipped", zap.String("query_id", qid), zap.Int("n_rel", len(judged.Grades[qid])))
			continue
		}
		nRel := len(judged.Grades[qid])
		for _, r := range picked {
			setRows = append(setRows, []any{r.QueryID, r.DocID, flag(r.IsRel), r.CandRank})
		}
		for slot, r := range dealSlots(qid, picked, opts.Seed) {
			itemRows = append(itemRows, []any{qid, nRel, slot + 1, r.DocID, flag(r.IsRel)})
		}
	}

	err = st.ReplaceAll(ctx, []string{"judge_set", "judge_items_for_llm"}, func(tx *sql.Tx) error {
		if _, err := db.InsertRows(ctx, tx, "judge_set", judgeSetCols, setRows); err != nil {
			return eris.Wrap(err, "judge: insert judge_set")
		}
		if _, err := db.InsertRows(ctx, tx, "judge_items_for_llm", judgeItemCols, itemRows); err != nil {
			return eris.Wrap(err, "judge: insert judge items")
		}
		if _, err := tx.ExecContext(ctx, fillItemText); err != nil {
			return eris.Wrap(err, "judge: fill item text")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Rows, err = st.Count(ctx, "judge_set"); err != nil {
		return nil, err
	}
	if res.Items, err = st.Count(ctx, "judge_items_for_llm"); err != nil {
		return nil, err
	}
	if err := st.SQL().QueryRowContext(ctx, "SELECT COUNT(DISTINCT query_id) FROM judge_set").Scan(&res.Queries); err != nil {
		return nil, eris.Wrap(err, "judge: count queries")
	}

	log.Info("judge: judge set built",
		zap.Int64("rows", res.Rows),
		zap.Int64("queries", res.Queries),
		zap.Int("skipped", res.Skipped),
		zap.Int("topk", opts.TopK),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &res, nil
}

// selectDocs returns exactly k rows for a query, relevant docs first in
// doc id order, or false when that is not possible.
func selectDocs(qid string, grades map[string]int, cands []model.Candidate, k int) ([]model.JudgeSetRow, bool) {
	if len(grades) >= k {
		return nil, false
	}

	rank := make(map[string]int, len(cands))
	for _, c := range cands {
		rank[c.DocID] = c.Rank
	}

	out := make([]model.JudgeSetRow, 0, k)
	for _, docID := range sortedKeys(grades) {
		row := model.JudgeSetRow{QueryID: qid, DocID: docID, IsRel: true}
		if r, ok := rank[docID]; ok {
			row.CandRank = &r
		}
		out = append(out, row)
	}
	for _, c := range cands {
		if len(out) == k {
			break
		}
		if _, rel := grades[c.DocID]; rel {
			continue
		}
		r := c.Rank
		out = append(out, model.JudgeSetRow{QueryID: qid, DocID: c.DocID, CandRank: &r})
	}
	return out, len(out) == k
}

// dealSlots returns rows in slot order. The permutation depends only on the
// seed and the query id, so rebuilding the set reproduces the same slots.
func dealSlots(qid string, rows []model.JudgeSetRow, seed int64) []model.JudgeSetRow {
	h := fnv.New64a()
	_, _ = h.Write([]byte(qid))
	rng := rand.New(rand.NewSource(seed ^ int64(h.Sum64()))) //nolint:gosec

	out := append([]model.JudgeSetRow(nil), rows...)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
