package evaluation

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/db"
	"github.com/sells-group/search-eval/internal/judge"
	"github.com/sells-group/search-eval/internal/model"
	"github.com/sells-group/search-eval/internal/report"
	"github.com/sells-group/search-eval/internal/retrieval"
	"github.com/sells-group/search-eval/internal/store"
)

// Report file names.
const (
	PerQueryFile = "eval_per_query.csv"
	SummaryFile  = "eval_summary.csv"
)

var (
	perQueryCols = []string{
		"query_id", "n_rel", "source", "k", "n_cand", "cand_hits",
		"precision_at_k", "recall_at_k", "rr", "ndcg_at_k",
		"model", "prompt_v", "judged", "n_picked", "judge_hits", "judge_precision", "judge_recall",
	}
	summaryCols = []string{
		"source", "k", "model", "prompt_v", "n_queries", "n_judged",
		"mean_precision_at_k", "mean_recall_at_k", "mrr", "mean_ndcg_at_k",
		"judge_precision", "judge_recall",
	}
)

// Options configures Evaluate. Model is optional; without it only the
// candidate metrics are filled.
type Options struct {
	Source  string
	K       int
	Model   string
	PromptV string
	// Dir receives the CSV reports when set.
	Dir string
}

// Result reports an Evaluate run.
type Result struct {
	Rows    []model.EvalRow
	Summary model.EvalSummary
	Files   []string
}

// Evaluate scores every query with at least one relevant qrel, stores one
// eval_per_query row per query and a single eval_summary row, and writes
// both as CSV.
func Evaluate(ctx context.Context, st *store.DB, opts Options) (*Result, error) {
	if opts.K <= 0 {
		return nil, eris.Errorf("evaluation: k must be > 0, got %d", opts.K)
	}
	log := zap.L().With(zap.String("stage", "evaluate"), zap.String("source", opts.Source))
	start := time.Now()

	qrels, err := retrieval.LoadQrels(ctx, st.SQL())
	if err != nil {
		return nil, err
	}
	judged := retrieval.GroupRelevant(qrels)
	if len(judged.QueryIDs) == 0 {
		return nil, eris.New("evaluation: no query has a relevant qrel")
	}

	cands, err := retrieval.LoadCandidates(ctx, st.SQL(), opts.Source)
	if err != nil {
		return nil, err
	}

	var picks map[string][]string
	if opts.Model != "" {
		ps, err := judge.LoadPicks(ctx, st.SQL(), opts.Model, opts.PromptV)
		if err != nil {
			return nil, err
		}
		picks = map[string][]string{}
		for _, p := range ps {
			picks[p.QueryID] = append(picks[p.QueryID], p.DocID)
		}
	}

	rows, summary := Compute(judged, retrieval.ByQuery(cands), picks, opts)

	err = st.ReplaceAll(ctx, []string{"eval_per_query", "eval_summary"}, func(tx *sql.Tx) error {
		vals := make([][]any, 0, len(rows))
		for _, r := range rows {
			vals = append(vals, []any{
				r.QueryID, r.NRel, r.Source, r.K, r.NCand, r.CandHits,
				r.PrecisionAtK, r.RecallAtK, r.RR, r.NDCGAtK,
				nullable(r.Model), nullable(r.PromptV), flag(r.Judged), r.NPicked, r.JudgeHits, r.JudgePrec, r.JudgeRecall,
			})
		}
		if _, err := db.InsertRows(ctx, tx, "eval_per_query", perQueryCols, vals); err != nil {
			return eris.Wrap(err, "evaluation: insert per-query rows")
		}
		s := summary
		_, err := db.InsertRows(ctx, tx, "eval_summary", summaryCols, [][]any{{
			s.Source, s.K, nullable(s.Model), nullable(s.PromptV), s.NQueries, s.NJudged,
			s.MeanPrecision, s.MeanRecall, s.MRR, s.MeanNDCG, s.JudgePrecision, s.JudgeRecall,
		}})
		return eris.Wrap(err, "evaluation: insert summary")
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Rows: rows, Summary: summary}
	if opts.Dir != "" {
		files, err := report.WriteCSVDir(opts.Dir, PerQueryTable(rows), SummaryTable(summary))
		if err != nil {
			return nil, err
		}
		res.Files = files
	}

	log.Info("evaluation: metrics computed",
		zap.Int("queries", summary.NQueries),
		zap.Int("judged", summary.NJudged),
		zap.Float64("mean_precision_at_k", summary.MeanPrecision),
		zap.Float64("mrr", summary.MRR),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// Compute is the pure part of Evaluate. byQuery holds ranked candidates;
// picks is nil when no judge is scored.
func Compute(judged *retrieval.Judged, byQuery map[string][]model.Candidate, picks map[string][]string, opts Options) ([]model.EvalRow, model.EvalSummary) {
	rows := make([]model.EvalRow, 0, len(judged.QueryIDs))
	var (
		prec, rec, rr, ndcg []float64
		jPrec, jRec         []float64
	)

	for _, qid := range judged.QueryIDs {
		grades := judged.Grades[qid]
		all := make([]int, 0, len(grades))
		for _, g := range grades {
			all = append(all, g)
		}

		cands := byQuery[qid]
		ranked := make([]string, 0, min(len(cands), opts.K))
		for _, c := range cands {
			if len(ranked) == opts.K {
				break
			}
			ranked = append(ranked, c.DocID)
		}
		rel := gains(ranked, grades)

		r := model.EvalRow{
			QueryID:      qid,
			NRel:         len(grades),
			Source:       opts.Source,
			K:            opts.K,
			NCand:        len(ranked),
			CandHits:     Hits(rel, opts.K),
			PrecisionAtK: PrecisionAtK(rel, opts.K),
			RecallAtK:    RecallAtK(rel, opts.K, len(grades)),
			RR:           ReciprocalRank(rel, opts.K),
			NDCGAtK:      NDCGAtK(rel, opts.K, all),
			Model:        opts.Model,
			PromptV:      opts.PromptV,
		}
		prec = append(prec, r.PrecisionAtK)
		rec = append(rec, r.RecallAtK)
		rr = append(rr, r.RR)
		ndcg = append(ndcg, r.NDCGAtK)

		if picked := picks[qid]; len(picked) > 0 {
			r.Judged = true
			r.NPicked = len(picked)
			for _, d := range picked {
				if grades[d] > 0 {
					r.JudgeHits++
				}
			}
			p := float64(r.JudgeHits) / float64(r.NPicked)
			rc := float64(r.JudgeHits) / float64(r.NRel)
			r.JudgePrec, r.JudgeRecall = &p, &rc
			jPrec = append(jPrec, p)
			jRec = append(jRec, rc)
		}
		rows = append(rows, r)
	}

	s := model.EvalSummary{
		Source:        opts.Source,
		K:             opts.K,
		Model:         opts.Model,
		PromptV:       opts.PromptV,
		NQueries:      len(rows),
		NJudged:       len(jPrec),
		MeanPrecision: mean(prec),
		MeanRecall:    mean(rec),
		MRR:           mean(rr),
		MeanNDCG:      mean(ndcg),
	}
	if len(jPrec) > 0 {
		p, r := mean(jPrec), mean(jRec)
		s.JudgePrecision, s.JudgeRecall = &p, &r
	}
	return rows, s
}

// PerQueryTable renders rows with the eval_per_query.csv header.
func PerQueryTable(rows []model.EvalRow) report.Table {
	t := report.Table{Name: "eval_per_query", Header: perQueryCols}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.QueryID, report.Int(r.NRel), r.Source, report.Int(r.K), report.Int(r.NCand), report.Int(r.CandHits),
			report.Float(r.PrecisionAtK), report.Float(r.RecallAtK), report.Float(r.RR), report.Float(r.NDCGAtK),
			r.Model, r.PromptV, report.Bool(r.Judged), report.Int(r.NPicked), report.Int(r.JudgeHits),
			report.NullFloat(r.JudgePrec), report.NullFloat(r.JudgeRecall),
		})
	}
	return t
}

// SummaryTable renders the single eval_summary.csv row.
func SummaryTable(s model.EvalSummary) report.Table {
	return report.Table{
		Name:   "eval_summary",
		Header: summaryCols,
		Rows: [][]string{{
			s.Source, report.Int(s.K), s.Model, s.PromptV, report.Int(s.NQueries), report.Int(s.NJudged),
			report.Float(s.MeanPrecision), report.Float(s.MeanRecall), report.Float(s.MRR), report.Float(s.MeanNDCG),
			report.NullFloat(s.JudgePrecision), report.NullFloat(s.JudgeRecall),
		}},
	}
}

// LoadPerQuery reads back the stored eval_per_query rows.
func LoadPerQuery(ctx context.Context, q store.Querier) ([]model.EvalRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT query_id, n_rel, source, k, n_cand, cand_hits,
		       precision_at_k, recall_at_k, rr, ndcg_at_k,
		       COALESCE(model, ''), COALESCE(prompt_v, ''), judged, n_picked, judge_hits,
		       judge_precision, judge_recall
		FROM eval_per_query
		ORDER BY CAST(query_id AS INTEGER), query_id`)
	if err != nil {
		return nil, eris.Wrap(err, "evaluation: query per-query rows")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.EvalRow
	for rows.Next() {
		var r model.EvalRow
		if err := rows.Scan(&r.QueryID, &r.NRel, &r.Source, &r.K, &r.NCand, &r.CandHits,
			&r.PrecisionAtK, &r.RecallAtK, &r.RR, &r.NDCGAtK,
			&r.Model, &r.PromptV, &r.Judged, &r.NPicked, &r.JudgeHits,
			&r.JudgePrec, &r.JudgeRecall); err != nil {
			return nil, eris.Wrap(err, "evaluation: scan per-query row")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "evaluation: iterate per-query rows")
}

// LoadSummary reads back the stored summary row.
func LoadSummary(ctx context.Context, q store.Querier) (*model.EvalSummary, error) {
	var s model.EvalSummary
	err := q.QueryRowContext(ctx, `
		SELECT source, k, COALESCE(model, ''), COALESCE(prompt_v, ''), n_queries, n_judged,
		       mean_precision_at_k, mean_recall_at_k, mrr, mean_ndcg_at_k,
		       judge_precision, judge_recall
		FROM eval_summary`).Scan(&s.Source, &s.K, &s.Model, &s.PromptV, &s.NQueries, &s.NJudged,
		&s.MeanPrecision, &s.MeanRecall, &s.MRR, &s.MeanNDCG, &s.JudgePrecision, &s.JudgeRecall)
	if err == sql.ErrNoRows {
		return nil, eris.New("evaluation: no summary stored, run evaluate first")
	}
	if err != nil {
		return nil, eris.Wrap(err, "evaluation: read summary")
	}
	return &s, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
