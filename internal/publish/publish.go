// Package publish copies the query-log KPIs and evaluation results into a
// Postgres warehouse schema.
package publish

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/db"
	"github.com/sells-group/search-eval/internal/model"
	"github.com/sells-group/search-eval/internal/store"
)

// DefaultSchema is used when publish.schema is empty.
const DefaultSchema = "search_eval"

// Serializes concurrent publishers creating the same schema.
const schemaLockID = 5318008

const ddl = `
CREATE SCHEMA IF NOT EXISTS {{schema}};

CREATE TABLE IF NOT EXISTS {{schema}}.daily_kpis (
	day                DATE PRIMARY KEY,
	n_events           BIGINT NOT NULL,
	ctr                DOUBLE PRECISION,
	mrr                DOUBLE PRECISION,
	n_sessions         BIGINT NOT NULL,
	no_click_rate      DOUBLE PRECISION,
	reformulation_rate DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS {{schema}}.eval_summary (
	source              TEXT NOT NULL,
	k                   INTEGER NOT NULL,
	model               TEXT NOT NULL DEFAULT '',
	prompt_v            TEXT NOT NULL DEFAULT '',
	n_queries           INTEGER NOT NULL,
	n_judged            INTEGER NOT NULL,
	mean_precision_at_k DOUBLE PRECISION NOT NULL,
	mean_recall_at_k    DOUBLE PRECISION NOT NULL,
	mrr                 DOUBLE PRECISION NOT NULL,
	mean_ndcg_at_k      DOUBLE PRECISION NOT NULL,
	judge_precision     DOUBLE PRECISION,
	judge_recall        DOUBLE PRECISION,
	PRIMARY KEY (source, k, model, prompt_v)
);

CREATE TABLE IF NOT EXISTS {{schema}}.eval_per_query (
	source          TEXT NOT NULL,
	k               INTEGER NOT NULL,
	model           TEXT NOT NULL DEFAULT '',
	prompt_v        TEXT NOT NULL DEFAULT '',
	query_id        TEXT NOT NULL,
	n_rel           INTEGER NOT NULL,
	n_cand          INTEGER NOT NULL,
	cand_hits       INTEGER NOT NULL,
	precision_at_k  DOUBLE PRECISION NOT NULL,
	recall_at_k     DOUBLE PRECISION NOT NULL,
	rr              DOUBLE PRECISION NOT NULL,
	ndcg_at_k       DOUBLE PRECISION NOT NULL,
	judged          BOOLEAN NOT NULL,
	n_picked        INTEGER NOT NULL,
	judge_hits      INTEGER NOT NULL,
	judge_precision DOUBLE PRECISION,
	judge_recall    DOUBLE PRECISION,
	PRIMARY KEY (source, k, model, prompt_v, query_id)
);
`

var (
	kpiCols = []string{
		"day", "n_events", "ctr", "mrr", "n_sessions", "no_click_rate", "reformulation_rate",
	}
	summaryCols = []string{
		"source", "k", "model", "prompt_v", "n_queries", "n_judged",
		"mean_precision_at_k", "mean_recall_at_k", "mrr", "mean_ndcg_at_k",
		"judge_precision", "judge_recall",
	}
	perQueryCols = []string{
		"source", "k", "model", "prompt_v", "query_id", "n_rel", "n_cand", "cand_hits",
		"precision_at_k", "recall_at_k", "rr", "ndcg_at_k",
		"judged", "n_picked", "judge_hits", "judge_precision", "judge_recall",
	}
)

// Publisher writes to one warehouse schema.
type Publisher struct {
	pool   db.Pool
	schema string
}

// New returns a Publisher for schema, or DefaultSchema when empty.
func New(pool db.Pool, schema string) (*Publisher, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	if err := store.ValidateIdent(schema); err != nil {
		return nil, eris.Wrap(err, "publish: schema")
	}
	return &Publisher{pool: pool, schema: schema}, nil
}

// Schema returns the target schema name.
func (p *Publisher) Schema() string { return p.schema }

func (p *Publisher) table(name string) string { return p.schema + "." + name }

// EnsureSchema creates the schema and its tables if they do not exist.
func (p *Publisher) EnsureSchema(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "publish.schema"))

	if _, err := p.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", schemaLockID); err != nil {
		return eris.Wrap(err, "publish: acquire schema advisory lock")
	}
	defer func() {
		if _, err := p.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", schemaLockID); err != nil {
			log.Warn("publish: failed to release schema advisory lock", zap.Error(err))
		}
	}()

	sql := strings.ReplaceAll(ddl, "{{schema}}", p.schema)
	if _, err := p.pool.Exec(ctx, sql); err != nil {
		return eris.Wrapf(err, "publish: create schema %s", p.schema)
	}
	log.Debug("publish: schema ready", zap.String("schema", p.schema))
	return nil
}

// PublishKPIs upserts daily KPI rows keyed by day.
func (p *Publisher) PublishKPIs(ctx context.Context, kpis []model.DailyKPI) (int64, error) {
	rows := make([][]any, 0, len(kpis))
	for _, k := range kpis {
		day, err := time.Parse(time.DateOnly, k.Day)
		if err != nil {
			return 0, eris.Wrapf(err, "publish: parse kpi day %q", k.Day)
		}
		rows = append(rows, []any{
			day, k.NEvents, k.CTR, k.MRR, k.NSessions, k.NoClickRate, k.ReformulationRate,
		})
	}

	n, err := db.BulkUpsert(ctx, p.pool, db.UpsertConfig{
		Table:        p.table("daily_kpis"),
		Columns:      kpiCols,
		ConflictKeys: []string{"day"},
	}, rows)
	if err != nil {
		return 0, err
	}
	zap.L().Info("publish: daily kpis upserted", zap.String("schema", p.schema), zap.Int64("rows", n))
	return n, nil
}

// EvalResult counts the rows written by PublishEval.
type EvalResult struct {
	Summary  int64
	Deleted  int64
	PerQuery int64
}

// PublishEval upserts the summary row and replaces the per-query rows of the
// same (source, k, model, prompt_v) run.
func (p *Publisher) PublishEval(ctx context.Context, s model.EvalSummary, rows []model.EvalRow) (*EvalResult, error) {
	res := &EvalResult{}

	n, err := db.BulkUpsert(ctx, p.pool, db.UpsertConfig{
		Table:        p.table("eval_summary"),
		Columns:      summaryCols,
		ConflictKeys: []string{"source", "k", "model", "prompt_v"},
	}, [][]any{{
		s.Source, s.K, s.Model, s.PromptV, s.NQueries, s.NJudged,
		s.MeanPrecision, s.MeanRecall, s.MRR, s.MeanNDCG, s.JudgePrecision, s.JudgeRecall,
	}})
	if err != nil {
		return nil, err
	}
	res.Summary = n

	del := fmt.Sprintf(
		"DELETE FROM %s WHERE source = $1 AND k = $2 AND model = $3 AND prompt_v = $4",
		p.table("eval_per_query"),
	)
	tag, err := p.pool.Exec(ctx, del, s.Source, s.K, s.Model, s.PromptV)
	if err != nil {
		return nil, eris.Wrap(err, "publish: clear per-query rows")
	}
	res.Deleted = tag.RowsAffected()

	vals := make([][]any, 0, len(rows))
	for _, r := range rows {
		vals = append(vals, []any{
			s.Source, s.K, s.Model, s.PromptV, r.QueryID, r.NRel, r.NCand, r.CandHits,
			r.PrecisionAtK, r.RecallAtK, r.RR, r.NDCGAtK,
			r.Judged, r.NPicked, r.JudgeHits, r.JudgePrec, r.JudgeRecall,
		})
	}
	if res.PerQuery, err = db.CopyInto(ctx, p.pool, p.table("eval_per_query"), perQueryCols, vals); err != nil {
		return nil, err
	}

	zap.L().Info("publish: evaluation published",
		zap.String("schema", p.schema),
		zap.String("source", s.Source),
		zap.String("model", s.Model),
		zap.Int64("per_query", res.PerQuery),
		zap.Int64("replaced", res.Deleted),
	)
	return res, nil
}
