package judge

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/db"
	"github.com/sells-group/search-eval/internal/model"
	"github.com/sells-group/search-eval/internal/progress"
	"github.com/sells-group/search-eval/internal/resilience"
	"github.com/sells-group/search-eval/internal/store"
)

var pickCols = []string{"query_id", "slot", "doc_id", "model", "prompt_v", "created_at"}

// Generator sends one prompt to a text-generation backend and returns the
// raw reply.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// RunOptions configures Run.
type RunOptions struct {
	Model         string
	PromptVersion string
	Prompts       *Prompts
	TextChars     int
	// Sleep is the pause between the end of one judge call and the start of
	// the next.
	Sleep time.Duration
	// MaxAttempts bounds calls per query; transient failures only are
	// retried. Values below 2 mean a single call.
	MaxAttempts int
	// Limit caps the number of queries judged; 0 judges all.
	Limit    int
	Progress io.Writer
}

// RunResult reports a Run.
type RunResult struct {
	Model     string `json:"model"`
	PromptV   string `json:"prompt_v"`
	Queries   int    `json:"queries"`
	Fallbacks int    `json:"fallbacks"`
	Picks     int64  `json:"picks"`
}

// Run asks gen to pick n_rel slots for every query in judge_items_for_llm,
// one query at a time. Prior picks of the (model, prompt version) pair are
// deleted first. A query's picks are written only after its call succeeds;
// a failed call stops the run and keeps the picks written so far.
func Run(ctx context.Context, st *store.DB, gen Generator, opts RunOptions) (*RunResult, error) {
	if opts.Model == "" {
		return nil, eris.New("judge: model is required")
	}
	if opts.PromptVersion == "" {
		opts.PromptVersion = DefaultPromptVersion
	}
	if opts.Prompts == nil {
		opts.Prompts = DefaultPrompts()
	}
	if !opts.Prompts.Has(opts.PromptVersion) {
		return nil, eris.Errorf("judge: unknown prompt version %q (have %s)",
			opts.PromptVersion, strings.Join(opts.Prompts.Versions(), ", "))
	}
	log := zap.L().With(
		zap.String("stage", "judge"),
		zap.String("model", opts.Model),
		zap.String("prompt_v", opts.PromptVersion),
	)
	start := time.Now()

	items, err := LoadItems(ctx, st.SQL())
	if err != nil {
		return nil, err
	}
	groups := groupItems(items)
	if opts.Limit > 0 && len(groups) > opts.Limit {
		groups = groups[:opts.Limit]
	}

	if _, err := st.SQL().ExecContext(ctx,
		"DELETE FROM ollama_picks WHERE model = ? AND prompt_v = ?", opts.Model, opts.PromptVersion); err != nil {
		return nil, eris.Wrap(err, "judge: clear picks")
	}

	retry := resilience.ForAttempts(opts.MaxAttempts, "judge", "generate")

	res := &RunResult{Model: opts.Model, PromptV: opts.PromptVersion}
	bar := progress.New(opts.Progress, int64(len(groups)), "judging")
	for i, g := range groups {
		qid := g[0].QueryID
		if i > 0 {
			if err := pause(ctx, opts.Sleep); err != nil {
				return nil, eris.Wrap(err, "judge: wait")
			}
		}

		prompt, err := opts.Prompts.Render(opts.PromptVersion, NewPromptData(g, opts.TextChars))
		if err != nil {
			return nil, err
		}
		raw, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (string, error) {
			return gen.Generate(ctx, prompt)
		})
		if err != nil {
			return nil, eris.Wrapf(err, "judge: query %s", qid)
		}

		slots, loose := ParseSlots(raw, len(g), g[0].NRel)
		if loose {
			res.Fallbacks++
			log.Debug("judge: loose parse", zap.String("query_id", qid), zap.String("raw", raw), zap.Ints("slots", slots))
		}
		if err := insertPicks(ctx, st, g, slots, opts); err != nil {
			return nil, eris.Wrapf(err, "judge: query %s", qid)
		}
		res.Queries++
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	if err := st.SQL().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ollama_picks WHERE model = ? AND prompt_v = ?",
		opts.Model, opts.PromptVersion).Scan(&res.Picks); err != nil {
		return nil, eris.Wrap(err, "judge: count picks")
	}

	log.Info("judge: picks collected",
		zap.Int("queries", res.Queries),
		zap.Int64("picks", res.Picks),
		zap.Int("fallbacks", res.Fallbacks),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// pause blocks for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func insertPicks(ctx context.Context, st *store.DB, items []model.JudgeItem, slots []int, opts RunOptions) error {
	docBySlot := make(map[int]string, len(items))
	for _, it := range items {
		docBySlot[it.Slot] = it.DocID
	}
	now := time.Now().UTC().Format(store.TimeLayout)

	rows := make([][]any, 0, len(slots))
	for _, s := range slots {
		docID, ok := docBySlot[s]
		if !ok {
			return eris.Errorf("slot %d has no document", s)
		}
		rows = append(rows, []any{items[0].QueryID, s, docID, opts.Model, opts.PromptVersion, now})
	}
	return st.InTx(ctx, func(tx *sql.Tx) error {
		_, err := db.InsertRows(ctx, tx, "ollama_picks", pickCols, rows)
		return err
	})
}

// groupItems splits items, already ordered by query and slot, per query.
func groupItems(items []model.JudgeItem) [][]model.JudgeItem {
	var out [][]model.JudgeItem
	for i := 0; i < len(items); {
		j := i
		for j < len(items) && items[j].QueryID == items[i].QueryID {
			j++
		}
		out = append(out, items[i:j])
		i = j
	}
	return out
}

// LoadItems returns every judge item ordered by query and slot.
func LoadItems(ctx context.Context, q store.Querier) ([]model.JudgeItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT query_id, COALESCE(query_text, ''), n_rel, slot, doc_id,
		       COALESCE(title, ''), COALESCE(text, ''), is_rel
		FROM judge_items_for_llm
		ORDER BY CAST(query_id AS INTEGER), query_id, slot`)
	if err != nil {
		return nil, eris.Wrap(err, "judge: query items")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.JudgeItem
	for rows.Next() {
		var it model.JudgeItem
		if err := rows.Scan(&it.QueryID, &it.QueryText, &it.NRel, &it.Slot, &it.DocID, &it.Title, &it.Text, &it.IsRel); err != nil {
			return nil, eris.Wrap(err, "judge: scan item")
		}
		out = append(out, it)
	}
	return out, eris.Wrap(rows.Err(), "judge: iterate items")
}

// LoadPicks returns the picks of one (model, prompt version) pair ordered by
// query and slot.
func LoadPicks(ctx context.Context, q store.Querier, modelName, promptV string) ([]model.Pick, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT query_id, slot, doc_id, model, prompt_v
		FROM ollama_picks
		WHERE model = ? AND prompt_v = ?
		ORDER BY CAST(query_id AS INTEGER), query_id, slot`, modelName, promptV)
	if err != nil {
		return nil, eris.Wrap(err, "judge: query picks")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Pick
	for rows.Next() {
		var p model.Pick
		if err := rows.Scan(&p.QueryID, &p.Slot, &p.DocID, &p.Model, &p.PromptV); err != nil {
			return nil, eris.Wrap(err, "judge: scan pick")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "judge: iterate picks")
}
