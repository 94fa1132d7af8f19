package evaluation

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/report"
	"github.com/sells-group/search-eval/internal/store"
)

// InspectFile is the default name of the inspection export.
const InspectFile = "inspect_missed_positive_nrel1.csv"

var inspectHeader = []string{
	"query_id", "query_text",
	"qrels_doc_id", "qrels_title", "qrels_text",
	"ollama_doc_id", "ollama_title", "ollama_text",
}

// Single-relevant queries where the judge picked some other slot.
const missedPositivesSQL = `
SELECT
	r.query_id,
	COALESCE(r.query_text, ''),
	r.doc_id, COALESCE(r.title, ''), COALESCE(r.text, ''),
	p.doc_id, COALESCE(pi.title, ''), COALESCE(pi.text, '')
FROM judge_items_for_llm r
JOIN ollama_picks p
	ON p.query_id = r.query_id AND p.model = ? AND p.prompt_v = ?
JOIN judge_items_for_llm pi
	ON pi.query_id = p.query_id AND pi.slot = p.slot
WHERE r.n_rel = 1
  AND r.is_rel = 1
  AND p.doc_id <> r.doc_id
ORDER BY CAST(r.query_id AS INTEGER), r.query_id
LIMIT ?`

// InspectOptions configures Inspect.
type InspectOptions struct {
	Model   string
	PromptV string
	Limit   int
	Out     string
}

// Inspect exports up to Limit queries with one relevant doc where the judge
// chose a different doc, side by side with the qrels doc.
func Inspect(ctx context.Context, q store.Querier, opts InspectOptions) (int, error) {
	if opts.Model == "" {
		return 0, eris.New("evaluation: inspect needs a model")
	}
	if opts.Limit <= 0 {
		return 0, eris.Errorf("evaluation: limit must be > 0, got %d", opts.Limit)
	}

	rows, err := q.QueryContext(ctx, missedPositivesSQL, opts.Model, opts.PromptV, opts.Limit)
	if err != nil {
		return 0, eris.Wrap(err, "evaluation: query missed positives")
	}
	defer rows.Close() //nolint:errcheck

	t := report.Table{Name: "inspect", Header: inspectHeader}
	for rows.Next() {
		rec := make([]string, len(inspectHeader))
		dest := make([]any, len(rec))
		for i := range rec {
			dest[i] = &rec[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return 0, eris.Wrap(err, "evaluation: scan missed positive")
		}
		t.Rows = append(t.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "evaluation: iterate missed positives")
	}

	if err := report.WriteCSV(opts.Out, t); err != nil {
		return 0, err
	}
	zap.L().Info("evaluation: inspection rows written",
		zap.String("model", opts.Model),
		zap.Int("rows", len(t.Rows)),
		zap.String("path", opts.Out),
	)
	return len(t.Rows), nil
}
