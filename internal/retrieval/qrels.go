package retrieval

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/search-eval/internal/model"
	"github.com/sells-group/search-eval/internal/store"
)

// LoadQrels returns one judgment per (query, doc), keeping the highest grade
// when a pair is judged more than once.
func LoadQrels(ctx context.Context, q store.Querier) ([]model.Qrel, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT query_id, doc_id, MAX(relevance), MIN(iteration)
		FROM qrels
		GROUP BY query_id, doc_id
		ORDER BY CAST(query_id AS INTEGER), query_id, doc_id`)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: query qrels")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Qrel
	for rows.Next() {
		var r model.Qrel
		if err := rows.Scan(&r.QueryID, &r.DocID, &r.Relevance, &r.Iteration); err != nil {
			return nil, eris.Wrap(err, "retrieval: scan qrel")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "retrieval: iterate qrels")
}

// Judged groups graded judgments by query. Only positive grades are kept, so
// a query appears iff it has at least one relevant doc. Order follows qrels.
type Judged struct {
	QueryIDs []string
	Grades   map[string]map[string]int
}

// GroupRelevant builds Judged from qrels.
func GroupRelevant(qrels []model.Qrel) *Judged {
	j := &Judged{Grades: map[string]map[string]int{}}
	for _, r := range qrels {
		if r.Relevance <= 0 {
			continue
		}
		g, ok := j.Grades[r.QueryID]
		if !ok {
			g = map[string]int{}
			j.Grades[r.QueryID] = g
			j.QueryIDs = append(j.QueryIDs, r.QueryID)
		}
		g[r.DocID] = max(g[r.DocID], r.Relevance)
	}
	return j
}

// ByQuery groups candidates by query id, dropping repeated docs of a query so
// that appended reruns do not count twice. Rank order is preserved.
func ByQuery(cands []model.Candidate) map[string][]model.Candidate {
	out := map[string][]model.Candidate{}
	seen := map[string]map[string]bool{}
	for _, c := range cands {
		s, ok := seen[c.QueryID]
		if !ok {
			s = map[string]bool{}
			seen[c.QueryID] = s
		}
		if s[c.DocID] {
			continue
		}
		s[c.DocID] = true
		out[c.QueryID] = append(out[c.QueryID], c)
	}
	return out
}
