// Package evalset samples query-log events into a human relevance
// annotation set and enriches the candidates with document metadata.
package evalset

import (
	"context"
	"math/rand"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/report"
	"github.com/sells-group/search-eval/internal/store"
)

// Candidate sources written to eval_candidates.csv.
const (
	SourceClickedBest    = "clicked_best"
	SourceRandomNegative = "random_negative"
)

// Output file names.
const (
	QueriesFile    = "eval_queries.csv"
	CandidatesFile = "eval_candidates.csv"
)

var (
	queryHeader     = []string{"event_id", "query_norm", "ts", "has_click"}
	candidateHeader = []string{"event_id", "query_norm", "candidate_doc_id", "candidate_source", "candidate_rank_if_clicked", "relevance_0_3", "notes"}
)

// Options configures Build.
type Options struct {
	NEvents       int
	ClickedEvents int
	NegPerQuery   int
	Seed          int64
	Dir           string
}

// Event is a sampled search event.
type Event struct {
	EventID   int64
	QueryNorm string
	TS        string
	HasClick  bool
}

// Row is one candidate to annotate. RankIfClicked is nil for negatives.
type Row struct {
	EventID       int64
	QueryNorm     string
	DocID         string
	Source        string
	RankIfClicked *int
}

// Set is a sampled annotation set.
type Set struct {
	Events     []Event
	Candidates []Row
}

// Sample draws up to ClickedEvents events with clicks and
// NEvents-ClickedEvents without, among events with a non-empty normalized
// query, ordered by time. Each event gets its best-ranked clicked document as
// a positive and up to NegPerQuery random clicked documents from the whole
// log as negatives. The same seed yields the same set.
func Sample(ctx context.Context, q store.Querier, opts Options) (*Set, error) {
	if opts.ClickedEvents < 0 || opts.ClickedEvents > opts.NEvents {
		return nil, eris.Errorf("evalset: clicked events %d must be within [0, %d]", opts.ClickedEvents, opts.NEvents)
	}
	if opts.NegPerQuery < 0 {
		return nil, eris.Errorf("evalset: negatives per query must be >= 0, got %d", opts.NegPerQuery)
	}

	events, err := loadEvents(ctx, q)
	if err != nil {
		return nil, err
	}
	pool, err := loadDocPool(ctx, q)
	if err != nil {
		return nil, err
	}
	best, err := loadBestClicks(ctx, q)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	var clicked, unclicked []Event
	for _, e := range events {
		if e.HasClick {
			clicked = append(clicked, e)
		} else {
			unclicked = append(unclicked, e)
		}
	}
	picked := append(pick(rng, clicked, opts.ClickedEvents), pick(rng, unclicked, opts.NEvents-opts.ClickedEvents)...)
	sort.Slice(picked, func(i, j int) bool {
		if picked[i].TS != picked[j].TS {
			return picked[i].TS < picked[j].TS
		}
		return picked[i].EventID < picked[j].EventID
	})

	set := &Set{Events: picked}
	for _, e := range picked {
		exclude := ""
		if b, ok := best[e.EventID]; ok {
			rank := b.rank
			set.Candidates = append(set.Candidates, Row{
				EventID:       e.EventID,
				QueryNorm:     e.QueryNorm,
				DocID:         b.docID,
				Source:        SourceClickedBest,
				RankIfClicked: &rank,
			})
			exclude = b.docID
		}
		for _, doc := range sampleDocs(rng, pool, opts.NegPerQuery, exclude) {
			set.Candidates = append(set.Candidates, Row{
				EventID:   e.EventID,
				QueryNorm: e.QueryNorm,
				DocID:     doc,
				Source:    SourceRandomNegative,
			})
		}
	}
	return set, nil
}

// Build samples a set and writes eval_queries.csv and eval_candidates.csv to
// opts.Dir.
func Build(ctx context.Context, q store.Querier, opts Options) (*Set, []string, error) {
	set, err := Sample(ctx, q, opts)
	if err != nil {
		return nil, nil, err
	}

	queries := report.Table{Name: "eval_queries", Header: queryHeader}
	for _, e := range set.Events {
		queries.Rows = append(queries.Rows, []string{report.Int(e.EventID), e.QueryNorm, e.TS, report.Bool(e.HasClick)})
	}
	cands := report.Table{Name: "eval_candidates", Header: candidateHeader}
	for _, c := range set.Candidates {
		rank := ""
		if c.RankIfClicked != nil {
			rank = report.Int(*c.RankIfClicked)
		}
		cands.Rows = append(cands.Rows, []string{report.Int(c.EventID), c.QueryNorm, c.DocID, c.Source, rank, "", ""})
	}

	paths := []string{filepath.Join(opts.Dir, QueriesFile), filepath.Join(opts.Dir, CandidatesFile)}
	if err := report.WriteCSV(paths[0], queries); err != nil {
		return nil, nil, err
	}
	if err := report.WriteCSV(paths[1], cands); err != nil {
		return nil, nil, err
	}

	zap.L().Info("evalset: sample written",
		zap.Int("events", len(set.Events)),
		zap.Int("candidates", len(set.Candidates)),
		zap.Int64("seed", opts.Seed),
	)
	return set, paths, nil
}

// pick returns up to n events chosen uniformly at random.
func pick(rng *rand.Rand, events []Event, n int) []Event {
	if n > len(events) {
		n = len(events)
	}
	out := make([]Event, len(events))
	copy(out, events)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out[:n]
}

// sampleDocs draws up to k distinct docs from pool, skipping exclude.
func sampleDocs(rng *rand.Rand, pool []string, k int, exclude string) []string {
	candidates := make([]string, 0, len(pool))
	for _, d := range pool {
		if d != exclude {
			candidates = append(candidates, d)
		}
	}
	if k > len(candidates) {
		k = len(candidates)
	}
	// Partial Fisher-Yates: the first k slots end up a uniform sample.
	for i := 0; i < k; i++ {
		j := i + rng.Intn(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	return candidates[:k]
}

func loadEvents(ctx context.Context, q store.Querier) ([]Event, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT
			se.event_id,
			se.query_norm,
			se.ts,
			EXISTS (SELECT 1 FROM click_events ce WHERE ce.event_id = se.event_id) AS has_click
		FROM search_events se
		WHERE se.query_norm IS NOT NULL AND length(trim(se.query_norm)) > 0
		ORDER BY se.event_id`)
	if err != nil {
		return nil, eris.Wrap(err, "evalset: query events")
	}
	defer rows.Close() //nolint:errcheck

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.EventID, &e.QueryNorm, &e.TS, &e.HasClick); err != nil {
			return nil, eris.Wrap(err, "evalset: scan event")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "evalset: iterate events")
}

func loadDocPool(ctx context.Context, q store.Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT doc_id FROM click_events
		WHERE doc_id IS NOT NULL
		ORDER BY doc_id`)
	if err != nil {
		return nil, eris.Wrap(err, "evalset: query doc pool")
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, eris.Wrap(err, "evalset: scan doc")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "evalset: iterate doc pool")
}

type bestClick struct {
	docID string
	rank  int
}

// loadBestClicks returns each event's best-ranked clicked doc, ties broken
// by doc id.
func loadBestClicks(ctx context.Context, q store.Querier) (map[int64]bestClick, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT event_id, doc_id, best_rank FROM (
			SELECT
				event_id,
				doc_id,
				COALESCE(MIN(rank), 0) AS best_rank,
				ROW_NUMBER() OVER (PARTITION BY event_id ORDER BY COALESCE(MIN(rank), 0), doc_id) AS rn
			FROM click_events
			GROUP BY event_id, doc_id
		)
		WHERE rn = 1`)
	if err != nil {
		return nil, eris.Wrap(err, "evalset: query best clicks")
	}
	defer rows.Close() //nolint:errcheck

	out := map[int64]bestClick{}
	for rows.Next() {
		var (
			id int64
			b  bestClick
		)
		if err := rows.Scan(&id, &b.docID, &b.rank); err != nil {
			return nil, eris.Wrap(err, "evalset: scan best click")
		}
		out[id] = b
	}
	return out, eris.Wrap(rows.Err(), "evalset: iterate best clicks")
}
