// Package retrieval ranks benchmark documents for each query with a lexical
// BM25 engine and stores the top-K as candidates.
package retrieval

import (
	"context"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/search-eval/internal/store"
)

// Engine names accepted by NewEngine.
const (
	EngineFTS5  = "fts5"
	EngineBluge = "bluge"
)

// Hit is one scored document. Higher scores rank first.
type Hit struct {
	DocID string
	Score float64
}

// Engine scores documents against a query text.
type Engine interface {
	// Source is the label stored with the engine's candidates.
	Source() string
	// Search returns at most k hits in descending score order.
	Search(ctx context.Context, text string, k int) ([]Hit, error)
	Close() error
}

// NewEngine builds the named engine over the documents in st.
func NewEngine(ctx context.Context, name string, st *store.DB) (Engine, error) {
	switch name {
	case EngineFTS5:
		return NewFTS5(st.SQL()), nil
	case EngineBluge:
		return NewBlugeIndex(ctx, st.SQL())
	default:
		return nil, eris.Errorf("retrieval: unknown engine %q", name)
	}
}

// Terms splits text into lowercase letter/digit runs, first occurrence
// order, without duplicates.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
