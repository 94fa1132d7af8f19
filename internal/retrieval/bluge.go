package retrieval

import (
	"context"
	"strings"

	"github.com/blugelabs/bluge"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/search-eval/internal/store"
)

// SourceBluge labels candidates ranked by the in-memory bluge index.
const SourceBluge = "bluge_bm25"

const blugeBatchSize = 1000

// BlugeIndex is an in-memory BM25 index over document title and text.
type BlugeIndex struct {
	writer *bluge.Writer
	reader *bluge.Reader
}

// NewBlugeIndex indexes every row of docs.
func NewBlugeIndex(ctx context.Context, q store.Querier) (*BlugeIndex, error) {
	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: open bluge writer")
	}

	n, err := indexDocs(ctx, q, writer)
	if err != nil {
		writer.Close() //nolint:errcheck
		return nil, err
	}

	reader, err := writer.Reader()
	if err != nil {
		writer.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "retrieval: open bluge reader")
	}
	zap.L().Info("retrieval: bluge index built", zap.Int("docs", n))
	return &BlugeIndex{writer: writer, reader: reader}, nil
}

func indexDocs(ctx context.Context, q store.Querier, w *bluge.Writer) (int, error) {
	rows, err := q.QueryContext(ctx, "SELECT doc_id, COALESCE(title, ''), COALESCE(text, '') FROM docs ORDER BY doc_id")
	if err != nil {
		return 0, eris.Wrap(err, "retrieval: query docs")
	}
	defer rows.Close() //nolint:errcheck

	batch := bluge.NewBatch()
	pending, total := 0, 0
	flush := func() error {
		if pending == 0 {
			return nil
		}
		if err := w.Batch(batch); err != nil {
			return eris.Wrap(err, "retrieval: bluge batch")
		}
		batch.Reset()
		pending = 0
		return nil
	}

	for rows.Next() {
		var id, title, text string
		if err := rows.Scan(&id, &title, &text); err != nil {
			return total, eris.Wrap(err, "retrieval: scan doc")
		}
		doc := bluge.NewDocument(id).
			AddField(bluge.NewTextField("title", title)).
			AddField(bluge.NewTextField("text", text))
		batch.Update(doc.ID(), doc)
		pending++
		total++
		if pending >= blugeBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return total, eris.Wrap(err, "retrieval: iterate docs")
	}
	return total, flush()
}

func (b *BlugeIndex) Source() string { return SourceBluge }

func (b *BlugeIndex) Search(ctx context.Context, text string, k int) ([]Hit, error) {
	terms := Terms(text)
	if len(terms) == 0 || k <= 0 {
		return nil, nil
	}
	joined := strings.Join(terms, " ")

	query := bluge.NewBooleanQuery().
		AddShould(bluge.NewMatchQuery(joined).SetField("title")).
		AddShould(bluge.NewMatchQuery(joined).SetField("text"))
	req := bluge.NewTopNSearch(k, query)

	it, err := b.reader.Search(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: bluge search")
	}

	var hits []Hit
	for {
		match, err := it.Next()
		if err != nil {
			return nil, eris.Wrap(err, "retrieval: bluge next")
		}
		if match == nil {
			break
		}
		var docID string
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				docID = string(value)
				return false
			}
			return true
		})
		if err != nil {
			return nil, eris.Wrap(err, "retrieval: bluge stored fields")
		}
		hits = append(hits, Hit{DocID: docID, Score: match.Score})
	}
	return hits, nil
}

func (b *BlugeIndex) Close() error {
	if err := b.reader.Close(); err != nil {
		b.writer.Close() //nolint:errcheck
		return eris.Wrap(err, "retrieval: close bluge reader")
	}
	return eris.Wrap(b.writer.Close(), "retrieval: close bluge writer")
}
