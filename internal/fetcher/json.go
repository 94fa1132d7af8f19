package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// maxLineBytes bounds a single JSONL record. Corpus documents with full
// abstracts stay well below it.
const maxLineBytes = 16 << 20

// DecodeJSONLines decodes newline-delimited JSON, sending each record to a
// channel. Blank lines are skipped. Both channels are closed when processing
// completes; a decode error names the 1-based line.
func DecodeJSONLines[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		line := 0
		for sc.Scan() {
			line++
			raw := bytes.TrimSpace(sc.Bytes())
			if len(raw) == 0 {
				continue
			}

			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				errCh <- eris.Wrapf(err, "json: decode line %d", line)
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}
		if err := sc.Err(); err != nil {
			errCh <- eris.Wrap(err, "json: read line")
		}
	}()

	return outCh, errCh
}
