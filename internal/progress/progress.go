// Package progress builds the terminal progress bars shown by long loops.
package progress

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// New returns a bar writing to w. A nil w discards output; total <= 0 renders
// a spinner.
func New(w io.Writer, total int64, desc string) *progressbar.ProgressBar {
	if w == nil {
		w = io.Discard
	}
	if total <= 0 {
		total = -1
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(w, "\n") }),
	)
}
