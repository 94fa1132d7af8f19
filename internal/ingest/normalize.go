package ingest

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// queryNamespace scopes name-based query ids.
var queryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("search-eval/query"))

var folder = cases.Fold()

// NormalizeQuery applies NFKC, case folding and whitespace collapsing.
func NormalizeQuery(q string) string {
	q = norm.NFKC.String(q)
	q = folder.String(q)
	return strings.Join(strings.Fields(q), " ")
}

// QueryID derives a stable id from a normalized query. Empty queries get an
// empty id.
func QueryID(normalized string) string {
	if normalized == "" {
		return ""
	}
	return uuid.NewSHA1(queryNamespace, []byte(normalized)).String()
}
