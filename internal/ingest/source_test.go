package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/search-eval/internal/model"
)

func collect(t *testing.T, src Source) ([]model.LogRecord, error) {
	t.Helper()
	recs, errs := src.Records(context.Background())
	var out []model.LogRecord
	for r := range recs {
		out = append(out, r)
	}
	return out, <-errs
}

func TestNewSource_UnknownFormat(t *testing.T) {
	_, err := NewSource("parquet", strings.NewReader(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown query log format")
}

func TestJSONLSource(t *testing.T) {
	input := `{"user_id":"u1","query_id":"q1","query":"weather","query_orig":"Weather","time":"2006-03-01 07:17:12","items":[{"doc_id":"d1","rank":1,"clicked":false},{"doc_id":"d2","rank":2,"clicked":true}]}

{"user_id":"u2","query_orig":"  Cheap   FLIGHTS ","time":"2006-03-01T08:00:00Z"}
`
	src, err := NewSource(FormatJSONL, strings.NewReader(input))
	require.NoError(t, err)

	recs, err := collect(t, src)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "u1", recs[0].UserID)
	assert.Equal(t, "q1", recs[0].QueryID)
	assert.Equal(t, "weather", recs[0].Query)
	assert.Equal(t, "Weather", recs[0].QueryOrig)
	assert.Equal(t, time.Date(2006, 3, 1, 7, 17, 12, 0, time.UTC), recs[0].Time)
	assert.Equal(t, []model.LogItem{{DocID: "d2", Rank: 2, Clicked: true}}, recs[0].Clicks())

	// Missing query and query_id are derived from query_orig.
	assert.Equal(t, "cheap flights", recs[1].Query)
	assert.Equal(t, QueryID("cheap flights"), recs[1].QueryID)
	assert.Equal(t, time.Date(2006, 3, 1, 8, 0, 0, 0, time.UTC), recs[1].Time)
	assert.Empty(t, recs[1].Clicks())
}

func TestJSONLSource_BadTime(t *testing.T) {
	src, err := NewSource(FormatJSONL, strings.NewReader(`{"user_id":"u1","query":"x","time":"not a time"}`+"\n"))
	require.NoError(t, err)

	_, err = collect(t, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 1")
}

func TestJSONLSource_MissingUser(t *testing.T) {
	src, err := NewSource(FormatJSONL, strings.NewReader(`{"query":"x","time":"2006-03-01 07:17:12"}`+"\n"))
	require.NoError(t, err)

	_, err = collect(t, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing user_id")
}

func TestAOLSource_GroupsConsecutiveRows(t *testing.T) {
	input := strings.Join([]string{
		"AnonID\tQuery\tQueryTime\tItemRank\tClickURL",
		"142\trentdirect.com\t2006-03-01 07:17:12\t\t",
		"217\tlottery\t2006-03-01 11:58:51\t1\thttp://www.calottery.com",
		"217\tlottery\t2006-03-01 11:58:51\t3\thttp://www.lottery.com",
		"217\tlottery\t2006-03-01 12:01:02\t\t",
		"993\t-\t2006-03-02 09:00:00\t\t",
	}, "\n") + "\n"

	src, err := NewSource(FormatAOL, strings.NewReader(input))
	require.NoError(t, err)

	recs, err := collect(t, src)
	require.NoError(t, err)
	require.Len(t, recs, 4)

	assert.Equal(t, "142", recs[0].UserID)
	assert.Equal(t, "rentdirect.com", recs[0].Query)
	assert.Empty(t, recs[0].Items)

	assert.Equal(t, "217", recs[1].UserID)
	assert.Equal(t, QueryID("lottery"), recs[1].QueryID)
	assert.Equal(t, []model.LogItem{
		{DocID: "http://www.calottery.com", Rank: 1, Clicked: true},
		{DocID: "http://www.lottery.com", Rank: 3, Clicked: true},
	}, recs[1].Items)

	// Same query at a later time is a new event.
	assert.Equal(t, time.Date(2006, 3, 1, 12, 1, 2, 0, time.UTC), recs[2].Time)
	assert.Empty(t, recs[2].Items)

	// Anonymized queries become empty.
	assert.Empty(t, recs[3].Query)
	assert.Empty(t, recs[3].QueryID)
}

func TestAOLSource_BadRank(t *testing.T) {
	input := "AnonID\tQuery\tQueryTime\tItemRank\tClickURL\n1\tx\t2006-03-01 07:17:12\tfirst\thttp://a\n"
	src, err := NewSource(FormatAOL, strings.NewReader(input))
	require.NoError(t, err)

	_, err = collect(t, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item rank")
}
