package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newSQLite(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "insert.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() }) //nolint:errcheck

	_, err = sqlDB.Exec(`CREATE TABLE candidates (query_id TEXT, doc_id TEXT, rank INTEGER, source TEXT)`)
	require.NoError(t, err)
	return sqlDB
}

func TestInsertRows_Empty(t *testing.T) {
	n, err := InsertRows(context.Background(), nil, "candidates", []string{"query_id"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestInsertRows_NoColumns(t *testing.T) {
	_, err := InsertRows(context.Background(), nil, "candidates", nil, [][]any{{"q1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestInsertRows_Success(t *testing.T) {
	sqlDB := newSQLite(t)
	ctx := context.Background()

	cols := []string{"query_id", "doc_id", "rank", "source"}
	n, err := InsertRows(ctx, sqlDB, "candidates", cols, [][]any{
		{"q1", "d1", 1, "bm25"},
		{"q1", "d2", 2, "bm25"},
		{"q2", "d'3", 1, "bm25"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	var doc string
	require.NoError(t, sqlDB.QueryRowContext(ctx, `SELECT doc_id FROM candidates WHERE query_id = 'q2'`).Scan(&doc))
	assert.Equal(t, "d'3", doc)
}

func TestInsertRows_NullValue(t *testing.T) {
	sqlDB := newSQLite(t)
	ctx := context.Background()

	_, err := InsertRows(ctx, sqlDB, "candidates", []string{"query_id", "doc_id", "rank", "source"}, [][]any{
		{"q1", "d1", nil, "bm25"},
	})
	require.NoError(t, err)

	var rank sql.NullInt64
	require.NoError(t, sqlDB.QueryRowContext(ctx, `SELECT rank FROM candidates`).Scan(&rank))
	assert.False(t, rank.Valid)
}

func TestInsertRows_Chunked(t *testing.T) {
	sqlDB := newSQLite(t)
	ctx := context.Background()

	cols := []string{"query_id", "doc_id", "rank", "source"}
	total := maxSQLiteVars/len(cols) + 50
	rows := make([][]any, total)
	for i := range rows {
		rows[i] = []any{"q", fmt.Sprintf("d%d", i), i + 1, "bm25"}
	}

	n, err := InsertRows(ctx, sqlDB, "candidates", cols, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(total), n)

	var count int
	require.NoError(t, sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM candidates`).Scan(&count))
	assert.Equal(t, total, count)
}

func TestInsertRows_RowWidthMismatch(t *testing.T) {
	sqlDB := newSQLite(t)

	_, err := InsertRows(context.Background(), sqlDB, "candidates", []string{"query_id", "doc_id"}, [][]any{{"q1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row has 1 values, want 2")
}
