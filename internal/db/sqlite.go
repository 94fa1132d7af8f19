package db

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/rotisserie/eris"
)

// maxSQLiteVars is SQLITE_MAX_VARIABLE_NUMBER for SQLite >= 3.32.
const maxSQLiteVars = 32766

var sqlite = goqu.Dialect("sqlite3")

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertRows inserts rows into a SQLite table with prepared multi-row
// INSERT statements, chunked below the bound-variable limit.
func InsertRows(ctx context.Context, ex Execer, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, eris.Errorf("db: insert %s: no columns specified", table)
	}

	cols := make([]any, len(columns))
	for i, c := range columns {
		cols[i] = c
	}

	chunk := maxSQLiteVars / len(columns)
	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))

		vals := make([][]any, 0, end-start)
		for _, r := range rows[start:end] {
			if len(r) != len(columns) {
				return total, eris.Errorf("db: insert %s: row has %d values, want %d", table, len(r), len(columns))
			}
			vals = append(vals, r)
		}

		query, args, err := sqlite.Insert(table).Cols(cols...).Vals(vals...).Prepared(true).ToSQL()
		if err != nil {
			return total, eris.Wrapf(err, "db: build insert for %s", table)
		}
		res, err := ex.ExecContext(ctx, query, args...)
		if err != nil {
			return total, eris.Wrapf(err, "db: insert into %s", table)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, eris.Wrap(err, "db: rows affected")
		}
		total += n
	}
	return total, nil
}
