package store

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/search-eval/internal/store/migrations"
)

const (
	// TimeLayout is the UTC text format of every stored timestamp.
	TimeLayout = "2006-01-02 15:04:05"
	// DayLayout is the text format of every stored day bucket.
	DayLayout = "2006-01-02"
)

// Kind selects the migration set applied to a database file.
type Kind string

const (
	KindQueryLog Kind = "querylog"
	KindEval     Kind = "eval"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is a single SQLite database handle shared by one command invocation.
type DB struct {
	db   *sql.DB
	path string
}

var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
}

// Open opens the SQLite database at path, creating parent directories.
// Pragmas are passed in the DSN so every pooled connection gets them.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, eris.New("sqlite: empty database path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: create dir for %s", path)
		}
	}

	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "sqlite: ping %s", path)
	}
	return &DB{db: db, path: path}, nil
}

// New wraps an existing handle. Used with sqlmock in tests.
func New(db *sql.DB) *DB {
	return &DB{db: db}
}

// SQL returns the underlying handle.
func (s *DB) SQL() *sql.DB { return s.db }

// Path returns the file path the database was opened from.
func (s *DB) Path() string { return s.path }

func (s *DB) Close() error {
	return s.db.Close()
}

var migrateMu sync.Mutex

type gooseLogger struct {
	log *zap.SugaredLogger
}

func (l *gooseLogger) Fatalf(format string, v ...any) {
	l.log.Fatalf(strings.TrimSpace(format), v...)
}

func (l *gooseLogger) Printf(format string, v ...any) {
	l.log.Debugf(strings.TrimSpace(format), v...)
}

// Migrate applies the embedded migrations of the given kind. Each kind keeps
// its own goose version table so both sets can share a file.
func (s *DB) Migrate(ctx context.Context, kind Kind) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(&gooseLogger{log: zap.S()})
	goose.SetTableName("goose_" + string(kind) + "_version")

	if err := goose.SetDialect("sqlite3"); err != nil {
		return eris.Wrap(err, "sqlite: set goose dialect")
	}
	if err := goose.UpContext(ctx, s.db, string(kind)); err != nil {
		return eris.Wrapf(err, "sqlite: migrate %s", kind)
	}
	return nil
}

// OpenMigrated opens path and applies the migrations of kind.
func OpenMigrated(ctx context.Context, path string, kind Kind) (*DB, error) {
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx, kind); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// InTx runs fn inside a transaction, rolling back if fn fails.
func (s *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			zap.L().Warn("sqlite: rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

// ReplaceAll clears tables and reloads them with fn in one transaction, so
// readers see either the old contents or the new ones.
func (s *DB) ReplaceAll(ctx context.Context, tables []string, fn func(tx *sql.Tx) error) error {
	for _, t := range tables {
		if err := ValidateIdent(t); err != nil {
			return err
		}
	}
	return s.InTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return eris.Wrapf(err, "sqlite: clear %s", t)
			}
		}
		return fn(tx)
	})
}

// Count returns the number of rows in table.
func (s *DB) Count(ctx context.Context, table string) (int64, error) {
	return Count(ctx, s.db, table)
}

// Count returns the number of rows in table using q.
func Count(ctx context.Context, q Querier, table string) (int64, error) {
	if err := ValidateIdent(table); err != nil {
		return 0, err
	}
	var n int64
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "sqlite: count %s", table)
	}
	return n, nil
}

// Tables lists the user tables of the database, excluding goose bookkeeping
// and FTS shadow tables.
func (s *DB) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table'
		   AND name NOT LIKE 'sqlite_%'
		   AND name NOT LIKE 'goose_%'
		   AND name NOT LIKE '%_fts_%'
		 ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tables")
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan table name")
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateIdent rejects anything that is not a bare SQL identifier.
func ValidateIdent(name string) error {
	if !identRe.MatchString(name) {
		return eris.Errorf("sqlite: invalid identifier %q", name)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}
