// Package query executes generated SQL against the target database on a
// fresh connection per call.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JonMunkholm/DbChat/internal/logging"

	_ "github.com/jackc/pgx/v5/stdlib"  // driver "pgx"
	_ "github.com/lib/pq"               // driver "postgres"
	_ "github.com/microsoft/go-mssqldb" // driver "sqlserver"
	_ "modernc.org/sqlite"              // driver "sqlite"
)

var (
	// ErrEmptyQuery is returned for blank SQL.
	ErrEmptyQuery = errors.New("query is required")

	// ErrReadOnly is returned by the read-only guard.
	ErrReadOnly = errors.New("only SELECT-family statements are allowed")
)

// DatabaseError is a connection or statement failure. Error returns the
// driver's message only; SQL is kept for server-side logging.
type DatabaseError struct {
	Message string
	SQL     string
	Err     error
}

func (e *DatabaseError) Error() string { return e.Message }

func (e *DatabaseError) Unwrap() error { return e.Err }

func dbError(sqlText string, err error) *DatabaseError {
	return &DatabaseError{Message: err.Error(), SQL: sqlText, Err: err}
}

// OpenFunc opens a database handle. It matches sql.Open.
type OpenFunc func(driver, dsn string) (*sql.DB, error)

// Options configures an Executor.
type Options struct {
	// ReadOnly rejects statements outside the SELECT family before a
	// connection is opened.
	ReadOnly bool

	// Timeout bounds each call. Zero means no extra deadline.
	Timeout time.Duration

	Logger *zap.Logger

	// Open replaces sql.Open, for tests.
	Open OpenFunc
}

// Executor runs one statement per call on its own connection.
type Executor struct {
	driver string
	dsn    string
	opts   Options
	logger *zap.Logger
}

// NewExecutor returns an Executor for a database/sql driver name and DSN.
func NewExecutor(driver, dsn string, opts Options) *Executor {
	if opts.Open == nil {
		opts.Open = sql.Open
	}
	return &Executor{
		driver: driver,
		dsn:    dsn,
		opts:   opts,
		logger: logging.OrNop(opts.Logger).Named("query"),
	}
}

// Driver returns the configured driver name.
func (e *Executor) Driver() string { return e.driver }

// Execute runs sqlText. SELECT-family statements return their rows with
// column order preserved; anything else runs in a transaction and returns
// an empty result after commit. Every failure is a *DatabaseError, and the
// connection is closed before Execute returns.
func (e *Executor) Execute(ctx context.Context, sqlText string) (*Result, error) {
	sqlText = strings.TrimSpace(sqlText)
	if sqlText == "" {
		return nil, &DatabaseError{Message: ErrEmptyQuery.Error(), Err: ErrEmptyQuery}
	}

	selecting := IsSelect(sqlText)
	if e.opts.ReadOnly && !selecting {
		e.logger.Warn("rejected non-select statement", zap.String("sql", sqlText))
		return nil, &DatabaseError{Message: ErrReadOnly.Error(), SQL: sqlText, Err: ErrReadOnly}
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	e.logger.Info("executing sql", zap.String("sql", sqlText), zap.Bool("select", selecting))
	start := time.Now()

	db, err := e.opts.Open(e.driver, e.dsn)
	if err != nil {
		return nil, e.fail(sqlText, fmt.Errorf("open database: %w", err))
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	var res *Result
	if selecting {
		res, err = e.fetch(ctx, db, sqlText)
	} else {
		res, err = e.exec(ctx, db, sqlText)
	}
	if err != nil {
		return nil, e.fail(sqlText, err)
	}

	e.logger.Debug("sql complete",
		zap.Int("rows", len(res.Rows)),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

func (e *Executor) fail(sqlText string, err error) *DatabaseError {
	dbErr := dbError(sqlText, err)
	e.logger.Error("sql failed", zap.String("sql", sqlText), zap.Error(err))
	return dbErr
}

func (e *Executor) fetch(ctx context.Context, db *sql.DB, sqlText string) (*Result, error) {
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	typeNames := make([]string, len(types))
	for i, ct := range types {
		typeNames[i] = ct.DatabaseTypeName()
	}

	res := &Result{Columns: columns, Rows: []Row{}}
	for rows.Next() {
		values, err := scanRow(rows, len(columns))
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, Row{columns: columns, values: normalizeRow(values, typeNames)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Executor) exec(ctx context.Context, db *sql.DB, sqlText string) (res *Result, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				e.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	result, err := tx.ExecContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}

	if n, raErr := result.RowsAffected(); raErr == nil {
		e.logger.Debug("statement committed", zap.Int64("rows_affected", n))
	}
	return &Result{Rows: []Row{}}, nil
}

func scanRow(rows *sql.Rows, numCols int) ([]any, error) {
	values := make([]any, numCols)
	ptrs := make([]any, numCols)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}
