// Package store is the typed access layer over the embedded SQLite database.
// Migrations and repositories see only the Executor interface; nothing outside
// this package touches the driver handle for schema work.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
)

// Executor is the narrow query surface handed to migrations.
type Executor interface {
	Execute(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	QueryOne(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	TableExists(ctx context.Context, table string) (bool, error)
	ColumnExists(ctx context.Context, table, column string) (bool, error)
	AddColumn(ctx context.Context, table, column, definition string) (bool, error)
}

// Store owns the database handle.
type Store struct {
	db *sqlx.DB
	executor
}

// New wraps an opened database.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, executor: executor{ext: db}}
}

// DB exposes the handle to repositories.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Ping checks that the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTx runs fn inside a transaction and commits when it returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(Executor) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(executor{ext: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type executor struct {
	ext sqlx.ExtContext
}

func (e executor) Execute(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return e.ext.ExecContext(ctx, query, args...)
}

func (e executor) QueryAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, e.ext, dest, query, args...)
}

// QueryOne returns sql.ErrNoRows when nothing matches.
func (e executor) QueryOne(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, e.ext, dest, query, args...)
}

func (e executor) TableExists(ctx context.Context, table string) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, e.ext, &count, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return count > 0, nil
}

func (e executor) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, e.ext, &count, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column)
	if err != nil {
		return false, fmt.Errorf("check column %s.%s: %w", table, column, err)
	}
	return count > 0, nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AddColumn adds the column unless the table already has it. The boolean
// reports whether DDL was executed.
func (e executor) AddColumn(ctx context.Context, table, column, definition string) (bool, error) {
	if !identifierPattern.MatchString(table) || !identifierPattern.MatchString(column) {
		return false, fmt.Errorf("invalid identifier %q.%q", table, column)
	}
	exists, err := e.ColumnExists(ctx, table, column)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := e.ext.ExecContext(ctx, stmt); err != nil {
		return false, fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return true, nil
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
