package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
)

// conn is satisfied by both *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// upsertClause renders the conflict handling that follows INSERT ... VALUES
// for one backend.
type upsertClause func(conflictCols, updateCols []string) string

func sqliteUpsert(conflictCols, updateCols []string) string {
	sets := make([]string, len(updateCols))
	for i, c := range updateCols {
		sets[i] = c + " = excluded." + c
	}
	return fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET %s", strings.Join(conflictCols, ", "), strings.Join(sets, ", "))
}

func mysqlUpsert(_ []string, updateCols []string) string {
	sets := make([]string, len(updateCols))
	for i, c := range updateCols {
		sets[i] = c + " = VALUES(" + c + ")"
	}
	return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

// executor implements Querier over a conn. Table names, where clauses and
// column names come from application code; values are always bound.
type executor struct {
	c      conn
	upsert upsertClause
}

func (e executor) Select(ctx context.Context, dest any, query string, args ...any) error {
	rows, err := e.c.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows, dest)
}

func (e executor) Get(ctx context.Context, dest any, query string, args ...any) error {
	rows, err := e.c.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanRow(rows, dest)
}

func (e executor) Exec(ctx context.Context, query string, args ...any) error {
	_, err := e.c.ExecContext(ctx, query, args...)
	return err
}

func (e executor) Insert(ctx context.Context, table string, record any) (int64, error) {
	cols, vals := columnsOf(record, true)
	// nosemgrep: go.lang.security.audit.database.string-formatted-query.string-formatted-query
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), bindVars(len(cols)))
	res, err := e.c.ExecContext(ctx, query, vals...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return res.LastInsertId()
}

func (e executor) Update(ctx context.Context, table string, record any, where string, args ...any) error {
	cols, vals := columnsOf(record, false)
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	// nosemgrep: go.lang.security.audit.database.string-formatted-query.string-formatted-query
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), where)
	if _, err := e.c.ExecContext(ctx, query, append(vals, args...)...); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return nil
}

func (e executor) Upsert(ctx context.Context, table string, record any, conflictCols []string) error {
	cols, vals := columnsOf(record, true)
	update := make([]string, 0, len(cols))
	for _, c := range cols {
		if !slices.Contains(conflictCols, c) {
			update = append(update, c)
		}
	}
	// nosemgrep: go.lang.security.audit.database.string-formatted-query.string-formatted-query
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) %s",
		table, strings.Join(cols, ", "), bindVars(len(cols)), e.upsert(conflictCols, update))
	if _, err := e.c.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("upsert into %s: %w", table, err)
	}
	return nil
}

// inTx runs fn in a transaction on db, rolling back on error or panic.
func inTx(ctx context.Context, db *sql.DB, upsert upsertClause, fn func(q Querier) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(executor{c: tx, upsert: upsert}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func bindVars(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
