// Package store implements the repositories used by the validators, the
// scan engine, the tracker and the gateway on top of database.DB.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/internal/database"
	"github.com/CosmoTheDev/ctrlscan-api/internal/endpoint"
	"github.com/CosmoTheDev/ctrlscan-api/internal/engine"
	"github.com/CosmoTheDev/ctrlscan-api/internal/findings"
	"github.com/CosmoTheDev/ctrlscan-api/internal/ingest"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tracker"
)

// Store is the single repository over the configured database.
type Store struct {
	db database.DB
}

func New(db database.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying database for health checks.
func (s *Store) DB() database.DB { return s.db }

// Page selects a window of a list; a zero Limit means everything.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) clause() (string, []any) {
	if p.Limit <= 0 {
		return "", nil
	}
	return " LIMIT ? OFFSET ?", []any{p.Limit, p.Offset}
}

type countRow struct {
	N int `db:"n"`
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var c countRow
	if err := s.db.Get(ctx, &c, query, args...); err != nil {
		return 0, err
	}
	return c.N, nil
}

// notFound turns sql.ErrNoRows into an apierr NotFound that still
// unwraps to sql.ErrNoRows.
func notFound(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apierr.NotFound(what).Wrap(sql.ErrNoRows)
	}
	return fmt.Errorf("loading %s %d: %w", strings.ToLower(what), id, err)
}

// deleteAll runs the cascade of deletes for one row in a single transaction.
func (s *Store) deleteAll(ctx context.Context, what string, id int64, stmts ...string) error {
	return s.db.InTx(ctx, func(q database.Querier) error {
		for _, stmt := range stmts {
			if err := q.Exec(ctx, stmt, id); err != nil {
				return fmt.Errorf("deleting %s %d: %w", what, id, err)
			}
		}
		return nil
	})
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

var (
	_ endpoint.Store        = (*Store)(nil)
	_ findings.Store        = (*Store)(nil)
	_ findings.PolicySource = (*Store)(nil)
	_ ingest.Lookup         = (*Store)(nil)
	_ engine.Store          = (*Store)(nil)
	_ tracker.Store         = (*Store)(nil)
)
