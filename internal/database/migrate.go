package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationSet is the backend specific part of running migrations.
type migrationSet struct {
	driver string
	// ledger creates the schema_migrations table.
	ledger string
	// statements turns one migration file into the statements to execute.
	statements func(file string) []string
}

// migrationNames returns the embedded migration files in apply order.
func migrationNames() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// migrate applies each pending file in its own transaction and records it in
// schema_migrations.
func migrate(ctx context.Context, db *sql.DB, set migrationSet) error {
	if _, err := db.ExecContext(ctx, set.ledger); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	names, err := migrationNames()
	if err != nil {
		return err
	}

	for _, name := range names {
		var count int
		row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE filename = ?`, name)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		err = inTx(ctx, db, nil, func(q Querier) error {
			for _, stmt := range set.statements(string(data)) {
				if err := q.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("applying migration %s: %w\nSQL: %s", name, err, stmt)
				}
			}
			return q.Exec(ctx,
				`INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`,
				name, time.Now().UTC().Format(time.RFC3339))
		})
		if err != nil {
			return err
		}
		slog.Info("database: applied migration", "file", name, "driver", set.driver)
	}
	return nil
}

// splitStatements splits a migration file on semicolons, dropping blanks and
// comment-only chunks.
func splitStatements(file string) []string {
	var out []string
	for _, stmt := range strings.Split(file, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || isComment(stmt) {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

func isComment(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
