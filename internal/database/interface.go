package database

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
)

// Querier runs statements against a connection or an open transaction.
// Records are structs whose columns are named by `db:` tags; untagged
// embedded structs contribute their tagged fields.
type Querier interface {
	// Select scans every row into dest, a pointer to a slice of structs.
	Select(ctx context.Context, dest any, query string, args ...any) error

	// Get scans the first row into dest. It returns sql.ErrNoRows when the
	// query matches nothing.
	Get(ctx context.Context, dest any, query string, args ...any) error

	Exec(ctx context.Context, query string, args ...any) error

	// Insert writes record into table and returns the new row ID. A zero id
	// column is left to the database.
	Insert(ctx context.Context, table string, record any) (int64, error)

	// Update writes every column of record except id to the rows matching where.
	Update(ctx context.Context, table string, record any, where string, args ...any) error

	// Upsert inserts record or, on a conflict over conflictCols, updates the
	// remaining columns.
	Upsert(ctx context.Context, table string, record any, conflictCols []string) error
}

// DB is the storage handle behind internal/store. SQLite is the default
// backend, MySQL the shared-server one.
type DB interface {
	Querier

	// InTx runs fn inside a transaction, committing when fn returns nil.
	// fn must use the Querier it is given, not the DB.
	InTx(ctx context.Context, fn func(q Querier) error) error

	// Migrate applies the embedded migrations that have not run yet.
	Migrate(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error

	// Driver returns "sqlite" or "mysql".
	Driver() string
}

// New opens the backend named by cfg.Driver.
func New(cfg config.DatabaseConfig) (DB, error) {
	switch cfg.Driver {
	case "mysql":
		return NewMySQL(cfg)
	case "sqlite", "sqlite3", "":
		return NewSQLite(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q (supported: sqlite, mysql)", cfg.Driver)
	}
}
