package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB implements DB using SQLite via mattn/go-sqlite3.
type SQLiteDB struct {
	executor
	db   *sql.DB
	path string
}

// NewSQLite opens (or creates) the SQLite database at cfg.Path.
func NewSQLite(cfg config.DatabaseConfig) (*SQLiteDB, error) {
	path := cfg.Path
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, config.DefaultDBFile)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// Single writer: transactions hold the only connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteDB{executor: executor{c: db, upsert: sqliteUpsert}, db: db, path: path}
	if err := s.Ping(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteDB) Driver() string { return "sqlite" }

// Path is the database file.
func (s *SQLiteDB) Path() string { return s.path }

func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteDB) InTx(ctx context.Context, fn func(q Querier) error) error {
	return inTx(ctx, s.db, sqliteUpsert, fn)
}

func (s *SQLiteDB) Migrate(ctx context.Context) error {
	return migrate(ctx, s.db, migrationSet{
		driver: "sqlite",
		ledger: `CREATE TABLE IF NOT EXISTS schema_migrations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			filename    TEXT    NOT NULL UNIQUE,
			applied_at  TEXT    NOT NULL
		)`,
		statements: splitStatements,
	})
}
