package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
	"github.com/cenkalti/backoff"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLDB implements DB using MySQL via go-sql-driver/mysql.
type MySQLDB struct {
	executor
	db *sql.DB
}

// NewMySQL connects with cfg.DSN, retrying for up to
// cfg.ConnectTimeoutSeconds while the server comes up.
func NewMySQL(cfg config.DatabaseConfig) (*MySQLDB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql DSN is required when driver is mysql")
	}
	dsn := withParam(cfg.DSN, "parseTime", "true")
	dsn = withParam(dsn, "multiStatements", "false")

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	m := &MySQLDB{executor: executor{c: db, upsert: mysqlUpsert}, db: db}
	if err := m.waitReady(cfg.ConnectTimeoutSeconds); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}
	return m, nil
}

// withParam appends key=value to the DSN unless key is already set.
func withParam(dsn, key, value string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + value
}

// waitReady pings with exponential backoff until the server answers or the
// timeout elapses.
func (m *MySQLDB) waitReady(timeoutSeconds int) error {
	if timeoutSeconds <= 0 {
		return m.Ping(context.Background())
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = time.Duration(timeoutSeconds) * time.Second

	return backoff.RetryNotify(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return m.Ping(ctx)
	}, bo, func(err error, next time.Duration) {
		slog.Warn("database: mysql not ready, retrying", "error", err, "next", next)
	})
}

func (m *MySQLDB) Driver() string { return "mysql" }

func (m *MySQLDB) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MySQLDB) Close() error {
	return m.db.Close()
}

func (m *MySQLDB) InTx(ctx context.Context, fn func(q Querier) error) error {
	return inTx(ctx, m.db, mysqlUpsert, fn)
}

// Migrate runs the SQLite-dialect migration files translated for MySQL.
// MySQL commits DDL implicitly, so a failed file may be partly applied.
func (m *MySQLDB) Migrate(ctx context.Context) error {
	return migrate(ctx, m.db, migrationSet{
		driver: "mysql",
		ledger: `CREATE TABLE IF NOT EXISTS schema_migrations (
			id         INT          NOT NULL AUTO_INCREMENT PRIMARY KEY,
			filename   VARCHAR(255) NOT NULL UNIQUE,
			applied_at VARCHAR(64)  NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		statements: func(file string) []string {
			return splitStatements(mysqlAdapt(file))
		},
	})
}

var mysqlReplacer = strings.NewReplacer(
	"INTEGER PRIMARY KEY AUTOINCREMENT", "INT NOT NULL AUTO_INCREMENT PRIMARY KEY",
	"AUTOINCREMENT", "AUTO_INCREMENT",
	" REAL ", " DOUBLE ",
	"INSERT OR IGNORE INTO", "INSERT IGNORE INTO",
	"ON CONFLICT DO NOTHING", "",
)

// mysqlAdapt converts the SQLite-specific fragments used by the migrations.
func mysqlAdapt(sql string) string {
	return mysqlReplacer.Replace(sql)
}
