package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLite(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "db.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

type Audit struct {
	CreatedBy string `db:"created_by"`
}

type widget struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Size int    `db:"size"`
	Audit
	Scratch string `db:"-"`
}

func createWidgets(t *testing.T, db *SQLiteDB) {
	t.Helper()
	require.NoError(t, db.Exec(context.Background(),
		`CREATE TABLE widgets (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE, size INTEGER NOT NULL, created_by TEXT NOT NULL DEFAULT '')`))
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))

	var rows []struct {
		Filename string `db:"filename"`
	}
	require.NoError(t, db.Select(ctx, &rows, "SELECT filename FROM schema_migrations ORDER BY filename"))
	names, err := migrationNames()
	require.NoError(t, err)
	require.Len(t, rows, len(names))
	for i, r := range rows {
		assert.Equal(t, names[i], r.Filename)
	}
	assert.Equal(t, "sqlite", db.Driver())
}

func TestInsertGetEmbeddedColumns(t *testing.T) {
	db := openTestDB(t)
	createWidgets(t, db)
	ctx := context.Background()

	id, err := db.Insert(ctx, "widgets", widget{Name: "gear", Size: 3, Audit: Audit{CreatedBy: "ci"}, Scratch: "ignored"})
	require.NoError(t, err)

	var got widget
	require.NoError(t, db.Get(ctx, &got, "SELECT * FROM widgets WHERE id = ?", id))
	assert.Equal(t, "gear", got.Name)
	assert.Equal(t, "ci", got.CreatedBy)
	assert.Empty(t, got.Scratch)

	err = db.Get(ctx, &got, "SELECT * FROM widgets WHERE id = ?", id+100)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestUpsertUpdatesOnConflict(t *testing.T) {
	db := openTestDB(t)
	createWidgets(t, db)
	ctx := context.Background()

	require.NoError(t, db.Upsert(ctx, "widgets", widget{Name: "gear", Size: 1}, []string{"name"}))
	require.NoError(t, db.Upsert(ctx, "widgets", widget{Name: "gear", Size: 7}, []string{"name"}))

	var all []*widget
	require.NoError(t, db.Select(ctx, &all, "SELECT * FROM widgets"))
	require.Len(t, all, 1)
	assert.Equal(t, 7, all[0].Size)
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	createWidgets(t, db)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.InTx(ctx, func(q Querier) error {
		if _, err := q.Insert(ctx, "widgets", widget{Name: "a", Size: 1}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, db.InTx(ctx, func(q Querier) error {
		_, err := q.Insert(ctx, "widgets", widget{Name: "b", Size: 2})
		return err
	}))

	var all []widget
	require.NoError(t, db.Select(ctx, &all, "SELECT * FROM widgets"))
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].Name)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (id INT);\n\n-- only a comment\n;INSERT INTO a VALUES (1);")
	assert.Equal(t, []string{"-- header\nCREATE TABLE a (id INT)", "INSERT INTO a VALUES (1)"}, stmts)
}

func TestMySQLAdapt(t *testing.T) {
	in := "CREATE TABLE t (id INTEGER PRIMARY KEY AUTOINCREMENT, score REAL NOT NULL);\nINSERT OR IGNORE INTO t (id) VALUES (1);"
	out := mysqlAdapt(in)
	assert.Contains(t, out, "id INT NOT NULL AUTO_INCREMENT PRIMARY KEY")
	assert.Contains(t, out, "score DOUBLE NOT NULL")
	assert.Contains(t, out, "INSERT IGNORE INTO")
}

func TestWithParam(t *testing.T) {
	assert.Equal(t, "u:p@tcp(db)/x?parseTime=true", withParam("u:p@tcp(db)/x", "parseTime", "true"))
	assert.Equal(t, "u:p@tcp(db)/x?a=b&parseTime=true", withParam("u:p@tcp(db)/x?a=b", "parseTime", "true"))
	assert.Equal(t, "u:p@tcp(db)/x?parseTime=false", withParam("u:p@tcp(db)/x?parseTime=false", "parseTime", "true"))
}
