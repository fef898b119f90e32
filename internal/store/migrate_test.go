package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func writeMigration(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("write migration: %v", err)
	}
}

func TestApplyMigrationsRunsPendingInOrder(t *testing.T) {
	db, mock := newMockDB(t)
	dir := t.TempDir()
	writeMigration(t, dir, "0001_init.up.sql", "CREATE TABLE widgets (id TEXT)")
	writeMigration(t, dir, "0001_init.down.sql", "DROP TABLE widgets")

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM schema_migrations WHERE version=\$1\)`).
		WithArgs("0001_init.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE widgets`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations\(version\) VALUES\(\$1\)`).
		WithArgs("0001_init.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := ApplyMigrations(context.Background(), db, dir); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyMigrationsSkipsApplied(t *testing.T) {
	db, mock := newMockDB(t)
	dir := t.TempDir()
	writeMigration(t, dir, "0001_init.up.sql", "CREATE TABLE widgets (id TEXT)")

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM schema_migrations WHERE version=\$1\)`).
		WithArgs("0001_init.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if err := ApplyMigrations(context.Background(), db, dir); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
