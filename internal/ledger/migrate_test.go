package ledger

import (
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "modernc.org/sqlite"
)

func openMemDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateSQLiteIdempotent(t *testing.T) {
	db := openMemDB(t, "migrate_idempotent")

	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("migrate second: %v", err)
	}

	for _, table := range []string{"actions", "action_closures", "push_outbox", "audit_logs"} {
		var name string
		if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("expected %s table: %v", table, err)
		}
	}

	var count int
	var checksum string
	if err := db.QueryRow(`SELECT COUNT(*), MAX(checksum) FROM schema_migrations`).Scan(&count, &checksum); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 || len(checksum) != 64 {
		t.Fatalf("expected 1 migration with a sha256 checksum, got %d %q", count, checksum)
	}
}

func TestMigrateRejectsModifiedMigration(t *testing.T) {
	db := openMemDB(t, "migrate_modified")
	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.Exec(`UPDATE schema_migrations SET checksum = 'stale'`); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := Migrate(db, DBSQLite); !errors.Is(err, ErrMigrationChanged) {
		t.Fatalf("expected ErrMigrationChanged, got %v", err)
	}
}

func TestCheckSchemaSQLiteListColumns(t *testing.T) {
	db := openMemDB(t, "check_schema")
	if _, err := db.Exec(`CREATE TABLE actions (id INTEGER PRIMARY KEY, due_date_reminder_days INTEGER)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := CheckSchema(db, DBSQLite)
	if err == nil || !strings.Contains(err.Error(), "has type INTEGER, want TEXT") {
		t.Fatalf("expected type mismatch, got %v", err)
	}

	if _, err := db.Exec(`DROP TABLE actions`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE actions (id INTEGER PRIMARY KEY, due_date_reminder_days TEXT)`); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	err = CheckSchema(db, DBSQLite)
	if err == nil || !strings.Contains(err.Error(), "action_closures.evidence_files is missing") {
		t.Fatalf("expected missing column, got %v", err)
	}
}

func TestCheckSchemaPostgresArrays(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	query := `SELECT udt_name FROM information_schema.columns`
	mock.ExpectQuery(query).WithArgs("takipus_actions", "due_date_reminder_days").
		WillReturnRows(sqlmock.NewRows([]string{"udt_name"}).AddRow("_int4"))
	mock.ExpectQuery(query).WithArgs("takipus_action_closures", "evidence_files").
		WillReturnRows(sqlmock.NewRows([]string{"udt_name"}).AddRow("text"))

	err = CheckSchema(db, DBPostgres)
	if err == nil || !strings.Contains(err.Error(), "evidence_files has type text, want _text") {
		t.Fatalf("expected array type mismatch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMigrationHelpers(t *testing.T) {
	if d, err := dialectFor(DBPostgres); err != nil || d.table != "takipus_schema_migrations" || d.bind(2) != "$2" {
		t.Fatalf("unexpected postgres dialect: %+v err=%v", d.table, err)
	}
	if _, err := dialectFor(DBDriver("nope")); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	ms, err := loadMigrations("migrations/postgres")
	if err != nil || len(ms) == 0 || ms[0].version != "0001_init" {
		t.Fatalf("load migrations: %+v err=%v", ms, err)
	}
	if err := Migrate(nil, DBSQLite); err == nil {
		t.Fatalf("expected error for nil db")
	}
}

func TestParseDriver(t *testing.T) {
	cases := map[string]DBDriver{"": DBSQLite, "SQLite": DBSQLite, "postgres": DBPostgres, "pg": DBPostgres}
	for in, want := range cases {
		got, err := ParseDriver(in)
		if err != nil || got != want {
			t.Fatalf("ParseDriver(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseDriver("mysql"); err == nil {
		t.Fatalf("expected error for mysql")
	}
}
