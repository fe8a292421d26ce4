package ledger

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

type DBDriver string

const (
	DBSQLite   DBDriver = "sqlite"
	DBPostgres DBDriver = "postgres"
)

// ErrMigrationChanged is returned when an applied migration file no longer
// matches the checksum recorded when it ran.
var ErrMigrationChanged = errors.New("applied migration was modified")

// listColumn is a typed-list column and the storage type its dialect must use.
type listColumn struct {
	table  string
	column string
	want   string
}

// dialect carries everything Migrate needs to know about one driver.
type dialect struct {
	dir   string
	table string
	// bind renders the n-th (1-based) placeholder.
	bind func(n int) string
	// appliedAtType is the column type of migrations.applied_at.
	appliedAtType string
	appliedAt     func(time.Time) any
	// columnType returns the storage type of table.column, "" when absent.
	columnType  string
	listColumns []listColumn
}

var dialects = map[DBDriver]dialect{
	DBSQLite: {
		dir:           "migrations/sqlite",
		table:         "schema_migrations",
		bind:          func(int) string { return "?" },
		appliedAtType: "TEXT",
		appliedAt:     func(t time.Time) any { return t.Format(time.RFC3339) },
		columnType:    `SELECT upper(type) FROM pragma_table_info(?) WHERE name = ?`,
		listColumns: []listColumn{
			{table: "actions", column: "due_date_reminder_days", want: "TEXT"},
			{table: "action_closures", column: "evidence_files", want: "TEXT"},
		},
	},
	DBPostgres: {
		dir:           "migrations/postgres",
		table:         "takipus_schema_migrations",
		bind:          func(n int) string { return fmt.Sprintf("$%d", n) },
		appliedAtType: "TIMESTAMPTZ",
		appliedAt:     func(t time.Time) any { return t },
		columnType:    `SELECT udt_name FROM information_schema.columns WHERE table_name = $1 AND column_name = $2`,
		listColumns: []listColumn{
			{table: "takipus_actions", column: "due_date_reminder_days", want: "_int4"},
			{table: "takipus_action_closures", column: "evidence_files", want: "_text"},
		},
	},
}

func dialectFor(driver DBDriver) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported db driver: %s", driver)
	}
	return d, nil
}

// ParseDriver maps a config value to a DBDriver.
func ParseDriver(v string) (DBDriver, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "sqlite", "sqlite3":
		return DBSQLite, nil
	case "postgres", "postgresql", "pg":
		return DBPostgres, nil
	default:
		return "", fmt.Errorf("unsupported db driver: %s", v)
	}
}

type migration struct {
	version  string
	sql      string
	checksum string
}

func loadMigrations(dir string) ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, err
	}
	out := make([]migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		raw, err := migrationsFS.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(raw)
		out = append(out, migration{
			version:  strings.TrimSuffix(e.Name(), ".sql"),
			sql:      string(raw),
			checksum: hex.EncodeToString(sum[:]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// Migrate applies the embedded migrations for driver in version order, each
// in its own transaction together with its bookkeeping row, and then checks
// that the typed-list columns have the storage type the stores expect.
func Migrate(db *sql.DB, driver DBDriver) error {
	if db == nil {
		return fmt.Errorf("missing db")
	}
	d, err := dialectFor(driver)
	if err != nil {
		return err
	}
	if _, err := db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  version TEXT PRIMARY KEY,
  checksum TEXT NOT NULL,
  applied_at %s NOT NULL
)`, d.table, d.appliedAtType)); err != nil {
		return err
	}

	migrations, err := loadMigrations(d.dir)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, m := range migrations {
		if err := applyMigration(db, d, m, now); err != nil {
			return err
		}
	}
	return CheckSchema(db, driver)
}

func applyMigration(db *sql.DB, d dialect, m migration, now time.Time) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var recorded string
	err = tx.QueryRow(fmt.Sprintf(`SELECT checksum FROM %s WHERE version = %s`, d.table, d.bind(1)), m.version).Scan(&recorded)
	switch {
	case err == nil:
		if recorded != m.checksum {
			return fmt.Errorf("%w: %s", ErrMigrationChanged, m.version)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	if _, err := tx.Exec(m.sql); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.version, err)
	}
	if _, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s(version, checksum, applied_at) VALUES(%s, %s, %s)`,
		d.table, d.bind(1), d.bind(2), d.bind(3)), m.version, m.checksum, d.appliedAt(now)); err != nil {
		return err
	}
	return tx.Commit()
}

// CheckSchema verifies that reminder days and evidence files are stored as
// JSON text on SQLite and as native arrays on Postgres.
func CheckSchema(db *sql.DB, driver DBDriver) error {
	d, err := dialectFor(driver)
	if err != nil {
		return err
	}
	for _, c := range d.listColumns {
		var got string
		err := db.QueryRow(d.columnType, c.table, c.column).Scan(&got)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("schema: %s.%s is missing", c.table, c.column)
		}
		if err != nil {
			return fmt.Errorf("schema: inspect %s.%s: %w", c.table, c.column, err)
		}
		if got != c.want {
			return fmt.Errorf("schema: %s.%s has type %s, want %s", c.table, c.column, got, c.want)
		}
	}
	return nil
}
