package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var migrationName = regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

// Migration pairs the up and down scripts sharing one numeric prefix.
type Migration struct {
	Version string
	Name    string
	UpPath  string
	Down    string
	Applied bool
}

// ID is the key recorded in schema_migrations.
func (m Migration) ID() string {
	return filepath.Base(m.UpPath)
}

// LoadMigrations lists migrations in the directory sorted by version.
func LoadMigrations(migrationsDir string) ([]Migration, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		item, ok := byVersion[match[1]]
		if !ok {
			item = &Migration{Version: match[1], Name: match[2]}
			byVersion[match[1]] = item
		}
		path := filepath.Join(migrationsDir, entry.Name())
		if match[3] == "up" {
			item.UpPath = path
		} else {
			item.Down = path
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, item := range byVersion {
		if item.UpPath == "" {
			return nil, fmt.Errorf("migration %s has no up file", item.Version)
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ApplyMigrations runs every pending up migration, one transaction per file.
// It returns the ids applied in this call.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) ([]string, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}

	applied := []string{}
	for _, migration := range migrations {
		id := migration.ID()
		if done, err := isMigrated(ctx, db, id); err != nil {
			return applied, err
		} else if done {
			continue
		}
		err := runScript(ctx, db, migration.UpPath, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, id)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", id, err)
		}
		applied = append(applied, id)
	}
	return applied, nil
}

// RollbackMigrations reverts the latest applied migrations, newest first.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string, steps int) ([]string, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	migrations, err := MigrationStatus(ctx, db, migrationsDir)
	if err != nil {
		return nil, err
	}

	reverted := []string{}
	for i := len(migrations) - 1; i >= 0 && len(reverted) < steps; i-- {
		migration := migrations[i]
		if !migration.Applied {
			continue
		}
		if migration.Down == "" {
			return reverted, fmt.Errorf("migration %s has no down file", migration.Version)
		}
		id := migration.ID()
		err := runScript(ctx, db, migration.Down, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, id)
			return err
		})
		if err != nil {
			return reverted, fmt.Errorf("revert migration %s: %w", id, err)
		}
		reverted = append(reverted, id)
	}
	return reverted, nil
}

// MigrationStatus lists migrations with their applied flag set.
func MigrationStatus(ctx context.Context, db *sql.DB, migrationsDir string) ([]Migration, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}
	for i := range migrations {
		done, err := isMigrated(ctx, db, migrations[i].ID())
		if err != nil {
			return nil, err
		}
		migrations[i].Applied = done
	}
	return migrations, nil
}

func runScript(ctx context.Context, db *sql.DB, path string, record func(*sql.Tx) error) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if script := strings.TrimSpace(string(contents)); script != "" {
		if _, err := tx.ExecContext(ctx, script); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := record(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, id string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", id, err)
	}
	return exists, nil
}
