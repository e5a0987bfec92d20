package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const migrationsDir = "../../db/migrations"

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrations, err := LoadMigrations(migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, migrations, "no migrations discovered")

	for _, migration := range migrations {
		assert.NotEmpty(t, migration.UpPath, "version %s up file", migration.Version)
		assert.NotEmpty(t, migration.Down, "version %s down file", migration.Version)
	}
}

func TestLoadMigrationsSortsByVersionAndRejectsOrphanDown(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0002_b.down.sql", "0001_a.up.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}

	migrations, err := LoadMigrations(dir)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "0001", migrations[0].Version)
	assert.Equal(t, "0001_a.up.sql", migrations[0].ID())
	assert.Empty(t, migrations[0].Down)
	assert.Equal(t, "b", migrations[1].Name)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "0003_c.down.sql"), []byte("SELECT 1;"), 0o644))
	_, err = LoadMigrations(dir)
	assert.Error(t, err)
}
