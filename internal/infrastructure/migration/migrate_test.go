package migration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_b.up.sql", "000002_b.down.sql",
		"000001_a.up.sql", "000001_a.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "000003_dir.up.sql"), 0o755))

	names, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_a", "000002_b"}, names)
}

func TestList_MissingDirectory(t *testing.T) {
	names, err := List(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestList_RepositoryMigrations(t *testing.T) {
	names, err := List(filepath.Join("..", "..", "..", DefaultPath))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"000001_create_integrations",
		"000002_create_sync_logs",
		"000003_create_delivery_jobs",
	}, names)

	for _, n := range names {
		_, err := os.Stat(filepath.Join("..", "..", "..", DefaultPath, n+".down.sql"))
		assert.NoError(t, err, "every up migration has a down migration")
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()

	got, err := ResolvePath(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	_, err = ResolvePath(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
