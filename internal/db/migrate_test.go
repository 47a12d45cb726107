package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationVersions_SortsAndFiltersSQL(t *testing.T) {
	files := fstest.MapFS{
		"migrations/0002_second.sql": {Data: []byte("SELECT 2;")},
		"migrations/0001_first.sql":  {Data: []byte("SELECT 1;")},
		"migrations/README.md":       {Data: []byte("notes")},
		"migrations/nested/x.sql":    {Data: []byte("SELECT 3;")},
	}

	versions, err := migrationVersions(files)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_first.sql", "0002_second.sql"}, versions)
}

func TestMigrationVersions_EmbeddedAuthSchema(t *testing.T) {
	versions, err := migrationVersions(migrationFiles)
	require.NoError(t, err)
	require.NotEmpty(t, versions)
	assert.Equal(t, "0001_auth.sql", versions[0])

	script, err := migrationFiles.ReadFile("migrations/" + versions[0])
	require.NoError(t, err)
	assert.Contains(t, string(script), "CREATE TABLE IF NOT EXISTS accounts")
	assert.Contains(t, string(script), "CREATE TABLE IF NOT EXISTS refresh_tokens")
}
