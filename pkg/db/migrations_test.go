package db

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var names []string
	for _, e := range entries {
		require.True(t, strings.HasSuffix(e.Name(), ".sql"), e.Name())
		names = append(names, e.Name())
	}
	assert.True(t, sort.StringsAreSorted(names))

	seen := map[string]bool{}
	for _, name := range names {
		version, _, ok := strings.Cut(name, "_")
		require.True(t, ok, "migration file %s must be NNN_name.sql", name)
		require.False(t, seen[version], "duplicate migration version %s", version)
		seen[version] = true

		data, err := migrationFiles.ReadFile("migrations/" + name)
		require.NoError(t, err)
		assert.Contains(t, string(data), "CREATE TABLE")
	}
}
