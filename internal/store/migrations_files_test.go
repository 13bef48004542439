package store

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		match := pattern.FindStringSubmatch(entry.Name())
		require.NotNil(t, match, "unexpected migration file name %q", entry.Name())
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		require.False(t, byVersion[version][direction], "duplicate %s migration for version %s", direction, version)
		byVersion[version][direction] = true
	}

	require.NotEmpty(t, byVersion, "no migrations discovered")
	for version, dirs := range byVersion {
		require.True(t, dirs["up"] && dirs["down"], "version %s must include both up and down files", version)
	}
}

func TestInitMigrationCreatesCoreTables(t *testing.T) {
	contents, err := fs.ReadFile(migrationsFS, "migrations/000001_init.up.sql")
	require.NoError(t, err)

	for _, table := range []string{"users", "categories", "products", "orders", "order_items", "reviews", "wishlist_items", "newsletter_subscribers"} {
		require.True(t, strings.Contains(string(contents), "CREATE TABLE "+table+" ("), "missing table %s", table)
	}
	require.Contains(t, string(contents), "CHECK (stock >= 0)")
	require.Contains(t, string(contents), "CHECK (quantity >= 1)")
}
