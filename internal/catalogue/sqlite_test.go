package catalogue

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCatalogueDB(t *testing.T, dsn string) {
	t.Helper()
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE catalogue_entries (
			uuid TEXT, activity_name TEXT, product_name TEXT, geography TEXT,
			unit TEXT, biogenic_factor REAL, common_factor REAL,
			is_market INTEGER, searchable_text TEXT
		)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO catalogue_entries VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"uuid-steel", "Stahl", "Stahl, niedriglegiert", "DE", "kg", 0.1, 1.8, false, "Stahl niedriglegiert")
	require.NoError(t, err)
}

func TestLoadEntriesFromSQLite_ReadsSeededRows(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "catalogue.sqlite")
	seedCatalogueDB(t, dsn)

	entries, err := LoadEntriesFromSQLite(context.Background(), dsn)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "uuid-steel", entries[0].UUID)
	assert.Equal(t, 1.8, entries[0].CommonFactor)
}

func TestLoadEntriesFromSQLite_MissingFileErrors(t *testing.T) {
	_, err := LoadEntriesFromSQLite(context.Background(), filepath.Join(t.TempDir(), "missing.sqlite"))
	assert.Error(t, err)
}
