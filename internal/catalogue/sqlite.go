package catalogue

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO

	"github.com/ghgmatch/core/internal/domain"
)

// LoadEntriesFromSQLite reads the precomputed catalogue table (built by the
// out-of-core index-build tooling) into memory. The core
// treats this as a one-shot, read-only load at process startup — no
// mutation, no per-worker connection state, since after this call the
// catalogue lives entirely in the in-memory Store.
func LoadEntriesFromSQLite(ctx context.Context, dsn string) ([]*domain.CatalogueEntry, error) {
	db, err := sql.Open("sqlite", dsn+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open catalogue db %s: %w", dsn, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT uuid, activity_name, product_name, geography, unit,
		       biogenic_factor, common_factor, is_market, searchable_text
		FROM catalogue_entries`)
	if err != nil {
		return nil, fmt.Errorf("query catalogue entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.CatalogueEntry
	for rows.Next() {
		e := &domain.CatalogueEntry{}
		if err := rows.Scan(
			&e.UUID, &e.ActivityName, &e.ProductName, &e.Geography, &e.Unit,
			&e.BiogenicFactor, &e.CommonFactor, &e.IsMarket, &e.SearchableText,
		); err != nil {
			return nil, fmt.Errorf("scan catalogue entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalogue entries: %w", err)
	}

	return entries, nil
}
