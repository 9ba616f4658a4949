package database

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertCatalogRefresh records a catalog fetch. A zero FetchedAt means now.
func (db *DB) InsertCatalogRefresh(r CatalogRefresh) (int64, error) {
	if r.FetchedAt.IsZero() {
		r.FetchedAt = time.Now()
	}
	result, err := db.conn.Exec(
		`INSERT INTO catalog_refreshes
		(pages, items, duplicates, missing_cross_ref, duration_ms, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.Pages, r.Items, r.Duplicates, r.MissingCrossRef,
		r.Duration.Milliseconds(), r.FetchedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting catalog refresh: %w", err)
	}
	return result.LastInsertId()
}

// GetLastCatalogRefresh returns the most recent refresh, or nil if the
// catalog was never fetched.
func (db *DB) GetLastCatalogRefresh() (*CatalogRefresh, error) {
	row := db.conn.QueryRow(
		`SELECT id, pages, items, duplicates, missing_cross_ref, duration_ms, fetched_at
		FROM catalog_refreshes ORDER BY fetched_at DESC, id DESC LIMIT 1`,
	)

	var (
		r          CatalogRefresh
		durationMS int64
		fetchedAt  string
	)
	if err := row.Scan(&r.ID, &r.Pages, &r.Items, &r.Duplicates, &r.MissingCrossRef,
		&durationMS, &fetchedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond
	t, err := time.Parse(timeLayout, fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing fetched_at %q: %w", fetchedAt, err)
	}
	r.FetchedAt = t
	return &r, nil
}
