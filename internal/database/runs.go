package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertRun records a recommendation request. Missing ids and timestamps
// are filled in; the stored id is returned.
func (db *DB) InsertRun(r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := db.conn.Exec(
		`INSERT INTO recommendation_runs
		(id, username, status, kind, stage, top_n, result_count, cached, message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Username, r.Status, r.Kind, r.Stage, r.TopN, r.ResultCount,
		boolToInt(r.Cached), r.Message, r.Duration.Milliseconds(),
		r.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}
	return r.ID, nil
}

// GetRecentRuns returns up to limit runs, newest first. An empty username
// returns runs for every user.
func (db *DB) GetRecentRuns(username string, limit int) ([]Run, error) {
	rows, err := db.conn.Query(
		`SELECT id, username, status, COALESCE(kind, ''), COALESCE(stage, ''), top_n,
		result_count, cached, COALESCE(message, ''), duration_ms, created_at
		FROM recommendation_runs
		WHERE ? = '' OR username = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		username, username, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			cached     int
			durationMS int64
			createdAt  string
		)
		if err := rows.Scan(&r.ID, &r.Username, &r.Status, &r.Kind, &r.Stage, &r.TopN,
			&r.ResultCount, &cached, &r.Message, &durationMS, &createdAt); err != nil {
			return nil, err
		}
		r.Cached = cached == 1
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM recommendation_runs", &s.TotalRuns},
		{"SELECT COUNT(*) FROM recommendation_runs WHERE status = 'success'", &s.SuccessfulRuns},
		{"SELECT COUNT(*) FROM recommendation_runs WHERE status = 'error'", &s.FailedRuns},
		{"SELECT COUNT(*) FROM recommendation_runs WHERE cached = 1", &s.CachedRuns},
		{"SELECT COUNT(DISTINCT username) FROM recommendation_runs", &s.DistinctUsers},
		{"SELECT COUNT(*) FROM catalog_refreshes", &s.CatalogRefreshes},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
