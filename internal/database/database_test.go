package database

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCatalogRefreshLifecycle(t *testing.T) {
	db := openTestDB(t)

	last, err := db.GetLastCatalogRefresh()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != nil {
		t.Fatalf("expected no refresh on fresh db, got %+v", last)
	}

	older := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 8, 8, 0, 0, 0, time.UTC)
	if _, err := db.InsertCatalogRefresh(CatalogRefresh{Pages: 20, Items: 950, FetchedAt: newer, Duration: 42 * time.Second}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := db.InsertCatalogRefresh(CatalogRefresh{Pages: 10, Items: 480, FetchedAt: older}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	last, err = db.GetLastCatalogRefresh()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last == nil || last.Items != 950 || last.Pages != 20 {
		t.Fatalf("expected newest refresh, got %+v", last)
	}
	if !last.FetchedAt.Equal(newer) {
		t.Errorf("expected fetched_at %v, got %v", newer, last.FetchedAt)
	}
	if last.Duration != 42*time.Second {
		t.Errorf("expected duration 42s, got %v", last.Duration)
	}
}

func TestInsertRunAssignsID(t *testing.T) {
	db := openTestDB(t)

	id, err := db.InsertRun(Run{Username: "alice", Status: RunSuccess, TopN: 10, ResultCount: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("expected uuid, got %q", id)
	}

	runs, err := db.GetRecentRuns("alice", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != id {
		t.Fatalf("expected stored run %s, got %+v", id, runs)
	}
	if runs[0].CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestGetRecentRuns(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	db.InsertRun(Run{Username: "alice", Status: RunSuccess, ResultCount: 10, CreatedAt: base})
	db.InsertRun(Run{Username: "bob", Status: RunError, Kind: "upstream", Stage: "import",
		Message: "list not found or not public", CreatedAt: base.Add(time.Minute)})
	db.InsertRun(Run{Username: "alice", Status: RunSuccess, Cached: true, ResultCount: 10,
		Duration: 1500 * time.Millisecond, CreatedAt: base.Add(2 * time.Minute)})

	runs, err := db.GetRecentRuns("alice", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs for alice, got %d", len(runs))
	}
	if !runs[0].Cached || runs[0].Duration != 1500*time.Millisecond {
		t.Errorf("expected newest cached run first, got %+v", runs[0])
	}

	all, err := db.GetRecentRuns("", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(all))
	}
	if all[1].Username != "bob" || all[1].Kind != "upstream" || all[1].Stage != "import" {
		t.Errorf("unexpected error run %+v", all[1])
	}
}

func TestRunStatusConstraint(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.InsertRun(Run{Username: "alice", Status: "pending"}); err == nil {
		t.Error("expected check constraint to reject unknown status")
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)

	db.InsertRun(Run{Username: "alice", Status: RunSuccess})
	db.InsertRun(Run{Username: "alice", Status: RunSuccess, Cached: true})
	db.InsertRun(Run{Username: "bob", Status: RunError})
	db.InsertCatalogRefresh(CatalogRefresh{Items: 100})

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalRuns != 3 {
		t.Errorf("expected 3 runs, got %d", stats.TotalRuns)
	}
	if stats.SuccessfulRuns != 2 || stats.FailedRuns != 1 || stats.CachedRuns != 1 {
		t.Errorf("unexpected run breakdown %+v", stats)
	}
	if stats.DistinctUsers != 2 {
		t.Errorf("expected 2 users, got %d", stats.DistinctUsers)
	}
	if stats.CatalogRefreshes != 1 {
		t.Errorf("expected 1 refresh, got %d", stats.CatalogRefreshes)
	}
}
