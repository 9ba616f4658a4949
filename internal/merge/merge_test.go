package merge

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TobiSchelling/animerec/internal/apperr"
	"github.com/TobiSchelling/animerec/internal/dataset"
)

func item(id, crossRef int, title string) dataset.CatalogItem {
	return dataset.CatalogItem{
		PrimaryID:    id,
		CrossRefID:   crossRef,
		Title:        title,
		Genres:       []string{"Action"},
		QualityScore: 85,
	}
}

func TestMergeLeftJoin(t *testing.T) {
	catalog := []dataset.CatalogItem{item(1, 10, "Alpha"), item(2, 20, "Bravo"), item(3, 30, "Charlie")}
	ratings := []dataset.UserRating{
		{CrossRefID: 10, Title: "Alpha", UserScore: 9, WatchStatus: dataset.StatusCompleted},
		{CrossRefID: 99, Title: "Not in catalog", UserScore: 7, WatchStatus: dataset.StatusDropped},
	}

	records, rep, err := NewMerger(0).Merge(catalog, ratings)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected one row per catalog item, got %d", len(records))
	}
	if records[0].UserScore != 9 || records[0].WatchStatus != dataset.StatusCompleted {
		t.Errorf("expected rating joined onto Alpha, got %+v", records[0])
	}
	for _, r := range records[1:] {
		if r.UserScore != 0 || r.WatchStatus != dataset.StatusNotInteracted {
			t.Errorf("expected defaults for unmatched %q, got score=%d status=%q", r.Title, r.UserScore, r.WatchStatus)
		}
	}
	if rep.MatchedRatings != 1 {
		t.Errorf("expected 1 matched rating, got %d", rep.MatchedRatings)
	}
	if len(rep.Ratings) != 2 || rep.Ratings[1].CrossRefID != 99 {
		t.Errorf("expected report to keep the whole list, got %+v", rep.Ratings)
	}
}

func TestMergeDropsUntitledAndDuplicates(t *testing.T) {
	catalog := []dataset.CatalogItem{
		item(1, 10, "Alpha"),
		item(2, 20, "   "),
		item(1, 11, "Alpha again"),
		item(3, 30, "Charlie"),
	}

	records, rep, err := NewMerger(0).Merge(catalog, nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(records))
	}
	if records[0].Title != "Alpha" {
		t.Errorf("expected first duplicate kept, got %q", records[0].Title)
	}
	if rep.DroppedUntitled != 1 || rep.DroppedDupes != 1 {
		t.Errorf("expected 1 untitled and 1 duplicate dropped, got %+v", rep)
	}

	ids := map[int]bool{}
	for _, r := range records {
		if ids[r.PrimaryID] {
			t.Errorf("primary id %d appears twice", r.PrimaryID)
		}
		ids[r.PrimaryID] = true
	}
}

func TestMergeDuplicateUserEntryKeepsFirst(t *testing.T) {
	catalog := []dataset.CatalogItem{item(1, 10, "Alpha")}
	ratings := []dataset.UserRating{
		{CrossRefID: 10, UserScore: 4, WatchStatus: dataset.StatusDropped},
		{CrossRefID: 10, UserScore: 10, WatchStatus: dataset.StatusCompleted},
	}
	records, _, err := NewMerger(0).Merge(catalog, ratings)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if records[0].UserScore != 4 || records[0].WatchStatus != dataset.StatusDropped {
		t.Errorf("expected first user entry to win, got %+v", records[0])
	}
}

func TestMergeBelowMinRows(t *testing.T) {
	catalog := []dataset.CatalogItem{item(1, 10, "Alpha"), item(2, 20, "Bravo")}
	_, rep, err := NewMerger(500).Merge(catalog, nil)
	if !errors.Is(err, ErrTooSmall) {
		t.Fatalf("expected ErrTooSmall, got %v", err)
	}
	if rep.Rows != 2 {
		t.Errorf("expected report to carry row count 2, got %d", rep.Rows)
	}
}

func writeInputs(t *testing.T, dir string) (string, string) {
	t.Helper()
	catalogPath := filepath.Join(dir, "catalog.csv")
	ratingsPath := filepath.Join(dir, "ratings.csv")
	catalog := "primary_id,cross_ref_id,title,description,genres,tags,quality_score,upstream_only\n" +
		"1,10,Alpha,First,\"['Action']\",[],85,x\n" +
		"2,20,Bravo,Second,\"['Action']\",[],88,y\n" +
		"3,30,,Untitled,[],[],90,z\n"
	if err := os.WriteFile(catalogPath, []byte(catalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if err := dataset.WriteRatings(ratingsPath, []dataset.UserRating{
		{CrossRefID: 10, Title: "Alpha", UserScore: 8, WatchStatus: dataset.StatusCompleted},
	}); err != nil {
		t.Fatalf("write ratings: %v", err)
	}
	return catalogPath, ratingsPath
}

func TestMergeFilesWritesAllowListedColumns(t *testing.T) {
	dir := t.TempDir()
	catalogPath, ratingsPath := writeInputs(t, dir)
	out := filepath.Join(dir, "merged.csv")

	records, _, err := NewMerger(1).MergeFiles(catalogPath, ratingsPath, out)
	if err != nil {
		t.Fatalf("MergeFiles: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(records))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}
	header := strings.SplitN(string(data), "\n", 2)[0]
	if header != strings.Join(dataset.MergedColumns, ",") {
		t.Errorf("unexpected merged header %q", header)
	}
	if strings.Contains(string(data), "upstream_only") {
		t.Error("unknown upstream column leaked into merged table")
	}
}

func TestMergeFilesIdempotent(t *testing.T) {
	dir := t.TempDir()
	catalogPath, ratingsPath := writeInputs(t, dir)
	out := filepath.Join(dir, "merged.csv")
	m := NewMerger(1)

	if _, _, err := m.MergeFiles(catalogPath, ratingsPath, out); err != nil {
		t.Fatalf("first MergeFiles: %v", err)
	}
	first, _ := os.ReadFile(out)

	if _, _, err := m.MergeFiles(catalogPath, ratingsPath, out); err != nil {
		t.Fatalf("second MergeFiles: %v", err)
	}
	second, _ := os.ReadFile(out)

	if !bytes.Equal(first, second) {
		t.Error("expected identical output for identical inputs")
	}
}

func TestMergeFilesMissingInput(t *testing.T) {
	dir := t.TempDir()
	catalogPath, _ := writeInputs(t, dir)

	_, _, err := NewMerger(1).MergeFiles(catalogPath, filepath.Join(dir, "nope.csv"), filepath.Join(dir, "merged.csv"))
	if !errors.Is(err, ErrMissingInput) {
		t.Fatalf("expected ErrMissingInput, got %v", err)
	}
	if apperr.KindOf(err) != apperr.KindIntegrity {
		t.Errorf("expected integrity kind, got %s", apperr.KindOf(err))
	}
	if _, statErr := os.Stat(filepath.Join(dir, "merged.csv")); statErr == nil {
		t.Error("expected no merged table after failure")
	}
}

func TestMergeFilesTooSmallIsIntegrity(t *testing.T) {
	dir := t.TempDir()
	catalogPath, ratingsPath := writeInputs(t, dir)

	_, _, err := NewMerger(500).MergeFiles(catalogPath, ratingsPath, filepath.Join(dir, "merged.csv"))
	if !errors.Is(err, ErrTooSmall) {
		t.Fatalf("expected ErrTooSmall, got %v", err)
	}
	if apperr.KindOf(err) != apperr.KindIntegrity {
		t.Errorf("expected integrity kind, got %s", apperr.KindOf(err))
	}
}
