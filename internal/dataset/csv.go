package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// CatalogColumns is the on-disk column order of the catalog table.
var CatalogColumns = []string{
	"primary_id", "cross_ref_id", "title", "description", "genres", "tags",
	"quality_score", "episode_count", "airing_status", "media_type",
	"external_url", "studios",
}

// RatingColumns is the on-disk column order of a user's rating table.
var RatingColumns = []string{"cross_ref_id", "title", "user_score", "watch_status"}

// MergedColumns is the fixed allow-list of merged table columns. Nothing
// else is ever written.
var MergedColumns = []string{
	"primary_id", "cross_ref_id", "user_score", "watch_status", "quality_score",
	"title", "genres", "tags", "description", "media_type", "episode_count",
	"external_url", "studios",
}

// ErrMissingColumn is returned when a table lacks a required column.
var ErrMissingColumn = errors.New("missing column")

type table struct {
	index map[string]int
	rows  [][]string
}

func (t *table) get(row []string, col string) string {
	i, ok := t.index[col]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func readTable(path string, required ...string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: empty file", filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", filepath.Base(path), err)
	}

	t := &table{index: make(map[string]int, len(header))}
	for i, h := range header {
		t.index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range required {
		if _, ok := t.index[col]; !ok {
			return nil, fmt.Errorf("%s: %w %q", filepath.Base(path), ErrMissingColumn, col)
		}
	}

	t.rows, err = r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return t, nil
}

// writeTable writes to a temp file in the target directory and renames it
// into place so readers never observe a partial table.
func writeTable(path string, header []string, rows [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("writing rows: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadCatalog loads the catalog table. Rows without a numeric primary id or
// without a cross reference are skipped.
func ReadCatalog(path string) ([]CatalogItem, error) {
	t, err := readTable(path, "primary_id", "cross_ref_id", "title")
	if err != nil {
		return nil, err
	}

	items := make([]CatalogItem, 0, len(t.rows))
	skipped := 0
	for _, row := range t.rows {
		id, ok := parseID(t.get(row, "primary_id"))
		crossRef, crossOK := parseID(t.get(row, "cross_ref_id"))
		if !ok || !crossOK {
			skipped++
			continue
		}
		items = append(items, CatalogItem{
			PrimaryID:    id,
			CrossRefID:   crossRef,
			Title:        strings.TrimSpace(t.get(row, "title")),
			Description:  t.get(row, "description"),
			Genres:       DecodeList(t.get(row, "genres")),
			Tags:         DecodeList(t.get(row, "tags")),
			QualityScore: parseFloat(t.get(row, "quality_score")),
			EpisodeCount: parseInt(t.get(row, "episode_count")),
			AiringStatus: t.get(row, "airing_status"),
			MediaType:    t.get(row, "media_type"),
			ExternalURL:  t.get(row, "external_url"),
			Studios:      DecodeList(t.get(row, "studios")),
		})
	}
	if skipped > 0 {
		log.Warn().Int("rows", skipped).Str("file", filepath.Base(path)).Msg("Skipped catalog rows without ids")
	}
	return items, nil
}

// WriteCatalog persists the catalog table.
func WriteCatalog(path string, items []CatalogItem) error {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			strconv.Itoa(it.PrimaryID),
			strconv.Itoa(it.CrossRefID),
			it.Title,
			it.Description,
			EncodeList(it.Genres),
			EncodeList(it.Tags),
			formatFloat(it.QualityScore),
			strconv.Itoa(it.EpisodeCount),
			it.AiringStatus,
			it.MediaType,
			it.ExternalURL,
			EncodeList(it.Studios),
		})
	}
	return writeTable(path, CatalogColumns, rows)
}

// ReadRatings loads a user's rating table. Non-numeric scores become 0 and
// unknown statuses become NotInteracted.
func ReadRatings(path string) ([]UserRating, error) {
	t, err := readTable(path, "cross_ref_id")
	if err != nil {
		return nil, err
	}

	ratings := make([]UserRating, 0, len(t.rows))
	for _, row := range t.rows {
		crossRef, ok := parseID(t.get(row, "cross_ref_id"))
		if !ok {
			continue
		}
		ratings = append(ratings, UserRating{
			CrossRefID:  crossRef,
			Title:       t.get(row, "title"),
			UserScore:   ParseScore(t.get(row, "user_score")),
			WatchStatus: ParseWatchStatus(t.get(row, "watch_status")),
		})
	}
	return ratings, nil
}

// WriteRatings persists a user's rating table.
func WriteRatings(path string, ratings []UserRating) error {
	rows := make([][]string, 0, len(ratings))
	for _, r := range ratings {
		rows = append(rows, []string{
			strconv.Itoa(r.CrossRefID),
			r.Title,
			strconv.Itoa(r.UserScore),
			string(r.WatchStatus),
		})
	}
	return writeTable(path, RatingColumns, rows)
}

// ReadMerged loads the merged table.
func ReadMerged(path string) ([]MergedRecord, error) {
	t, err := readTable(path, "primary_id", "title")
	if err != nil {
		return nil, err
	}

	records := make([]MergedRecord, 0, len(t.rows))
	for _, row := range t.rows {
		id, ok := parseID(t.get(row, "primary_id"))
		if !ok {
			continue
		}
		crossRef, _ := parseID(t.get(row, "cross_ref_id"))
		records = append(records, MergedRecord{
			PrimaryID:    id,
			CrossRefID:   crossRef,
			UserScore:    ParseScore(t.get(row, "user_score")),
			WatchStatus:  ParseWatchStatus(t.get(row, "watch_status")),
			QualityScore: parseFloat(t.get(row, "quality_score")),
			Title:        t.get(row, "title"),
			Genres:       DecodeList(t.get(row, "genres")),
			Tags:         DecodeList(t.get(row, "tags")),
			Description:  t.get(row, "description"),
			MediaType:    t.get(row, "media_type"),
			EpisodeCount: parseInt(t.get(row, "episode_count")),
			ExternalURL:  t.get(row, "external_url"),
			Studios:      DecodeList(t.get(row, "studios")),
		})
	}
	return records, nil
}

// WriteMerged persists the merged table with exactly MergedColumns.
func WriteMerged(path string, records []MergedRecord) error {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			strconv.Itoa(r.PrimaryID),
			strconv.Itoa(r.CrossRefID),
			strconv.Itoa(r.UserScore),
			string(r.WatchStatus),
			formatFloat(r.QualityScore),
			r.Title,
			EncodeList(r.Genres),
			EncodeList(r.Tags),
			r.Description,
			r.MediaType,
			strconv.Itoa(r.EpisodeCount),
			r.ExternalURL,
			EncodeList(r.Studios),
		})
	}
	return writeTable(path, MergedColumns, rows)
}

// ParseScore reads a 0-10 user score. Anything that is not a whole number in
// range is treated as unscored.
func ParseScore(s string) int {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) && f >= 0 && f <= 10 {
		return int(f)
	}
	return 0
}

func parseID(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, n > 0
	}
	// Columns written by float-typed tooling look like "5114.0".
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), f > 0
}

func parseInt(s string) int {
	n, _ := parseID(s)
	return n
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
