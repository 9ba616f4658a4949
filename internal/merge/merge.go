// Package merge joins the catalog with one user's ratings into the table the
// recommendation engine consumes.
package merge

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/animerec/internal/apperr"
	"github.com/TobiSchelling/animerec/internal/dataset"
)

var (
	// ErrMissingInput is returned when the catalog or rating table is absent.
	ErrMissingInput = errors.New("input table not found")
	// ErrTooSmall is returned when the merged table is below the health threshold.
	ErrTooSmall = errors.New("merged dataset below minimum size")
)

// Report describes one merge.
type Report struct {
	CatalogRows     int
	RatingRows      int
	MatchedRatings  int
	DroppedUntitled int
	DroppedDupes    int
	Rows            int

	// Ratings is the user's list as read, including entries with no
	// catalog row.
	Ratings []dataset.UserRating
}

// Merger combines catalog and rating tables.
type Merger struct {
	minRows int
}

// NewMerger returns a Merger that rejects results with fewer than minRows rows.
func NewMerger(minRows int) *Merger {
	return &Merger{minRows: minRows}
}

// Merge left-joins ratings onto the catalog by cross reference id. The
// catalog is authoritative: every catalog row survives unless untitled or a
// duplicate primary id, and unmatched rows get a zero score and the
// NotInteracted status.
func (m *Merger) Merge(catalog []dataset.CatalogItem, ratings []dataset.UserRating) ([]dataset.MergedRecord, *Report, error) {
	rep := &Report{CatalogRows: len(catalog), RatingRows: len(ratings), Ratings: ratings}

	byCrossRef := make(map[int]dataset.UserRating, len(ratings))
	for _, r := range ratings {
		if _, seen := byCrossRef[r.CrossRefID]; seen {
			log.Warn().Int("cross_ref_id", r.CrossRefID).Msg("Duplicate entry in user list, keeping first")
			continue
		}
		byCrossRef[r.CrossRefID] = r
	}

	crossRefOwner := make(map[int]int, len(catalog))
	seen := make(map[int]struct{}, len(catalog))
	matched := make(map[int]struct{}, len(byCrossRef))
	out := make([]dataset.MergedRecord, 0, len(catalog))

	for _, it := range catalog {
		title := strings.TrimSpace(it.Title)
		if title == "" {
			rep.DroppedUntitled++
			continue
		}
		if _, dup := seen[it.PrimaryID]; dup {
			rep.DroppedDupes++
			continue
		}
		seen[it.PrimaryID] = struct{}{}

		if owner, ok := crossRefOwner[it.CrossRefID]; ok && owner != it.PrimaryID {
			log.Warn().
				Int("cross_ref_id", it.CrossRefID).
				Int("primary_id", it.PrimaryID).
				Int("other_primary_id", owner).
				Msg("Cross reference maps to more than one catalog item")
		} else {
			crossRefOwner[it.CrossRefID] = it.PrimaryID
		}

		rec := dataset.MergedRecord{
			PrimaryID:    it.PrimaryID,
			CrossRefID:   it.CrossRefID,
			WatchStatus:  dataset.StatusNotInteracted,
			QualityScore: it.QualityScore,
			Title:        title,
			Genres:       nonNil(it.Genres),
			Tags:         nonNil(it.Tags),
			Description:  it.Description,
			MediaType:    it.MediaType,
			EpisodeCount: it.EpisodeCount,
			ExternalURL:  it.ExternalURL,
			Studios:      nonNil(it.Studios),
		}
		if r, ok := byCrossRef[it.CrossRefID]; ok {
			rec.UserScore = clampScore(r.UserScore)
			rec.WatchStatus = r.WatchStatus
			if rec.WatchStatus == "" {
				rec.WatchStatus = dataset.StatusNotInteracted
			}
			matched[it.CrossRefID] = struct{}{}
		}
		out = append(out, rec)
	}

	rep.MatchedRatings = len(matched)
	rep.Rows = len(out)

	if unmatched := len(byCrossRef) - len(matched); unmatched > 0 {
		log.Info().Int("entries", unmatched).Msg("User list entries not present in catalog")
	}

	if len(out) < m.minRows {
		return nil, rep, fmt.Errorf("%w: %d rows, need %d", ErrTooSmall, len(out), m.minRows)
	}
	return out, rep, nil
}

// MergeFiles reads both tables, merges them and writes the merged table.
// Identical inputs always produce an identical output file.
func (m *Merger) MergeFiles(catalogPath, ratingsPath, outPath string) ([]dataset.MergedRecord, *Report, error) {
	catalog, err := dataset.ReadCatalog(catalogPath)
	if err != nil {
		return nil, nil, inputError("catalog", err)
	}
	ratings, err := dataset.ReadRatings(ratingsPath)
	if err != nil {
		return nil, nil, inputError("user ratings", err)
	}

	records, rep, err := m.Merge(catalog, ratings)
	if err != nil {
		return nil, rep, apperr.New(apperr.KindIntegrity, apperr.StageMerge, err)
	}

	if err := dataset.WriteMerged(outPath, records); err != nil {
		return nil, rep, apperr.New(apperr.KindInternal, apperr.StageMerge, fmt.Errorf("writing merged table: %w", err))
	}

	log.Info().
		Int("rows", rep.Rows).
		Int("matched", rep.MatchedRatings).
		Int("untitled", rep.DroppedUntitled).
		Int("duplicates", rep.DroppedDupes).
		Msg("Merged dataset written")
	return records, rep, nil
}

func inputError(what string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		err = fmt.Errorf("%w: %s: %v", ErrMissingInput, what, err)
	} else {
		err = fmt.Errorf("reading %s: %w", what, err)
	}
	return apperr.New(apperr.KindIntegrity, apperr.StageMerge, err)
}

func clampScore(s int) int {
	if s < 0 || s > 10 {
		return 0
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
